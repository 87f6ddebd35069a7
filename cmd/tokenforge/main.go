package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokenforge/internal/authority"
	"github.com/dropDatabas3/tokenforge/internal/bootstrap"
	"github.com/dropDatabas3/tokenforge/internal/config"
	"github.com/dropDatabas3/tokenforge/internal/deploy"
	httpserver "github.com/dropDatabas3/tokenforge/internal/http"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
	"github.com/dropDatabas3/tokenforge/internal/scanner"
)

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func loadApp(cfgPath string) (*bootstrap.App, error) {
	// .env primero: los overrides de entorno se aplican sobre el YAML.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	env := "dev"
	if cfg.App.Env != "" {
		env = cfg.App.Env
	}
	logger.Init(logger.Config{Env: env, ServiceName: "tokenforge"})

	return bootstrap.New(cfg)
}

func printJSON(v any) {
	p, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(p))
}

func main() {
	var cfgPath = envOr("TOKENFORGE_CONFIG", "")

	root := &cobra.Command{
		Use:           "tokenforge",
		Short:         "Autoridad de credenciales efímeras: mint, verify, scan y deploy gate",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", cfgPath, "path del YAML de configuración (env TOKENFORGE_CONFIG)")

	// serve: HTTP API + /metrics
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()
			defer logger.Sync()

			targets := map[string]deploy.Target{}
			if len(app.Cfg.Scanner.Roots) > 0 {
				provs := make([]string, 0, len(app.Cfg.Providers))
				for _, p := range app.Cfg.Providers {
					provs = append(provs, p.Name)
				}
				targets["default"] = deploy.Target{
					Name:      "default",
					FS:        os.DirFS("."),
					Roots:     app.Cfg.Scanner.Roots,
					Providers: provs,
				}
			}

			h := &httpserver.Handlers{
				Authority:    app.Authority,
				Orchestrator: app.Orchestrator,
				Targets:      targets,
			}
			addr := app.Cfg.Server.Addr
			logger.L().Info("listening", logger.Component("http"), logger.Path(addr))
			return httpserver.Start(addr, httpserver.NewRouter(h))
		},
	}

	// mint: emite un token por CLI
	var (
		mintProvider string
		mintSubject  string
		mintScopes   string
		mintActor    string
		mintTTL      time.Duration
	)
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Emite un token efímero para un provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			var scopes []string
			if mintScopes != "" {
				scopes = strings.Split(mintScopes, ",")
			}
			tok, err := app.Authority.Mint(context.Background(), authority.MintRequest{
				Provider:     mintProvider,
				Subject:      mintSubject,
				Scopes:       scopes,
				Actor:        mintActor,
				RequestedTTL: mintTTL,
			})
			if err != nil {
				return err
			}
			printJSON(map[string]any{
				"token":      tok.Signed,
				"provider":   tok.Provider,
				"expires_at": tok.ExpiresAt,
				"ttl":        tok.TTL().String(),
			})
			return nil
		},
	}
	mintCmd.Flags().StringVar(&mintProvider, "provider", "", "nombre del provider")
	mintCmd.Flags().StringVar(&mintSubject, "subject", "", "subject del token")
	mintCmd.Flags().StringVar(&mintScopes, "scopes", "", "scopes separados por coma")
	mintCmd.Flags().StringVar(&mintActor, "actor", "cli", "actor que solicita")
	mintCmd.Flags().DurationVar(&mintTTL, "ttl", 0, "TTL pedido (la política puede acortarlo)")
	_ = mintCmd.MarkFlagRequired("provider")
	_ = mintCmd.MarkFlagRequired("subject")

	// verify: valida un token presentado
	var verifyActor string
	verifyCmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verifica un token y reporta su estado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			res := app.Authority.Verify(context.Background(), args[0], verifyActor)
			out := map[string]any{"status": res.Status.String()}
			if res.Token != nil {
				out["provider"] = res.Token.Provider
				out["subject"] = res.Token.Subject
				out["expires_at"] = res.Token.ExpiresAt
			}
			printJSON(out)
			if res.Status != authority.StatusValid {
				os.Exit(1)
			}
			return nil
		},
	}
	verifyCmd.Flags().StringVar(&verifyActor, "actor", "cli", "actor que presenta el token")

	// scan: escanea el file-tree por secretos
	var scanRoots []string
	scanCmd := &cobra.Command{
		Use:   "scan [dir]",
		Short: "Escanea un directorio buscando secretos embebidos",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Init(logger.Config{Env: envOr("APP_ENV", "dev")})
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			sc := scanner.New()
			rep := scanner.Summarize(sc.ScanAll(os.DirFS(dir), scanRoots...))
			printJSON(rep)
			if rep.Blocking() {
				os.Exit(1)
			}
			return nil
		},
	}
	scanCmd.Flags().StringSliceVar(&scanRoots, "root", nil, "subdirectorios a escanear (default: todo)")

	// check: gate pre-deploy (scan + verificación de tokens vivos)
	var checkTarget string
	checkCmd := &cobra.Command{
		Use:   "check [dir]",
		Short: "Corre el gate pre-deploy sobre un directorio",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			provs := make([]string, 0, len(app.Cfg.Providers))
			for _, p := range app.Cfg.Providers {
				provs = append(provs, p.Name)
			}
			rep := app.Orchestrator.PreDeployCheck(context.Background(), deploy.Target{
				Name:      checkTarget,
				FS:        os.DirFS(dir),
				Roots:     app.Cfg.Scanner.Roots,
				Providers: provs,
			})
			printJSON(rep)
			if !rep.Pass {
				os.Exit(1)
			}
			return nil
		},
	}
	checkCmd.Flags().StringVar(&checkTarget, "target", "default", "nombre del target")

	// rotate-key: avanza el epoch del root key
	rotateCmd := &cobra.Command{
		Use:   "rotate-key",
		Short: "Rota el root key (epoch++ con ventana de gracia)",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cfgPath)
			if err != nil {
				return err
			}
			defer app.Close()

			epoch, err := app.Authority.Rotate()
			if err != nil {
				return err
			}
			fp, _ := app.Keys.Fingerprint()
			printJSON(map[string]any{"epoch": epoch, "fingerprint": fp})
			return nil
		},
	}

	root.AddCommand(serveCmd, mintCmd, verifyCmd, scanCmd, checkCmd, rotateCmd)

	if err := root.Execute(); err != nil {
		log.Fatalf("tokenforge: %v", err)
	}
}
