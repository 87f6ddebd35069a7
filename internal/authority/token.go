package authority

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// State del token. Expired y Revoked son terminales.
type State int

const (
	StateMinted State = iota
	StateActive
	StateRevoked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateMinted:
		return "minted"
	case StateActive:
		return "active"
	case StateRevoked:
		return "revoked"
	default:
		return "expired"
	}
}

// Token es inmutable una vez emitido. Signed es el envelope compacto de
// 3 partes firmado con la clave derivada del provider; la firma cubre el
// payload canónico completo (provider, subject, scopes, iat, exp, nonce).
type Token struct {
	Provider  string
	Subject   string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Nonce     string
	Epoch     uint64
	Signed    string
}

// TTL original del token.
func (t *Token) TTL() time.Duration {
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// Remaining contra un instante dado.
func (t *Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

const issuerName = "tokenforge"

// claims arma el MapClaims canónico del token.
func (t *Token) claims() jwtv5.MapClaims {
	return jwtv5.MapClaims{
		"iss": issuerName,
		"prv": t.Provider,
		"sub": t.Subject,
		"scp": t.Scopes,
		"iat": t.IssuedAt.Unix(),
		"exp": t.ExpiresAt.Unix(),
		"jti": t.Nonce,
	}
}

// kid codifica provider y época para que verify resuelva la clave sin
// estado extra: "<provider>/<epoch>".
func kidFor(provider string, epoch uint64) string {
	return provider + "/" + strconv.FormatUint(epoch, 10)
}

func parseKID(kid string) (provider string, epoch uint64, err error) {
	i := strings.LastIndex(kid, "/")
	if i <= 0 || i == len(kid)-1 {
		return "", 0, errors.New("kid_malformed")
	}
	epoch, err = strconv.ParseUint(kid[i+1:], 10, 64)
	if err != nil {
		return "", 0, errors.New("kid_malformed")
	}
	return kid[:i], epoch, nil
}

// sign firma el payload canónico con HMAC-SHA256 sobre la clave derivada.
func (t *Token) sign(key []byte) error {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, t.claims())
	tk.Header["kid"] = kidFor(t.Provider, t.Epoch)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(key)
	if err != nil {
		return fmt.Errorf("authority: sign: %w", err)
	}
	t.Signed = signed
	return nil
}

// decoded es el resultado de parsear un envelope sin verificar la firma.
type decoded struct {
	token   *Token
	signing string // parts[0].parts[1], lo que cubre la firma
	sig     []byte
	method  jwtv5.SigningMethod
}

// decodeEnvelope parsea el envelope compacto sin validar firma ni claims.
// Cualquier malformación retorna error: el caller lo trata como inválido
// y falla cerrado.
func decodeEnvelope(tokenString string) (*decoded, error) {
	parser := jwtv5.NewParser(
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithoutClaimsValidation(),
	)
	tok, parts, err := parser.ParseUnverified(tokenString, jwtv5.MapClaims{})
	if err != nil {
		return nil, err
	}
	if tok.Method.Alg() != "HS256" {
		return nil, errors.New("alg_rejected")
	}

	mc, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, errors.New("claims_type")
	}

	kid, _ := tok.Header["kid"].(string)
	provider, epoch, err := parseKID(kid)
	if err != nil {
		return nil, err
	}

	prv, _ := mc["prv"].(string)
	if prv == "" || prv != provider {
		return nil, errors.New("provider_mismatch")
	}
	sub, _ := mc["sub"].(string)
	jti, _ := mc["jti"].(string)
	if jti == "" {
		return nil, errors.New("nonce_missing")
	}

	iatf, ok := mc["iat"].(float64)
	if !ok {
		return nil, errors.New("iat_missing")
	}
	expf, ok := mc["exp"].(float64)
	if !ok {
		return nil, errors.New("exp_missing")
	}
	issued := time.Unix(int64(iatf), 0).UTC()
	expires := time.Unix(int64(expf), 0).UTC()
	if !expires.After(issued) {
		return nil, errors.New("lifetime_invalid")
	}

	var scopes []string
	if raw, ok := mc["scp"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				scopes = append(scopes, s)
			}
		}
	}

	sig, err := parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, err
	}

	return &decoded{
		token: &Token{
			Provider:  provider,
			Subject:   sub,
			Scopes:    scopes,
			IssuedAt:  issued,
			ExpiresAt: expires,
			Nonce:     jti,
			Epoch:     epoch,
			Signed:    tokenString,
		},
		signing: strings.Join(parts[0:2], "."),
		sig:     sig,
		method:  tok.Method,
	}, nil
}

// verifySignature compara en tiempo constante (HMAC adentro del método).
func (d *decoded) verifySignature(key []byte) error {
	return d.method.Verify(d.signing, d.sig, key)
}
