package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dropDatabas3/tokenforge/internal/authority"
	"github.com/dropDatabas3/tokenforge/internal/deploy"
	"github.com/dropDatabas3/tokenforge/internal/keys"
	"github.com/dropDatabas3/tokenforge/internal/observability/logger"
)

// Handlers expone la superficie pública del core: mint, verify,
// pre-deploy check y rollback.
type Handlers struct {
	Authority    *authority.Authority
	Orchestrator *deploy.Orchestrator

	// Targets conocidos por nombre; el file-tree se monta de su root.
	Targets map[string]deploy.Target
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

type mintRequest struct {
	Provider string   `json:"provider"`
	Subject  string   `json:"subject"`
	Scopes   []string `json:"scopes"`
	Actor    string   `json:"actor"`
	TTL      string   `json:"ttl,omitempty"`
	Payload  string   `json:"payload,omitempty"`
}

type mintResponse struct {
	Token     string    `json:"token"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Mint: POST /v1/mint
func (h *Handlers) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_ttl")
			return
		}
		ttl = d
	}

	tok, err := h.Authority.Mint(r.Context(), authority.MintRequest{
		Provider:     req.Provider,
		Subject:      req.Subject,
		Scopes:       req.Scopes,
		Actor:        actorFor(r, req.Actor),
		RequestedTTL: ttl,
		Payload:      req.Payload,
	})
	if err != nil {
		switch {
		case errors.Is(err, authority.ErrProviderUnknown):
			writeErr(w, http.StatusNotFound, "provider_unknown")
		case errors.Is(err, authority.ErrRateLimited):
			// El caller debe hacer back off
			writeErr(w, http.StatusTooManyRequests, "rate_limited")
		case errors.Is(err, authority.ErrReplaySuspected):
			writeErr(w, http.StatusConflict, "replay_suspected")
		case errors.Is(err, authority.ErrAdmissionBlocked):
			writeErr(w, http.StatusForbidden, "admission_blocked")
		case errors.Is(err, keys.ErrRootKeyUnavailable):
			writeErr(w, http.StatusServiceUnavailable, "root_key_unavailable")
		default:
			logger.From(r.Context()).Error("mint failed", logger.Err(err))
			writeErr(w, http.StatusInternalServerError, "internal")
		}
		return
	}

	writeJSON(w, http.StatusOK, mintResponse{
		Token:     tok.Signed,
		Provider:  tok.Provider,
		ExpiresAt: tok.ExpiresAt,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
	Actor string `json:"actor"`
}

// Verify: POST /v1/verify
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	res := h.Authority.Verify(r.Context(), req.Token, actorFor(r, req.Actor))
	writeJSON(w, http.StatusOK, map[string]string{"status": res.Status.String()})
}

type checkRequest struct {
	Target string `json:"target"`
}

// PreDeployCheck: POST /v1/deploy/check
func (h *Handlers) PreDeployCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	tgt, ok := h.Targets[req.Target]
	if !ok {
		writeErr(w, http.StatusNotFound, "target_unknown")
		return
	}
	rep := h.Orchestrator.PreDeployCheck(r.Context(), tgt)
	writeJSON(w, http.StatusOK, rep)
}

type rollbackRequest struct {
	Target   string `json:"target"`
	Revision string `json:"revision"`
}

// Rollback: POST /v1/deploy/rollback
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	tgt, ok := h.Targets[req.Target]
	if !ok {
		writeErr(w, http.StatusNotFound, "target_unknown")
		return
	}
	if err := h.Orchestrator.Rollback(r.Context(), tgt, req.Revision); err != nil {
		if errors.Is(err, deploy.ErrRevisionUnknown) {
			writeErr(w, http.StatusNotFound, "revision_unknown")
			return
		}
		logger.From(r.Context()).Error("rollback failed", logger.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rolled_back"})
}

// Healthz: GET /healthz
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"hostname": hostname(),
	})
}

func hostname() string {
	hn, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hn
}

// actorFor: el actor declarado o, en su defecto, la dirección remota.
func actorFor(r *http.Request, declared string) string {
	if declared != "" {
		return declared
	}
	return r.RemoteAddr
}
