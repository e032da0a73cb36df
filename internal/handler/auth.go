package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pewstudio/accessgate/internal/auth"
	"github.com/pewstudio/accessgate/internal/model"
	"github.com/pewstudio/accessgate/internal/token"
)

// codec builds the token codec for this request's cookie families. A missing
// secret is a total lockout, never "no auth required".
func (h *Handler) codec() (*token.Codec, error) {
	return token.NewCodec(h.config.Secret)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	codec, err := h.codec()
	if err != nil {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "SECRET_MISSING", "message": "Locked"})
		return
	}

	var body struct {
		Password string `json:"password"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "INVALID_JSON"})
		return
	}
	if body.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "PASSWORD_REQUIRED"})
		return
	}

	// Rate limit before checking the password. The record lives in its own
	// signed cookie; an absent or invalid token means a fresh zero record.
	var rl model.LoginRateLimit
	if err := readSignedCookie(codec, r, rlCookieName, &rl); err != nil {
		rl = model.LoginRateLimit{}
	}

	now := time.Now()
	if h.limiter.Locked(&rl, now) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "LOCKED",
			"retry_after_seconds": auth.RetryAfterSeconds(rl.LockedUntil, now),
		})
		return
	}

	ok, err := auth.CheckPassword(auth.PasswordConfig{
		BcryptHash: h.config.PasswordBcrypt,
		SHA256Hex:  h.config.PasswordHash,
		Plaintext:  h.config.Password,
	}, body.Password)
	if err != nil {
		slog.Error("password check misconfigured", "error", err)
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "PASSWORD_ENV_MISSING", "message": "Locked"})
		return
	}

	if !ok {
		rl = h.limiter.Fail(&rl, now)
		if err := h.setSignedCookie(codec, w, rlCookieName, rl); err != nil {
			slog.Error("sign rate-limit cookie", "error", err)
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error":     "BAD_PASSWORD",
			"failCount": rl.FailCount,
			"locked":    rl.LockedUntil > 0,
		})
		return
	}

	sess, err := auth.NewSession(now)
	if err != nil {
		slog.Error("issue session", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SESSION_ISSUE_FAILED"})
		return
	}

	// Success clears prior failure history; both cookies go out as distinct
	// Set-Cookie headers.
	if err := h.setSignedCookie(codec, w, rlCookieName, h.limiter.Reset()); err != nil {
		slog.Error("sign rate-limit cookie", "error", err)
	}
	if err := h.setSignedCookie(codec, w, authCookieName, sess); err != nil {
		slog.Error("sign auth cookie", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "SESSION_ISSUE_FAILED"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// requireAuth is middleware that rejects callers without a valid
// authenticated session token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		codec, err := h.codec()
		if err != nil {
			writeJSON(w, http.StatusForbidden, map[string]any{"error": "SECRET_MISSING", "message": "Locked"})
			return
		}

		var sess model.Session
		if err := readSignedCookie(codec, r, authCookieName, &sess); err != nil || !sess.Auth {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "UNAUTHENTICATED", "message": "Locked"})
			return
		}

		ctx := model.ContextWithSession(r.Context(), &sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func decodeJSONBody(r *http.Request, dst any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	// An empty body decodes as an empty object, matching form-less clients.
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
