package handler

import (
	"net/http"
	"time"

	"github.com/pewstudio/accessgate/internal/token"
)

// Cookie names for the three independent token families.
const (
	authCookieName  = "sk_gate_auth"
	rlCookieName    = "sk_gate_rl"
	stateCookieName = "sk_gate_state"
)

const cookieMaxAge = 24 * time.Hour

// readSignedCookie verifies the named cookie into dst. Any verification
// failure degrades to ErrInvalidToken so callers can fall back to a fresh
// zero state.
func readSignedCookie(codec *token.Codec, r *http.Request, name string, dst any) error {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return token.ErrInvalidToken
	}
	return codec.Verify(c.Value, dst)
}

// setSignedCookie signs the payload into the named cookie. Each call emits
// its own Set-Cookie header instance.
func (h *Handler) setSignedCookie(codec *token.Codec, w http.ResponseWriter, name string, payload any) error {
	tok, err := codec.Sign(payload)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	return nil
}
