package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type sessionKey struct{}

// Session resolves the cart session from the session cookie, issuing a new
// random id when the cookie is absent or malformed.
func (h *Handler) Session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(h.cfg.SessionCookie); err == nil {
			if parsed, err := uuid.Parse(c.Value); err == nil {
				id = parsed.String()
			}
		}
		if id == "" {
			id = uuid.NewString()
			cookie := &http.Cookie{
				Name:     h.cfg.SessionCookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   h.cfg.SessionSecure,
				SameSite: http.SameSiteLaxMode,
			}
			if h.cfg.SessionMaxAge > 0 {
				cookie.MaxAge = int(h.cfg.SessionMaxAge.Seconds())
			}
			http.SetCookie(w, cookie)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, id)))
	})
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
