package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const authRealm = `Basic realm="gradedesk", charset="UTF-8"`

// requireAdmin checks HTTP basic credentials against the configured admin account.
// Without a configured password hash every request passes.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	if h.config.AdminPasswordHash == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, password, ok := r.BasicAuth()
		if !ok || !h.checkCredentials(user, password) {
			if ok {
				slog.Warn("rejected credentials", "user", user, "remote", r.RemoteAddr)
			}
			w.Header().Set("WWW-Authenticate", authRealm)
			writeMessage(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkCredentials(user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.config.AdminUser)) == 1
	// bcrypt runs even when the user name is wrong.
	passOK := bcrypt.CompareHashAndPassword([]byte(h.config.AdminPasswordHash), []byte(password)) == nil
	return userOK && passOK
}

// HashPassword returns the bcrypt hash stored in configuration for the admin password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
