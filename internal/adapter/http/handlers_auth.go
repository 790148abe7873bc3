package http

import (
	"net/http"
	"strings"

	"github.com/argussec/argus/internal/domain/user"
	"github.com/argussec/argus/internal/middleware"
)

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[user.RegisterRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	u, err := a.auth.Register(r.Context(), &req)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := readJSON[user.LoginRequest](w, r, a.ingest.MaxBodyBytes)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout deletes the caller's session. It reads the token itself
// rather than going through SessionAuth so that logging out with an
// expired session still succeeds.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := a.auth.Logout(r.Context(), token); err != nil {
		writeDomainError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
