package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"mahainsight.org/internal/account"
	"mahainsight.org/internal/audit"
	"mahainsight.org/internal/session"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
}

type sessionResponse struct {
	State string `json:"state"`
}

const minPasswordLength = 8

func accountPayload(a *account.Account) accountResponse {
	return accountResponse{ID: a.ID, Email: a.Email, FullName: a.FullName, Role: a.Role}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "a valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "password is too short")
		return
	}

	digest, err := account.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "registration failed")
		return
	}
	acct := &account.Account{
		Email:          email,
		PasswordDigest: digest,
		FullName:       strings.TrimSpace(req.FullName),
		Role:           account.RoleUser,
	}
	if err := a.accounts.Create(r.Context(), acct); err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			writeError(w, r, http.StatusConflict, codeConflict, "email already registered")
			return
		}
		writeServiceError(w, r, err)
		return
	}

	pair, _, err := a.sessions.LoginWithPassword(r.Context(), email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, pair)

	_ = audit.LogEvent(r.Context(), "account.registered", map[string]any{
		"account_id": acct.ID, "email": acct.Email,
	})
	writeJSON(w, http.StatusCreated, accountPayload(acct))
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	pair, acct, err := a.sessions.LoginWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrUnauthenticated) {
			// Unknown email and wrong password are indistinguishable.
			writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "invalid credentials")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, pair)

	_ = audit.LogEvent(r.Context(), "session.login", map[string]any{
		"account_id": acct.ID, "method": "password",
	})
	writeJSON(w, http.StatusOK, accountPayload(acct))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	raw := cookieValue(r, refreshCookie)
	if raw == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "missing refresh credential")
		return
	}

	pair, err := a.sessions.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, session.ErrSessionRevoked) {
			// A dead chain's cookies are useless; drop them.
			a.clearSessionCookies(w, r)
		}
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, pair)

	_ = audit.LogEvent(r.Context(), "session.rotated", map[string]any{
		"trigger": "refresh",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_expires_at": pair.RefreshExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	if raw := cookieValue(r, refreshCookie); raw != "" {
		a.sessions.Logout(r.Context(), raw)
	}
	a.clearSessionCookies(w, r)

	_ = audit.LogEvent(r.Context(), "session.logout", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
		return
	}
	if err := a.sessions.LogoutEverywhere(r.Context(), id.SubjectID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.clearSessionCookies(w, r)

	_ = audit.LogEvent(r.Context(), "session.logout_all", map[string]any{
		"subject_id": id.SubjectID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	state, err := a.sessions.Status(r.Context(),
		cookieValue(r, accessCookie), cookieValue(r, refreshCookie))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: string(state)})
}
