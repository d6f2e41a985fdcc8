package httpapi

import (
	"crypto/subtle"
	"net/http"

	"mahainsight.org/internal/audit"
)

func (a *API) googleReady(w http.ResponseWriter, r *http.Request) bool {
	if a.google == nil || !a.google.Configured() {
		writeError(w, r, http.StatusNotFound, codeBadRequest, "google sign-in is not configured")
		return false
	}
	return true
}

func (a *API) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.googleReady(w, r) {
		return
	}

	state, err := newStateToken()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, codeInternal, "could not start sign-in")
		return
	}
	setStateCookie(w, r, state)
	http.Redirect(w, r, a.google.AuthCodeURL(state), http.StatusFound)
}

func (a *API) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !a.googleReady(w, r) {
		return
	}

	wantState := cookieValue(r, stateCookie)
	clearStateCookie(w, r)
	gotState := r.URL.Query().Get("state")
	if wantState == "" || subtle.ConstantTimeCompare([]byte(wantState), []byte(gotState)) != 1 {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "state mismatch")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "missing authorization code")
		return
	}

	assertion, err := a.google.Exchange(r.Context(), code)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, codeMalformed, "sign-in could not be verified")
		return
	}
	acct, err := a.linker.Resolve(r.Context(), assertion)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	pair, err := a.sessions.Login(r.Context(), acct.ID, acct.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	a.setSessionCookies(w, r, pair)

	_ = audit.LogEvent(r.Context(), "session.login", map[string]any{
		"account_id": acct.ID, "method": "google",
	})
	writeJSON(w, http.StatusOK, accountPayload(acct))
}
