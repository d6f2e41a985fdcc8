package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"mahainsight.org/internal/identity"
	"mahainsight.org/internal/quota"
	"mahainsight.org/internal/session"
	"mahainsight.org/internal/token"
)

// Machine-readable error codes carried alongside the human message. Clients
// branch on the code, never on the message text.
const (
	codeExpired          = "EXPIRED"
	codeWrongKind        = "WRONG_KIND"
	codeMalformed        = "MALFORMED_OR_FORGED"
	codeSessionRevoked   = "SESSION_REVOKED"
	codeUnauthenticated  = "UNAUTHENTICATED"
	codeUnverified       = "IDENTITY_UNVERIFIED"
	codeQuotaExceeded    = "QUOTA_EXCEEDED"
	codeStoreUnavailable = "STORE_UNAVAILABLE"
	codeBadRequest       = "BAD_REQUEST"
	codeConflict         = "CONFLICT"
	codeInternal         = "INTERNAL"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  code,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, status, payload)
}

// writeServiceError maps a failure from the session, identity, or quota
// layers onto the wire taxonomy. Credential failures split into their codec
// causes; everything unrecognized is an internal error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeError(w, r, http.StatusUnauthorized, codeExpired, "credential expired")
	case errors.Is(err, token.ErrWrongKind):
		writeError(w, r, http.StatusUnauthorized, codeWrongKind, "credential kind not valid here")
	case errors.Is(err, token.ErrMalformed):
		writeError(w, r, http.StatusUnauthorized, codeMalformed, "credential malformed or forged")
	case errors.Is(err, session.ErrSessionRevoked):
		writeError(w, r, http.StatusUnauthorized, codeSessionRevoked, "session revoked")
	case errors.Is(err, session.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, codeUnauthenticated, "authentication required")
	case errors.Is(err, identity.ErrIdentityUnverified):
		writeError(w, r, http.StatusForbidden, codeUnverified, "identity provider has not verified this email")
	case errors.Is(err, session.ErrStoreUnavailable), errors.Is(err, quota.ErrStoreUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, codeStoreUnavailable, "temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
}
