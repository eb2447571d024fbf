package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/db"
)

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Success: true, Message: message, Data: data})
}

// fail writes an error envelope. The cause is only exposed in development.
func (a *API) fail(w http.ResponseWriter, r *http.Request, code int, message string, cause error) {
	if code >= http.StatusInternalServerError && cause != nil {
		zerolog.Ctx(r.Context()).Error().Err(cause).Int("status", code).Msg(message)
	}
	if code == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ngo-portal"`)
	}
	env := envelope{Success: false, Message: message}
	if a.development && cause != nil {
		env.Error = cause.Error()
	}
	writeJSON(w, code, env)
}

// writeServiceError maps auth and executor errors to status and message.
// fallback is the message used for unexpected failures.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var fieldErr *auth.FieldError
	switch {
	case errors.As(err, &fieldErr):
		a.fail(w, r, http.StatusBadRequest, fieldMessage(fieldErr), nil)
	case errors.Is(err, auth.ErrUsernameTaken):
		a.fail(w, r, http.StatusBadRequest, "Username already exists", nil)
	case errors.Is(err, auth.ErrEmailTaken):
		a.fail(w, r, http.StatusBadRequest, "Email already registered", nil)
	case errors.Is(err, auth.ErrRoleExists):
		a.fail(w, r, http.StatusBadRequest, "Role already exists", nil)
	case errors.Is(err, auth.ErrConflict):
		a.fail(w, r, http.StatusBadRequest, "Resource already exists", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.fail(w, r, http.StatusUnauthorized, "Invalid credentials", nil)
	case errors.Is(err, auth.ErrAccountDeactivated):
		a.fail(w, r, http.StatusUnauthorized, "Account is deactivated", nil)
	case errors.Is(err, auth.ErrTokenExpired):
		a.fail(w, r, http.StatusUnauthorized, "Token expired", nil)
	case errors.Is(err, auth.ErrTokenRevoked):
		a.fail(w, r, http.StatusUnauthorized, "Token revoked", nil)
	case errors.Is(err, auth.ErrInvalidToken):
		a.fail(w, r, http.StatusUnauthorized, "Invalid token", nil)
	case errors.Is(err, auth.ErrInactiveUser):
		a.fail(w, r, http.StatusUnauthorized, "User not found or inactive", nil)
	case errors.Is(err, auth.ErrForbidden):
		a.fail(w, r, http.StatusForbidden, "Insufficient permissions", nil)
	case errors.Is(err, auth.ErrNotFound):
		a.fail(w, r, http.StatusNotFound, "Resource not found", nil)
	case errors.Is(err, auth.ErrUnavailable), errors.Is(err, db.ErrUnavailable):
		a.fail(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable", err)
	default:
		a.fail(w, r, http.StatusInternalServerError, fallback, err)
	}
}

var fieldLabels = map[string]string{
	"Role_Name":       "Role name",
	"currentPassword": "Current password",
	"newPassword":     "new password",
	"password":        "Password",
	"roleId":          "Role ID",
	"userId":          "User ID",
}

func fieldMessage(e *auth.FieldError) string {
	labels := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		if l, ok := fieldLabels[f]; ok {
			labels[i] = l
		} else {
			labels[i] = f
		}
	}
	if e.Reason != "" {
		return strings.Join(labels, ", ") + " " + e.Reason
	}
	switch len(labels) {
	case 0:
		return "Invalid request"
	case 1:
		return labels[0] + " is required"
	case 2:
		return labels[0] + " and " + labels[1] + " are required"
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + ", and " + labels[len(labels)-1] + " are required"
	}
}

// decodeJSON reads exactly one JSON value. Size is capped by MaxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
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

func (a *API) badRequest(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.fail(w, r, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return
	}
	a.fail(w, r, http.StatusBadRequest, "Invalid request body", err)
}
