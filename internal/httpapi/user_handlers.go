package httpapi

import (
	"errors"
	"net/http"

	"ngoportal.org/internal/auth"
)

func (a *API) handleSetActive(active bool) http.HandlerFunc {
	event, message := "user.deactivated", "User deactivated successfully"
	if active {
		event, message = "user.activated", "User activated successfully"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := a.pathUserID(w, r)
		if !ok {
			return
		}
		if caller, _ := auth.IdentityFromContext(r.Context()); !active && caller.UserID == userID {
			a.fail(w, r, http.StatusBadRequest, "You cannot deactivate your own account", nil)
			return
		}
		err := a.auth.SetActive(r.Context(), userID, active)
		if errors.Is(err, auth.ErrNotFound) {
			a.fail(w, r, http.StatusNotFound, "User not found", nil)
			return
		}
		if err != nil {
			a.writeServiceError(w, r, err, "Error updating user")
			return
		}
		a.auditEvent(r.Context(), event, map[string]any{"target_user_id": userID})
		writeSuccess(w, http.StatusOK, message, map[string]any{"userId": userID, "isActive": active})
	}
}
