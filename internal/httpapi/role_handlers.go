package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"ngoportal.org/internal/auth"
)

type roleView struct {
	RoleID      int64  `json:"Role_ID"`
	Name        string `json:"Role_Name"`
	Description string `json:"Role_Description,omitempty"`
}

type assignmentView struct {
	RoleID      int64     `json:"Role_ID"`
	Name        string    `json:"Role_Name"`
	Description string    `json:"Role_Description,omitempty"`
	AssignedAt  time.Time `json:"Assigned_Date"`
}

func assignmentViews(in []auth.RoleAssignment) []assignmentView {
	out := make([]assignmentView, 0, len(in))
	for _, ra := range in {
		out = append(out, assignmentView{
			RoleID:      ra.RoleID,
			Name:        ra.RoleName,
			Description: ra.Description,
			AssignedAt:  ra.AssignedAt,
		})
	}
	return out
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.auth.ListRoles(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err, "Error fetching roles")
		return
	}
	out := make([]roleView, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleView{RoleID: role.ID, Name: role.Name, Description: role.Description})
	}
	writeSuccess(w, http.StatusOK, "", out)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	role, err := a.auth.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		a.writeServiceError(w, r, err, "Error creating role")
		return
	}
	a.auditEvent(r.Context(), "role.created", map[string]any{"role_id": role.ID, "role_name": role.Name})
	writeSuccess(w, http.StatusCreated, "Role created successfully", map[string]int64{"Role_ID": role.ID})
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req roleGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	err := a.auth.AssignRole(r.Context(), req.UserID.Value, req.RoleID.Value)
	if errors.Is(err, auth.ErrNotFound) {
		a.fail(w, r, http.StatusNotFound, "User or role not found", nil)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Error assigning role")
		return
	}
	a.auditEvent(r.Context(), "role.assigned", map[string]any{
		"target_user_id": req.UserID.Value,
		"role_id":        req.RoleID.Value,
	})
	writeSuccess(w, http.StatusOK, "Role assigned successfully", nil)
}

func (a *API) handleRemoveRole(w http.ResponseWriter, r *http.Request) {
	var req roleGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	err := a.auth.RemoveRole(r.Context(), req.UserID.Value, req.RoleID.Value)
	if errors.Is(err, auth.ErrNotFound) {
		a.fail(w, r, http.StatusNotFound, "Role assignment not found", nil)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Error removing role")
		return
	}
	a.auditEvent(r.Context(), "role.removed", map[string]any{
		"target_user_id": req.UserID.Value,
		"role_id":        req.RoleID.Value,
	})
	writeSuccess(w, http.StatusOK, "Role removed successfully", nil)
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.pathUserID(w, r)
	if !ok {
		return
	}
	roles, err := a.auth.UserRoles(r.Context(), userID)
	if errors.Is(err, auth.ErrNotFound) {
		a.fail(w, r, http.StatusNotFound, "User not found", nil)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Error fetching user roles")
		return
	}
	writeSuccess(w, http.StatusOK, "", assignmentViews(roles))
}

func (a *API) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil || id <= 0 {
		a.fail(w, r, http.StatusBadRequest, "User ID must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
