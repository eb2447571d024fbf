package httpapi

import (
	"errors"
	"net/http"
	"time"

	"ngoportal.org/internal/auth"
)

type registerResponse struct {
	UserID    int64     `json:"userId"`
	PersonID  int64     `json:"personId"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type loginResponse struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	PersonID  int64     `json:"personId"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type accountView struct {
	UserID    int64      `json:"userId"`
	Username  string     `json:"username"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin"`
}

type personView struct {
	PersonID   int64     `json:"personId"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	ContactNo  string    `json:"contactNo,omitempty"`
	Address    string    `json:"address,omitempty"`
	Age        *int      `json:"age,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

type profileResponse struct {
	User   accountView      `json:"user"`
	Person personView       `json:"person"`
	Roles  []assignmentView `json:"roles"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		ContactNo: req.ContactNo,
		Address:   req.Address,
		Age:       req.Age.intPtr(),
		RoleID:    req.RoleID.int64Ptr(),
	})
	if err != nil {
		a.writeServiceError(w, r, err, "Error registering user")
		return
	}
	a.auditEvent(r.Context(), "auth.register", map[string]any{
		"user_id":   res.UserID,
		"person_id": res.PersonID,
		"username":  res.Username,
	})
	writeSuccess(w, http.StatusCreated, "User registered successfully", registerResponse{
		UserID:    res.UserID,
		PersonID:  res.PersonID,
		Username:  res.Username,
		Token:     res.Token,
		ExpiresAt: res.Expires,
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	res, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountDeactivated) {
			a.auditEvent(r.Context(), "auth.login.failed", map[string]any{"username": req.Username})
		}
		a.writeServiceError(w, r, err, "Error logging in")
		return
	}
	a.auditEvent(r.Context(), "auth.login", map[string]any{"user_id": res.UserID, "roles": res.Roles})
	roles := res.Roles
	if roles == nil {
		roles = []string{}
	}
	writeSuccess(w, http.StatusOK, "Login successful", loginResponse{
		UserID:    res.UserID,
		Username:  res.Username,
		PersonID:  res.PersonID,
		Name:      res.Name,
		Email:     res.Email,
		Roles:     roles,
		Token:     res.Token,
		ExpiresAt: res.Expires,
	})
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	p, err := a.auth.Profile(r.Context(), id.UserID)
	if errors.Is(err, auth.ErrNotFound) {
		a.fail(w, r, http.StatusNotFound, "User not found", nil)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err, "Error fetching profile")
		return
	}
	writeSuccess(w, http.StatusOK, "", profileResponse{
		User: accountView{
			UserID:    p.Credential.ID,
			Username:  p.Credential.Username,
			IsActive:  p.Credential.Active,
			LastLogin: p.Credential.LastLogin,
		},
		Person: personView{
			PersonID:   p.Person.ID,
			Name:       p.Person.Name,
			Email:      p.Person.Email,
			ContactNo:  p.Person.ContactNo,
			Address:    p.Person.Address,
			Age:        p.Person.Age,
			CreatedAt:  p.Person.CreatedAt,
			ModifiedAt: p.Person.ModifiedAt,
		},
		Roles: assignmentViews(p.Roles),
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, r, err)
		return
	}
	id, _ := auth.IdentityFromContext(r.Context())
	err := a.auth.ChangePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		a.fail(w, r, http.StatusUnauthorized, "Current password is incorrect", nil)
		return
	case errors.Is(err, auth.ErrNotFound):
		a.fail(w, r, http.StatusNotFound, "User not found", nil)
		return
	case err != nil:
		a.writeServiceError(w, r, err, "Error changing password")
		return
	}
	a.auditEvent(r.Context(), "auth.password.changed", nil)
	writeSuccess(w, http.StatusOK, "Password changed successfully", nil)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), token); err != nil {
		a.writeServiceError(w, r, err, "Error logging out")
		return
	}
	a.auditEvent(r.Context(), "auth.logout", nil)
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}
