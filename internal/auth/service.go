package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/db"
)

// DefaultRole is granted to every new credential.
const DefaultRole = "Staff"

// Service implements registration, login and the per-request access check.
type Service struct {
	store       Store
	tokens      *TokenIssuer
	denylist    Denylist
	log         zerolog.Logger
	now         func() time.Time
	policy      PasswordPolicy
	defaultRole string
}

// Option configures Service behavior.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithPasswordPolicy replaces the default non-empty policy.
func WithPasswordPolicy(p PasswordPolicy) Option {
	return func(s *Service) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithDefaultRole overrides the role granted at registration.
func WithDefaultRole(name string) Option {
	return func(s *Service) {
		if name = strings.TrimSpace(name); name != "" {
			s.defaultRole = name
		}
	}
}

// WithDenylist enables token revocation.
func WithDenylist(d Denylist) Option {
	return func(s *Service) {
		s.denylist = d
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenIssuer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:       store,
		tokens:      tokens,
		log:         zerolog.Nop(),
		now:         time.Now,
		policy:      RequireNonEmpty,
		defaultRole: DefaultRole,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RevocationEnabled reports whether Logout is available.
func (s *Service) RevocationEnabled() bool {
	return s.denylist != nil
}

// Register creates a person, a credential and the default role grant, then
// issues a token. The donor profile and any extra role are best-effort.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Registered, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := missingFields("Name", in.Name, "Email", in.Email, "Username", in.Username, "Password", in.Password); err != nil {
		return Registered{}, err
	}

	if _, err := s.store.CredentialByUsername(ctx, in.Username); err == nil {
		return Registered{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Registered{}, storeErr(err)
	}
	if _, err := s.store.PersonByEmail(ctx, in.Email); err == nil {
		return Registered{}, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return Registered{}, storeErr(err)
	}
	if err := s.checkPassword(in.Password); err != nil {
		return Registered{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return Registered{}, fmt.Errorf("hash password: %w", err)
	}
	cred, person, err := s.store.Register(ctx, Registration{
		Name:         in.Name,
		Email:        in.Email,
		ContactNo:    strings.TrimSpace(in.ContactNo),
		Address:      strings.TrimSpace(in.Address),
		Age:          in.Age,
		Username:     in.Username,
		PasswordHash: hash,
		DefaultRole:  s.defaultRole,
	})
	if err != nil {
		return Registered{}, storeErr(err)
	}

	if err := s.store.CreateDonorProfile(ctx, person.ID); err != nil {
		s.log.Warn().Err(err).Int64("person_id", person.ID).Msg("donor profile not created")
	}
	if in.RoleID != nil {
		s.grantExtraRole(ctx, cred.ID, *in.RoleID)
	}

	token, exp, err := s.tokens.Issue(Identity{UserID: cred.ID, Username: cred.Username, PersonID: person.ID}, nil)
	if err != nil {
		return Registered{}, err
	}
	return Registered{
		UserID:   cred.ID,
		PersonID: person.ID,
		Username: cred.Username,
		Token:    token,
		Expires:  exp,
	}, nil
}

func (s *Service) checkPassword(password string) error {
	if len(password) > MaxPasswordBytes {
		return &FieldError{Fields: []string{"password"}, Reason: fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)}
	}
	return s.policy(password)
}

func (s *Service) grantExtraRole(ctx context.Context, credentialID, roleID int64) {
	if roleID <= 0 {
		return
	}
	if def, err := s.store.RoleByName(ctx, s.defaultRole); err == nil && def.ID == roleID {
		return
	}
	if err := s.store.AssignRole(ctx, credentialID, roleID); err != nil {
		s.log.Warn().Err(err).Int64("user_id", credentialID).Int64("role_id", roleID).Msg("additional role not assigned")
	}
}

// Login verifies the credentials and issues a token carrying the current
// role names. Unknown users and wrong passwords are indistinguishable.
func (s *Service) Login(ctx context.Context, username, password string) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if err := missingFields("Username", username, "Password", password); err != nil {
		return LoginResult{}, err
	}

	cred, err := s.store.CredentialByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		burnComparison(password)
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, storeErr(err)
	}
	if !cred.Active {
		return LoginResult{}, ErrAccountDeactivated
	}
	if err := VerifyPassword(cred.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, cred.ID, s.now().UTC()); err != nil {
		s.log.Warn().Err(err).Int64("user_id", cred.ID).Msg("last login not recorded")
	}
	roles, err := s.store.RoleNames(ctx, cred.ID)
	if err != nil {
		return LoginResult{}, storeErr(err)
	}
	person, err := s.store.PersonByID(ctx, cred.PersonID)
	if err != nil {
		return LoginResult{}, storeErr(err)
	}

	token, exp, err := s.tokens.Issue(Identity{UserID: cred.ID, Username: cred.Username, PersonID: cred.PersonID}, roles)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{
		UserID:   cred.ID,
		Username: cred.Username,
		PersonID: cred.PersonID,
		Name:     person.Name,
		Email:    person.Email,
		Roles:    roles,
		Token:    token,
		Expires:  exp,
	}, nil
}

// Profile returns account, person and roles of a credential.
func (s *Service) Profile(ctx context.Context, credentialID int64) (Profile, error) {
	cred, err := s.store.CredentialByID(ctx, credentialID)
	if err != nil {
		return Profile{}, storeErr(err)
	}
	person, err := s.store.PersonByID(ctx, cred.PersonID)
	if err != nil {
		return Profile{}, storeErr(err)
	}
	roles, err := s.store.RoleAssignments(ctx, cred.ID)
	if err != nil {
		return Profile{}, storeErr(err)
	}
	return Profile{Credential: cred, Person: person, Roles: roles}, nil
}

// ChangePassword re-verifies the current password before storing the new hash.
func (s *Service) ChangePassword(ctx context.Context, credentialID int64, current, next string) error {
	if err := missingFields("currentPassword", current, "newPassword", next); err != nil {
		return err
	}
	if err := s.checkPassword(next); err != nil {
		return err
	}
	cred, err := s.store.CredentialByID(ctx, credentialID)
	if err != nil {
		return storeErr(err)
	}
	if err := VerifyPassword(cred.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return storeErr(s.store.UpdatePasswordHash(ctx, cred.ID, hash))
}

// Authenticate verifies the token and re-reads the credential and, when
// required is non-empty, its roles. It never mutates state.
func (s *Service) Authenticate(ctx context.Context, token string, required []string) (Identity, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if revoked {
			return Identity{}, ErrTokenRevoked
		}
	}

	cred, err := s.store.CredentialByID(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		return Identity{}, ErrInactiveUser
	}
	if err != nil {
		return Identity{}, storeErr(err)
	}
	if !cred.Active {
		return Identity{}, ErrInactiveUser
	}

	if len(required) > 0 {
		names, err := s.store.RoleNames(ctx, cred.ID)
		if err != nil {
			return Identity{}, storeErr(err)
		}
		if !hasAnyRole(names, required) {
			return Identity{}, ErrForbidden
		}
	}
	return Identity{UserID: cred.ID, Username: cred.Username, PersonID: cred.PersonID}, nil
}

// Logout revokes the token until its expiry.
func (s *Service) Logout(ctx context.Context, token string) error {
	if s.denylist == nil {
		return errors.New("auth: token revocation is disabled")
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return err
	}
	if err := s.denylist.Revoke(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	roles, err := s.store.ListRoles(ctx)
	return roles, storeErr(err)
}

// CreateRole adds a role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if err := missingFields("Role_Name", name); err != nil {
		return Role{}, err
	}
	if _, err := s.store.RoleByName(ctx, name); err == nil {
		return Role{}, ErrRoleExists
	} else if !errors.Is(err, ErrNotFound) {
		return Role{}, storeErr(err)
	}
	role, err := s.store.CreateRole(ctx, name, strings.TrimSpace(description))
	return role, storeErr(err)
}

// AssignRole grants a role. Granting a held role is a no-op.
func (s *Service) AssignRole(ctx context.Context, credentialID, roleID int64) error {
	if err := requireIDs(credentialID, roleID); err != nil {
		return err
	}
	if _, err := s.store.CredentialByID(ctx, credentialID); err != nil {
		return storeErr(err)
	}
	return storeErr(s.store.AssignRole(ctx, credentialID, roleID))
}

// RemoveRole revokes a role grant.
func (s *Service) RemoveRole(ctx context.Context, credentialID, roleID int64) error {
	if err := requireIDs(credentialID, roleID); err != nil {
		return err
	}
	return storeErr(s.store.RemoveRole(ctx, credentialID, roleID))
}

// UserRoles lists the roles held by a credential.
func (s *Service) UserRoles(ctx context.Context, credentialID int64) ([]RoleAssignment, error) {
	if _, err := s.store.CredentialByID(ctx, credentialID); err != nil {
		return nil, storeErr(err)
	}
	roles, err := s.store.RoleAssignments(ctx, credentialID)
	return roles, storeErr(err)
}

// SetActive flips the active flag. The next access check observes it.
func (s *Service) SetActive(ctx context.Context, credentialID int64, active bool) error {
	if credentialID <= 0 {
		return &FieldError{Fields: []string{"userId"}, Reason: "must be a positive integer"}
	}
	return storeErr(s.store.SetActive(ctx, credentialID, active))
}

func requireIDs(credentialID, roleID int64) error {
	var bad []string
	if credentialID <= 0 {
		bad = append(bad, "userId")
	}
	if roleID <= 0 {
		bad = append(bad, "roleId")
	}
	if len(bad) > 0 {
		return &FieldError{Fields: bad}
	}
	return nil
}

func hasAnyRole(held, required []string) bool {
	for _, want := range required {
		for _, have := range held {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// storeErr folds executor outages into ErrUnavailable so they never read as
// "not found".
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, db.ErrUnavailable) && !errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}
