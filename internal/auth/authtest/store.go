// Package authtest provides an in-memory auth.Store for tests.
package authtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/db"
)

// SeedRoles are the roles every new Store starts with, in ID order.
var SeedRoles = []string{"Admin", "Staff", "Manager", "Donor", "Volunteer"}

// Store is a concurrency-safe in-memory auth.Store.
type Store struct {
	mu          sync.Mutex
	persons     map[int64]auth.Person
	credentials map[int64]auth.Credential
	roles       map[int64]auth.Role
	grants      map[int64]map[int64]time.Time
	donors      map[int64]bool
	nextID      int64

	// Down makes every call fail with db.ErrUnavailable.
	Down bool
	// FailDonorProfile makes CreateDonorProfile fail.
	FailDonorProfile bool
}

var _ auth.Store = (*Store)(nil)

// New returns a Store seeded with SeedRoles.
func New() *Store {
	s := &Store{
		persons:     make(map[int64]auth.Person),
		credentials: make(map[int64]auth.Credential),
		roles:       make(map[int64]auth.Role),
		grants:      make(map[int64]map[int64]time.Time),
		donors:      make(map[int64]bool),
	}
	for i, name := range SeedRoles {
		id := int64(i + 1)
		s.roles[id] = auth.Role{ID: id, Name: name, Description: name + " role"}
	}
	s.nextID = 100
	return s
}

// HasDonorProfile reports whether a donor profile exists for the person.
func (s *Store) HasDonorProfile(personID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.donors[personID]
}

// PersonCount returns the number of stored persons.
func (s *Store) PersonCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persons)
}

// SetDown toggles Down while the store may be in use.
func (s *Store) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Down = down
}

func (s *Store) check() error {
	if s.Down {
		return db.ErrUnavailable
	}
	return nil
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) CredentialByUsername(_ context.Context, username string) (auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Credential{}, err
	}
	for _, c := range s.credentials {
		if c.Username == username {
			return c, nil
		}
	}
	return auth.Credential{}, auth.ErrNotFound
}

func (s *Store) CredentialByID(_ context.Context, id int64) (auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Credential{}, err
	}
	c, ok := s.credentials[id]
	if !ok {
		return auth.Credential{}, auth.ErrNotFound
	}
	return c, nil
}

func (s *Store) PersonByEmail(_ context.Context, email string) (auth.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Person{}, err
	}
	for _, p := range s.persons {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return auth.Person{}, auth.ErrNotFound
}

func (s *Store) PersonByID(_ context.Context, id int64) (auth.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Person{}, err
	}
	p, ok := s.persons[id]
	if !ok {
		return auth.Person{}, auth.ErrNotFound
	}
	return p, nil
}

func (s *Store) Register(_ context.Context, reg auth.Registration) (auth.Credential, auth.Person, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Credential{}, auth.Person{}, err
	}
	for _, c := range s.credentials {
		if c.Username == reg.Username {
			return auth.Credential{}, auth.Person{}, auth.ErrUsernameTaken
		}
	}
	for _, p := range s.persons {
		if strings.EqualFold(p.Email, reg.Email) {
			return auth.Credential{}, auth.Person{}, auth.ErrEmailTaken
		}
	}
	now := time.Now().UTC()
	person := auth.Person{
		ID:         s.id(),
		Name:       reg.Name,
		Email:      reg.Email,
		ContactNo:  reg.ContactNo,
		Address:    reg.Address,
		Age:        reg.Age,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	cred := auth.Credential{
		ID:           s.id(),
		PersonID:     person.ID,
		Username:     reg.Username,
		PasswordHash: reg.PasswordHash,
		Active:       true,
		CreatedAt:    now,
	}
	s.persons[person.ID] = person
	s.credentials[cred.ID] = cred
	for id, r := range s.roles {
		if strings.EqualFold(r.Name, reg.DefaultRole) {
			s.grantLocked(cred.ID, id)
		}
	}
	return cred, person, nil
}

func (s *Store) CreateDonorProfile(_ context.Context, personID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if s.FailDonorProfile {
		return db.ErrUnavailable
	}
	s.donors[personID] = true
	return nil
}

func (s *Store) grantLocked(credentialID, roleID int64) {
	if s.grants[credentialID] == nil {
		s.grants[credentialID] = make(map[int64]time.Time)
	}
	if _, ok := s.grants[credentialID][roleID]; !ok {
		s.grants[credentialID][roleID] = time.Now().UTC()
	}
}

func (s *Store) AssignRole(_ context.Context, credentialID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.credentials[credentialID]; !ok {
		return auth.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return auth.ErrNotFound
	}
	s.grantLocked(credentialID, roleID)
	return nil
}

func (s *Store) RemoveRole(_ context.Context, credentialID, roleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	if _, ok := s.grants[credentialID][roleID]; !ok {
		return auth.ErrNotFound
	}
	delete(s.grants[credentialID], roleID)
	return nil
}

func (s *Store) RoleAssignments(_ context.Context, credentialID int64) ([]auth.RoleAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	var out []auth.RoleAssignment
	for roleID, at := range s.grants[credentialID] {
		r := s.roles[roleID]
		out = append(out, auth.RoleAssignment{
			CredentialID: credentialID,
			RoleID:       roleID,
			RoleName:     r.Name,
			Description:  r.Description,
			AssignedAt:   at,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (s *Store) RoleNames(ctx context.Context, credentialID int64) ([]string, error) {
	assignments, err := s.RoleAssignments(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(assignments))
	for _, a := range assignments {
		names = append(names, a.RoleName)
	}
	return names, nil
}

func (s *Store) ListRoles(_ context.Context) ([]auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	out := make([]auth.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) RoleByName(_ context.Context, name string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Role{}, err
	}
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return r, nil
		}
	}
	return auth.Role{}, auth.ErrNotFound
}

func (s *Store) CreateRole(_ context.Context, name, description string) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return auth.Role{}, err
	}
	for _, r := range s.roles {
		if strings.EqualFold(r.Name, name) {
			return auth.Role{}, auth.ErrRoleExists
		}
	}
	r := auth.Role{ID: s.id(), Name: name, Description: description}
	s.roles[r.ID] = r
	return r, nil
}

func (s *Store) TouchLastLogin(_ context.Context, credentialID int64, at time.Time) error {
	return s.update(credentialID, func(c *auth.Credential) { c.LastLogin = &at })
}

func (s *Store) UpdatePasswordHash(_ context.Context, credentialID int64, hash string) error {
	return s.update(credentialID, func(c *auth.Credential) { c.PasswordHash = hash })
}

func (s *Store) SetActive(_ context.Context, credentialID int64, active bool) error {
	return s.update(credentialID, func(c *auth.Credential) { c.Active = active })
}

func (s *Store) update(id int64, fn func(*auth.Credential)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	c, ok := s.credentials[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&c)
	s.credentials[id] = c
	return nil
}
