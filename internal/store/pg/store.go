package pg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/db"
)

const (
	constraintPersonEmail      = "persons_email_key"
	constraintCredentialUser   = "credentials_username_key"
	constraintCredentialPerson = "credentials_person_id_key"
	constraintRoleName         = "roles_name_key"
	constraintRoleNameLower    = "roles_name_lower_idx"
	constraintPersonEmailLower = "persons_email_lower_idx"
)

// errMocked rejects canned executor results; auth decisions need real rows.
var errMocked = fmt.Errorf("%w: mock result rejected", db.ErrUnavailable)

// Store implements auth.Store on top of the query executor.
type Store struct {
	runner db.Runner
	log    zerolog.Logger
}

var _ auth.Store = (*Store)(nil)

// New returns a Store running its statements through runner.
func New(runner db.Runner, log zerolog.Logger) *Store {
	return &Store{runner: runner, log: log}
}

const credentialColumns = `id, person_id, username, password_hash, is_active, created_at, last_login`

const personColumns = `id, name, email, contact_no, address, age, created_at, modified_at`

func (s *Store) CredentialByUsername(ctx context.Context, username string) (auth.Credential, error) {
	row, err := one(ctx, s.runner, `select `+credentialColumns+` from credentials where username = $1`, username)
	if err != nil {
		return auth.Credential{}, err
	}
	return scanCredential(row), nil
}

func (s *Store) CredentialByID(ctx context.Context, id int64) (auth.Credential, error) {
	row, err := one(ctx, s.runner, `select `+credentialColumns+` from credentials where id = $1`, id)
	if err != nil {
		return auth.Credential{}, err
	}
	return scanCredential(row), nil
}

func (s *Store) PersonByEmail(ctx context.Context, email string) (auth.Person, error) {
	row, err := one(ctx, s.runner, `select `+personColumns+` from persons where lower(email) = lower($1)`, email)
	if err != nil {
		return auth.Person{}, err
	}
	return scanPerson(row), nil
}

func (s *Store) PersonByID(ctx context.Context, id int64) (auth.Person, error) {
	row, err := one(ctx, s.runner, `select `+personColumns+` from persons where id = $1`, id)
	if err != nil {
		return auth.Person{}, err
	}
	return scanPerson(row), nil
}

func (s *Store) Register(ctx context.Context, reg auth.Registration) (auth.Credential, auth.Person, error) {
	var (
		cred   auth.Credential
		person auth.Person
	)
	err := s.runner.InTx(ctx, func(q db.Querier) error {
		row, err := one(ctx, q, `
			insert into persons (name, email, contact_no, address, age)
			values ($1, $2, $3, $4, $5)
			returning `+personColumns,
			reg.Name, reg.Email, nullString(reg.ContactNo), nullString(reg.Address), nullInt(reg.Age))
		if err != nil {
			return mapConstraint(err)
		}
		person = scanPerson(row)

		row, err = one(ctx, q, `
			insert into credentials (person_id, username, password_hash, is_active)
			values ($1, $2, $3, true)
			returning `+credentialColumns,
			person.ID, reg.Username, reg.PasswordHash)
		if err != nil {
			return mapConstraint(err)
		}
		cred = scanCredential(row)

		res, err := q.Exec(ctx, `
			insert into credential_roles (credential_id, role_id)
			select $1, id from roles where lower(name) = lower($2)
			on conflict do nothing`,
			cred.ID, reg.DefaultRole)
		if err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			s.log.Warn().Str("role", reg.DefaultRole).Int64("user_id", cred.ID).Msg("default role is not seeded")
		}
		return nil
	})
	if err != nil {
		return auth.Credential{}, auth.Person{}, err
	}
	return cred, person, nil
}

func (s *Store) CreateDonorProfile(ctx context.Context, personID int64) error {
	_, err := exec(ctx, s.runner, `
		insert into donor_profiles (person_id)
		values ($1)
		on conflict (person_id) do nothing`, personID)
	return err
}

func (s *Store) AssignRole(ctx context.Context, credentialID, roleID int64) error {
	_, err := exec(ctx, s.runner, `
		insert into credential_roles (credential_id, role_id)
		values ($1, $2)
		on conflict (credential_id, role_id) do nothing`, credentialID, roleID)
	if db.IsForeignKeyViolation(err) {
		return auth.ErrNotFound
	}
	return err
}

func (s *Store) RemoveRole(ctx context.Context, credentialID, roleID int64) error {
	res, err := exec(ctx, s.runner, `delete from credential_roles where credential_id = $1 and role_id = $2`, credentialID, roleID)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) RoleAssignments(ctx context.Context, credentialID int64) ([]auth.RoleAssignment, error) {
	res, err := query(ctx, s.runner, `
		select cr.role_id, r.name, r.description, cr.assigned_at
		from credential_roles cr
		join roles r on r.id = cr.role_id
		where cr.credential_id = $1
		order by cr.role_id`, credentialID)
	if err != nil {
		return nil, err
	}
	out := make([]auth.RoleAssignment, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, auth.RoleAssignment{
			CredentialID: credentialID,
			RoleID:       asInt64(row["role_id"]),
			RoleName:     asString(row["name"]),
			Description:  asString(row["description"]),
			AssignedAt:   asTime(row["assigned_at"]),
		})
	}
	return out, nil
}

// RoleNames is the per-request role lookup; it rides the
// credential_roles primary key.
func (s *Store) RoleNames(ctx context.Context, credentialID int64) ([]string, error) {
	res, err := query(ctx, s.runner, `
		select r.name
		from credential_roles cr
		join roles r on r.id = cr.role_id
		where cr.credential_id = $1
		order by cr.role_id`, credentialID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		names = append(names, asString(row["name"]))
	}
	return names, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	res, err := query(ctx, s.runner, `select id, name, description from roles order by id`)
	if err != nil {
		return nil, err
	}
	out := make([]auth.Role, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, scanRole(row))
	}
	return out, nil
}

func (s *Store) RoleByName(ctx context.Context, name string) (auth.Role, error) {
	row, err := one(ctx, s.runner, `select id, name, description from roles where lower(name) = lower($1)`, name)
	if err != nil {
		return auth.Role{}, err
	}
	return scanRole(row), nil
}

func (s *Store) CreateRole(ctx context.Context, name, description string) (auth.Role, error) {
	row, err := one(ctx, s.runner, `
		insert into roles (name, description)
		values ($1, $2)
		returning id, name, description`, name, description)
	if err != nil {
		return auth.Role{}, mapConstraint(err)
	}
	return scanRole(row), nil
}

func (s *Store) TouchLastLogin(ctx context.Context, credentialID int64, at time.Time) error {
	return s.updateOne(ctx, `update credentials set last_login = $2 where id = $1`, credentialID, at)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, credentialID int64, hash string) error {
	return s.updateOne(ctx, `update credentials set password_hash = $2 where id = $1`, credentialID, hash)
}

func (s *Store) SetActive(ctx context.Context, credentialID int64, active bool) error {
	return s.updateOne(ctx, `update credentials set is_active = $2 where id = $1`, credentialID, active)
}

func (s *Store) updateOne(ctx context.Context, stmt string, id int64, value any) error {
	res, err := exec(ctx, s.runner, stmt, id, value)
	if err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func query(ctx context.Context, q db.Querier, stmt string, args ...any) (db.Result, error) {
	res, err := q.Query(ctx, stmt, args...)
	if err != nil {
		return db.Result{}, err
	}
	if res.Mocked {
		return db.Result{}, errMocked
	}
	return res, nil
}

func exec(ctx context.Context, q db.Querier, stmt string, args ...any) (db.Result, error) {
	res, err := q.Exec(ctx, stmt, args...)
	if err != nil {
		return db.Result{}, err
	}
	if res.Mocked {
		return db.Result{}, errMocked
	}
	return res, nil
}

func one(ctx context.Context, q db.Querier, stmt string, args ...any) (db.Row, error) {
	res, err := query(ctx, q, stmt, args...)
	if err != nil {
		return nil, err
	}
	row, ok := res.First()
	if !ok {
		return nil, auth.ErrNotFound
	}
	return row, nil
}

func mapConstraint(err error) error {
	constraint, ok := db.IsUniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case constraintPersonEmail, constraintPersonEmailLower:
		return auth.ErrEmailTaken
	case constraintCredentialUser:
		return auth.ErrUsernameTaken
	case constraintRoleName, constraintRoleNameLower:
		return auth.ErrRoleExists
	case constraintCredentialPerson:
		return fmt.Errorf("%w: person already has a credential", auth.ErrConflict)
	default:
		return fmt.Errorf("%w: %s", auth.ErrConflict, constraint)
	}
}

func scanCredential(row db.Row) auth.Credential {
	c := auth.Credential{
		ID:           asInt64(row["id"]),
		PersonID:     asInt64(row["person_id"]),
		Username:     asString(row["username"]),
		PasswordHash: asString(row["password_hash"]),
		Active:       asBool(row["is_active"]),
		CreatedAt:    asTime(row["created_at"]),
	}
	if t, ok := row["last_login"].(time.Time); ok {
		c.LastLogin = &t
	}
	return c
}

func scanPerson(row db.Row) auth.Person {
	p := auth.Person{
		ID:         asInt64(row["id"]),
		Name:       asString(row["name"]),
		Email:      asString(row["email"]),
		ContactNo:  asString(row["contact_no"]),
		Address:    asString(row["address"]),
		CreatedAt:  asTime(row["created_at"]),
		ModifiedAt: asTime(row["modified_at"]),
	}
	if row["age"] != nil {
		age := int(asInt64(row["age"]))
		p.Age = &age
	}
	return p
}

func scanRole(row db.Row) auth.Role {
	return auth.Role{
		ID:          asInt64(row["id"]),
		Name:        asString(row["name"]),
		Description: asString(row["description"]),
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		parsed, _ := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return parsed
	default:
		return 0
	}
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case string:
		parsed, _ := strconv.ParseBool(b)
		return parsed
	default:
		return false
	}
}

func asTime(v any) time.Time {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return time.Time{}
}

func nullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
