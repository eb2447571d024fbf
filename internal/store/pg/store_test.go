package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/db"
)

var created = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	exec := db.New(db.Config{DSN: "postgres://test"}, db.WithOpener(func(string, string) (*sql.DB, error) {
		return conn, nil
	}))
	return New(exec, zerolog.Nop()), mock
}

func credentialRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "person_id", "username", "password_hash", "is_active", "created_at", "last_login"})
}

func personRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "email", "contact_no", "address", "age", "created_at", "modified_at"})
}

func TestCredentialByUsername(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from credentials where username = $1")).
		WithArgs("ada1").
		WillReturnRows(credentialRows().AddRow(int64(7), int64(3), "ada1", "$2a$10$hash", true, created, nil))

	cred, err := store.CredentialByUsername(context.Background(), "ada1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if cred.ID != 7 || cred.PersonID != 3 || !cred.Active || cred.LastLogin != nil {
		t.Fatalf("unexpected credential %+v", cred)
	}
	if !cred.CreatedAt.Equal(created) {
		t.Fatalf("unexpected created_at %s", cred.CreatedAt)
	}

	mock.ExpectQuery(regexp.QuoteMeta("from credentials where username = $1")).
		WithArgs("ghost").
		WillReturnRows(credentialRows())
	if _, err := store.CredentialByUsername(context.Background(), "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPersonByIDReadsNullableColumns(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from persons where id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(personRows().AddRow(int64(3), "Ada", "ada@x.com", nil, "1 Main St", int64(36), created, created))

	p, err := store.PersonByID(context.Background(), 3)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if p.ContactNo != "" || p.Address != "1 Main St" {
		t.Fatalf("unexpected person %+v", p)
	}
	if p.Age == nil || *p.Age != 36 {
		t.Fatalf("expected age 36, got %v", p.Age)
	}
}

func TestRegisterRunsInOneTransaction(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("insert into persons")).
		WithArgs("Ada", "ada@x.com", nil, nil, nil).
		WillReturnRows(personRows().AddRow(int64(3), "Ada", "ada@x.com", nil, nil, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta("insert into credentials")).
		WithArgs(int64(3), "ada1", "hash").
		WillReturnRows(credentialRows().AddRow(int64(7), int64(3), "ada1", "hash", true, created, nil))
	mock.ExpectExec(regexp.QuoteMeta("insert into credential_roles")).
		WithArgs(int64(7), "Staff").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	cred, person, err := store.Register(context.Background(), auth.Registration{
		Name: "Ada", Email: "ada@x.com", Username: "ada1", PasswordHash: "hash", DefaultRole: "Staff",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if cred.ID != 7 || person.ID != 3 || cred.PersonID != person.ID {
		t.Fatalf("unexpected result %+v %+v", cred, person)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterRollsBackOnDuplicateUsername(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("insert into persons")).
		WillReturnRows(personRows().AddRow(int64(3), "Ada", "ada@x.com", nil, nil, nil, created, created))
	mock.ExpectQuery(regexp.QuoteMeta("insert into credentials")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintCredentialUser})
	mock.ExpectRollback()

	_, _, err := store.Register(context.Background(), auth.Registration{
		Name: "Ada", Email: "ada@x.com", Username: "ada1", PasswordHash: "hash", DefaultRole: "Staff",
	})
	if !errors.Is(err, auth.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRegisterMapsDuplicateEmail(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("insert into persons")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintPersonEmail})
	mock.ExpectRollback()

	_, _, err := store.Register(context.Background(), auth.Registration{Name: "Ada", Email: "ada@x.com", Username: "ada1"})
	if !errors.Is(err, auth.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRoleNamesAndAssignments(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("select r.name")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Staff").AddRow("Volunteer"))

	names, err := store.RoleNames(context.Background(), 7)
	if err != nil {
		t.Fatalf("role names: %v", err)
	}
	if len(names) != 2 || names[0] != "Staff" || names[1] != "Volunteer" {
		t.Fatalf("unexpected names %v", names)
	}

	mock.ExpectQuery(regexp.QuoteMeta("select cr.role_id, r.name, r.description, cr.assigned_at")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"role_id", "name", "description", "assigned_at"}).
			AddRow(int64(2), "Staff", "Staff member", created))
	assignments, err := store.RoleAssignments(context.Background(), 7)
	if err != nil {
		t.Fatalf("assignments: %v", err)
	}
	if len(assignments) != 1 || assignments[0].RoleID != 2 || assignments[0].CredentialID != 7 {
		t.Fatalf("unexpected assignments %+v", assignments)
	}
}

func TestAssignRoleUnknownRole(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("insert into credential_roles")).
		WithArgs(int64(7), int64(99)).
		WillReturnError(&pgconn.PgError{Code: "23503"})

	if err := store.AssignRole(context.Background(), 7, 99); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatesReportMissingRows(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectExec(regexp.QuoteMeta("update credentials set is_active = $2 where id = $1")).
		WithArgs(int64(42), false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.SetActive(context.Background(), 42, false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("delete from credential_roles")).
		WithArgs(int64(7), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RemoveRole(context.Background(), 7, 3); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestCreateRoleDuplicate(t *testing.T) {
	store, mock := newTestStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("insert into roles")).
		WithArgs("Admin", "").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: constraintRoleName})
	if _, err := store.CreateRole(context.Background(), "Admin", ""); !errors.Is(err, auth.ErrRoleExists) {
		t.Fatalf("expected ErrRoleExists, got %v", err)
	}
}

func TestMockedResultsAreUnavailable(t *testing.T) {
	exec := db.New(db.Config{MockFallback: true})
	store := New(exec, zerolog.Nop())

	_, err := store.CredentialByUsername(context.Background(), "admin")
	if !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected db.ErrUnavailable, got %v", err)
	}
	if errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("outage must not read as not found")
	}
	if err := store.SetActive(context.Background(), 1, false); !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected db.ErrUnavailable from mocked exec, got %v", err)
	}
	if _, _, err := store.Register(context.Background(), auth.Registration{Name: "A"}); !errors.Is(err, db.ErrUnavailable) {
		t.Fatalf("expected db.ErrUnavailable from transaction, got %v", err)
	}
}
