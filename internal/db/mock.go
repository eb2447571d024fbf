package db

import (
	"strings"
	"time"
)

// mockResult returns canned data for a degraded executor. Every result is
// tagged Mocked so callers can refuse to act on it.
func (e *Executor) mockResult(query string) Result {
	q := strings.ToUpper(strings.Join(strings.Fields(query), " "))
	switch {
	case strings.HasPrefix(q, "SELECT 1") || strings.Contains(q, "FROM DUAL"):
		return Result{
			Columns: []string{"test", "message"},
			Rows:    []Row{{"test": int64(1), "message": "Mock data"}},
			Mocked:  true,
		}
	case strings.Contains(q, "FROM CREDENTIALS"):
		return Result{
			Columns: []string{"id", "person_id", "username", "is_active"},
			Rows: []Row{
				{"id": int64(1), "person_id": int64(1), "username": "admin", "is_active": true},
				{"id": int64(2), "person_id": int64(2), "username": "staff", "is_active": true},
			},
			Mocked: true,
		}
	case strings.Contains(q, "FROM PERSONS"):
		return Result{
			Columns: []string{"id", "name", "email", "created_at"},
			Rows: []Row{
				{"id": int64(1), "name": "Admin User", "email": "admin@example.org", "created_at": mockEpoch},
				{"id": int64(2), "name": "Staff User", "email": "staff@example.org", "created_at": mockEpoch},
			},
			Mocked: true,
		}
	case strings.HasPrefix(q, "INSERT INTO"):
		return Result{
			Columns:      []string{"id"},
			Rows:         []Row{{"id": e.mockSeq.Add(1)}},
			RowsAffected: 1,
			Mocked:       true,
		}
	default:
		return Result{Mocked: true}
	}
}

var mockEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
