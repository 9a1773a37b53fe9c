package org

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"q360/internal/domain/evaluation"
)

const statusActive = "active"

// Store reads the org chart from the employees and departments tables. A user id is an
// employee id; the token subject carries it.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

var _ evaluation.OrgLookup = (*Store)(nil)

// parseID turns an external id into the uuid the key columns hold, so lookups
// compare columns directly and can use their indexes. A malformed id matches nothing.
func parseID(id string) (uuid.UUID, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func (s *Store) User(ctx context.Context, userID string) (evaluation.OrgUser, bool, error) {
	id, ok := parseID(userID)
	if !ok {
		return evaluation.OrgUser{}, false, nil
	}
	var u evaluation.OrgUser
	var status string
	err := s.DB.QueryRow(ctx, `
    SELECT e.id::text, e.tenant_id::text, COALESCE(e.department_id::text, ''), COALESCE(d.name, ''), e.full_name, e.status
    FROM employees e
    LEFT JOIN departments d ON d.id = e.department_id
    WHERE e.id = $1
  `, id).Scan(&u.ID, &u.TenantID, &u.DepartmentID, &u.DepartmentName, &u.FullName, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return evaluation.OrgUser{}, false, nil
	}
	if err != nil {
		return evaluation.OrgUser{}, false, err
	}
	u.Active = status == statusActive
	return u, true, nil
}

func (s *Store) SupervisorOf(ctx context.Context, userID string) (string, bool, error) {
	id, ok := parseID(userID)
	if !ok {
		return "", false, nil
	}
	var managerID string
	err := s.DB.QueryRow(ctx, `
    SELECT COALESCE(manager_id::text, '')
    FROM employees
    WHERE id = $1
  `, id).Scan(&managerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return managerID, managerID != "", nil
}

func (s *Store) DirectReportsOf(ctx context.Context, userID string) ([]string, error) {
	id, ok := parseID(userID)
	if !ok {
		return nil, nil
	}
	return s.ids(ctx, `
    SELECT id::text
    FROM employees
    WHERE manager_id = $1 AND status = $2
    ORDER BY full_name, id
  `, id, statusActive)
}

func (s *Store) DepartmentOf(ctx context.Context, userID string) (string, bool, error) {
	id, ok := parseID(userID)
	if !ok {
		return "", false, nil
	}
	var departmentID string
	err := s.DB.QueryRow(ctx, `
    SELECT COALESCE(department_id::text, '')
    FROM employees
    WHERE id = $1
  `, id).Scan(&departmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return departmentID, departmentID != "", nil
}

func (s *Store) DepartmentPeersOf(ctx context.Context, userID string) ([]string, error) {
	id, ok := parseID(userID)
	if !ok {
		return nil, nil
	}
	return s.ids(ctx, `
    SELECT peer.id::text
    FROM employees me
    JOIN employees peer
      ON peer.department_id = me.department_id
     AND peer.tenant_id = me.tenant_id
     AND peer.id <> me.id
    WHERE me.id = $1 AND peer.status = $2
    ORDER BY peer.full_name, peer.id
  `, id, statusActive)
}

func (s *Store) ActiveUsers(ctx context.Context, tenantID string) ([]string, error) {
	id, ok := parseID(tenantID)
	if !ok {
		return nil, nil
	}
	return s.ids(ctx, `
    SELECT id::text
    FROM employees
    WHERE tenant_id = $1 AND status = $2
    ORDER BY full_name, id
  `, id, statusActive)
}

func (s *Store) ids(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
