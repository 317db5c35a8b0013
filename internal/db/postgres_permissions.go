package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// CreatePermission inserts a new permission.
func (s *PostgresStore) CreatePermission(ctx context.Context, perm *Permission) error {
	query := `
		INSERT INTO permissions (
			id, resource_type, action, description, risk_level,
			requires_mfa, requires_approval, is_system, is_active,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.q.ExecContext(
		ctx, query,
		perm.ID, perm.ResourceType, perm.Action, nullableString(perm.Description),
		perm.RiskLevel, perm.RequiresMFA, perm.RequiresApproval, perm.IsSystem,
		perm.IsActive, perm.CreatedAt, perm.UpdatedAt,
	)
	if err != nil {
		return classify("insert permission", err)
	}
	return nil
}

const permissionColumns = `id, resource_type, action, description, risk_level,
	       requires_mfa, requires_approval, is_system, is_active,
	       created_at, updated_at`

func scanPermission(row rowScanner) (*Permission, error) {
	perm := &Permission{}
	var description sql.NullString

	err := row.Scan(
		&perm.ID, &perm.ResourceType, &perm.Action, &description, &perm.RiskLevel,
		&perm.RequiresMFA, &perm.RequiresApproval, &perm.IsSystem, &perm.IsActive,
		&perm.CreatedAt, &perm.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	perm.Description = description.String
	return perm, nil
}

// GetPermission retrieves a permission by ID.
func (s *PostgresStore) GetPermission(ctx context.Context, id uuid.UUID) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE id = $1`

	perm, err := scanPermission(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("query permission", err)
	}
	return perm, nil
}

// GetPermissionByName retrieves a permission by resource type and action.
func (s *PostgresStore) GetPermissionByName(ctx context.Context, resourceType, action string) (*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE resource_type = $1 AND action = $2`

	perm, err := scanPermission(s.q.QueryRowContext(ctx, query, resourceType, action))
	if err != nil {
		return nil, classify("query permission by name", err)
	}
	return perm, nil
}

// ListPermissions retrieves permissions matching the filter.
func (s *PostgresStore) ListPermissions(ctx context.Context, filter PermissionFilter) ([]*Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE 1=1`
	var args []interface{}

	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		query += ` AND resource_type = $` + strconv.Itoa(len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += ` AND action = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = TRUE`
	}

	query += ` ORDER BY resource_type ASC, action ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("query permissions", err)
	}
	defer rows.Close()

	var perms []*Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return perms, nil
}

// UpdatePermission saves mutable permission fields.
func (s *PostgresStore) UpdatePermission(ctx context.Context, perm *Permission) error {
	query := `
		UPDATE permissions
		SET description = $1, risk_level = $2, requires_mfa = $3,
		    requires_approval = $4, is_active = $5, updated_at = $6
		WHERE id = $7
	`

	result, err := s.q.ExecContext(
		ctx, query,
		nullableString(perm.Description), perm.RiskLevel, perm.RequiresMFA,
		perm.RequiresApproval, perm.IsActive, perm.UpdatedAt, perm.ID,
	)
	if err != nil {
		return classify("update permission", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update permission rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update permission: %w", ErrNotFound)
	}
	return nil
}

// SetPermissionActive toggles the permission's active flag.
func (s *PostgresStore) SetPermissionActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE permissions SET is_active = $1, updated_at = NOW() WHERE id = $2`

	result, err := s.q.ExecContext(ctx, query, active, id)
	if err != nil {
		return classify("set permission active", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set permission active rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set permission active: %w", ErrNotFound)
	}
	return nil
}

// DistinctResourceTypes lists resource types present in the catalog.
func (s *PostgresStore) DistinctResourceTypes(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT resource_type FROM permissions WHERE is_active = TRUE ORDER BY resource_type ASC`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("query resource types", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var rt string
		if err := rows.Scan(&rt); err != nil {
			return nil, fmt.Errorf("scan resource type: %w", err)
		}
		out = append(out, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource types: %w", err)
	}
	return out, nil
}

// DistinctActions lists actions defined for a resource type.
func (s *PostgresStore) DistinctActions(ctx context.Context, resourceType string) ([]string, error) {
	query := `SELECT DISTINCT action FROM permissions WHERE resource_type = $1 AND is_active = TRUE ORDER BY action ASC`

	rows, err := s.q.QueryContext(ctx, query, resourceType)
	if err != nil {
		return nil, classify("query actions", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}
