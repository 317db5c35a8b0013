package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// CreateRole inserts a new role.
func (s *PostgresStore) CreateRole(ctx context.Context, role *Role) error {
	query := `
		INSERT INTO roles (
			id, tenant_id, name, description, priority, max_users,
			is_system, is_active, parent_role_id, created_by, updated_by,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var maxUsers sql.NullInt32
	if role.MaxUsers != nil {
		maxUsers = sql.NullInt32{Int32: int32(*role.MaxUsers), Valid: true}
	}

	_, err := s.q.ExecContext(
		ctx, query,
		role.ID, nullableUUID(role.TenantID), role.Name, nullableString(role.Description),
		role.Priority, maxUsers, role.IsSystem, role.IsActive,
		nullableUUID(role.ParentRoleID), role.CreatedBy, nullableString(role.UpdatedBy),
		role.Version, role.CreatedAt, role.UpdatedAt,
	)
	if err != nil {
		return classify("insert role", err)
	}
	return nil
}

const roleColumns = `id, tenant_id, name, description, priority, max_users,
	       is_system, is_active, parent_role_id, created_by, updated_by,
	       version, created_at, updated_at`

func scanRole(row rowScanner) (*Role, error) {
	role := &Role{}
	var tenantID, parentID uuid.NullUUID
	var description, updatedBy sql.NullString
	var maxUsers sql.NullInt32

	err := row.Scan(
		&role.ID, &tenantID, &role.Name, &description, &role.Priority, &maxUsers,
		&role.IsSystem, &role.IsActive, &parentID, &role.CreatedBy, &updatedBy,
		&role.Version, &role.CreatedAt, &role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.TenantID = uuidPtr(tenantID)
	role.ParentRoleID = uuidPtr(parentID)
	role.Description = description.String
	role.UpdatedBy = updatedBy.String
	if maxUsers.Valid {
		n := int(maxUsers.Int32)
		role.MaxUsers = &n
	}
	return role, nil
}

// GetRole retrieves a role by ID.
func (s *PostgresStore) GetRole(ctx context.Context, id uuid.UUID) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("query role", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by name within a tenant, or a global
// role when tenantID is nil.
func (s *PostgresStore) GetRoleByName(ctx context.Context, tenantID *uuid.UUID, name string) (*Role, error) {
	var row *sql.Row
	if tenantID == nil {
		query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id IS NULL AND name = $1`
		row = s.q.QueryRowContext(ctx, query, name)
	} else {
		query := `SELECT ` + roleColumns + ` FROM roles WHERE tenant_id = $1 AND name = $2`
		row = s.q.QueryRowContext(ctx, query, *tenantID, name)
	}

	role, err := scanRole(row)
	if err != nil {
		return nil, classify("query role by name", err)
	}
	return role, nil
}

// ListRoles retrieves roles matching the filter, highest priority first.
func (s *PostgresStore) ListRoles(ctx context.Context, filter RoleFilter) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE 1=1`
	var args []interface{}

	if filter.TenantID != nil {
		args = append(args, *filter.TenantID)
		cond := ` AND tenant_id = $` + strconv.Itoa(len(args))
		if filter.IncludeGlobal {
			cond = ` AND (tenant_id = $` + strconv.Itoa(len(args)) + ` OR tenant_id IS NULL)`
		}
		query += cond
	} else if !filter.IncludeGlobal {
		query += ` AND tenant_id IS NOT NULL`
	}
	if filter.ActiveOnly {
		query += ` AND is_active = TRUE`
	}

	query += ` ORDER BY priority DESC, name ASC`
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
		return nil, classify("query roles", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// ListChildRoles retrieves roles whose parent is the given role.
func (s *PostgresStore) ListChildRoles(ctx context.Context, parentRoleID uuid.UUID) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE parent_role_id = $1 ORDER BY name ASC`

	rows, err := s.q.QueryContext(ctx, query, parentRoleID)
	if err != nil {
		return nil, classify("query child roles", err)
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roles: %w", err)
	}
	return roles, nil
}

// UpdateRole saves mutable fields, guarded by the version column. The
// role's version is bumped in place on success.
func (s *PostgresStore) UpdateRole(ctx context.Context, role *Role) error {
	query := `
		UPDATE roles
		SET name = $1, description = $2, priority = $3, max_users = $4,
		    parent_role_id = $5, is_active = $6, updated_by = $7,
		    version = version + 1, updated_at = $8
		WHERE id = $9 AND version = $10
	`

	var maxUsers sql.NullInt32
	if role.MaxUsers != nil {
		maxUsers = sql.NullInt32{Int32: int32(*role.MaxUsers), Valid: true}
	}

	result, err := s.q.ExecContext(
		ctx, query,
		role.Name, nullableString(role.Description), role.Priority, maxUsers,
		nullableUUID(role.ParentRoleID), role.IsActive, nullableString(role.UpdatedBy),
		role.UpdatedAt, role.ID, role.Version,
	)
	if err != nil {
		return classify("update role", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetRole(ctx, role.ID); err != nil {
			return err
		}
		return fmt.Errorf("update role: %w", ErrVersionConflict)
	}

	role.Version++
	return nil
}

// SetRoleActive toggles the role's active flag.
func (s *PostgresStore) SetRoleActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error {
	query := `
		UPDATE roles
		SET is_active = $1, updated_by = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.q.ExecContext(ctx, query, active, nullableString(updatedBy), id)
	if err != nil {
		return classify("set role active", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set role active rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set role active: %w", ErrNotFound)
	}
	return nil
}
