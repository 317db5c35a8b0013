package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AssignRole inserts a user-role assignment.
func (s *PostgresStore) AssignRole(ctx context.Context, assignment *UserRole) error {
	query := `
		INSERT INTO user_roles (
			id, user_id, role_id, tenant_id, assigned_by, assigned_at,
			expires_at, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.q.ExecContext(
		ctx, query,
		assignment.ID, assignment.UserID, assignment.RoleID, assignment.TenantID,
		assignment.AssignedBy, assignment.AssignedAt,
		nullableTime(assignment.ExpiresAt), assignment.IsActive,
	)
	if err != nil {
		return classify("insert user role", err)
	}
	return nil
}

const userRoleColumns = `id, user_id, role_id, tenant_id, assigned_by, assigned_at,
	       expires_at, is_active`

func scanUserRole(row rowScanner) (*UserRole, error) {
	ur := &UserRole{}
	var expiresAt sql.NullTime

	err := row.Scan(
		&ur.ID, &ur.UserID, &ur.RoleID, &ur.TenantID, &ur.AssignedBy, &ur.AssignedAt,
		&expiresAt, &ur.IsActive,
	)
	if err != nil {
		return nil, err
	}

	ur.ExpiresAt = timePtr(expiresAt)
	return ur, nil
}

// GetUserRole retrieves an assignment regardless of its active flag.
func (s *PostgresStore) GetUserRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) (*UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `
		FROM user_roles
		WHERE user_id = $1 AND role_id = $2 AND tenant_id = $3
	`

	ur, err := scanUserRole(s.q.QueryRowContext(ctx, query, userID, roleID, tenantID))
	if err != nil {
		return nil, classify("query user role", err)
	}
	return ur, nil
}

// ReactivateUserRole re-enables an inactive assignment with fresh expiry
// and attribution.
func (s *PostgresStore) ReactivateUserRole(ctx context.Context, id uuid.UUID, assignedBy string, expiresAt *time.Time) error {
	query := `
		UPDATE user_roles
		SET is_active = TRUE, assigned_by = $1, assigned_at = NOW(), expires_at = $2
		WHERE id = $3
	`

	result, err := s.q.ExecContext(ctx, query, assignedBy, nullableTime(expiresAt), id)
	if err != nil {
		return classify("reactivate user role", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reactivate user role rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("reactivate user role: %w", ErrNotFound)
	}
	return nil
}

// RevokeRole deactivates an assignment.
func (s *PostgresStore) RevokeRole(ctx context.Context, userID, roleID, tenantID uuid.UUID) error {
	query := `
		UPDATE user_roles
		SET is_active = FALSE
		WHERE user_id = $1 AND role_id = $2 AND tenant_id = $3 AND is_active = TRUE
	`

	result, err := s.q.ExecContext(ctx, query, userID, roleID, tenantID)
	if err != nil {
		return classify("revoke user role", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke user role rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("revoke user role: %w", ErrNotFound)
	}
	return nil
}

// ListActiveUserRoles retrieves a user's effective assignments in a
// tenant, each joined with its role and the role's unexpired grants.
// Assignment rows carry the tenant, so global roles assigned in the
// tenant are included.
func (s *PostgresStore) ListActiveUserRoles(ctx context.Context, userID, tenantID uuid.UUID, now time.Time) ([]*UserRoleBinding, error) {
	query := `
		SELECT ur.id, ur.user_id, ur.role_id, ur.tenant_id, ur.assigned_by, ur.assigned_at,
		       ur.expires_at, ur.is_active,
		       r.id, r.tenant_id, r.name, r.description, r.priority, r.max_users,
		       r.is_system, r.is_active, r.parent_role_id, r.created_by, r.updated_by,
		       r.version, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.tenant_id = $2 AND ur.is_active = TRUE
		  AND (ur.expires_at IS NULL OR ur.expires_at > $3)
		  AND r.is_active = TRUE
		ORDER BY r.priority DESC
	`

	rows, err := s.q.QueryContext(ctx, query, userID, tenantID, now)
	if err != nil {
		return nil, classify("query active user roles", err)
	}
	defer rows.Close()

	var bindings []*UserRoleBinding
	var roleIDs []uuid.UUID
	for rows.Next() {
		b := &UserRoleBinding{Role: &Role{}}
		var urExpiresAt sql.NullTime
		var roleTenantID, parentID uuid.NullUUID
		var description, updatedBy sql.NullString
		var maxUsers sql.NullInt32

		err := rows.Scan(
			&b.ID, &b.UserID, &b.RoleID, &b.TenantID, &b.AssignedBy, &b.AssignedAt,
			&urExpiresAt, &b.UserRole.IsActive,
			&b.Role.ID, &roleTenantID, &b.Role.Name, &description, &b.Role.Priority, &maxUsers,
			&b.Role.IsSystem, &b.Role.IsActive, &parentID, &b.Role.CreatedBy, &updatedBy,
			&b.Role.Version, &b.Role.CreatedAt, &b.Role.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user role binding: %w", err)
		}

		b.UserRole.ExpiresAt = timePtr(urExpiresAt)
		b.Role.TenantID = uuidPtr(roleTenantID)
		b.Role.ParentRoleID = uuidPtr(parentID)
		b.Role.Description = description.String
		b.Role.UpdatedBy = updatedBy.String
		if maxUsers.Valid {
			n := int(maxUsers.Int32)
			b.Role.MaxUsers = &n
		}

		bindings = append(bindings, b)
		roleIDs = append(roleIDs, b.RoleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user role bindings: %w", err)
	}

	if len(bindings) == 0 {
		return nil, nil
	}

	grantsByRole, err := s.listGrantsForRoles(ctx, roleIDs, now)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		b.Grants = grantsByRole[b.RoleID]
	}
	return bindings, nil
}

// listGrantsForRoles batch-loads unexpired grants with active permissions
// for a set of roles.
func (s *PostgresStore) listGrantsForRoles(ctx context.Context, roleIDs []uuid.UUID, now time.Time) (map[uuid.UUID][]*RoleGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		  AND (rp.expires_at IS NULL OR rp.expires_at > $2)
		  AND p.is_active = TRUE
	`

	ids := make([]string, len(roleIDs))
	for i, id := range roleIDs {
		ids[i] = id.String()
	}

	rows, err := s.q.QueryContext(ctx, query, pq.Array(ids), now)
	if err != nil {
		return nil, classify("query grants for roles", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]*RoleGrant)
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		out[grant.RoleID] = append(out[grant.RoleID], grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return out, nil
}

// ListUserAssignments retrieves a user's assignments in a tenant.
func (s *PostgresStore) ListUserAssignments(ctx context.Context, userID, tenantID uuid.UUID, activeOnly bool) ([]*UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `
		FROM user_roles
		WHERE user_id = $1 AND tenant_id = $2
	`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY assigned_at DESC`

	rows, err := s.q.QueryContext(ctx, query, userID, tenantID)
	if err != nil {
		return nil, classify("query user assignments", err)
	}
	defer rows.Close()

	var assignments []*UserRole
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user assignment: %w", err)
		}
		assignments = append(assignments, ur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user assignments: %w", err)
	}
	return assignments, nil
}

// ListRoleAssignments retrieves the assignments of a role.
func (s *PostgresStore) ListRoleAssignments(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]*UserRole, error) {
	query := `
		SELECT ` + userRoleColumns + `
		FROM user_roles
		WHERE role_id = $1
	`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY assigned_at DESC`

	rows, err := s.q.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, classify("query role assignments", err)
	}
	defer rows.Close()

	var assignments []*UserRole
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		assignments = append(assignments, ur)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role assignments: %w", err)
	}
	return assignments, nil
}

// CountActiveRoleUsers counts distinct users holding the role.
func (s *PostgresStore) CountActiveRoleUsers(ctx context.Context, roleID uuid.UUID, now time.Time) (int, error) {
	query := `
		SELECT COUNT(DISTINCT user_id)
		FROM user_roles
		WHERE role_id = $1 AND is_active = TRUE
		  AND (expires_at IS NULL OR expires_at > $2)
	`

	var count int
	if err := s.q.QueryRowContext(ctx, query, roleID, now).Scan(&count); err != nil {
		return 0, classify("count role users", err)
	}
	return count, nil
}

// DeactivateExpiredUserRoles flips expired assignments to inactive.
func (s *PostgresStore) DeactivateExpiredUserRoles(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_roles
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`

	result, err := s.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, classify("deactivate expired user roles", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired user roles rows affected: %w", err)
	}
	return affected, nil
}
