package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// AssignPermission links a permission to a role.
func (s *PostgresStore) AssignPermission(ctx context.Context, grant *RolePermission) error {
	query := `
		INSERT INTO role_permissions (
			id, role_id, permission_id, constraints, expires_at,
			granted_by, granted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	constraints, err := marshalConditions(grant.Constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}

	_, err = s.q.ExecContext(
		ctx, query,
		grant.ID, grant.RoleID, grant.PermissionID, constraints,
		nullableTime(grant.ExpiresAt), grant.GrantedBy, grant.GrantedAt,
	)
	if err != nil {
		return classify("insert role permission", err)
	}
	return nil
}

// RevokePermission removes a permission from a role.
func (s *PostgresStore) RevokePermission(ctx context.Context, roleID, permissionID uuid.UUID) error {
	query := `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`

	result, err := s.q.ExecContext(ctx, query, roleID, permissionID)
	if err != nil {
		return classify("delete role permission", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete role permission rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete role permission: %w", ErrNotFound)
	}
	return nil
}

const grantColumns = `rp.id, rp.role_id, rp.permission_id, rp.constraints, rp.expires_at,
	       rp.granted_by, rp.granted_at,
	       p.id, p.resource_type, p.action, p.description, p.risk_level,
	       p.requires_mfa, p.requires_approval, p.is_system, p.is_active,
	       p.created_at, p.updated_at`

func scanGrant(row rowScanner) (*RoleGrant, error) {
	grant := &RoleGrant{Permission: &Permission{}}
	var constraints []byte
	var expiresAt sql.NullTime
	var description sql.NullString

	err := row.Scan(
		&grant.ID, &grant.RoleID, &grant.PermissionID, &constraints, &expiresAt,
		&grant.GrantedBy, &grant.GrantedAt,
		&grant.Permission.ID, &grant.Permission.ResourceType, &grant.Permission.Action,
		&description, &grant.Permission.RiskLevel,
		&grant.Permission.RequiresMFA, &grant.Permission.RequiresApproval,
		&grant.Permission.IsSystem, &grant.Permission.IsActive,
		&grant.Permission.CreatedAt, &grant.Permission.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalConditions(constraints, &grant.Constraints); err != nil {
		return nil, fmt.Errorf("unmarshal constraints: %w", err)
	}
	grant.ExpiresAt = timePtr(expiresAt)
	grant.Permission.Description = description.String
	return grant, nil
}

// ListRoleGrants retrieves a role's grants joined with their permissions.
func (s *PostgresStore) ListRoleGrants(ctx context.Context, roleID uuid.UUID) ([]*RoleGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.resource_type ASC, p.action ASC
	`

	rows, err := s.q.QueryContext(ctx, query, roleID)
	if err != nil {
		return nil, classify("query role grants", err)
	}
	defer rows.Close()

	var grants []*RoleGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan role grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role grants: %w", err)
	}
	return grants, nil
}

// UpdateGrantConstraints replaces a grant's constraints and expiry.
func (s *PostgresStore) UpdateGrantConstraints(ctx context.Context, roleID, permissionID uuid.UUID, constraints types.Conditions, expiresAt *time.Time) error {
	query := `
		UPDATE role_permissions
		SET constraints = $1, expires_at = $2
		WHERE role_id = $3 AND permission_id = $4
	`

	raw, err := marshalConditions(constraints)
	if err != nil {
		return fmt.Errorf("marshal constraints: %w", err)
	}

	result, err := s.q.ExecContext(ctx, query, raw, nullableTime(expiresAt), roleID, permissionID)
	if err != nil {
		return classify("update grant constraints", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update grant constraints rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update grant constraints: %w", ErrNotFound)
	}
	return nil
}

// DeleteExpiredGrants removes grants whose expiry has passed.
func (s *PostgresStore) DeleteExpiredGrants(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM role_permissions WHERE expires_at IS NOT NULL AND expires_at <= $1`

	result, err := s.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, classify("delete expired grants", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired grants rows affected: %w", err)
	}
	return affected, nil
}

// ListExpiringGrants retrieves grants on a role expiring inside
// [from, until).
func (s *PostgresStore) ListExpiringGrants(ctx context.Context, roleID uuid.UUID, from, until time.Time) ([]*RoleGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		  AND rp.expires_at IS NOT NULL
		  AND rp.expires_at >= $2
		  AND rp.expires_at < $3
		ORDER BY rp.expires_at ASC
	`

	rows, err := s.q.QueryContext(ctx, query, roleID, from, until)
	if err != nil {
		return nil, classify("query expiring grants", err)
	}
	defer rows.Close()

	var grants []*RoleGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expiring grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expiring grants: %w", err)
	}
	return grants, nil
}
