package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// CreateCrossTenantGrant inserts a grant with its permission list.
func (s *PostgresStore) CreateCrossTenantGrant(ctx context.Context, grant *CrossTenantAccess) error {
	return s.InTx(ctx, func(tx Store) error {
		ts := tx.(*PostgresStore)

		query := `
			INSERT INTO cross_tenant_access (
				id, source_tenant_id, target_tenant_id, resource_type,
				resource_id, conditions, granted_by, granted_at, expires_at,
				revoked_by, revoked_at, is_active
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`

		conditions, err := marshalConditions(grant.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}

		var revokedBy sql.NullString
		if grant.RevokedBy != nil {
			revokedBy = sql.NullString{String: *grant.RevokedBy, Valid: true}
		}

		_, err = ts.q.ExecContext(
			ctx, query,
			grant.ID, grant.SourceTenantID, grant.TargetTenantID, grant.ResourceType,
			nullableUUID(grant.ResourceID), conditions, grant.GrantedBy, grant.GrantedAt,
			nullableTime(grant.ExpiresAt), revokedBy, nullableTime(grant.RevokedAt),
			grant.IsActive,
		)
		if err != nil {
			return classify("insert cross-tenant grant", err)
		}

		for _, perm := range grant.Permissions {
			ins := `
				INSERT INTO cross_tenant_permissions (access_id, permission)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`
			if _, err := ts.q.ExecContext(ctx, ins, grant.ID, perm); err != nil {
				return classify("insert cross-tenant permission", err)
			}
		}
		return nil
	})
}

const crossTenantColumns = `id, source_tenant_id, target_tenant_id, resource_type,
	       resource_id, conditions, granted_by, granted_at, expires_at,
	       revoked_by, revoked_at, is_active`

func scanCrossTenantGrant(row rowScanner) (*CrossTenantAccess, error) {
	grant := &CrossTenantAccess{}
	var resourceID uuid.NullUUID
	var conditions []byte
	var expiresAt, revokedAt sql.NullTime
	var revokedBy sql.NullString

	err := row.Scan(
		&grant.ID, &grant.SourceTenantID, &grant.TargetTenantID, &grant.ResourceType,
		&resourceID, &conditions, &grant.GrantedBy, &grant.GrantedAt, &expiresAt,
		&revokedBy, &revokedAt, &grant.IsActive,
	)
	if err != nil {
		return nil, err
	}

	grant.ResourceID = uuidPtr(resourceID)
	grant.ExpiresAt = timePtr(expiresAt)
	grant.RevokedAt = timePtr(revokedAt)
	if revokedBy.Valid {
		grant.RevokedBy = &revokedBy.String
	}
	if err := unmarshalConditions(conditions, &grant.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	return grant, nil
}

// loadCrossTenantPermissions batch-loads the permission lists of the
// given grants.
func (s *PostgresStore) loadCrossTenantPermissions(ctx context.Context, grants []*CrossTenantAccess) error {
	if len(grants) == 0 {
		return nil
	}

	ids := make([]string, len(grants))
	byID := make(map[uuid.UUID]*CrossTenantAccess, len(grants))
	for i, g := range grants {
		ids[i] = g.ID.String()
		byID[g.ID] = g
	}

	query := `
		SELECT access_id, permission
		FROM cross_tenant_permissions
		WHERE access_id = ANY($1)
		ORDER BY permission ASC
	`

	rows, err := s.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return classify("query cross-tenant permissions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accessID uuid.UUID
		var perm string
		if err := rows.Scan(&accessID, &perm); err != nil {
			return fmt.Errorf("scan cross-tenant permission: %w", err)
		}
		if g, ok := byID[accessID]; ok {
			g.Permissions = append(g.Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate cross-tenant permissions: %w", err)
	}
	return nil
}

// GetCrossTenantGrant retrieves a grant by ID.
func (s *PostgresStore) GetCrossTenantGrant(ctx context.Context, id uuid.UUID) (*CrossTenantAccess, error) {
	query := `SELECT ` + crossTenantColumns + ` FROM cross_tenant_access WHERE id = $1`

	grant, err := scanCrossTenantGrant(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("query cross-tenant grant", err)
	}

	if err := s.loadCrossTenantPermissions(ctx, []*CrossTenantAccess{grant}); err != nil {
		return nil, err
	}
	return grant, nil
}

// FindActiveCrossTenantGrant retrieves the usable grant for a
// source/target tenant pair and resource type. The most recently granted
// candidate wins when several overlap.
func (s *PostgresStore) FindActiveCrossTenantGrant(ctx context.Context, sourceTenantID, targetTenantID uuid.UUID, resourceType string, now time.Time) (*CrossTenantAccess, error) {
	query := `
		SELECT ` + crossTenantColumns + `
		FROM cross_tenant_access
		WHERE source_tenant_id = $1 AND target_tenant_id = $2 AND resource_type = $3
		  AND is_active = TRUE AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > $4)
		ORDER BY granted_at DESC
		LIMIT 1
	`

	grant, err := scanCrossTenantGrant(s.q.QueryRowContext(ctx, query, sourceTenantID, targetTenantID, resourceType, now))
	if err != nil {
		return nil, classify("query active cross-tenant grant", err)
	}

	if err := s.loadCrossTenantPermissions(ctx, []*CrossTenantAccess{grant}); err != nil {
		return nil, err
	}
	return grant, nil
}

// ListCrossTenantGrants retrieves grants matching the filter.
func (s *PostgresStore) ListCrossTenantGrants(ctx context.Context, filter CrossTenantFilter) ([]*CrossTenantAccess, error) {
	query := `SELECT ` + crossTenantColumns + ` FROM cross_tenant_access WHERE 1=1`
	var args []interface{}

	if filter.SourceTenantID != nil {
		args = append(args, *filter.SourceTenantID)
		query += ` AND source_tenant_id = $` + strconv.Itoa(len(args))
	}
	if filter.TargetTenantID != nil {
		args = append(args, *filter.TargetTenantID)
		query += ` AND target_tenant_id = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = TRUE AND revoked_at IS NULL`
	}

	query += ` ORDER BY granted_at DESC`
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
		return nil, classify("query cross-tenant grants", err)
	}
	defer rows.Close()

	var grants []*CrossTenantAccess
	for rows.Next() {
		grant, err := scanCrossTenantGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cross-tenant grant: %w", err)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cross-tenant grants: %w", err)
	}

	if err := s.loadCrossTenantPermissions(ctx, grants); err != nil {
		return nil, err
	}
	return grants, nil
}

// RevokeCrossTenantGrant deactivates a grant and records who revoked it.
func (s *PostgresStore) RevokeCrossTenantGrant(ctx context.Context, id uuid.UUID, revokedBy string, now time.Time) error {
	query := `
		UPDATE cross_tenant_access
		SET is_active = FALSE, revoked_by = $1, revoked_at = $2
		WHERE id = $3 AND revoked_at IS NULL
	`

	result, err := s.q.ExecContext(ctx, query, revokedBy, now, id)
	if err != nil {
		return classify("revoke cross-tenant grant", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke cross-tenant grant rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("revoke cross-tenant grant: %w", ErrNotFound)
	}
	return nil
}

// DeactivateExpiredCrossTenantGrants flips expired grants to inactive.
func (s *PostgresStore) DeactivateExpiredCrossTenantGrants(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE cross_tenant_access
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at IS NOT NULL AND expires_at <= $1
	`

	result, err := s.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, classify("deactivate expired cross-tenant grants", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired cross-tenant grants rows affected: %w", err)
	}
	return affected, nil
}

// AppendCrossTenantAudit records a grant lifecycle event.
func (s *PostgresStore) AppendCrossTenantAudit(ctx context.Context, entry *CrossTenantAudit) error {
	query := `
		INSERT INTO cross_tenant_access_audit (
			id, access_id, action, performed_by, performed_at, details
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	details, err := marshalConditions(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	_, err = s.q.ExecContext(
		ctx, query,
		entry.ID, entry.AccessID, entry.Action, entry.PerformedBy,
		entry.PerformedAt, details,
	)
	if err != nil {
		return classify("insert cross-tenant audit", err)
	}
	return nil
}

// ListCrossTenantAudit retrieves the audit trail of a grant, newest
// first.
func (s *PostgresStore) ListCrossTenantAudit(ctx context.Context, accessID uuid.UUID) ([]*CrossTenantAudit, error) {
	query := `
		SELECT id, access_id, action, performed_by, performed_at, details
		FROM cross_tenant_access_audit
		WHERE access_id = $1
		ORDER BY performed_at DESC
	`

	rows, err := s.q.QueryContext(ctx, query, accessID)
	if err != nil {
		return nil, classify("query cross-tenant audit", err)
	}
	defer rows.Close()

	var entries []*CrossTenantAudit
	for rows.Next() {
		entry := &CrossTenantAudit{}
		var details []byte

		err := rows.Scan(
			&entry.ID, &entry.AccessID, &entry.Action, &entry.PerformedBy,
			&entry.PerformedAt, &details,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cross-tenant audit: %w", err)
		}

		if err := unmarshalConditions(details, &entry.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cross-tenant audit: %w", err)
	}
	return entries, nil
}
