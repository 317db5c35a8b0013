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

// CreatePolicy inserts a policy and links its permissions. Runs in a
// transaction unless already inside one.
func (s *PostgresStore) CreatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error {
	return s.InTx(ctx, func(tx Store) error {
		ts := tx.(*PostgresStore)

		query := `
			INSERT INTO policies (
				id, tenant_id, name, description, policy_type, effect,
				priority, conditions, start_date, end_date, is_active,
				version, created_by, updated_by, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`

		conditions, err := marshalConditions(policy.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}

		_, err = ts.q.ExecContext(
			ctx, query,
			policy.ID, policy.TenantID, policy.Name, nullableString(policy.Description),
			policy.PolicyType, policy.Effect, policy.Priority, conditions,
			nullableTime(policy.StartDate), nullableTime(policy.EndDate), policy.IsActive,
			policy.Version, policy.CreatedBy, nullableString(policy.UpdatedBy),
			policy.CreatedAt, policy.UpdatedAt,
		)
		if err != nil {
			return classify("insert policy", err)
		}

		return ts.linkPolicyPermissions(ctx, policy.ID, permissionIDs)
	})
}

func (s *PostgresStore) linkPolicyPermissions(ctx context.Context, policyID uuid.UUID, permissionIDs []uuid.UUID) error {
	for _, permID := range permissionIDs {
		query := `
			INSERT INTO policy_permissions (policy_id, permission_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`
		if _, err := s.q.ExecContext(ctx, query, policyID, permID); err != nil {
			return classify("link policy permission", err)
		}
	}
	return nil
}

const policyColumns = `id, tenant_id, name, description, policy_type, effect,
	       priority, conditions, start_date, end_date, is_active,
	       version, created_by, updated_by, created_at, updated_at`

func scanPolicy(row rowScanner) (*Policy, error) {
	policy := &Policy{}
	var description, updatedBy sql.NullString
	var conditions []byte
	var startDate, endDate sql.NullTime

	err := row.Scan(
		&policy.ID, &policy.TenantID, &policy.Name, &description, &policy.PolicyType,
		&policy.Effect, &policy.Priority, &conditions, &startDate, &endDate,
		&policy.IsActive, &policy.Version, &policy.CreatedBy, &updatedBy,
		&policy.CreatedAt, &policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	policy.Description = description.String
	policy.UpdatedBy = updatedBy.String
	policy.StartDate = timePtr(startDate)
	policy.EndDate = timePtr(endDate)
	if err := unmarshalConditions(conditions, &policy.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	return policy, nil
}

// GetPolicy retrieves a policy with its permissions and resource
// attachments loaded.
func (s *PostgresStore) GetPolicy(ctx context.Context, id uuid.UUID) (*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`

	policy, err := scanPolicy(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("query policy", err)
	}

	if err := s.loadPolicyAssociations(ctx, []*Policy{policy}); err != nil {
		return nil, err
	}
	return policy, nil
}

// loadPolicyPermissions batch-loads the permission lists of the given
// policies.
func (s *PostgresStore) loadPolicyPermissions(ctx context.Context, policies []*Policy) error {
	if len(policies) == 0 {
		return nil
	}

	ids := make([]string, len(policies))
	byID := make(map[uuid.UUID]*Policy, len(policies))
	for i, p := range policies {
		ids[i] = p.ID.String()
		byID[p.ID] = p
	}

	query := `
		SELECT pp.policy_id,
		       p.id, p.resource_type, p.action, p.description, p.risk_level,
		       p.requires_mfa, p.requires_approval, p.is_system, p.is_active,
		       p.created_at, p.updated_at
		FROM policy_permissions pp
		JOIN permissions p ON p.id = pp.permission_id
		WHERE pp.policy_id = ANY($1)
		ORDER BY p.resource_type ASC, p.action ASC
	`

	rows, err := s.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return classify("query policy permissions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var policyID uuid.UUID
		perm := &Permission{}
		var description sql.NullString

		err := rows.Scan(
			&policyID,
			&perm.ID, &perm.ResourceType, &perm.Action, &description, &perm.RiskLevel,
			&perm.RequiresMFA, &perm.RequiresApproval, &perm.IsSystem, &perm.IsActive,
			&perm.CreatedAt, &perm.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan policy permission: %w", err)
		}

		perm.Description = description.String
		if p, ok := byID[policyID]; ok {
			p.Permissions = append(p.Permissions, perm)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate policy permissions: %w", err)
	}
	return nil
}

// loadPolicyResources batch-loads the resources the given policies are
// attached to.
func (s *PostgresStore) loadPolicyResources(ctx context.Context, policies []*Policy) error {
	if len(policies) == 0 {
		return nil
	}

	ids := make([]string, len(policies))
	byID := make(map[uuid.UUID]*Policy, len(policies))
	for i, p := range policies {
		ids[i] = p.ID.String()
		byID[p.ID] = p
	}

	query := `
		SELECT rpol.policy_id,
		       r.id, r.resource_identifier, r.resource_type, r.tenant_id, r.name,
		       r.parent_resource_id, r.attributes, r.owner_id, r.is_public, r.is_active,
		       r.version, r.created_at, r.updated_at
		FROM resource_policies rpol
		JOIN resources r ON r.id = rpol.resource_id
		WHERE rpol.policy_id = ANY($1)
		ORDER BY r.resource_identifier ASC
	`

	rows, err := s.q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return classify("query policy resources", err)
	}
	defer rows.Close()

	for rows.Next() {
		var policyID uuid.UUID
		res := &Resource{}
		var name sql.NullString
		var parentID, ownerID uuid.NullUUID
		var attributes []byte

		err := rows.Scan(
			&policyID,
			&res.ID, &res.ResourceIdentifier, &res.ResourceType, &res.TenantID, &name,
			&parentID, &attributes, &ownerID, &res.IsPublic, &res.IsActive,
			&res.Version, &res.CreatedAt, &res.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("scan policy resource: %w", err)
		}

		res.Name = name.String
		res.ParentResourceID = uuidPtr(parentID)
		res.OwnerID = uuidPtr(ownerID)
		if err := unmarshalConditions(attributes, &res.Attributes); err != nil {
			return fmt.Errorf("unmarshal resource attributes: %w", err)
		}
		if p, ok := byID[policyID]; ok {
			p.Resources = append(p.Resources, res)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate policy resources: %w", err)
	}
	return nil
}

// ListPolicies retrieves policies matching the filter, permissions
// loaded, highest priority first.
func (s *PostgresStore) ListPolicies(ctx context.Context, filter PolicyFilter) ([]*Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}

	if filter.PolicyType != "" {
		args = append(args, filter.PolicyType)
		query += ` AND policy_type = $` + strconv.Itoa(len(args))
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

	policies, err := s.queryPolicies(ctx, "query policies", query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.loadPolicyAssociations(ctx, policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (s *PostgresStore) loadPolicyAssociations(ctx context.Context, policies []*Policy) error {
	if err := s.loadPolicyPermissions(ctx, policies); err != nil {
		return err
	}
	return s.loadPolicyResources(ctx, policies)
}

func (s *PostgresStore) queryPolicies(ctx context.Context, op, query string, args ...interface{}) ([]*Policy, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return policies, nil
}

// ListActiveTenantPolicies retrieves a tenant's in-effect tenant-wide
// policies in descending priority order, permissions loaded. Policies
// attached to a resource are excluded; those only apply through
// ListActiveResourcePolicies.
func (s *PostgresStore) ListActiveTenantPolicies(ctx context.Context, tenantID uuid.UUID, now time.Time) ([]*Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policies
		WHERE tenant_id = $1 AND is_active = TRUE
		  AND (start_date IS NULL OR start_date <= $2)
		  AND (end_date IS NULL OR end_date > $2)
		  AND NOT EXISTS (
			SELECT 1 FROM resource_policies rpol WHERE rpol.policy_id = policies.id
		  )
		ORDER BY priority DESC, name ASC
	`

	policies, err := s.queryPolicies(ctx, "query active tenant policies", query, tenantID, now)
	if err != nil {
		return nil, err
	}
	if err := s.loadPolicyAssociations(ctx, policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// ListActiveResourcePolicies retrieves in-effect policies attached to a
// resource in descending priority order, permissions loaded.
func (s *PostgresStore) ListActiveResourcePolicies(ctx context.Context, resourceID uuid.UUID, now time.Time) ([]*Policy, error) {
	query := `
		SELECT ` + policyColumns + `
		FROM policies
		JOIN resource_policies rpol ON rpol.policy_id = policies.id
		WHERE rpol.resource_id = $1 AND policies.is_active = TRUE
		  AND (policies.start_date IS NULL OR policies.start_date <= $2)
		  AND (policies.end_date IS NULL OR policies.end_date > $2)
		ORDER BY policies.priority DESC, policies.name ASC
	`

	policies, err := s.queryPolicies(ctx, "query active resource policies", query, resourceID, now)
	if err != nil {
		return nil, err
	}
	if err := s.loadPolicyAssociations(ctx, policies); err != nil {
		return nil, err
	}
	return policies, nil
}

// UpdatePolicy saves mutable fields and relinks permissions, guarded by
// the version column. The policy's version is bumped in place on success.
func (s *PostgresStore) UpdatePolicy(ctx context.Context, policy *Policy, permissionIDs []uuid.UUID) error {
	return s.InTx(ctx, func(tx Store) error {
		ts := tx.(*PostgresStore)

		query := `
			UPDATE policies
			SET name = $1, description = $2, policy_type = $3, effect = $4,
			    priority = $5, conditions = $6, start_date = $7, end_date = $8,
			    is_active = $9, updated_by = $10, version = version + 1, updated_at = $11
			WHERE id = $12 AND version = $13
		`

		conditions, err := marshalConditions(policy.Conditions)
		if err != nil {
			return fmt.Errorf("marshal conditions: %w", err)
		}

		result, err := ts.q.ExecContext(
			ctx, query,
			policy.Name, nullableString(policy.Description), policy.PolicyType,
			policy.Effect, policy.Priority, conditions,
			nullableTime(policy.StartDate), nullableTime(policy.EndDate),
			policy.IsActive, nullableString(policy.UpdatedBy),
			policy.UpdatedAt, policy.ID, policy.Version,
		)
		if err != nil {
			return classify("update policy", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update policy rows affected: %w", err)
		}
		if affected == 0 {
			if _, err := ts.GetPolicy(ctx, policy.ID); err != nil {
				return err
			}
			return fmt.Errorf("update policy: %w", ErrVersionConflict)
		}

		if permissionIDs != nil {
			del := `DELETE FROM policy_permissions WHERE policy_id = $1`
			if _, err := ts.q.ExecContext(ctx, del, policy.ID); err != nil {
				return classify("unlink policy permissions", err)
			}
			if err := ts.linkPolicyPermissions(ctx, policy.ID, permissionIDs); err != nil {
				return err
			}
		}

		policy.Version++
		return nil
	})
}

// SetPolicyActive toggles the policy's active flag.
func (s *PostgresStore) SetPolicyActive(ctx context.Context, id uuid.UUID, active bool, updatedBy string) error {
	query := `
		UPDATE policies
		SET is_active = $1, updated_by = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3
	`

	result, err := s.q.ExecContext(ctx, query, active, nullableString(updatedBy), id)
	if err != nil {
		return classify("set policy active", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set policy active rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set policy active: %w", ErrNotFound)
	}
	return nil
}

// AttachPolicy links a policy to a resource.
func (s *PostgresStore) AttachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error {
	query := `
		INSERT INTO resource_policies (resource_id, policy_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`

	if _, err := s.q.ExecContext(ctx, query, resourceID, policyID); err != nil {
		return classify("attach policy", err)
	}
	return nil
}

// DetachPolicy unlinks a policy from a resource.
func (s *PostgresStore) DetachPolicy(ctx context.Context, policyID, resourceID uuid.UUID) error {
	query := `DELETE FROM resource_policies WHERE resource_id = $1 AND policy_id = $2`

	result, err := s.q.ExecContext(ctx, query, resourceID, policyID)
	if err != nil {
		return classify("detach policy", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("detach policy rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("detach policy: %w", ErrNotFound)
	}
	return nil
}

// DeactivateExpiredPolicies flips policies past their end date to
// inactive.
func (s *PostgresStore) DeactivateExpiredPolicies(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE policies
		SET is_active = FALSE, version = version + 1, updated_at = $1
		WHERE is_active = TRUE AND end_date IS NOT NULL AND end_date <= $1
	`

	result, err := s.q.ExecContext(ctx, query, now)
	if err != nil {
		return 0, classify("deactivate expired policies", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate expired policies rows affected: %w", err)
	}
	return affected, nil
}
