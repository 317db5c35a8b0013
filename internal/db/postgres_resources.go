package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// CreateResource inserts a new resource.
func (s *PostgresStore) CreateResource(ctx context.Context, res *Resource) error {
	query := `
		INSERT INTO resources (
			id, resource_identifier, resource_type, tenant_id, name,
			parent_resource_id, attributes, owner_id, is_public, is_active,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	attributes, err := marshalConditions(res.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	_, err = s.q.ExecContext(
		ctx, query,
		res.ID, res.ResourceIdentifier, res.ResourceType, res.TenantID,
		nullableString(res.Name), nullableUUID(res.ParentResourceID), attributes,
		nullableUUID(res.OwnerID), res.IsPublic, res.IsActive,
		res.Version, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		return classify("insert resource", err)
	}
	return nil
}

const resourceColumns = `id, resource_identifier, resource_type, tenant_id, name,
	       parent_resource_id, attributes, owner_id, is_public, is_active,
	       version, created_at, updated_at`

func scanResource(row rowScanner) (*Resource, error) {
	res := &Resource{}
	var name sql.NullString
	var parentID, ownerID uuid.NullUUID
	var attributes []byte

	err := row.Scan(
		&res.ID, &res.ResourceIdentifier, &res.ResourceType, &res.TenantID, &name,
		&parentID, &attributes, &ownerID, &res.IsPublic, &res.IsActive,
		&res.Version, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	res.Name = name.String
	res.ParentResourceID = uuidPtr(parentID)
	res.OwnerID = uuidPtr(ownerID)
	if err := unmarshalConditions(attributes, &res.Attributes); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return res, nil
}

// GetResource retrieves a resource by ID.
func (s *PostgresStore) GetResource(ctx context.Context, id uuid.UUID) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE id = $1`

	res, err := scanResource(s.q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify("query resource", err)
	}
	return res, nil
}

// GetResourceByIdentifier retrieves a resource by its external identifier
// within a tenant.
func (s *PostgresStore) GetResourceByIdentifier(ctx context.Context, tenantID uuid.UUID, identifier string) (*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE tenant_id = $1 AND resource_identifier = $2`

	res, err := scanResource(s.q.QueryRowContext(ctx, query, tenantID, identifier))
	if err != nil {
		return nil, classify("query resource by identifier", err)
	}
	return res, nil
}

// ListResources retrieves resources matching the filter.
func (s *PostgresStore) ListResources(ctx context.Context, filter ResourceFilter) ([]*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE tenant_id = $1`
	args := []interface{}{filter.TenantID}

	if filter.ResourceType != "" {
		args = append(args, filter.ResourceType)
		query += ` AND resource_type = $` + strconv.Itoa(len(args))
	}
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		query += ` AND owner_id = $` + strconv.Itoa(len(args))
	}
	if filter.ActiveOnly {
		query += ` AND is_active = TRUE`
	}

	query += ` ORDER BY created_at DESC`
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
		return nil, classify("query resources", err)
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// ListChildResources retrieves direct children of a resource.
func (s *PostgresStore) ListChildResources(ctx context.Context, parentID uuid.UUID) ([]*Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE parent_resource_id = $1 ORDER BY created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, classify("query child resources", err)
	}
	defer rows.Close()

	var resources []*Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// UpdateResource saves mutable fields, guarded by the version column.
// The resource's version is bumped in place on success.
func (s *PostgresStore) UpdateResource(ctx context.Context, res *Resource) error {
	query := `
		UPDATE resources
		SET name = $1, parent_resource_id = $2, attributes = $3, owner_id = $4,
		    is_public = $5, is_active = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9
	`

	attributes, err := marshalConditions(res.Attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}

	result, err := s.q.ExecContext(
		ctx, query,
		nullableString(res.Name), nullableUUID(res.ParentResourceID), attributes,
		nullableUUID(res.OwnerID), res.IsPublic, res.IsActive,
		res.UpdatedAt, res.ID, res.Version,
	)
	if err != nil {
		return classify("update resource", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update resource rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetResource(ctx, res.ID); err != nil {
			return err
		}
		return fmt.Errorf("update resource: %w", ErrVersionConflict)
	}

	res.Version++
	return nil
}

// SetResourceActive toggles the resource's active flag.
func (s *PostgresStore) SetResourceActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE resources
		SET is_active = $1, version = version + 1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.q.ExecContext(ctx, query, active, id)
	if err != nil {
		return classify("set resource active", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set resource active rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set resource active: %w", ErrNotFound)
	}
	return nil
}
