package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/autherr"
	"github.com/nnipa/authz-service/internal/db"
	"github.com/nnipa/authz-service/internal/events"
)

// UserRoleService manages user-role assignments. Assign and Revoke evict
// the user's cached decisions before returning so the next check sees the
// change.
type UserRoleService struct {
	store  db.Store
	inval  Invalidator
	events events.Sink
	logger *zap.Logger
}

// NewUserRoleService creates a user-role service.
func NewUserRoleService(deps Deps) *UserRoleService {
	deps.fill()
	return &UserRoleService{
		store:  deps.Store,
		inval:  deps.Invalidator,
		events: deps.Events,
		logger: deps.Logger,
	}
}

// AssignRoleRequest carries the fields for a role assignment.
type AssignRoleRequest struct {
	UserID     uuid.UUID
	RoleID     uuid.UUID
	TenantID   uuid.UUID
	ExpiresAt  *time.Time
	AssignedBy string
}

// Assign grants a role to a user within a tenant. A previously revoked or
// expired assignment is reactivated with fresh attribution and expiry; an
// assignment already in effect is a duplicate. The role's max_users limit
// is enforced against the current active holders.
func (s *UserRoleService) Assign(ctx context.Context, req AssignRoleRequest) (*db.UserRole, error) {
	if req.UserID == uuid.Nil {
		return nil, autherr.Validation("user_id is required")
	}
	if req.RoleID == uuid.Nil {
		return nil, autherr.Validation("role_id is required")
	}
	if req.TenantID == uuid.Nil {
		return nil, autherr.Validation("tenant_id is required")
	}
	now := time.Now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, autherr.Validation("expires_at must be in the future")
	}

	var assignment *db.UserRole
	err := s.store.InTx(ctx, func(tx db.Store) error {
		role, err := tx.GetRole(ctx, req.RoleID)
		if err != nil {
			return storeErr(err, "role")
		}
		if role.TenantID != nil && *role.TenantID != req.TenantID {
			return autherr.TenantIsolation("role belongs to a different tenant")
		}
		if !role.IsActive {
			return autherr.BusinessRule("role %s is not active", role.Name)
		}

		existing, err := tx.GetUserRole(ctx, req.UserID, req.RoleID, req.TenantID)
		switch {
		case err == nil && existing.Effective(now):
			return autherr.Duplicate("user already holds role %s", role.Name)
		case err != nil && !errors.Is(err, db.ErrNotFound):
			return storeErr(err, "user role")
		}

		if role.MaxUsers != nil {
			holders, err := tx.CountActiveRoleUsers(ctx, req.RoleID, now)
			if err != nil {
				return storeErr(err, "role assignments")
			}
			if holders >= *role.MaxUsers {
				return autherr.BusinessRule("role %s reached its limit of %d users", role.Name, *role.MaxUsers)
			}
		}

		if existing != nil {
			// Revoked or lapsed row: assigning again revives it.
			if err := tx.ReactivateUserRole(ctx, existing.ID, req.AssignedBy, req.ExpiresAt); err != nil {
				return storeErr(err, "user role")
			}
			assignment, err = tx.GetUserRole(ctx, req.UserID, req.RoleID, req.TenantID)
			if err != nil {
				return storeErr(err, "user role")
			}
			return nil
		}

		assignment = &db.UserRole{
			ID:         uuid.New(),
			UserID:     req.UserID,
			RoleID:     req.RoleID,
			TenantID:   req.TenantID,
			AssignedBy: req.AssignedBy,
			AssignedAt: now,
			ExpiresAt:  req.ExpiresAt,
			IsActive:   true,
		}
		return storeErr(tx.AssignRole(ctx, assignment), "user role")
	})
	if err != nil {
		return nil, err
	}

	s.inval.InvalidateUser(ctx, req.TenantID, req.UserID)
	s.events.Publish(events.RoleAssigned(req.TenantID, req.UserID, req.RoleID, req.AssignedBy))
	s.logger.Info("role assigned",
		zap.String("user_id", req.UserID.String()),
		zap.String("role_id", req.RoleID.String()),
		zap.String("tenant_id", req.TenantID.String()))
	return assignment, nil
}

// Revoke deactivates a user's role assignment.
func (s *UserRoleService) Revoke(ctx context.Context, userID, roleID, tenantID uuid.UUID, revokedBy string) error {
	err := s.store.InTx(ctx, func(tx db.Store) error {
		return storeErr(tx.RevokeRole(ctx, userID, roleID, tenantID), "user role")
	})
	if err != nil {
		return err
	}

	s.inval.InvalidateUser(ctx, tenantID, userID)
	s.events.Publish(events.RoleRevoked(tenantID, userID, roleID, revokedBy))
	s.logger.Info("role revoked",
		zap.String("user_id", userID.String()),
		zap.String("role_id", roleID.String()),
		zap.String("tenant_id", tenantID.String()))
	return nil
}

// ListByUser retrieves a user's assignments within a tenant.
func (s *UserRoleService) ListByUser(ctx context.Context, userID, tenantID uuid.UUID, activeOnly bool) ([]*db.UserRole, error) {
	assignments, err := s.store.ListUserAssignments(ctx, userID, tenantID, activeOnly)
	if err != nil {
		return nil, storeErr(err, "user roles")
	}
	return assignments, nil
}

// ListByRole retrieves the assignments of a role.
func (s *UserRoleService) ListByRole(ctx context.Context, roleID uuid.UUID, activeOnly bool) ([]*db.UserRole, error) {
	assignments, err := s.store.ListRoleAssignments(ctx, roleID, activeOnly)
	if err != nil {
		return nil, storeErr(err, "role assignments")
	}
	return assignments, nil
}

// ListActiveUsers returns the distinct users currently holding the role.
func (s *UserRoleService) ListActiveUsers(ctx context.Context, roleID uuid.UUID) ([]uuid.UUID, error) {
	assignments, err := s.store.ListRoleAssignments(ctx, roleID, true)
	if err != nil {
		return nil, storeErr(err, "role assignments")
	}

	now := time.Now().UTC()
	seen := make(map[uuid.UUID]bool)
	var users []uuid.UUID
	for _, a := range assignments {
		if !a.Effective(now) || seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		users = append(users, a.UserID)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].String() < users[j].String() })
	return users, nil
}

// Bindings retrieves a user's effective assignments joined with their
// roles and grants, highest role priority first.
func (s *UserRoleService) Bindings(ctx context.Context, userID, tenantID uuid.UUID) ([]*db.UserRoleBinding, error) {
	bindings, err := s.store.ListActiveUserRoles(ctx, userID, tenantID, time.Now().UTC())
	if err != nil {
		return nil, storeErr(err, "user roles")
	}
	return bindings, nil
}
