package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/searchhub/searchhub/internal/model"
)

// CreateTenant creates a workspace and returns its id.
func (db *DB) CreateTenant(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO tenants (name) VALUES ($1) RETURNING id`, name,
	).Scan(&id)
	return id, classify("tenant", "storage.CreateTenant", err)
}

// CreateUser creates a user and returns their id.
func (db *DB) CreateUser(ctx context.Context, email, displayName string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO users (email, display_name) VALUES ($1, $2) RETURNING id`,
		email, displayName,
	).Scan(&id)
	return id, classify("user", "storage.CreateUser", err)
}

// AddMembership grants a user a role in a tenant. Re-adding updates the role.
func (db *DB) AddMembership(ctx context.Context, tenantID, userID uuid.UUID, role model.Role) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO memberships (tenant_id, user_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		tenantID, userID, role,
	)
	return classify("membership", "storage.AddMembership", err)
}

// GetMembershipRole returns the user's role in the tenant.
// Non-members get a not-found error.
func (db *DB) GetMembershipRole(ctx context.Context, tenantID, userID uuid.UUID) (model.Role, error) {
	var role model.Role
	err := db.pool.QueryRow(ctx,
		`SELECT role FROM memberships WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&role)
	if err != nil {
		return "", classify("membership", "storage.GetMembershipRole", err)
	}
	return role, nil
}
