package auth

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Resolver materializes the effective (roles, permissions) for a
// (user, service) pair from the RBAC catalog. Read-only and idempotent;
// both lists come back ascending by name so cached views are byte-stable.
type Resolver struct {
	db *sql.DB
}

// NewResolver creates an access resolver
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the effective roles and permissions. Empty lists are a
// valid result and are returned non-nil so they cache as empty arrays.
func (r *Resolver) Resolve(ctx context.Context, userID, serviceID int64) (roles, permissions []string, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT roles, permissions FROM auth.resolve_access($1, $2)`,
		userID, serviceID,
	).Scan(pq.Array(&roles), pq.Array(&permissions))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve access: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}
	return roles, permissions, nil
}
