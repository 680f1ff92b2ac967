package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// DirectRoleName derives the synthetic role name for a one-off grant
func DirectRoleName(personID, serviceID int64) string {
	return fmt.Sprintf("direct:%d:%d", personID, serviceID)
}

// ensureDirectRole upserts the synthetic role by name and returns its id.
// The insert-or-select pair tolerates a concurrent insert of the same
// name: ON CONFLICT DO NOTHING returns no row, the fallback SELECT finds
// the winner's.
func (s *Store) ensureDirectRole(ctx context.Context, personID, serviceID int64) (int64, error) {
	roleName := DirectRoleName(personID, serviceID)

	var roleID int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM auth.role WHERE name = $1`, roleName).Scan(&roleID)
	if err == nil {
		return roleID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to resolve direct role: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO auth.role (name) VALUES ($1) ON CONFLICT (name) DO NOTHING RETURNING id`,
		roleName,
	).Scan(&roleID)
	if err == nil {
		return roleID, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to create direct role: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id FROM auth.role WHERE name = $1`, roleName).Scan(&roleID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve direct role: %w", err)
	}
	return roleID, nil
}

// GrantPermissionToPersonInService materializes a single (person,
// service, permission) grant atop the RBAC schema through a synthetic
// role. Every step is an idempotent upsert, so the operation is safe to
// retry; the person link is created last so a partial failure never
// leaves the permission visible.
func (s *Store) GrantPermissionToPersonInService(ctx context.Context, personID, serviceID, permissionID int64) (int64, error) {
	roleID, err := s.ensureDirectRole(ctx, personID, serviceID)
	if err != nil {
		return 0, err
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO auth.service_roles (service_id, role_id) VALUES ($1, $2)
		 ON CONFLICT (service_id, role_id) DO NOTHING`,
		serviceID, roleID,
	); err != nil {
		return 0, fmt.Errorf("failed to link role to service: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO auth.role_permission (role_id, permission_id) VALUES ($1, $2)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID,
	); err != nil {
		return 0, fmt.Errorf("failed to link permission to role: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO auth.person_service_role (person_id, service_id, role_id) VALUES ($1, $2, $3)
		 ON CONFLICT (person_id, service_id, role_id) DO NOTHING`,
		personID, serviceID, roleID,
	); err != nil {
		return 0, fmt.Errorf("failed to link role to person: %w", err)
	}

	return roleID, nil
}
