package rbac

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is the catalog façade: every CRUD operation goes through the
// stored procedures installed by the migrations.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreatePerson inserts a person and returns its public projection
func (s *Store) CreatePerson(ctx context.Context, person NewPerson) (*Person, error) {
	var created Person
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name FROM auth.create_person($1, $2, $3, $4, $5, $6)`,
		person.Username, person.PasswordDigest, person.Name,
		string(person.PersonType), string(person.DocumentType), person.DocumentNumber,
	).Scan(&created.ID, &created.Username, &created.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create person: %w", err)
	}
	return &created, nil
}

// GetPerson loads a person by id; removed persons read as absent
func (s *Store) GetPerson(ctx context.Context, id int64) (*Person, error) {
	var person Person
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, name FROM auth.get_person($1)`, id,
	).Scan(&person.ID, &person.Username, &person.Name)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get person: %w", err)
	}
	return &person, nil
}

// ListPeople lists every non-removed person
func (s *Store) ListPeople(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, name FROM auth.list_people()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list people: %w", err)
	}
	defer rows.Close()

	people := []Person{}
	for rows.Next() {
		var person Person
		if err := rows.Scan(&person.ID, &person.Username, &person.Name); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, person)
	}
	return people, rows.Err()
}

// GetCredentials loads the login projection by username
func (s *Store) GetCredentials(ctx context.Context, username string) (*Credentials, error) {
	var creds Credentials
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, name FROM auth.person
		 WHERE username = $1 AND removed_at IS NULL`,
		username,
	).Scan(&creds.ID, &creds.Username, &creds.PasswordDigest, &creds.Name)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return &creds, nil
}

// UpdatePerson applies a partial update; nil fields keep their value
func (s *Store) UpdatePerson(ctx context.Context, id int64, username, passwordDigest, name *string) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.update_person($1, $2, $3, $4)`,
		id, username, passwordDigest, name)
	if err != nil {
		return fmt.Errorf("failed to update person: %w", err)
	}
	return nil
}

// DeletePerson soft-deletes a person; token revocation and cache
// invalidation are the caller's follow-up.
func (s *Store) DeletePerson(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.delete_person($1)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete person: %w", err)
	}
	return nil
}

// CreateService inserts a service
func (s *Store) CreateService(ctx context.Context, name string, description *string) (*Service, error) {
	var service Service
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description FROM auth.create_service($1, $2)`,
		name, description,
	).Scan(&service.ID, &service.Name, &service.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	service.Status = true
	return &service, nil
}

// GetService loads a service row by id
func (s *Store) GetService(ctx context.Context, id int64) (*Service, error) {
	var service Service
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, status FROM auth.services WHERE id = $1`, id,
	).Scan(&service.ID, &service.Name, &service.Description, &service.Status)
	if err == sql.ErrNoRows {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &service, nil
}

// ListServices lists every service
func (s *Store) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, description, status FROM auth.list_services()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	defer rows.Close()

	services := []Service{}
	for rows.Next() {
		var service Service
		if err := rows.Scan(&service.ID, &service.Name, &service.Description, &service.Status); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

// UpdateService applies a partial update; a false status disables the service
func (s *Store) UpdateService(ctx context.Context, id int64, name, description *string, status *bool) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.update_service($1, $2, $3, $4)`,
		id, name, description, status)
	if err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	return nil
}

// DeleteService removes a service and, via cascade, its role bindings
func (s *Store) DeleteService(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.delete_service($1)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}

// CreateRole inserts a role
func (s *Store) CreateRole(ctx context.Context, name string) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM auth.create_role($1)`, name,
	).Scan(&role.ID, &role.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create role: %w", err)
	}
	return &role, nil
}

// GetRole loads a role by id
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	var role Role
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM auth.get_role($1)`, id,
	).Scan(&role.ID, &role.Name)
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListRoles lists the shared catalog; synthetic direct-grant roles are
// filtered by the stored function.
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM auth.list_roles()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// UpdateRole renames a role
func (s *Store) UpdateRole(ctx context.Context, id int64, name *string) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.update_role($1, $2)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

// DeleteRole removes a role and, via cascade, its bindings
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.delete_role($1)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// CreatePermission inserts a permission
func (s *Store) CreatePermission(ctx context.Context, name string) (*Permission, error) {
	var permission Permission
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name FROM auth.create_permission($1)`, name,
	).Scan(&permission.ID, &permission.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}
	return &permission, nil
}

// ListPermissions lists every permission
func (s *Store) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM auth.list_permissions()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// UpdatePermission renames a permission
func (s *Store) UpdatePermission(ctx context.Context, id int64, name *string) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.update_permission($1, $2)`, id, name)
	if err != nil {
		return fmt.Errorf("failed to update permission: %w", err)
	}
	return nil
}

// DeletePermission removes a permission
func (s *Store) DeletePermission(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.delete_permission($1)`, id)
	if err != nil {
		return fmt.Errorf("failed to delete permission: %w", err)
	}
	return nil
}

// AssignPermissionToRole binds a permission to a role (idempotent)
func (s *Store) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.assign_permission_to_role($1, $2)`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to assign permission to role: %w", err)
	}
	return nil
}

// RemovePermissionFromRole unbinds a permission from a role
func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.remove_permission_from_role($1, $2)`, roleID, permissionID)
	if err != nil {
		return fmt.Errorf("failed to remove permission from role: %w", err)
	}
	return nil
}

// ListRolePermissions lists the permissions bound to a role
func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM auth.list_role_permissions($1)`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

// AssignRoleToService makes a role visible in a service (idempotent)
func (s *Store) AssignRoleToService(ctx context.Context, serviceID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.assign_role_to_service($1, $2)`, serviceID, roleID)
	if err != nil {
		return fmt.Errorf("failed to assign role to service: %w", err)
	}
	return nil
}

// RemoveRoleFromService removes a role from a service; legacy person
// grants naming the role stop conferring permissions immediately.
func (s *Store) RemoveRoleFromService(ctx context.Context, serviceID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.remove_role_from_service($1, $2)`, serviceID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove role from service: %w", err)
	}
	return nil
}

// ListServiceRoles lists the roles visible in a service
func (s *Store) ListServiceRoles(ctx context.Context, serviceID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM auth.list_service_roles($1)`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// AssignRoleToPersonInService grants a role to a person scoped to one service
func (s *Store) AssignRoleToPersonInService(ctx context.Context, personID, serviceID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.assign_role_to_person_in_service($1, $2, $3)`,
		personID, serviceID, roleID)
	if err != nil {
		return fmt.Errorf("failed to assign role to person: %w", err)
	}
	return nil
}

// RemoveRoleFromPersonInService revokes a person's role in a service
func (s *Store) RemoveRoleFromPersonInService(ctx context.Context, personID, serviceID, roleID int64) error {
	_, err := s.db.ExecContext(ctx, `CALL auth.remove_role_from_person_in_service($1, $2, $3)`,
		personID, serviceID, roleID)
	if err != nil {
		return fmt.Errorf("failed to remove role from person: %w", err)
	}
	return nil
}

// ListPersonRolesInService lists a person's effective roles in a service
func (s *Store) ListPersonRolesInService(ctx context.Context, personID, serviceID int64) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM auth.list_person_roles_in_service($1, $2)`, personID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list person roles: %w", err)
	}
	defer rows.Close()
	return scanRoles(rows)
}

// ListPersonsWithRoleInService lists the persons holding a role in a service
func (s *Store) ListPersonsWithRoleInService(ctx context.Context, serviceID, roleID int64) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, name FROM auth.list_persons_with_role_in_service($1, $2)`, serviceID, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list persons with role: %w", err)
	}
	defer rows.Close()

	people := []Person{}
	for rows.Next() {
		var person Person
		if err := rows.Scan(&person.ID, &person.Username, &person.Name); err != nil {
			return nil, fmt.Errorf("failed to scan person: %w", err)
		}
		people = append(people, person)
	}
	return people, rows.Err()
}

// ListServicesOfPerson lists the services a person has any grant in
func (s *Store) ListServicesOfPerson(ctx context.Context, personID int64) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name FROM auth.list_services_of_person($1)`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services of person: %w", err)
	}
	defer rows.Close()

	services := []Service{}
	for rows.Next() {
		var service Service
		if err := rows.Scan(&service.ID, &service.Name); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, service)
	}
	return services, rows.Err()
}

// CheckPersonPermissionInService probes an arbitrary (person, service,
// permission) triple against the catalog, bypassing the per-token cache.
func (s *Store) CheckPersonPermissionInService(ctx context.Context, personID, serviceID int64, permissionName string) (bool, error) {
	var has bool
	err := s.db.QueryRowContext(ctx,
		`SELECT auth.check_person_permission_in_service($1, $2, $3)`,
		personID, serviceID, permissionName,
	).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return has, nil
}

// ServicesOfRole returns the ids of services a role is bound to
func (s *Store) ServicesOfRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service_id FROM auth.service_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list services of role: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan service id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanRoles(rows *sql.Rows) ([]Role, error) {
	roles := []Role{}
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	permissions := []Permission{}
	for rows.Next() {
		var permission Permission
		if err := rows.Scan(&permission.ID, &permission.Name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, permission)
	}
	return permissions, rows.Err()
}
