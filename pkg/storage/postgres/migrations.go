package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the full schema: the auth tables plus the stored
// procedures and functions the core invokes by name.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create auth schema and catalog tables",
			SQL: `
				CREATE SCHEMA IF NOT EXISTS auth;

				DO $$ BEGIN
					CREATE TYPE auth.person_type AS ENUM ('N', 'J');
				EXCEPTION WHEN duplicate_object THEN NULL; END $$;

				DO $$ BEGIN
					CREATE TYPE auth.document_type AS ENUM ('DNI', 'CE', 'RUC');
				EXCEPTION WHEN duplicate_object THEN NULL; END $$;

				CREATE TABLE IF NOT EXISTS auth.person (
					id SERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					name VARCHAR(255) NOT NULL,
					person_type auth.person_type NOT NULL DEFAULT 'N',
					document_type auth.document_type NOT NULL DEFAULT 'DNI',
					document_number VARCHAR(32) NOT NULL,
					removed_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS auth.services (
					id SERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					status BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE TABLE IF NOT EXISTS auth.role (
					id SERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS auth.permission (
					id SERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE
				);

				CREATE TABLE IF NOT EXISTS auth.service_roles (
					service_id INT NOT NULL REFERENCES auth.services(id) ON DELETE CASCADE,
					role_id INT NOT NULL REFERENCES auth.role(id) ON DELETE CASCADE,
					UNIQUE (service_id, role_id)
				);

				CREATE TABLE IF NOT EXISTS auth.role_permission (
					role_id INT NOT NULL REFERENCES auth.role(id) ON DELETE CASCADE,
					permission_id INT NOT NULL REFERENCES auth.permission(id) ON DELETE CASCADE,
					UNIQUE (role_id, permission_id)
				);

				CREATE TABLE IF NOT EXISTS auth.person_service_role (
					person_id INT NOT NULL REFERENCES auth.person(id) ON DELETE CASCADE,
					service_id INT NOT NULL REFERENCES auth.services(id) ON DELETE CASCADE,
					role_id INT NOT NULL REFERENCES auth.role(id) ON DELETE CASCADE,
					UNIQUE (person_id, service_id, role_id)
				);

				CREATE INDEX IF NOT EXISTS idx_person_username ON auth.person(username);
				CREATE INDEX IF NOT EXISTS idx_psr_person_service ON auth.person_service_role(person_id, service_id);
				CREATE INDEX IF NOT EXISTS idx_service_roles_service ON auth.service_roles(service_id);
				CREATE INDEX IF NOT EXISTS idx_role_permission_role ON auth.role_permission(role_id);
			`,
		},
		{
			Version:     2,
			Description: "Create token and permission cache tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS auth.tokens_cache (
					token VARCHAR(64) PRIMARY KEY,
					payload JSONB NOT NULL,
					expires_at BIGINT NOT NULL
				);

				CREATE TABLE IF NOT EXISTS auth.permissions_cache (
					token VARCHAR(64) NOT NULL REFERENCES auth.tokens_cache(token) ON DELETE CASCADE,
					service_id INT NOT NULL,
					permissions JSONB NOT NULL,
					expires_at BIGINT NOT NULL,
					UNIQUE (token, service_id)
				);

				CREATE INDEX IF NOT EXISTS idx_tokens_cache_expires ON auth.tokens_cache(expires_at);
				CREATE INDEX IF NOT EXISTS idx_tokens_cache_user ON auth.tokens_cache((payload ->> 'user_id'));
				CREATE INDEX IF NOT EXISTS idx_permissions_cache_expires ON auth.permissions_cache(expires_at);
				CREATE INDEX IF NOT EXISTS idx_permissions_cache_service ON auth.permissions_cache(service_id);
			`,
		},
		{
			Version:     3,
			Description: "Create person procedures",
			SQL: `
				CREATE OR REPLACE FUNCTION auth.create_person(
					p_username VARCHAR, p_password_hash VARCHAR, p_name VARCHAR,
					p_person_type auth.person_type, p_document_type auth.document_type,
					p_document_number VARCHAR
				) RETURNS TABLE (id INT, username VARCHAR, name VARCHAR) AS $$
					INSERT INTO auth.person (username, password_hash, name, person_type, document_type, document_number)
					VALUES (p_username, p_password_hash, p_name, p_person_type, p_document_type, p_document_number)
					RETURNING auth.person.id, auth.person.username, auth.person.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.get_person(p_id INT)
				RETURNS TABLE (id INT, username VARCHAR, name VARCHAR) AS $$
					SELECT p.id, p.username, p.name FROM auth.person p
					WHERE p.id = p_id AND p.removed_at IS NULL;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_people()
				RETURNS TABLE (id INT, username VARCHAR, name VARCHAR) AS $$
					SELECT p.id, p.username, p.name FROM auth.person p
					WHERE p.removed_at IS NULL ORDER BY p.id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.update_person(
					p_id INT, p_username VARCHAR, p_password_hash VARCHAR, p_name VARCHAR
				) AS $$
					UPDATE auth.person SET
						username = COALESCE(p_username, username),
						password_hash = COALESCE(p_password_hash, password_hash),
						name = COALESCE(p_name, name)
					WHERE id = p_id AND removed_at IS NULL;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.delete_person(p_id INT) AS $$
					UPDATE auth.person SET removed_at = NOW() WHERE id = p_id AND removed_at IS NULL;
				$$ LANGUAGE sql;
			`,
		},
		{
			Version:     4,
			Description: "Create service procedures",
			SQL: `
				CREATE OR REPLACE FUNCTION auth.create_service(p_name VARCHAR, p_description TEXT)
				RETURNS TABLE (id INT, name VARCHAR, description TEXT) AS $$
					INSERT INTO auth.services (name, description)
					VALUES (p_name, p_description)
					RETURNING auth.services.id, auth.services.name, auth.services.description;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_services()
				RETURNS TABLE (id INT, name VARCHAR, description TEXT, status BOOLEAN) AS $$
					SELECT s.id, s.name, s.description, s.status FROM auth.services s ORDER BY s.id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.update_service(
					p_id INT, p_name VARCHAR, p_description TEXT, p_status BOOLEAN
				) AS $$
					UPDATE auth.services SET
						name = COALESCE(p_name, name),
						description = COALESCE(p_description, description),
						status = COALESCE(p_status, status)
					WHERE id = p_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.delete_service(p_id INT) AS $$
					DELETE FROM auth.services WHERE id = p_id;
				$$ LANGUAGE sql;
			`,
		},
		{
			Version:     5,
			Description: "Create role and permission procedures",
			SQL: `
				CREATE OR REPLACE FUNCTION auth.create_role(p_name VARCHAR)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					INSERT INTO auth.role (name) VALUES (p_name)
					RETURNING auth.role.id, auth.role.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.get_role(p_id INT)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT r.id, r.name FROM auth.role r WHERE r.id = p_id;
				$$ LANGUAGE sql;

				-- Synthetic direct-grant roles stay out of the shared catalog listing
				CREATE OR REPLACE FUNCTION auth.list_roles()
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT r.id, r.name FROM auth.role r
					WHERE r.name NOT LIKE 'direct:%' ORDER BY r.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.update_role(p_id INT, p_name VARCHAR) AS $$
					UPDATE auth.role SET name = COALESCE(p_name, name) WHERE id = p_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.delete_role(p_id INT) AS $$
					DELETE FROM auth.role WHERE id = p_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.create_permission(p_name VARCHAR)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					INSERT INTO auth.permission (name) VALUES (p_name)
					RETURNING auth.permission.id, auth.permission.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_permissions()
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT p.id, p.name FROM auth.permission p ORDER BY p.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.update_permission(p_id INT, p_name VARCHAR) AS $$
					UPDATE auth.permission SET name = COALESCE(p_name, name) WHERE id = p_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.delete_permission(p_id INT) AS $$
					DELETE FROM auth.permission WHERE id = p_id;
				$$ LANGUAGE sql;
			`,
		},
		{
			Version:     6,
			Description: "Create relation procedures",
			SQL: `
				CREATE OR REPLACE PROCEDURE auth.assign_permission_to_role(p_role_id INT, p_permission_id INT) AS $$
					INSERT INTO auth.role_permission (role_id, permission_id)
					VALUES (p_role_id, p_permission_id)
					ON CONFLICT (role_id, permission_id) DO NOTHING;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.remove_permission_from_role(p_role_id INT, p_permission_id INT) AS $$
					DELETE FROM auth.role_permission
					WHERE role_id = p_role_id AND permission_id = p_permission_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_role_permissions(p_role_id INT)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT p.id, p.name FROM auth.permission p
					JOIN auth.role_permission rp ON rp.permission_id = p.id
					WHERE rp.role_id = p_role_id ORDER BY p.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.assign_role_to_service(p_service_id INT, p_role_id INT) AS $$
					INSERT INTO auth.service_roles (service_id, role_id)
					VALUES (p_service_id, p_role_id)
					ON CONFLICT (service_id, role_id) DO NOTHING;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.remove_role_from_service(p_service_id INT, p_role_id INT) AS $$
					DELETE FROM auth.service_roles
					WHERE service_id = p_service_id AND role_id = p_role_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_service_roles(p_service_id INT)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT r.id, r.name FROM auth.role r
					JOIN auth.service_roles sr ON sr.role_id = r.id
					WHERE sr.service_id = p_service_id ORDER BY r.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.assign_role_to_person_in_service(
					p_person_id INT, p_service_id INT, p_role_id INT
				) AS $$
					INSERT INTO auth.person_service_role (person_id, service_id, role_id)
					VALUES (p_person_id, p_service_id, p_role_id)
					ON CONFLICT (person_id, service_id, role_id) DO NOTHING;
				$$ LANGUAGE sql;

				CREATE OR REPLACE PROCEDURE auth.remove_role_from_person_in_service(
					p_person_id INT, p_service_id INT, p_role_id INT
				) AS $$
					DELETE FROM auth.person_service_role
					WHERE person_id = p_person_id AND service_id = p_service_id AND role_id = p_role_id;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_person_roles_in_service(p_person_id INT, p_service_id INT)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT r.id, r.name FROM auth.role r
					JOIN auth.person_service_role psr ON psr.role_id = r.id
					JOIN auth.service_roles sr ON sr.role_id = r.id AND sr.service_id = psr.service_id
					WHERE psr.person_id = p_person_id AND psr.service_id = p_service_id
					ORDER BY r.name;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_persons_with_role_in_service(p_service_id INT, p_role_id INT)
				RETURNS TABLE (id INT, username VARCHAR, name VARCHAR) AS $$
					SELECT p.id, p.username, p.name FROM auth.person p
					JOIN auth.person_service_role psr ON psr.person_id = p.id
					WHERE psr.service_id = p_service_id AND psr.role_id = p_role_id
						AND p.removed_at IS NULL
					ORDER BY p.username;
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.list_services_of_person(p_person_id INT)
				RETURNS TABLE (id INT, name VARCHAR) AS $$
					SELECT DISTINCT s.id, s.name FROM auth.services s
					JOIN auth.person_service_role psr ON psr.service_id = s.id
					WHERE psr.person_id = p_person_id ORDER BY s.id;
				$$ LANGUAGE sql;
			`,
		},
		{
			Version:     7,
			Description: "Create access evaluation functions",
			SQL: `
				-- A role confers permissions only while it is both granted to the
				-- person in the service and still bound to the service itself.
				CREATE OR REPLACE FUNCTION auth.check_person_permission_in_service(
					p_person_id INT, p_service_id INT, p_permission_name VARCHAR
				) RETURNS BOOLEAN AS $$
					SELECT EXISTS (
						SELECT 1 FROM auth.person_service_role psr
						JOIN auth.service_roles sr
							ON sr.service_id = psr.service_id AND sr.role_id = psr.role_id
						JOIN auth.role_permission rp ON rp.role_id = psr.role_id
						JOIN auth.permission perm ON perm.id = rp.permission_id
						WHERE psr.person_id = p_person_id
							AND psr.service_id = p_service_id
							AND perm.name = p_permission_name
					);
				$$ LANGUAGE sql;

				CREATE OR REPLACE FUNCTION auth.resolve_access(p_person_id INT, p_service_id INT)
				RETURNS TABLE (roles TEXT[], permissions TEXT[]) AS $$
					SELECT
						COALESCE((
							SELECT array_agg(DISTINCT r.name ORDER BY r.name)
							FROM auth.role r
							JOIN auth.person_service_role psr ON psr.role_id = r.id
							JOIN auth.service_roles sr
								ON sr.role_id = r.id AND sr.service_id = psr.service_id
							WHERE psr.person_id = p_person_id AND psr.service_id = p_service_id
						), '{}'),
						COALESCE((
							SELECT array_agg(DISTINCT perm.name ORDER BY perm.name)
							FROM auth.permission perm
							JOIN auth.role_permission rp ON rp.permission_id = perm.id
							JOIN auth.person_service_role psr ON psr.role_id = rp.role_id
							JOIN auth.service_roles sr
								ON sr.role_id = psr.role_id AND sr.service_id = psr.service_id
							WHERE psr.person_id = p_person_id AND psr.service_id = p_service_id
						), '{}');
				$$ LANGUAGE sql;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS warden_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM warden_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read migration versions: %w", err)
	}

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO warden_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
