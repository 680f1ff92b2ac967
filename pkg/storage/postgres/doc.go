// Package postgres owns the relational backing store: the connection
// pool, the lazily initialized process-wide pool instance, and the
// migrations that install the auth schema together with the stored
// procedures the rest of the service invokes by name.
package postgres
