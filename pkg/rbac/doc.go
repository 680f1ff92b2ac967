// Package rbac is the catalog side of the service: persons, services,
// roles, permissions and the three relation tables, accessed through the
// stored procedures the store installs. It also carries the flexible
// identifier rules used on the wire and the direct-grant protocol that
// materializes one-off grants through synthetic roles.
package rbac
