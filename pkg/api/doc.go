// Package api exposes the HTTP surface: login and token endpoints, the
// two check paths, service token issuance, and the RBAC admin CRUD.
// Every authenticated handler validates the user-token header, emits one
// audit line, and triggers the narrowest cache invalidator its mutation
// requires.
package api
