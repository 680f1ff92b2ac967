package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Failures of the service-scoped check path
var (
	ErrInvalidServiceToken = errors.New("invalid service token")
	ErrServiceNotFound     = errors.New("service not found")
	ErrServiceInactive     = errors.New("service inactive")
	ErrInvalidTokenPayload = errors.New("invalid token payload")
)

// Authorizer composes the token manager and the access resolver to serve
// the two hot paths: check-token (identity only) and check-permission
// (identity plus service context).
type Authorizer struct {
	db       *sql.DB
	tokens   *Manager
	resolver *Resolver
}

// NewAuthorizer creates an authorizer
func NewAuthorizer(db *sql.DB, tokens *Manager, resolver *Resolver) *Authorizer {
	return &Authorizer{db: db, tokens: tokens, resolver: resolver}
}

// Tokens exposes the underlying token manager
func (a *Authorizer) Tokens() *Manager { return a.tokens }

// AccessDecision is the outcome of a service-scoped check
type AccessDecision struct {
	Validation    *TokenValidation
	Access        AccessView
	UsedCache     bool
	HasPermission *bool
}

// ServiceFromToken validates a service token and resolves its service
// row. The service must exist and be active.
func (a *Authorizer) ServiceFromToken(ctx context.Context, serviceToken string) (int64, error) {
	validation, err := a.tokens.ValidateServiceToken(ctx, serviceToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) || errors.Is(err, ErrTokenExpired) {
			return 0, ErrInvalidServiceToken
		}
		return 0, err
	}
	payload := validation.Record.Payload
	if !payload.IsService() || payload.ServiceID == 0 {
		return 0, ErrInvalidServiceToken
	}
	if err := a.requireActiveService(ctx, payload.ServiceID); err != nil {
		return 0, err
	}
	return payload.ServiceID, nil
}

func (a *Authorizer) requireActiveService(ctx context.Context, serviceID int64) error {
	var status bool
	err := a.db.QueryRowContext(ctx,
		`SELECT status FROM auth.services WHERE id = $1`, serviceID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrServiceNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load service: %w", err)
	}
	if !status {
		return ErrServiceInactive
	}
	return nil
}

// CheckAccess materializes (or reads back) the effective access for the
// already-validated token's user in the given service, and answers an
// optional named-permission query. The caller supplies the validation
// so the token is only validated (and possibly renewed) once per
// request.
func (a *Authorizer) CheckAccess(ctx context.Context, userToken string, validation *TokenValidation, serviceID int64, permissionName string) (*AccessDecision, error) {
	userID := validation.Record.Payload.UserID
	if userID == 0 {
		return nil, ErrInvalidTokenPayload
	}

	now := a.tokens.Clock().Now()
	decision := &AccessDecision{Validation: validation}

	cached, err := a.tokens.LoadAccess(ctx, userToken, serviceID)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.ExpiresAt > now {
		decision.Access = cached.Access
		decision.UsedCache = true
		if a.tokens.metrics != nil {
			a.tokens.metrics.AccessCacheHitsTotal.Inc()
		}
	} else {
		if a.tokens.metrics != nil {
			a.tokens.metrics.AccessCacheMissesTotal.Inc()
		}
		roles, permissions, err := a.resolver.Resolve(ctx, userID, serviceID)
		if err != nil {
			return nil, err
		}
		access := AccessView{
			UserID:      userID,
			ServiceID:   serviceID,
			Roles:       roles,
			Permissions: permissions,
			Scopes:      []string{},
			ExpiresAt:   now + a.tokens.UserTTL(),
		}
		if err := a.tokens.StoreAccess(ctx, userToken, serviceID, access, access.ExpiresAt); err != nil {
			return nil, err
		}
		decision.Access = access
	}

	if permissionName != "" {
		has := decision.Access.HasPermission(permissionName)
		decision.HasPermission = &has
	}
	return decision, nil
}
