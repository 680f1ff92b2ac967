package auth

import "errors"

// Sentinel failures surfaced by token validation. Everything else the
// manager returns is a wrapped store error.
var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
)

// TokenTypeService is the payload discriminator for service principals
const TokenTypeService = "service"

// TokenPayload is the document stored alongside a token. User tokens
// carry user_id/username/name; service tokens carry service_id,
// service_name and the token_type discriminator.
type TokenPayload struct {
	UserID      int64  `json:"user_id,omitempty"`
	Username    string `json:"username,omitempty"`
	Name        string `json:"name,omitempty"`
	ServiceID   int64  `json:"service_id,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
}

// IsService reports whether the payload describes a service principal
func (p TokenPayload) IsService() bool {
	return p.TokenType == TokenTypeService
}

// TokenRecord is one row of the token table
type TokenRecord struct {
	Token     string       `json:"token"`
	Payload   TokenPayload `json:"payload"`
	ExpiresAt int64        `json:"expires_at"`
}

// TokenIssue is the result of issuing a token
type TokenIssue struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// TokenValidation is the result of validating a token
type TokenValidation struct {
	Record    TokenRecord
	Renewed   bool
	ExpiresAt int64
}

// AccessView is the materialized effective access for one (user, service)
// pair; it is what gets cached per token.
type AccessView struct {
	UserID      int64    `json:"user_id"`
	ServiceID   int64    `json:"service_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Scopes      []string `json:"scopes"`
	ExpiresAt   int64    `json:"expires_at"`
}

// HasPermission reports whether the view contains the named permission.
// Names compare case-sensitively.
func (v AccessView) HasPermission(name string) bool {
	for _, p := range v.Permissions {
		if p == name {
			return true
		}
	}
	return false
}

// AccessRecord is one row of the permissions cache
type AccessRecord struct {
	Access    AccessView
	ExpiresAt int64
}
