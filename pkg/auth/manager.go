package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/platinummonkey/warden/pkg/observability"
)

// Config holds the token engine configuration
type Config struct {
	UserTTLSeconds        int64
	ServiceTTLSeconds     int64
	RenewThresholdSeconds int64
	Secret                string
}

// Manager owns the logical lifecycle of tokens and permission cache rows.
// It is the only component that writes those two tables. It never retries
// store errors; NotFound and Expired are the only non-database failures.
type Manager struct {
	db      *sql.DB
	config  Config
	clock   Clock
	metrics *observability.Metrics
}

// NewManager creates a token manager. A nil clock selects the system clock.
func NewManager(db *sql.DB, cfg Config, clock Clock) *Manager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{db: db, config: cfg, clock: clock}
}

// SetMetrics attaches the metrics sink; safe to leave unset in tests
func (m *Manager) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// UserTTL returns the user token TTL in seconds
func (m *Manager) UserTTL() int64 { return m.config.UserTTLSeconds }

// ServiceTTL returns the service token TTL in seconds
func (m *Manager) ServiceTTL() int64 { return m.config.ServiceTTLSeconds }

// Clock returns the manager's time source
func (m *Manager) Clock() Clock { return m.clock }

func (m *Manager) insertToken(ctx context.Context, token string, payload TokenPayload, expiresAt int64) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal token payload: %w", err)
	}
	// Bind as text: lib/pq would send []byte as bytea, not jsonb
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO auth.tokens_cache (token, payload, expires_at) VALUES ($1, $2, $3)`,
		token, string(data), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (m *Manager) fetchToken(ctx context.Context, token string) (*TokenRecord, error) {
	var record TokenRecord
	var data []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT token, payload, expires_at FROM auth.tokens_cache WHERE token = $1`,
		token,
	).Scan(&record.Token, &data, &record.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token: %w", err)
	}
	if err := json.Unmarshal(data, &record.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token payload: %w", err)
	}
	return &record, nil
}

// touchToken applies the compare-and-swap renewal: the update only lands
// when expires_at still holds its previously observed value.
func (m *Manager) touchToken(ctx context.Context, token string, previousExpiresAt, newExpiresAt int64) (bool, error) {
	result, err := m.db.ExecContext(ctx,
		`UPDATE auth.tokens_cache SET expires_at = $1 WHERE token = $2 AND expires_at = $3`,
		newExpiresAt, token, previousExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to renew token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read renewal result: %w", err)
	}
	return affected == 1, nil
}

// IssueUserToken creates and stores a user token
func (m *Manager) IssueUserToken(ctx context.Context, payload TokenPayload) (*TokenIssue, error) {
	now := m.clock.Now()
	token, err := generateTokenValue(m.config.Secret, now)
	if err != nil {
		return nil, err
	}
	expiresAt := now + m.config.UserTTLSeconds
	if err := m.insertToken(ctx, token, payload, expiresAt); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.WithLabelValues("user").Inc()
	}
	return &TokenIssue{Token: token, ExpiresAt: expiresAt}, nil
}

// IssueServiceToken creates and stores a service token
func (m *Manager) IssueServiceToken(ctx context.Context, serviceID int64, serviceName string) (*TokenIssue, error) {
	now := m.clock.Now()
	token, err := generateTokenValue(m.config.Secret, now)
	if err != nil {
		return nil, err
	}
	payload := TokenPayload{
		ServiceID:   serviceID,
		ServiceName: serviceName,
		TokenType:   TokenTypeService,
	}
	expiresAt := now + m.config.ServiceTTLSeconds
	if err := m.insertToken(ctx, token, payload, expiresAt); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.TokensIssuedTotal.WithLabelValues("service").Inc()
	}
	return &TokenIssue{Token: token, ExpiresAt: expiresAt}, nil
}

// FindActiveUserToken returns the newest non-expired token for a user,
// letting login reuse it instead of growing the token table.
func (m *Manager) FindActiveUserToken(ctx context.Context, userID int64) (*TokenRecord, error) {
	var record TokenRecord
	var data []byte
	err := m.db.QueryRowContext(ctx,
		`SELECT token, payload, expires_at FROM auth.tokens_cache
		 WHERE payload ->> 'user_id' = $1 AND expires_at > $2
		 ORDER BY expires_at DESC LIMIT 1`,
		strconv.FormatInt(userID, 10), m.clock.Now(),
	).Scan(&record.Token, &data, &record.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active token: %w", err)
	}
	if err := json.Unmarshal(data, &record.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token payload: %w", err)
	}
	return &record, nil
}

func (m *Manager) hasExpired(expiresAt, now int64) bool {
	return now >= expiresAt
}

func (m *Manager) shouldRenew(expiresAt, now int64) bool {
	if m.config.RenewThresholdSeconds <= 0 {
		return false
	}
	return expiresAt-now <= m.config.RenewThresholdSeconds
}

func (m *Manager) validateWithTTL(ctx context.Context, token string, renewIfNeeded bool, ttlSeconds int64) (*TokenValidation, error) {
	record, err := m.fetchToken(ctx, token)
	if err != nil {
		m.countValidation("error")
		return nil, err
	}
	if record == nil {
		m.countValidation("not_found")
		return nil, ErrTokenNotFound
	}

	now := m.clock.Now()
	if m.hasExpired(record.ExpiresAt, now) {
		// Best-effort removal of the stale row; a failed delete is the
		// reaper's problem, not the caller's.
		_, _ = m.RevokeToken(ctx, token)
		m.countValidation("expired")
		return nil, ErrTokenExpired
	}

	renewed := false
	if renewIfNeeded && m.shouldRenew(record.ExpiresAt, now) {
		newExpiresAt := now + ttlSeconds
		won, err := m.touchToken(ctx, token, record.ExpiresAt, newExpiresAt)
		if err != nil {
			m.countValidation("error")
			return nil, err
		}
		if won {
			record.ExpiresAt = newExpiresAt
			renewed = true
			if m.metrics != nil {
				m.metrics.TokenRenewalsTotal.Inc()
			}
		} else {
			// Another request renewed (or the reaper collected) the row
			// concurrently; trust whatever the store holds now.
			reloaded, err := m.fetchToken(ctx, token)
			if err != nil {
				m.countValidation("error")
				return nil, err
			}
			if reloaded == nil {
				m.countValidation("not_found")
				return nil, ErrTokenNotFound
			}
			if m.hasExpired(reloaded.ExpiresAt, now) {
				_, _ = m.RevokeToken(ctx, token)
				m.countValidation("expired")
				return nil, ErrTokenExpired
			}
			record = reloaded
		}
	}

	m.countValidation("valid")
	return &TokenValidation{Record: *record, Renewed: renewed, ExpiresAt: record.ExpiresAt}, nil
}

func (m *Manager) countValidation(result string) {
	if m.metrics != nil {
		m.metrics.TokenValidationsTotal.WithLabelValues(result).Inc()
	}
}

// ValidateUserToken validates a user token, applying sliding renewal when
// the remaining lifetime is inside the renewal threshold.
func (m *Manager) ValidateUserToken(ctx context.Context, token string, renewIfNeeded bool) (*TokenValidation, error) {
	return m.validateWithTTL(ctx, token, renewIfNeeded, m.config.UserTTLSeconds)
}

// ValidateServiceToken validates a service token; service tokens never renew
func (m *Manager) ValidateServiceToken(ctx context.Context, token string) (*TokenValidation, error) {
	return m.validateWithTTL(ctx, token, false, m.config.ServiceTTLSeconds)
}

// RevokeToken deletes a token by value and reports whether a row existed
func (m *Manager) RevokeToken(ctx context.Context, token string) (bool, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM auth.tokens_cache WHERE token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected > 0 && m.metrics != nil {
		m.metrics.TokensRevokedTotal.Inc()
	}
	return affected > 0, nil
}

// RevokeUserTokens deletes every token held by a user
func (m *Manager) RevokeUserTokens(ctx context.Context, userID int64) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM auth.tokens_cache WHERE payload ->> 'user_id' = $1`,
		strconv.FormatInt(userID, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user tokens: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected, nil
}

// LoadAccess returns the cached access view for (token, service), or nil
func (m *Manager) LoadAccess(ctx context.Context, token string, serviceID int64) (*AccessRecord, error) {
	var data []byte
	var record AccessRecord
	err := m.db.QueryRowContext(ctx,
		`SELECT permissions, expires_at FROM auth.permissions_cache
		 WHERE token = $1 AND service_id = $2`,
		token, serviceID,
	).Scan(&data, &record.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load access cache: %w", err)
	}
	if err := json.Unmarshal(data, &record.Access); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access cache: %w", err)
	}
	return &record, nil
}

// StoreAccess upserts the access view for (token, service); last writer wins
func (m *Manager) StoreAccess(ctx context.Context, token string, serviceID int64, access AccessView, expiresAt int64) error {
	data, err := json.Marshal(access)
	if err != nil {
		return fmt.Errorf("failed to marshal access view: %w", err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO auth.permissions_cache (token, service_id, permissions, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token, service_id)
		 DO UPDATE SET permissions = EXCLUDED.permissions, expires_at = EXCLUDED.expires_at`,
		token, serviceID, string(data), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store access cache: %w", err)
	}
	return nil
}

// InvalidateForUserInService removes cache rows for one (user, service) pair
func (m *Manager) InvalidateForUserInService(ctx context.Context, userID, serviceID int64) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM auth.permissions_cache
		 WHERE token IN (SELECT token FROM auth.tokens_cache WHERE payload ->> 'user_id' = $1)
		   AND service_id = $2`,
		strconv.FormatInt(userID, 10), serviceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate access cache: %w", err)
	}
	return rowsAffected(result)
}

// InvalidateForUser removes every cache row belonging to a user's tokens
func (m *Manager) InvalidateForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM auth.permissions_cache
		 WHERE token IN (SELECT token FROM auth.tokens_cache WHERE payload ->> 'user_id' = $1)`,
		strconv.FormatInt(userID, 10),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate access cache: %w", err)
	}
	return rowsAffected(result)
}

// InvalidateForService removes every cache row for a service
func (m *Manager) InvalidateForService(ctx context.Context, serviceID int64) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM auth.permissions_cache WHERE service_id = $1`,
		serviceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate access cache: %w", err)
	}
	return rowsAffected(result)
}

// InvalidateForRole removes cache rows of every service the role is bound
// to; this is the narrowest invalidator for a role-permission change.
func (m *Manager) InvalidateForRole(ctx context.Context, roleID int64) (int64, error) {
	result, err := m.db.ExecContext(ctx,
		`DELETE FROM auth.permissions_cache
		 WHERE service_id IN (SELECT service_id FROM auth.service_roles WHERE role_id = $1)`,
		roleID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate access cache: %w", err)
	}
	return rowsAffected(result)
}

// ClearAccessCache removes every cache row
func (m *Manager) ClearAccessCache(ctx context.Context) (int64, error) {
	result, err := m.db.ExecContext(ctx, `DELETE FROM auth.permissions_cache`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear access cache: %w", err)
	}
	return rowsAffected(result)
}

// Reap deletes expired rows from both caches and returns the counts
func (m *Manager) Reap(ctx context.Context, now int64) (tokensRemoved, cacheRowsRemoved int64, err error) {
	// Cache rows first so a token deleted between the statements cannot
	// leave orphans behind (the FK cascade covers the other order too).
	cacheResult, err := m.db.ExecContext(ctx, `DELETE FROM auth.permissions_cache WHERE expires_at < $1`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reap access cache: %w", err)
	}
	cacheRowsRemoved, err = rowsAffected(cacheResult)
	if err != nil {
		return 0, 0, err
	}

	tokenResult, err := m.db.ExecContext(ctx, `DELETE FROM auth.tokens_cache WHERE expires_at < $1`, now)
	if err != nil {
		return 0, cacheRowsRemoved, fmt.Errorf("failed to reap tokens: %w", err)
	}
	tokensRemoved, err = rowsAffected(tokenResult)
	if err != nil {
		return 0, cacheRowsRemoved, err
	}

	if m.metrics != nil {
		m.metrics.ReapedTokensTotal.Add(float64(tokensRemoved))
		m.metrics.ReapedCacheRowsTotal.Add(float64(cacheRowsRemoved))
	}
	return tokensRemoved, cacheRowsRemoved, nil
}

func rowsAffected(result sql.Result) (int64, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}
