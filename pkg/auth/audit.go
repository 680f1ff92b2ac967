package auth

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/observability"
)

// AccessEntry is one audit line; every authenticated request emits
// exactly one, failures included.
type AccessEntry struct {
	Token     string
	Endpoint  string
	Timestamp int64
	ClientIP  string
	Valid     bool
	UsedCache *bool
}

// AccessLogger emits the per-request audit line
type AccessLogger struct {
	logger *observability.Logger
}

// NewAccessLogger creates an access logger
func NewAccessLogger(logger *observability.Logger) *AccessLogger {
	return &AccessLogger{logger: logger}
}

// Log writes the audit line. Only the token prefix ever reaches the log.
func (a *AccessLogger) Log(entry AccessEntry) {
	fields := map[string]interface{}{
		"token_prefix": TokenPrefix(entry.Token),
		"endpoint":     entry.Endpoint,
		"ts":           entry.Timestamp,
		"ip":           entry.ClientIP,
		"valid":        entry.Valid,
	}
	if entry.UsedCache != nil {
		fields["used_cache"] = *entry.UsedCache
	}
	a.logger.WithFields(fields).Info("access")
}

// ClientIP extracts the originating client address, preferring proxy
// headers over the socket peer.
func ClientIP(r *http.Request) string {
	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		if value := r.Header.Get(header); value != "" {
			if first := strings.TrimSpace(strings.Split(value, ",")[0]); first != "" {
				return first
			}
		}
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
