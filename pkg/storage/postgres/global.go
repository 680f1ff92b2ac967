package postgres

import (
	"fmt"
	"sync"

	"github.com/platinummonkey/warden/pkg/config"
)

// The process-wide pool is initialized lazily on first use and torn down
// explicitly at process exit. All mutual exclusion for the auth tables
// lives in the store, so the pool is the only shared resource.
var (
	globalMu   sync.Mutex
	globalPool *Pool
	globalCfg  *config.DatabaseConfig
)

// Configure records the configuration the lazy global pool will use.
// It does not open any connections.
func Configure(cfg config.DatabaseConfig) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCfg = &cfg
}

// Global returns the process-wide pool, opening it on first use
func Global() (*Pool, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool != nil {
		return globalPool, nil
	}
	if globalCfg == nil {
		return nil, fmt.Errorf("storage not configured: call Configure first")
	}

	pool, err := NewPool(*globalCfg)
	if err != nil {
		return nil, err
	}
	globalPool = pool
	return globalPool, nil
}

// CloseGlobal tears down the process-wide pool if it was opened
func CloseGlobal() error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalPool == nil {
		return nil
	}
	err := globalPool.Close()
	globalPool = nil
	return err
}
