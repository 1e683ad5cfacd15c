package databases

import (
	"database/sql"
	"fmt"
	"sync"
)

// Pool shares database handles between services. The session service and
// the results store usually point at the same DSN; sharing the handle keeps
// SQLite's single-connection rule intact across both.
type Pool struct {
	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{pools: make(map[string]*sql.DB)}
}

// Get returns the shared handle for the config's DSN, opening it on first
// use.
func (p *Pool) Get(cfg Config) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if db, ok := p.pools[cfg.DSN]; ok {
		return db, nil
	}

	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	p.pools[cfg.DSN] = db
	return db, nil
}

// Close closes every pooled handle.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for dsn, db := range p.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", dsn, err))
		}
	}
	p.pools = make(map[string]*sql.DB)

	if len(errs) > 0 {
		return fmt.Errorf("errors closing pools: %v", errs)
	}
	return nil
}
