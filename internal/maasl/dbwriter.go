package maasl

import (
	"context"
	"database/sql"

	"github.com/llmc-dev/llmc/internal/catalog"
)

// WithDBWriter runs one catalog write transaction under CRIT_DB. The
// catalog already serializes its writer session internally; this adds the
// agent-level lease so a multi-step job holds the writer across calls and
// other agents get ResourceBusy with a holder id instead of DbBusy.
func (m *Manager) WithDBWriter(ctx context.Context, cat *catalog.Store, holder string, fn func(tx *sql.Tx) error) error {
	lease, err := m.Acquire(ctx, ClassCritDB, "db:"+cat.Path(), holder)
	if err != nil {
		return err
	}
	defer m.Release(lease)
	return cat.WithWriter(ctx, fn)
}
