// Package audit reads and administers the trigger-maintained changelogs. The
// capture triggers do all the writing; this package verifies they are wired,
// toggles them for bulk maintenance, and queries what they recorded.
package audit

import (
	"context"
	"fmt"

	"logiesync/internal/schema"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// VerifyWiring checks at startup that every tracked table has its changelog
// table and an enabled capture trigger. A table mutated without capture would
// corrupt the audit trail silently, so any gap is a boot failure.
func VerifyWiring(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range schema.Tables() {
		var changelogExists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`,
			table.Changelog(),
		).Scan(&changelogExists)
		if err != nil {
			return fmt.Errorf("failed to check changelog for %s: %w", table.Name, err)
		}
		if !changelogExists {
			return fmt.Errorf("table %s has no changelog table %s", table.Name, table.Changelog())
		}

		var enabled string
		err = pool.QueryRow(ctx, `
			SELECT t.tgenabled
			FROM pg_trigger t
			JOIN pg_class c ON c.oid = t.tgrelid
			WHERE c.relname = $1 AND t.tgname = $2`,
			table.Name, captureTrigger(table.Name),
		).Scan(&enabled)
		if err != nil {
			return fmt.Errorf("table %s has no capture trigger %s: %w", table.Name, captureTrigger(table.Name), err)
		}
		if enabled == "D" {
			return fmt.Errorf("capture trigger on %s is disabled", table.Name)
		}
	}

	return nil
}

// Control enables and disables capture triggers for bulk maintenance windows.
type Control struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// NewControl creates a trigger control over the registry pool.
func NewControl(pool *pgxpool.Pool, log *zap.Logger) *Control {
	return &Control{pool: pool, log: log}
}

// Disable turns off change capture on a table. Every mutation made while the
// trigger is off is invisible to the audit trail, which is why this logs at
// warn level.
func (c *Control) Disable(ctx context.Context, table string) error {
	spec, err := schema.Lookup(table)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("ALTER TABLE %s DISABLE TRIGGER %s", spec.Name, captureTrigger(spec.Name))
	if _, err := c.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to disable capture on %s: %w", table, err)
	}

	c.log.Warn("change capture disabled, mutations on this table are now unaudited",
		zap.String("table", table),
	)
	return nil
}

// Enable turns change capture on a table back on.
func (c *Control) Enable(ctx context.Context, table string) error {
	spec, err := schema.Lookup(table)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf("ALTER TABLE %s ENABLE TRIGGER %s", spec.Name, captureTrigger(spec.Name))
	if _, err := c.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to enable capture on %s: %w", table, err)
	}

	c.log.Info("change capture enabled", zap.String("table", table))
	return nil
}

func captureTrigger(table string) string {
	return table + "_capture"
}
