package patch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mistakeknot/guidpatch/internal/observability"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// Apply converts every identifier column of every mapped table. It opens
// its own connection with foreign keys off and closes it before returning.
//
// On error the returned report covers the tables and chunks that were
// committed before the failure; those stay converted.
func (p *Patch) Apply(ctx context.Context) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "patch.apply")
	defer span.End()

	rep := &Report{Started: time.Now().UTC()}
	if !isSQLite(p.opts.DatabaseType) {
		err := fmt.Errorf("%w: %q", ErrUnsupportedDatabase, p.opts.DatabaseType)
		observability.RunsTotal.WithLabelValues("failed").Inc()
		return rep, err
	}

	store, err := sqlite.NewMigration(p.path, p.logger)
	if err != nil {
		observability.RunsTotal.WithLabelValues("failed").Inc()
		return rep, fmt.Errorf("open migration connection: %w", err)
	}
	defer store.Close()

	err = p.applyTo(ctx, store.Handle(), rep)
	rep.Elapsed = time.Since(rep.Started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RunsTotal.WithLabelValues("failed").Inc()
		p.logger.ErrorContext(ctx, "identifier migration failed",
			"error", err, "tables_completed", len(rep.Tables), "elapsed", rep.Elapsed)
		return rep, err
	}
	span.SetAttributes(attribute.Int("patch.tables", len(rep.Tables)), attribute.Int("patch.updated", rep.Updated()))
	observability.RunsTotal.WithLabelValues("applied").Inc()
	p.logger.InfoContext(ctx, "completed database",
		"tables", len(rep.Tables), "updated", rep.Updated(), "elapsed", rep.Elapsed)
	return rep, nil
}

func (p *Patch) applyTo(ctx context.Context, db sqlite.DB, rep *Report) error {
	tables, err := schema.Inspect(ctx, db, p.mapping, schema.InspectOptions{
		Exclude: []string{p.opts.Ledger.Table},
		Logger:  p.logger,
	})
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	for _, t := range tables {
		tr, err := p.migrateTable(ctx, db, t)
		rep.Tables = append(rep.Tables, tr)
		if err != nil {
			return err
		}
	}
	return nil
}

// Inspect returns the table descriptors Apply would use, without writing.
func (p *Patch) Inspect(ctx context.Context, db sqlite.DB) ([]schema.Table, error) {
	return schema.Inspect(ctx, db, p.mapping, schema.InspectOptions{
		Exclude: []string{p.opts.Ledger.Table},
		Logger:  p.logger,
	})
}
