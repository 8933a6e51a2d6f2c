package patch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mistakeknot/guidpatch/internal/convert"
	"github.com/mistakeknot/guidpatch/internal/identifier"
	"github.com/mistakeknot/guidpatch/internal/observability"
	"github.com/mistakeknot/guidpatch/internal/schema"
	"github.com/mistakeknot/guidpatch/internal/storage/sqlite"
)

// chunkRow is one row as read, plus what needs writing back.
type chunkRow struct {
	locator []any // rowid, or the raw key columns for WITHOUT ROWID tables
	key     convert.Value
	changed []string
	values  map[string]convert.Value
}

// tableRun walks one table chunk by chunk.
type tableRun struct {
	p       *Patch
	db      sqlite.DB
	table   schema.Table
	notNull map[string]bool
	columns []string // selected after the rowid: key columns then identifier columns
	keys    []string // WHERE columns for WITHOUT ROWID tables
	total   int
	done    int
}

// cursor is the paging position. The first rowid read has no lower bound
// since rowids may be zero or negative.
type cursor struct {
	started bool
	rowid   int64
	offset  int
}

func (r *tableRun) addColumn(name string) {
	for _, c := range r.columns {
		if strings.EqualFold(c, name) {
			return
		}
	}
	r.columns = append(r.columns, name)
}

func (p *Patch) migrateTable(ctx context.Context, db sqlite.DB, t schema.Table) (TableReport, error) {
	ctx, span := p.tracer.Start(ctx, "patch.table")
	span.SetAttributes(attribute.String("db.sql.table", t.Name))
	defer span.End()

	start := time.Now()
	rep := TableReport{Table: t.Name, Columns: t.IdentifierColumns}
	if len(t.IdentifierColumns) == 0 {
		p.logger.Debug("no identifier columns", "table", t.Name)
		return rep, nil
	}
	if t.WithoutRowID && len(t.KeyColumns) == 0 {
		return rep, fmt.Errorf("table %q: WITHOUT ROWID table has no primary key", t.Name)
	}

	run := &tableRun{p: p, db: db, table: t, notNull: t.NotNull()}
	if t.WithoutRowID {
		run.keys = t.KeyColumns
		for _, c := range t.KeyColumns {
			run.addColumn(c)
		}
	}
	if t.PrimaryKey != "" {
		run.addColumn(t.PrimaryKey)
	}
	for _, c := range t.IdentifierColumns {
		run.addColumn(c)
	}

	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(t.Name)).Scan(&run.total); err != nil {
		return rep, fmt.Errorf("count rows in %q: %w", t.Name, err)
	}
	rep.Rows = run.total

	var cur cursor
	for index := 0; ; index++ {
		if t.WithoutRowID && cur.offset >= run.total {
			break
		}
		chunkStart := time.Now()
		rows, err := run.read(ctx, cur)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return rep, err
		}
		if len(rows) == 0 {
			break
		}
		cr, err := run.process(ctx, index, rows)
		cr.Elapsed = time.Since(chunkStart)
		observability.RowsScannedTotal.WithLabelValues(t.Name).Add(float64(len(rows)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return rep, err
		}
		rep.Chunks = append(rep.Chunks, cr)
		rep.Updated += cr.Updated
		observability.ChunkDuration.Observe(cr.Elapsed.Seconds())
		if p.opts.LogRows {
			p.logger.DebugContext(ctx, "completed chunk",
				"table", t.Name, "chunk", index, "rows", cr.Rows, "updated", cr.Updated,
				"elapsed", cr.Elapsed)
		}

		if len(rows) < p.opts.ChunkSize {
			break
		}
		cur.started = true
		if t.WithoutRowID {
			cur.offset += len(rows)
		} else {
			cur.rowid = rows[len(rows)-1].locator[0].(int64)
		}
	}

	rep.Elapsed = time.Since(start)
	observability.TableDuration.WithLabelValues(t.Name).Observe(rep.Elapsed.Seconds())
	p.logger.InfoContext(ctx, "completed table",
		"table", t.Name, "rows", rep.Rows, "updated", rep.Updated, "chunks", len(rep.Chunks),
		"elapsed", rep.Elapsed)
	return rep, nil
}

// read fetches the next chunk. Rowid tables page by keyset; WITHOUT ROWID
// tables page by offset in full key order. Converting a row only lowers
// its key, so rows before the offset stay before it.
func (r *tableRun) read(ctx context.Context, cur cursor) ([]chunkRow, error) {
	cols := make([]string, len(r.columns))
	for i, c := range r.columns {
		cols[i] = quote(c)
	}
	var (
		query string
		args  []any
	)
	switch {
	case r.table.WithoutRowID:
		order := make([]string, len(r.keys))
		for i, k := range r.keys {
			order[i] = quote(k)
		}
		query = fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT ? OFFSET ?",
			strings.Join(cols, ", "), quote(r.table.Name), strings.Join(order, ", "))
		args = []any{r.p.opts.ChunkSize, cur.offset}
	case cur.started:
		query = fmt.Sprintf("SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?",
			strings.Join(cols, ", "), quote(r.table.Name))
		args = []any{cur.rowid, r.p.opts.ChunkSize}
	default:
		query = fmt.Sprintf("SELECT rowid, %s FROM %s ORDER BY rowid LIMIT ?",
			strings.Join(cols, ", "), quote(r.table.Name))
		args = []any{r.p.opts.ChunkSize}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read chunk from %q: %w", r.table.Name, err)
	}
	defer rows.Close()

	var out []chunkRow
	for rows.Next() {
		dest := make([]any, 0, len(r.columns)+1)
		var rowid int64
		if !r.table.WithoutRowID {
			dest = append(dest, &rowid)
		}
		raw := make([]any, len(r.columns))
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan chunk from %q: %w", r.table.Name, err)
		}
		row := chunkRow{values: make(map[string]convert.Value, len(r.columns))}
		for i, c := range r.columns {
			row.values[c] = convert.FromDriver(raw[i])
		}
		if r.table.PrimaryKey != "" {
			row.key = row.values[r.table.PrimaryKey]
		}
		if r.table.WithoutRowID {
			for _, k := range r.keys {
				row.locator = append(row.locator, row.values[k].Arg())
			}
		} else {
			row.locator = []any{rowid}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read chunk from %q: %w", r.table.Name, err)
	}
	return out, nil
}

// process converts every row of the chunk, then writes the changed rows in
// one transaction. A conversion error returns before the transaction starts.
func (r *tableRun) process(ctx context.Context, index int, rows []chunkRow) (ChunkReport, error) {
	ctx, span := r.p.tracer.Start(ctx, "patch.chunk")
	span.SetAttributes(
		attribute.String("db.sql.table", r.table.Name),
		attribute.Int("chunk.index", index),
		attribute.Int("chunk.rows", len(rows)),
	)
	defer span.End()

	cr := ChunkReport{Index: index, Rows: len(rows)}
	var pending []*chunkRow
	for i := range rows {
		row := &rows[i]
		converted, err := r.p.conv.Row(row.values, r.table.IdentifierColumns, r.notNull)
		if err != nil {
			return cr, fmt.Errorf("table %q row %s: %w", r.table.Name, r.p.describeKey(row.key), err)
		}
		for _, c := range r.table.IdentifierColumns {
			nv, ok := converted[c]
			if !ok {
				continue
			}
			if !nv.Equal(row.values[c]) {
				row.changed = append(row.changed, c)
				row.values[c] = nv
			}
		}
		if len(row.changed) > 0 {
			pending = append(pending, row)
		}
	}
	if len(pending) == 0 {
		r.done += len(rows)
		return cr, nil
	}

	err := sqlite.RetryOnDBLockWithConfig(ctx, r.p.opts.Retry, func() error {
		return r.write(ctx, index, pending)
	})
	if err != nil {
		return cr, fmt.Errorf("table %q chunk %d: %w", r.table.Name, index, err)
	}
	r.done += len(rows)
	cr.Updated = len(pending)
	cr.Committed = true
	observability.RowsUpdatedTotal.WithLabelValues(r.table.Name).Add(float64(len(pending)))
	observability.ChunksCommittedTotal.WithLabelValues(r.table.Name).Inc()
	return cr, nil
}

func (r *tableRun) write(ctx context.Context, index int, pending []*chunkRow) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	where := "rowid = ?"
	if r.table.WithoutRowID {
		match := make([]string, len(r.keys))
		for i, k := range r.keys {
			match[i] = quote(k) + " = ?"
		}
		where = strings.Join(match, " AND ")
	}
	for i, row := range pending {
		sets := make([]string, len(row.changed))
		args := make([]any, 0, len(row.changed)+len(row.locator))
		for j, c := range row.changed {
			sets[j] = quote(c) + " = ?"
			args = append(args, row.values[c].Arg())
		}
		args = append(args, row.locator...)
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", quote(r.table.Name), strings.Join(sets, ", "), where)
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update row %s: %w", r.p.describeKey(row.key), err)
		}
		if r.p.opts.LogRows {
			affected, _ := res.RowsAffected()
			r.p.logger.DebugContext(ctx, "processed row",
				"table", r.table.Name,
				"row", r.done+i+1, "total", r.total,
				"segment_row", i+1, "segment_rows", len(pending),
				"key", r.p.describeKey(row.key), "key_kind", row.key.Kind.String(),
				"affected", affected)
		}
	}

	if r.p.beforeCommit != nil {
		if err := r.p.beforeCommit(r.table.Name, index); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// describeKey renders a primary key for logs; 16-byte keys are shown as
// identifiers.
func (p *Patch) describeKey(v convert.Value) string {
	if v.Kind == convert.Blob && len(v.Blob) == identifier.Size {
		if id, err := identifier.FromBytes(v.Blob, p.opts.ByteOrder); err == nil {
			return id.String()
		}
	}
	return v.String()
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
