package patch

import "time"

// ChunkReport describes one chunk of one table.
type ChunkReport struct {
	Index     int           `json:"index"`
	Rows      int           `json:"rows"`
	Updated   int           `json:"updated"`
	Committed bool          `json:"committed"`
	Elapsed   time.Duration `json:"elapsed_ns"`
}

// TableReport describes one migrated table.
type TableReport struct {
	Table   string        `json:"table"`
	Columns []string      `json:"columns"`
	Rows    int           `json:"rows"`
	Updated int           `json:"updated"`
	Chunks  []ChunkReport `json:"chunks"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Transactions counts the chunk transactions that were committed.
func (t TableReport) Transactions() int {
	n := 0
	for _, c := range t.Chunks {
		if c.Committed {
			n++
		}
	}
	return n
}

// Report is what Apply returns, also on failure for the tables it reached.
type Report struct {
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Tables  []TableReport `json:"tables"`
}

// Table returns the report for name.
func (r *Report) Table(name string) (TableReport, bool) {
	if r == nil {
		return TableReport{}, false
	}
	for _, t := range r.Tables {
		if t.Table == name {
			return t, true
		}
	}
	return TableReport{}, false
}

// Updated sums updated rows across tables.
func (r *Report) Updated() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, t := range r.Tables {
		n += t.Updated
	}
	return n
}
