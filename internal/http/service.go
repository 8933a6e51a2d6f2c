package httpapi

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mistakeknot/guidpatch/internal/patch"
	"github.com/mistakeknot/guidpatch/internal/schema"
)

// RunState is the outcome of the startup gate as the HTTP surface reports it.
type RunState string

const (
	StatePending RunState = "pending"
	StateSkipped RunState = "skipped"
	StateApplied RunState = "applied"
	StateFailed  RunState = "failed"
)

// RunStatus is the body of GET /api/patch.
type RunStatus struct {
	State     RunState      `json:"state"`
	Marker    string        `json:"marker,omitempty"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
	Report    *patch.Report `json:"report,omitempty"`
}

// Tracker holds the latest gate outcome. Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	status RunStatus
}

func NewTracker(marker string) *Tracker {
	return &Tracker{status: RunStatus{State: StatePending, Marker: marker, UpdatedAt: time.Now().UTC()}}
}

// Set records a gate outcome. A nil err with a nil report means the gate
// decided no work was needed.
func (t *Tracker) Set(rep *patch.Report, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.UpdatedAt = time.Now().UTC()
	t.status.Report = rep
	t.status.Error = ""
	switch {
	case err != nil:
		t.status.State = StateFailed
		t.status.Error = err.Error()
	case rep == nil:
		t.status.State = StateSkipped
	default:
		t.status.State = StateApplied
	}
}

func (t *Tracker) Snapshot() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Inspector lists the tables and identifier columns a run would touch.
type Inspector func(ctx context.Context) ([]schema.Table, error)

type Service struct {
	tracker *Tracker
	db      Pinger
	inspect Inspector
	logger  *slog.Logger
}

func NewService(tracker *Tracker, db Pinger) *Service {
	if tracker == nil {
		tracker = NewTracker("")
	}
	return &Service{tracker: tracker, db: db, logger: slog.Default()}
}

// WithLogger sets where guarded reads are logged with their operator.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

func (s *Service) WithInspector(fn Inspector) *Service {
	s.inspect = fn
	return s
}

func (s *Service) Tracker() *Tracker {
	return s.tracker
}
