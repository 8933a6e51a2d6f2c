package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mistakeknot/guidpatch/internal/auth"
	"github.com/mistakeknot/guidpatch/internal/schema"
)

type healthResponse struct {
	Status string   `json:"status"`
	Patch  RunState `json:"patch"`
	Error  string   `json:"error,omitempty"`
}

type tableResponse struct {
	Name        string   `json:"name"`
	PrimaryKey  string   `json:"primary_key"`
	WithoutRow  bool     `json:"without_rowid,omitempty"`
	Identifiers []string `json:"identifier_columns"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// audit logs a guarded read. Requests that did not pass through auth.Guard
// are not logged.
func (s *Service) audit(r *http.Request, what string) {
	c, ok := auth.CallerFrom(r.Context())
	if !ok {
		return
	}
	s.logger.InfoContext(r.Context(), what, "operator", c.Name(), "local", c.Local, "remote", r.RemoteAddr)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := s.tracker.Snapshot()
	resp := healthResponse{Status: "up", Patch: st.State}
	if s.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			resp.Status = "down"
			resp.Error = err.Error()
		}
	}
	if st.State == StateFailed {
		resp.Status = "down"
		resp.Error = st.Error
	}
	code := http.StatusOK
	if resp.Status != "up" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Service) handlePatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.audit(r, "patch status read")
	writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Service) handlePatchTables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.inspect == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.audit(r, "patch tables read")
	tables, err := s.inspect(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toTableResponses(tables))
}

func toTableResponses(tables []schema.Table) []tableResponse {
	out := make([]tableResponse, 0, len(tables))
	for _, t := range tables {
		ids := t.IdentifierColumns
		if ids == nil {
			ids = []string{}
		}
		out = append(out, tableResponse{
			Name:        t.Name,
			PrimaryKey:  t.PrimaryKey,
			WithoutRow:  t.WithoutRowID,
			Identifiers: ids,
		})
	}
	return out
}
