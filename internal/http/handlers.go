package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bilancio/internal/core"
	applog "bilancio/internal/log"
	"bilancio/internal/services"
)

type (
	failureResponse struct {
		RuleID string `json:"rule_id"`
		Label  string `json:"label"`
		Kind   string `json:"kind"`
		Error  string `json:"error"`
	}

	materializationResponse struct {
		RuleID     string    `json:"rule_id"`
		Label      string    `json:"label"`
		Occurrence core.Date `json:"occurrence"`
		MovementID int64     `json:"movement_id"`
	}

	passResponse struct {
		Summary    services.PassSummary      `json:"summary"`
		Processed  []materializationResponse `json:"processed"`
		Skipped    []failureResponse         `json:"skipped"`
		Unrecorded []failureResponse         `json:"unrecorded"`
	}

	replaceRulesResponse struct {
		Rules int           `json:"rules"`
		Pass  *passResponse `json:"pass,omitempty"`
	}

	errorResponse struct {
		Error string `json:"error"`
	}
)

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			writeError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "recurring processor not configured")
		return
	}

	result, err := s.deps.Runner.Run(r.Context())
	if err != nil && !result.Cancelled {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Recurring pass failed", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "recurring pass failed")
		return
	}

	status := http.StatusOK
	if result.Cancelled {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newPassResponse(result))
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.deps.Rules.Load(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load rules", applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load rules")
		return
	}

	var buf bytes.Buffer
	if err := core.EncodeRules(&buf, rules); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode rules")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// handleReplaceRules stores a new rule set and runs a pass so newly due
// rules materialize right away. Watermarks in the body are ignored: existing
// rules keep theirs and new rules start unprocessed.
func (s *Server) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	rules, err := core.DecodeRules(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	for i := range rules {
		rules[i] = rules[i].WithoutLastProcessed()
	}

	if err := s.deps.Rules.Save(r.Context(), rules); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to save rules",
			applog.FieldOperation, applog.OpSave,
			applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to save rules")
		return
	}

	resp := replaceRulesResponse{Rules: len(rules)}
	if s.deps.Runner != nil {
		result, err := s.deps.Runner.Run(r.Context())
		if err != nil && !result.Cancelled {
			applog.FromContext(r.Context()).ErrorContext(r.Context(), "Recurring pass after rule change failed", applog.FieldError, err)
		} else {
			pass := newPassResponse(result)
			resp.Pass = &pass
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMovement(w http.ResponseWriter, r *http.Request) {
	date, err := core.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	m, err := s.deps.Movements.GetMovementByDate(r.Context(), date)
	if errors.Is(err, core.ErrMovementNotFound) {
		writeError(w, http.StatusNotFound, "no movement for "+date.String())
		return
	}
	if err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to load movement",
			applog.FieldMovementDate, date.String(),
			applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "failed to load movement")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func newPassResponse(result services.PassResult) passResponse {
	resp := passResponse{
		Summary:    result.Summary(),
		Processed:  make([]materializationResponse, 0, len(result.Processed)),
		Skipped:    failures(result.Skipped),
		Unrecorded: failures(result.Unrecorded),
	}
	for _, m := range result.Processed {
		resp.Processed = append(resp.Processed, materializationResponse{
			RuleID:     m.Rule.ID,
			Label:      m.Rule.Label,
			Occurrence: m.Occurrence,
			MovementID: m.MovementID,
		})
	}
	return resp
}

func failures(in []services.RuleFailure) []failureResponse {
	out := make([]failureResponse, 0, len(in))
	for _, f := range in {
		out = append(out, failureResponse{
			RuleID: f.Rule.ID,
			Label:  f.Rule.Label,
			Kind:   f.Kind(),
			Error:  f.Err.Error(),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
