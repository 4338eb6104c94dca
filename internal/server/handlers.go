package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/moneymoves/engine/internal/domain"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Conn().PingContext(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "moneymoves"})
}

// handleListPending lists signals awaiting manual review.
func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.Query(r.Context(),
		`SELECT id, thesis_id, symbol, action, size_pct, confidence, source, status, reason, created_at, expires_at
		 FROM signals WHERE status = ? ORDER BY created_at ASC`, domain.SignalPending)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list pending signals")
		return
	}
	defer rows.Close()

	type pendingSignal struct {
		ID         int64   `json:"id"`
		ThesisID   *int64  `json:"thesis_id"`
		Symbol     string  `json:"symbol"`
		Action     string  `json:"action"`
		SizePct    float64 `json:"size_pct"`
		Confidence float64 `json:"confidence"`
		Source     string  `json:"source"`
		Status     string  `json:"status"`
		Reason     string  `json:"reason"`
		CreatedAt  string  `json:"created_at"`
		ExpiresAt  string  `json:"expires_at"`
	}
	var out []pendingSignal
	for rows.Next() {
		var p pendingSignal
		if err := rows.Scan(&p.ID, &p.ThesisID, &p.Symbol, &p.Action, &p.SizePct, &p.Confidence,
			&p.Source, &p.Status, &p.Reason, &p.CreatedAt, &p.ExpiresAt); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read signal row")
			return
		}
		out = append(out, p)
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleApprove runs a PENDING signal through the orchestrator pipeline.
// Manual approval for a signal that the auto-approve rules already left
// pending is expressed as a direct transition to APPROVED followed by
// the same execution path the pipeline would have taken.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, err := signalIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := s.signal.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if sig.Status != domain.SignalPending {
		s.writeError(w, http.StatusConflict, "signal is not pending review")
		return
	}
	if err := s.signal.Transition(r.Context(), id, domain.SignalPending, domain.SignalApproved, "manually approved"); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	outcome, err := s.orchestrator.ProcessSignal(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, outcome)
}

// handleReject rejects a pending signal and records its what-if baseline.
func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id, err := signalIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sig, err := s.signal.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := s.signal.Transition(r.Context(), id, domain.SignalPending, domain.SignalRejected, "manually rejected"); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	var priceAtPass float64
	_ = s.store.QueryRow(r.Context(), `SELECT close FROM price_history WHERE symbol = ? ORDER BY date DESC LIMIT 1`, sig.Symbol).Scan(&priceAtPass)
	if s.whatif != nil {
		_ = s.whatif.RecordPass(r.Context(), id, "rejected", priceAtPass)
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// handleModify applies a size and/or limit-price override to a pending signal.
func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	id, err := signalIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		SizeOverride  *float64 `json:"size_override"`
		PriceOverride *float64 `json:"price_override"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.approval.ModifySignal(r.Context(), id, body.SizeOverride, body.PriceOverride); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "modified"})
}

func signalIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.NewValidationError("invalid signal id")
	}
	return id, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
