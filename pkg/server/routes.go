package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/scoring"
)

// itemStateResponse renders either gate state variant.
type itemStateResponse struct {
	ItemID      string           `json:"item_id"`
	Stage       forgetting.Stage `json:"stage"`
	Terminal    bool             `json:"terminal"`
	CanRollback bool             `json:"can_rollback"`
	Version     int64            `json:"version,omitempty"`
	EnteredAt   *time.Time       `json:"entered_at,omitempty"`
	ResultID    string           `json:"result_id,omitempty"`
	ApprovalRef string           `json:"approval_ref,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

func (s *Server) handleItemState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	st, err := s.deps.Gate.State(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := itemStateResponse{ItemID: id, Stage: st.Stage()}
	switch v := st.(type) {
	case gate.Reversible:
		resp.CanRollback = v.CanRollback()
		resp.Version = v.Version()
		if at := v.EnteredAt(); !at.IsZero() {
			resp.EnteredAt = &at
		}
	case gate.Terminal:
		resp.Terminal = true
		resp.ResultID = v.ResultID()
		resp.ApprovalRef = v.ApprovalRef()
		at := v.CompletedAt()
		resp.CompletedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Stage  forgetting.Stage `json:"stage"`
		Reason string           `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	res, err := s.deps.Gate.Rollback(r.Context(), chi.URLParam(r, "itemID"), req.Stage, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approver string `json:"approver"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	if req.Approver == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("approver required"))
		return
	}
	a, err := s.deps.Approvals.Grant(r.Context(), chi.URLParam(r, "itemID"), req.Approver, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Ledger.History(r.Context(), chi.URLParam(r, "itemID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	if err := s.deps.Ledger.Verify(r.Context(), id); err != nil {
		var ce *ledger.ChainError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusConflict, map[string]any{"item_id": id, "valid": false, "error": err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": id, "valid": true})
}

// itemRequest carries an item with its raw signals.
type itemRequest struct {
	Item    forgetting.Item `json:"item"`
	Signals struct {
		Raw        map[forgetting.Axis]float64 `json:"raw,omitempty"`
		LastAccess time.Time                   `json:"last_access,omitempty"`
	} `json:"signals"`
}

func (req itemRequest) signals() scoring.Signals {
	return scoring.Signals{Raw: req.Signals.Raw, LastAccess: req.Signals.LastAccess}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	if err := s.deps.Catalog.Put(r.Context(), req.Item, req.signals()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"item_id": req.Item.ID, "status": "ingested"})
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Touch(r.Context(), chi.URLParam(r, "itemID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	d, err := s.deps.Decider.Process(r.Context(), req.Item, req.signals())
	if err != nil {
		if errors.Is(err, forgetting.ErrQueueFull) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"decision": d, "error": err.Error()})
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleBudgets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scopes": s.deps.Budgets.States()})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var ev forgetting.FeedbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid json"))
		return
	}
	t, err := s.deps.Feedback.Feedback(r.Context(), ev)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.deps.Learner.Snapshots(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (s *Server) handleLearningRollback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("snapshot_id required"))
		return
	}
	t, err := s.deps.Learner.Rollback(r.Context(), req.SnapshotID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// writeError maps core errors to status codes. Unclassified errors are
// treated as bad input since every collaborator validates before acting.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var du *forgetting.DependencyUnavailableError
	code := http.StatusBadRequest
	switch {
	case errors.Is(err, forgetting.ErrNotFound):
		code = http.StatusNotFound
	case errors.As(err, &du):
		code = http.StatusServiceUnavailable
	default:
		if gd, ok := forgetting.IsGateDenied(err); ok {
			code = http.StatusConflict
			if gd.Reason == forgetting.DenyDependencyFailed {
				code = http.StatusServiceUnavailable
			}
		}
	}
	if code >= 500 {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, code, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
