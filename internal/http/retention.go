package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
	"github.com/iosfx/autoservice/internal/metrics"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Store.ListRules(r.Context(), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type            core.RuleType `json:"type"`
		Threshold       int           `json:"threshold"`
		MessageTemplate string        `json:"message_template"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	rule, err := s.Store.CreateRule(r.Context(), core.RetentionRule{
		GarageID:        garageID(r),
		Type:            in.Type,
		Threshold:       in.Threshold,
		MessageTemplate: in.MessageTemplate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Threshold       *int    `json:"threshold"`
		MessageTemplate *string `json:"message_template"`
		IsActive        *bool   `json:"is_active"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	rule, err := s.Store.UpdateRule(r.Context(), chi.URLParam(r, "id"), garageID(r), core.RuleUpdate{
		Threshold: in.Threshold, MessageTemplate: in.MessageTemplate, IsActive: in.IsActive,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteRule(r.Context(), chi.URLParam(r, "id"), garageID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retentionAlerts previews which (client, car) pairs the active rules match
// right now, without touching the queue.
func (s *Server) retentionAlerts(w http.ResponseWriter, r *http.Request) {
	lookahead := intQuery(r, "lookahead_days", 0)
	cands, err := s.Store.EvaluateRules(r.Context(), garageID(r), time.Now().UTC(), lookahead)
	if err != nil {
		writeError(w, err)
		return
	}
	if cands == nil {
		cands = []core.Candidate{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(cands), "alerts": cands})
}

func (s *Server) runRetention(w http.ResponseWriter, r *http.Request) {
	var in struct {
		LookaheadDays *int `json:"lookahead_days"`
	}
	_ = decode(r, &in) // empty body means defaults

	lookahead := s.LookaheadDays
	if in.LookaheadDays != nil {
		lookahead = *in.LookaheadDays
	}

	res, err := s.Store.RunRetentionGeneration(r.Context(), garageID(r), lookahead)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.ObserveGeneration(res.Created, res.Blocked, res.Skipped)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := core.QueueFilter{Limit: intQuery(r, "limit", 100)}

	if v := q.Get("status"); v != "" {
		st, err := core.ParseQueueStatus(v)
		if err != nil {
			writeError(w, err)
			return
		}
		f.Status = &st
	}
	if v := q.Get("start_date"); v != "" {
		t, err := dateOnly(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "start_date must be YYYY-MM-DD"})
			return
		}
		f.StartDate = t
	}
	if v := q.Get("end_date"); v != "" {
		t, err := dateOnly(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "end_date must be YYYY-MM-DD"})
			return
		}
		f.EndDate = t
	}

	items, err := s.Store.ListQueueItems(r.Context(), garageID(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []core.QueueItemView{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Dispatcher.GetQueueStats(r.Context(), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) sendNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Scope check before dispatch; the dispatcher itself works by bare id.
	if _, err := s.Store.GetQueueItemForGarage(r.Context(), id, garageID(r)); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.Dispatcher.DispatchMessage(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) cancelQueueItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.Dispatcher.CancelMessage(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) rescheduleQueueItem(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ScheduledFor time.Time `json:"scheduled_for"`
	}
	if err := decode(r, &in); err != nil || in.ScheduledFor.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "scheduled_for is required"})
		return
	}

	item, err := s.Dispatcher.RescheduleMessage(r.Context(), chi.URLParam(r, "id"), garageID(r), in.ScheduledFor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) releaseStuck(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OlderThanMinutes int `json:"older_than_minutes"`
	}
	if err := decode(r, &in); err != nil || in.OlderThanMinutes <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "older_than_minutes must be greater than 0"})
		return
	}

	n, err := s.Dispatcher.ReleaseStuckSending(r.Context(), garageID(r), time.Duration(in.OlderThanMinutes)*time.Minute)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.StuckReleased.Add(float64(n))
	writeJSON(w, http.StatusOK, map[string]int{"released": n})
}
