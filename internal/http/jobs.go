package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
)

// listJobs returns the day board; ?date=YYYY-MM-DD narrows to one day.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var day *time.Time
	if v := r.URL.Query().Get("date"); v != "" {
		t, err := dateOnly(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "date must be YYYY-MM-DD"})
			return
		}
		day = t
	}

	jobs, err := s.Store.ListJobsByDate(r.Context(), garageID(r), day)
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []core.JobView{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientID      string    `json:"client_id"`
		CarID         string    `json:"car_id"`
		Title         string    `json:"title"`
		ScheduledDate time.Time `json:"scheduled_date"`
		Notes         *string   `json:"notes"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	job, err := s.Store.CreateJob(r.Context(), garageID(r), core.Job{
		ClientID:      in.ClientID,
		CarID:         in.CarID,
		Title:         in.Title,
		ScheduledDate: in.ScheduledDate,
		Notes:         in.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.Store.GetJob(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// updateJobStatus moves a job through its lifecycle. An optional message is
// sent to the client; READY alone falls back to the ready template.
func (s *Server) updateJobStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status  core.JobStatus `json:"status"`
		Message string         `json:"message"`
	}
	if err := decode(r, &in); err != nil || in.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "status is required"})
		return
	}

	job, err := s.Dispatcher.SetJobStatus(r.Context(), chi.URLParam(r, "id"), garageID(r), in.Status, in.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
