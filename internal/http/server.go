package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iosfx/autoservice/internal/core"
)

type Server struct {
	Store      *core.Store
	Dispatcher *core.Dispatcher
	JWTSecret  []byte

	// LookaheadDays is the default generation window when the request
	// does not supply one.
	LookaheadDays int
}

func NewServer(pool *pgxpool.Pool, prov core.MessagingProvider, jwtSecret []byte) *Server {
	store := &core.Store{DB: pool}
	return &Server{
		Store:         store,
		Dispatcher:    core.NewDispatcher(store, prov),
		JWTSecret:     jwtSecret,
		LookaheadDays: 14,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	s.mountHealth(r)
	s.mountMetrics(r)
	s.mountDocs(r)

	r.Post("/auth/register", s.register)
	r.Post("/auth/login", s.login)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/clients", s.listClients)
		r.Post("/clients", s.createClient)
		r.Get("/clients/{id}", s.getClient)
		r.Put("/clients/{id}", s.updateClient)
		r.Delete("/clients/{id}", s.deleteClient)
		r.Get("/clients/{id}/cars", s.listClientCars)

		r.Post("/cars", s.createCar)
		r.Get("/cars/{id}", s.getCar)
		r.Put("/cars/{id}/mileage", s.updateCarMileage)
		r.Get("/cars/{id}/visits", s.listCarVisits)
		r.Post("/cars/{id}/visits", s.recordVisit)

		r.Get("/jobs", s.listJobs)
		r.Post("/jobs", s.createJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/status", s.updateJobStatus)

		r.Get("/retention/rules", s.listRules)
		r.Post("/retention/rules", s.createRule)
		r.Put("/retention/rules/{id}", s.updateRule)
		r.Delete("/retention/rules/{id}", s.deleteRule)
		r.Get("/retention/alerts", s.retentionAlerts)
		r.Post("/retention/run", s.runRetention)
		r.Get("/retention/queue", s.listQueue)
		r.Get("/retention/queue/stats", s.queueStats)
		r.Post("/retention/queue/release-stuck", s.releaseStuck)
		r.Post("/retention/queue/{id}/send-now", s.sendNow)
		r.Post("/retention/queue/{id}/cancel", s.cancelQueueItem)
		r.Post("/retention/queue/{id}/reschedule", s.rescheduleQueueItem)

		r.Post("/messages/dispatch", s.dispatchDue)
		r.Post("/messages/send", s.sendDirect)
		r.Get("/messages", s.listGarageMessages)
		r.Get("/messages/client/{clientID}", s.listClientMessages)

		r.Get("/templates", s.listTemplates)
		r.Post("/templates", s.createTemplate)
		r.Get("/templates/placeholders", s.listPlaceholders)
		r.Post("/templates/render", s.renderTemplate)
		r.Post("/templates/seed", s.seedTemplates)
		r.Get("/templates/{id}", s.getTemplate)
		r.Put("/templates/{id}", s.updateTemplate)
		r.Delete("/templates/{id}", s.deleteTemplate)

		r.Get("/dashboard/retention-summary", s.retentionSummary)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var ve *core.ValidationError
	var te *core.InvalidTransitionError
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": ve.Msg})
	case errors.As(err, &te):
		writeJSON(w, http.StatusConflict, map[string]string{"message": te.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": err.Error()})
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
