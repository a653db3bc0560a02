package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
)

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f core.TemplateFilter
	if v := q.Get("trigger_type"); v != "" {
		tt := core.TriggerType(v)
		f.TriggerType = &tt
	}
	if v := q.Get("channel"); v != "" {
		ch := core.Channel(v)
		f.Channel = &ch
	}
	if v := q.Get("enabled"); v != "" {
		b := v == "true"
		f.Enabled = &b
	}

	templates, err := s.Store.ListTemplates(r.Context(), garageID(r), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if templates == nil {
		templates = []core.MessageTemplate{}
	}
	writeJSON(w, http.StatusOK, templates)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.Store.GetTemplate(r.Context(), chi.URLParam(r, "id"), garageID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		TemplateKey string           `json:"template_key"`
		TriggerType core.TriggerType `json:"trigger_type"`
		Channel     core.Channel     `json:"channel"`
		Name        string           `json:"name"`
		Body        string           `json:"body"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	t, err := s.Store.CreateTemplate(r.Context(), core.MessageTemplate{
		GarageID:    garageID(r),
		TemplateKey: in.TemplateKey,
		TriggerType: in.TriggerType,
		Channel:     in.Channel,
		Name:        in.Name,
		Body:        in.Body,
		Enabled:     true,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name    *string `json:"name"`
		Body    *string `json:"body"`
		Enabled *bool   `json:"enabled"`
	}
	if err := decode(r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	t, err := s.Store.UpdateTemplate(r.Context(), chi.URLParam(r, "id"), garageID(r), core.TemplateUpdate{
		Name: in.Name, Body: in.Body, Enabled: in.Enabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteTemplate(r.Context(), chi.URLParam(r, "id"), garageID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) seedTemplates(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Overwrite bool `json:"overwrite"`
	}
	_ = decode(r, &in) // empty body means no overwrite

	res, err := s.Store.SeedDefaultTemplates(r.Context(), garageID(r), in.Overwrite)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// renderTemplate is the editor's preview endpoint: render an arbitrary body
// against caller-supplied variables.
func (s *Server) renderTemplate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Body      string            `json:"body"`
		Variables map[string]string `json:"variables"`
	}
	if err := decode(r, &in); err != nil || in.Body == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "body is required"})
		return
	}
	writeJSON(w, http.StatusOK, core.RenderTemplate(in.Body, core.Vars(in.Variables)))
}

func (s *Server) listPlaceholders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"placeholders": core.AllowedPlaceholders})
}
