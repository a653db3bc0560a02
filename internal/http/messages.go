package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iosfx/autoservice/internal/core"
)

func (s *Server) dispatchDue(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Limit int `json:"limit"`
	}
	_ = decode(r, &in)
	if in.Limit <= 0 {
		in.Limit = 50
	}

	res, err := s.Dispatcher.DispatchDueMessages(r.Context(), garageID(r), in.Limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) sendDirect(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ClientID string       `json:"client_id"`
		Channel  core.Channel `json:"channel"`
		Content  string       `json:"content"`
	}
	if err := decode(r, &in); err != nil || in.ClientID == "" || in.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "client_id and content are required"})
		return
	}
	if in.Channel == "" {
		in.Channel = core.ChannelSMS
	}

	entry, err := s.Dispatcher.SendDirect(r.Context(), garageID(r), in.ClientID, in.Channel, in.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) listGarageMessages(w http.ResponseWriter, r *http.Request) {
	logs, err := s.Store.ListGarageMessages(r.Context(), garageID(r), intQuery(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []core.MessageLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) listClientMessages(w http.ResponseWriter, r *http.Request) {
	logs, err := s.Store.ListClientMessages(r.Context(), chi.URLParam(r, "clientID"), garageID(r), intQuery(r, "limit", 100))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		logs = []core.MessageLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
