package httpapi

import (
	"net/http"
)

// retentionSummary backs the dashboard card: queue health plus rough client
// reach over the last 30 days.
func (s *Server) retentionSummary(w http.ResponseWriter, r *http.Request) {
	gid := garageID(r)

	garage, err := s.Store.GetGarage(r.Context(), gid)
	if err != nil {
		writeError(w, err)
		return
	}

	stats, err := s.Dispatcher.GetQueueStats(r.Context(), gid)
	if err != nil {
		writeError(w, err)
		return
	}

	var totalClients, clientsReached30d, activeRules int
	err = s.Store.DB.QueryRow(r.Context(), `
		SELECT
			(SELECT COUNT(*) FROM clients WHERE garage_id=$1),
			(SELECT COUNT(DISTINCT client_id) FROM message_logs
			 WHERE garage_id=$1 AND status='SENT' AND sent_at > now() - interval '30 days'),
			(SELECT COUNT(*) FROM retention_rules WHERE garage_id=$1 AND is_active)`,
		gid).Scan(&totalClients, &clientsReached30d, &activeRules)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"queue":               stats,
		"total_clients":       totalClients,
		"clients_reached_30d": clientsReached30d,
		"active_rules":        activeRules,
		"last_sync_at":        garage.LastSyncAt,
	})
}
