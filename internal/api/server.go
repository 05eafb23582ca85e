package api

import (
	"net/http"
)

// NewServer builds the HTTP routing table. The metrics handler is
// injected so the api package does not depend on the metrics package.
func NewServer(h *Handlers, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/instruments", h.GetInstruments)

	mux.HandleFunc("POST /api/sessions", h.CreateSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.RemoveSession)
	mux.HandleFunc("POST /api/sessions/{id}/start", h.StartSession)
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.StopSession)
	mux.HandleFunc("POST /api/sessions/{id}/pause", h.PauseSession)
	mux.HandleFunc("POST /api/sessions/{id}/resume", h.ResumeSession)
	mux.HandleFunc("POST /api/sessions/{id}/trigger", h.TriggerSession)
	mux.HandleFunc("GET /api/sessions/{id}/data", h.GetSessionData)

	mux.HandleFunc("GET /api/sessions/{id}/stats/rolling", h.GetRollingStats)
	mux.HandleFunc("GET /api/sessions/{id}/stats/fft", h.GetFFT)
	mux.HandleFunc("GET /api/sessions/{id}/stats/trend", h.GetTrend)
	mux.HandleFunc("GET /api/sessions/{id}/stats/quality", h.GetQuality)
	mux.HandleFunc("GET /api/sessions/{id}/stats/peaks", h.GetPeaks)
	mux.HandleFunc("GET /api/sessions/{id}/stats/crossings", h.GetCrossings)

	mux.HandleFunc("POST /api/groups", h.CreateGroup)
	mux.HandleFunc("GET /api/groups", h.ListGroups)
	mux.HandleFunc("GET /api/groups/{id}", h.GetGroup)
	mux.HandleFunc("DELETE /api/groups/{id}", h.RemoveGroup)
	mux.HandleFunc("POST /api/groups/{id}/members", h.AddGroupMember)
	mux.HandleFunc("POST /api/groups/{id}/start", h.StartGroup)
	mux.HandleFunc("POST /api/groups/{id}/stop", h.StopGroup)
	mux.HandleFunc("POST /api/groups/{id}/pause", h.PauseGroup)
	mux.HandleFunc("POST /api/groups/{id}/resume", h.ResumeGroup)
	mux.HandleFunc("GET /api/groups/{id}/data", h.GetGroupData)

	mux.HandleFunc("GET /api/archive/history", h.GetArchiveHistory)
	mux.HandleFunc("GET /api/archive/stats", h.GetArchiveStats)
	mux.HandleFunc("POST /api/archive/start", h.StartArchive)
	mux.HandleFunc("POST /api/archive/stop", h.StopArchive)
	mux.HandleFunc("DELETE /api/archive", h.ClearArchive)

	mux.HandleFunc("GET /api/events", h.HandleSSE)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}
