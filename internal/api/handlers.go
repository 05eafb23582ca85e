package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
	"github.com/pv/labacq-go/internal/archive"
	"github.com/pv/labacq-go/internal/instrument"
	"github.com/pv/labacq-go/internal/stats"
	"github.com/pv/labacq-go/internal/syncgroup"
)

type Handlers struct {
	sessions    *acquisition.Manager
	groups      *syncgroup.Registry
	instruments *instrument.Registry
	archive     *archive.Manager
	hub         *SSEHub

	groupTolerance time.Duration
	groupBarrier   time.Duration
}

func NewHandlers(sessions *acquisition.Manager, groups *syncgroup.Registry,
	instruments *instrument.Registry, arch *archive.Manager) *Handlers {
	return &Handlers{
		sessions:    sessions,
		groups:      groups,
		instruments: instruments,
		archive:     arch,
		hub:         NewSSEHub(),
	}
}

// SetGroupDefaults installs fallback coordination values used when a
// create-group request leaves sync_tolerance_seconds or
// barrier_timeout_seconds unset.
func (h *Handlers) SetGroupDefaults(tolerance, barrierTimeout time.Duration) {
	h.groupTolerance = tolerance
	h.groupBarrier = barrierTimeout
}

func (h *Handlers) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// errorStatus maps engine sentinels onto HTTP statuses
func errorStatus(err error) int {
	switch {
	case errors.Is(err, acquisition.ErrSessionNotFound),
		errors.Is(err, syncgroup.ErrGroupNotFound),
		errors.Is(err, acquisition.ErrUnknownChannel):
		return http.StatusNotFound
	case errors.Is(err, acquisition.ErrConfigInvalid),
		errors.Is(err, syncgroup.ErrGroupConfigInvalid),
		errors.Is(err, syncgroup.ErrMemberUnknown),
		errors.Is(err, syncgroup.ErrMemberNotReady):
		return http.StatusBadRequest
	case errors.Is(err, acquisition.ErrInvalidTransition),
		errors.Is(err, syncgroup.ErrGroupTransition),
		errors.Is(err, syncgroup.ErrMemberAttached):
		return http.StatusConflict
	case errors.Is(err, syncgroup.ErrBarrierTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// GetInstruments возвращает список подключённых приборов
// GET /api/instruments
func (h *Handlers) GetInstruments(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{"instruments": h.instruments.IDs()})
}

// triggerRequest is the HTTP shape of a trigger config; durations are
// plain seconds rather than Go duration literals.
type triggerRequest struct {
	Type              string  `json:"type"`
	Channel           string  `json:"channel"`
	Threshold         float64 `json:"threshold"`
	Edge              string  `json:"edge"`
	PreTriggerSamples int     `json:"pre_trigger_samples"`
	TimeoutSeconds    float64 `json:"timeout_seconds"`
	StayArmed         bool    `json:"stay_armed"`
	FireAt            float64 `json:"fire_at"`
}

type createSessionRequest struct {
	EquipmentID     string          `json:"equipment_id"`
	Mode            string          `json:"mode"`
	SampleRate      float64         `json:"sample_rate_hz"`
	Channels        []string        `json:"channels"`
	BufferCapacity  int             `json:"buffer_capacity"`
	MaxSamples      uint64          `json:"max_samples"`
	DurationSeconds float64         `json:"duration_seconds"`
	Trigger         *triggerRequest `json:"trigger"`
}

func (req *createSessionRequest) toConfig() acquisition.AcquisitionConfig {
	cfg := acquisition.AcquisitionConfig{
		EquipmentID:    req.EquipmentID,
		Mode:           acquisition.Mode(req.Mode),
		SampleRate:     req.SampleRate,
		Channels:       req.Channels,
		BufferCapacity: req.BufferCapacity,
		MaxSamples:     req.MaxSamples,
		Duration:       time.Duration(req.DurationSeconds * float64(time.Second)),
	}
	if req.Trigger != nil {
		cfg.Trigger = &acquisition.TriggerConfig{
			Type:              acquisition.TriggerType(req.Trigger.Type),
			Channel:           req.Trigger.Channel,
			Threshold:         req.Trigger.Threshold,
			Edge:              acquisition.EdgeDirection(req.Trigger.Edge),
			PreTriggerSamples: req.Trigger.PreTriggerSamples,
			Timeout:           time.Duration(req.Trigger.TimeoutSeconds * float64(time.Second)),
			StayArmed:         req.Trigger.StayArmed,
			FireAt:            req.Trigger.FireAt,
		}
	}
	return cfg
}

// CreateSession создаёт новую сессию сбора данных
// POST /api/sessions
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	reader, err := h.instruments.Get(req.EquipmentID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s, err := h.sessions.Create(req.toConfig(), reader)
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, s.Status())
}

// ListSessions возвращает статусы всех сессий
// GET /api/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{"sessions": h.sessions.List()})
}

// GetSession возвращает статус сессии
// GET /api/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Status(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, status)
}

// RemoveSession останавливает и удаляет сессию
// DELETE /api/sessions/{id}
func (h *Handlers) RemoveSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Remove(r.PathValue("id")); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "removed"})
}

// StartSession запускает сессию
// POST /api/sessions/{id}/start
func (h *Handlers) StartSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Start(id); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	status, _ := h.sessions.Status(id)
	h.writeJSON(w, status)
}

// StopSession останавливает сессию
// POST /api/sessions/{id}/stop
func (h *Handlers) StopSession(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Stop(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, status)
}

// PauseSession приостанавливает сессию
// POST /api/sessions/{id}/pause
func (h *Handlers) PauseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Pause(id); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	status, _ := h.sessions.Status(id)
	h.writeJSON(w, status)
}

// ResumeSession возобновляет сессию
// POST /api/sessions/{id}/resume
func (h *Handlers) ResumeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.sessions.Resume(id); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	status, _ := h.sessions.Status(id)
	h.writeJSON(w, status)
}

// TriggerSession подаёт внешний триггер
// POST /api/sessions/{id}/trigger
func (h *Handlers) TriggerSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.SignalExternal(r.PathValue("id")); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "signaled"})
}

// GetSessionData возвращает последние выборки канала
// GET /api/sessions/{id}/data?channel=voltage&count=100
func (h *Handlers) GetSessionData(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		h.writeError(w, http.StatusBadRequest, "channel query parameter required")
		return
	}
	count := queryInt(r, "count", 100)

	samples, err := h.sessions.Data(r.PathValue("id"), channel, count)
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"session": r.PathValue("id"),
		"channel": channel,
		"samples": samples,
	})
}

// snapshot fetches a channel snapshot for statistics endpoints
func (h *Handlers) snapshot(w http.ResponseWriter, r *http.Request) ([]acquisition.Sample, bool) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		h.writeError(w, http.StatusBadRequest, "channel query parameter required")
		return nil, false
	}
	count := queryInt(r, "count", 1000)

	samples, err := h.sessions.Data(r.PathValue("id"), channel, count)
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return nil, false
	}
	return samples, true
}

// GetRollingStats возвращает статистику канала
// GET /api/sessions/{id}/stats/rolling?channel=voltage&count=1000
func (h *Handlers) GetRollingStats(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	result, err := stats.RollingStats(samples)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, result)
}

// GetFFT возвращает спектр канала
// GET /api/sessions/{id}/stats/fft?channel=ch1&window=hann&sample_rate=100
func (h *Handlers) GetFFT(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}

	win := stats.WindowType(r.URL.Query().Get("window"))
	rate := queryFloat(r, "sample_rate", 0)

	result, err := stats.ComputeFFT(samples, rate, win)
	if err != nil {
		if errors.Is(err, stats.ErrInsufficientData) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		} else {
			h.writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	h.writeJSON(w, result)
}

// GetTrend возвращает линейный тренд канала
// GET /api/sessions/{id}/stats/trend?channel=temp&slope_threshold=0.01&r2_threshold=0.5
func (h *Handlers) GetTrend(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	result, err := stats.TrendAnalysis(samples,
		queryFloat(r, "slope_threshold", 0),
		queryFloat(r, "r2_threshold", 0))
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, result)
}

// GetQuality возвращает оценку качества сигнала
// GET /api/sessions/{id}/stats/quality?channel=temp
func (h *Handlers) GetQuality(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	result, err := stats.QualityAnalysis(samples)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, result)
}

// GetPeaks возвращает найденные пики
// GET /api/sessions/{id}/stats/peaks?channel=ch1&prominence=0.5
func (h *Handlers) GetPeaks(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	peaks := stats.DetectPeaks(samples, queryFloat(r, "prominence", 0))
	h.writeJSON(w, map[string]interface{}{
		"peaks": peaks,
		"count": len(peaks),
	})
}

// GetCrossings возвращает пересечения порога
// GET /api/sessions/{id}/stats/crossings?channel=ch1&threshold=5
func (h *Handlers) GetCrossings(w http.ResponseWriter, r *http.Request) {
	samples, ok := h.snapshot(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, stats.ThresholdCrossings(samples, queryFloat(r, "threshold", 0)))
}

type createGroupRequest struct {
	ID                    string   `json:"id"`
	MemberIDs             []string `json:"member_ids"`
	MasterID              string   `json:"master_id"`
	WaitForAll            bool     `json:"wait_for_all"`
	AllOrNothing          bool     `json:"all_or_nothing"`
	SyncToleranceSeconds  float64  `json:"sync_tolerance_seconds"`
	BarrierTimeoutSeconds float64  `json:"barrier_timeout_seconds"`
}

// CreateGroup создаёт группу синхронизации
// POST /api/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tolerance := time.Duration(req.SyncToleranceSeconds * float64(time.Second))
	if tolerance == 0 {
		tolerance = h.groupTolerance
	}
	barrier := time.Duration(req.BarrierTimeoutSeconds * float64(time.Second))
	if barrier == 0 {
		barrier = h.groupBarrier
	}

	g, err := h.groups.Create(syncgroup.GroupConfig{
		ID:             req.ID,
		MemberIDs:      req.MemberIDs,
		MasterID:       req.MasterID,
		WaitForAll:     req.WaitForAll,
		AllOrNothing:   req.AllOrNothing,
		SyncTolerance:  tolerance,
		BarrierTimeout: barrier,
	})
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// ListGroups возвращает статусы всех групп
// GET /api/groups
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, map[string]interface{}{"groups": h.groups.List()})
}

// GetGroup возвращает статус группы
// GET /api/groups/{id}
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// RemoveGroup останавливает и удаляет группу
// DELETE /api/groups/{id}
func (h *Handlers) RemoveGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.groups.Remove(r.PathValue("id")); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "removed"})
}

// AddGroupMember привязывает сессию к слоту группы
// POST /api/groups/{id}/members
func (h *Handlers) AddGroupMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EquipmentID string `json:"equipment_id"`
		SessionID   string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	s, err := h.sessions.Get(req.SessionID)
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := g.AddMember(req.EquipmentID, s); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// StartGroup запускает группу (с барьером при wait_for_all)
// POST /api/groups/{id}/start
func (h *Handlers) StartGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := g.Start(r.Context()); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// StopGroup останавливает группу
// POST /api/groups/{id}/stop
func (h *Handlers) StopGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Stop())
}

// PauseGroup приостанавливает все сессии группы
// POST /api/groups/{id}/pause
func (h *Handlers) PauseGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := g.Pause(); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// ResumeGroup возобновляет все сессии группы
// POST /api/groups/{id}/resume
func (h *Handlers) ResumeGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	if err := g.Resume(); err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, g.Status())
}

// GetGroupData возвращает выровненные по групповому времени выборки
// GET /api/groups/{id}/data?count=100
func (h *Handlers) GetGroupData(w http.ResponseWriter, r *http.Request) {
	g, err := h.groups.Get(r.PathValue("id"))
	if err != nil {
		h.writeError(w, errorStatus(err), err.Error())
		return
	}
	h.writeJSON(w, map[string]interface{}{
		"group":            g.ID(),
		"group_start_time": g.Status().GroupStartTime,
		"members":          g.AlignedData(queryInt(r, "count", 100)),
	})
}

// GetArchiveHistory возвращает записи архива
// GET /api/archive/history?equipment=psu-1&channel=voltage&from=...&to=...&limit=100
func (h *Handlers) GetArchiveHistory(w http.ResponseWriter, r *http.Request) {
	filter := archive.Filter{
		EquipmentID: r.URL.Query().Get("equipment"),
		Channel:     r.URL.Query().Get("channel"),
		Limit:       queryInt(r, "limit", 1000),
	}
	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.From = &t
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.To = &t
		}
	}

	records, err := h.archive.GetHistory(filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]interface{}{"records": records})
}

// GetArchiveStats возвращает статистику архива
// GET /api/archive/stats
func (h *Handlers) GetArchiveStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.archive.GetStats()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, st)
}

// StartArchive включает архивирование
// POST /api/archive/start
func (h *Handlers) StartArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.archive.Start(); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]bool{"recording": true})
}

// StopArchive выключает архивирование
// POST /api/archive/stop
func (h *Handlers) StopArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.archive.Stop(); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]bool{"recording": false})
}

// ClearArchive удаляет все записи архива
// DELETE /api/archive
func (h *Handlers) ClearArchive(w http.ResponseWriter, r *http.Request) {
	if err := h.archive.Clear(); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, map[string]string{"status": "cleared"})
}

func queryInt(r *http.Request, name string, def int) int {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func queryFloat(r *http.Request, name string, def float64) float64 {
	if s := r.URL.Query().Get(name); s != "" {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return def
}
