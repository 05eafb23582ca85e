package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pv/labacq-go/internal/acquisition"
	"github.com/pv/labacq-go/internal/archive"
	"github.com/pv/labacq-go/internal/config"
	"github.com/pv/labacq-go/internal/instrument"
	"github.com/pv/labacq-go/internal/syncgroup"
)

type testEnv struct {
	handlers *Handlers
	server   http.Handler
	sessions *acquisition.Manager
	archive  *archive.Manager
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	instruments := instrument.NewRegistry()
	instruments.Register("psu-1", instrument.NewSim("psu-1", map[string]config.SimChannelConfig{
		"voltage": {Frequency: 5, Amplitude: 2, Offset: 12},
	}))
	instruments.Register("scope-1", instrument.NewSim("scope-1", map[string]config.SimChannelConfig{
		"ch1": {Frequency: 50, Amplitude: 1},
	}))

	sessions := acquisition.NewManager()
	groups := syncgroup.NewRegistry()
	arch := archive.NewManager(archive.NewMemoryBackend(), 10000)

	h := NewHandlers(sessions, groups, instruments, arch)
	t.Cleanup(sessions.StopAll)
	t.Cleanup(groups.StopAll)

	return &testEnv{
		handlers: h,
		server:   NewServer(h, nil),
		sessions: sessions,
		archive:  arch,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func continuousSession(equipment string, rate float64) map[string]interface{} {
	return map[string]interface{}{
		"equipment_id":    equipment,
		"mode":            "continuous",
		"sample_rate_hz":  rate,
		"channels":        []string{"voltage"},
		"buffer_capacity": 100,
	}
}

func TestSessionLifecycleHTTP(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "POST", "/api/sessions", continuousSession("psu-1", 200))
	if w.Code != http.StatusOK {
		t.Fatalf("create: status %d body %s", w.Code, w.Body.String())
	}
	var status acquisition.Status
	decode(t, w, &status)
	if status.State != acquisition.StateCreated || status.ID == "" {
		t.Fatalf("unexpected create response: %+v", status)
	}
	id := status.ID

	w = env.do(t, "POST", "/api/sessions/"+id+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: status %d body %s", w.Code, w.Body.String())
	}

	// data accumulates
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = env.do(t, "GET", "/api/sessions/"+id, nil)
		decode(t, w, &status)
		if status.TotalSamples >= 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no samples captured: %+v", status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = env.do(t, "GET", "/api/sessions/"+id+"/data?channel=voltage&count=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("data: status %d body %s", w.Code, w.Body.String())
	}
	var data struct {
		Samples []acquisition.Sample `json:"samples"`
	}
	decode(t, w, &data)
	if len(data.Samples) == 0 {
		t.Fatal("expected samples in response")
	}

	w = env.do(t, "POST", "/api/sessions/"+id+"/pause", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pause: status %d body %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/sessions/"+id+"/resume", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resume: status %d body %s", w.Code, w.Body.String())
	}

	w = env.do(t, "POST", "/api/sessions/"+id+"/stop", nil)
	decode(t, w, &status)
	if status.State != acquisition.StateStopped {
		t.Errorf("stop: expected stopped, got %s", status.State)
	}

	w = env.do(t, "DELETE", "/api/sessions/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("remove: status %d", w.Code)
	}
	if w = env.do(t, "GET", "/api/sessions/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("removed session must 404, got %d", w.Code)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	env := setupTestEnv(t)

	// unknown equipment
	w := env.do(t, "POST", "/api/sessions", continuousSession("ghost-1", 100))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown equipment: expected 404, got %d", w.Code)
	}

	// invalid config
	bad := continuousSession("psu-1", 0)
	w = env.do(t, "POST", "/api/sessions", bad)
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero rate: expected 400, got %d", w.Code)
	}

	// malformed body
	req := httptest.NewRequest("POST", "/api/sessions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", rec.Code)
	}
}

func TestSessionControlErrors(t *testing.T) {
	env := setupTestEnv(t)

	if w := env.do(t, "POST", "/api/sessions/nope/start", nil); w.Code != http.StatusNotFound {
		t.Errorf("start unknown: expected 404, got %d", w.Code)
	}

	var status acquisition.Status
	w := env.do(t, "POST", "/api/sessions", continuousSession("psu-1", 100))
	decode(t, w, &status)

	// pause before start is an invalid transition
	if w := env.do(t, "POST", "/api/sessions/"+status.ID+"/pause", nil); w.Code != http.StatusConflict {
		t.Errorf("pause from created: expected 409, got %d", w.Code)
	}

	// data without channel
	if w := env.do(t, "GET", "/api/sessions/"+status.ID+"/data", nil); w.Code != http.StatusBadRequest {
		t.Errorf("data without channel: expected 400, got %d", w.Code)
	}

	// unknown channel
	if w := env.do(t, "GET", "/api/sessions/"+status.ID+"/data?channel=bogus", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown channel: expected 404, got %d", w.Code)
	}
}

func TestStatsEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	var status acquisition.Status
	w := env.do(t, "POST", "/api/sessions", continuousSession("psu-1", 500))
	decode(t, w, &status)
	id := status.ID

	env.do(t, "POST", "/api/sessions/"+id+"/start", nil)

	deadline := time.Now().Add(2 * time.Second)
	for {
		env.do(t, "GET", "/api/sessions/"+id, nil)
		st, _ := env.sessions.Status(id)
		if st.TotalSamples >= 32 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("not enough samples for stats")
		}
		time.Sleep(5 * time.Millisecond)
	}
	env.do(t, "POST", "/api/sessions/"+id+"/stop", nil)

	w = env.do(t, "GET", "/api/sessions/"+id+"/stats/rolling?channel=voltage", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rolling: status %d body %s", w.Code, w.Body.String())
	}
	var rolling struct {
		Count int     `json:"count"`
		Mean  float64 `json:"mean"`
	}
	decode(t, w, &rolling)
	if rolling.Count == 0 {
		t.Error("rolling stats over empty snapshot")
	}
	// sim signal is 12 + 2*sin; the mean stays near the offset
	if rolling.Mean < 9 || rolling.Mean > 15 {
		t.Errorf("unexpected mean %v", rolling.Mean)
	}

	for _, path := range []string{
		"/stats/fft?channel=voltage&window=hann",
		"/stats/trend?channel=voltage",
		"/stats/quality?channel=voltage",
		"/stats/peaks?channel=voltage&prominence=0.1",
		"/stats/crossings?channel=voltage&threshold=12",
	} {
		if w := env.do(t, "GET", "/api/sessions/"+id+path, nil); w.Code != http.StatusOK {
			t.Errorf("%s: status %d body %s", path, w.Code, w.Body.String())
		}
	}

	// stats never mutate session state
	st, _ := env.sessions.Status(id)
	if st.State != acquisition.StateStopped {
		t.Errorf("stats endpoints changed session state to %s", st.State)
	}
}

func TestGroupLifecycleHTTP(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "POST", "/api/groups", map[string]interface{}{
		"id":                      "bench-1",
		"member_ids":              []string{"psu-1", "scope-1"},
		"wait_for_all":            true,
		"sync_tolerance_seconds":  0.1,
		"barrier_timeout_seconds": 1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create group: status %d body %s", w.Code, w.Body.String())
	}

	// attach sessions to both roster slots
	var psu, scope acquisition.Status
	w = env.do(t, "POST", "/api/sessions", continuousSession("psu-1", 200))
	decode(t, w, &psu)
	scopeReq := map[string]interface{}{
		"equipment_id":    "scope-1",
		"mode":            "continuous",
		"sample_rate_hz":  200,
		"channels":        []string{"ch1"},
		"buffer_capacity": 100,
	}
	w = env.do(t, "POST", "/api/sessions", scopeReq)
	decode(t, w, &scope)

	for _, m := range []struct{ eq, session string }{
		{"psu-1", psu.ID}, {"scope-1", scope.ID},
	} {
		w = env.do(t, "POST", "/api/groups/bench-1/members", map[string]string{
			"equipment_id": m.eq,
			"session_id":   m.session,
		})
		if w.Code != http.StatusOK {
			t.Fatalf("add member %s: status %d body %s", m.eq, w.Code, w.Body.String())
		}
	}

	w = env.do(t, "POST", "/api/groups/bench-1/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start group: status %d body %s", w.Code, w.Body.String())
	}
	var gst syncgroup.GroupStatus
	decode(t, w, &gst)
	if gst.State != syncgroup.StateRunning {
		t.Errorf("expected running group, got %s", gst.State)
	}
	if !gst.WithinTolerance {
		t.Errorf("start skew %v exceeded tolerance", gst.StartSkew)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, _ := env.sessions.Status(psu.ID)
		if st.TotalSamples >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("group members not capturing")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = env.do(t, "GET", "/api/groups/bench-1/data?count=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("group data: status %d body %s", w.Code, w.Body.String())
	}
	var groupData struct {
		Members map[string]map[string][]acquisition.Sample `json:"members"`
	}
	decode(t, w, &groupData)
	if len(groupData.Members["psu-1"]["voltage"]) == 0 {
		t.Error("expected aligned samples for psu-1/voltage")
	}

	w = env.do(t, "POST", "/api/groups/bench-1/stop", nil)
	decode(t, w, &gst)
	if gst.State != syncgroup.StateStopped {
		t.Errorf("expected stopped group, got %s", gst.State)
	}
}

func TestCreateGroupUsesConfiguredDefaults(t *testing.T) {
	env := setupTestEnv(t)
	env.handlers.SetGroupDefaults(50*time.Millisecond, time.Second)

	// wait_for_all without an explicit barrier timeout relies on the defaults
	w := env.do(t, "POST", "/api/groups", map[string]interface{}{
		"id":           "bench-d",
		"member_ids":   []string{"psu-1", "scope-1"},
		"wait_for_all": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create group without timeouts: status %d body %s", w.Code, w.Body.String())
	}

	g, err := env.handlers.groups.Get("bench-d")
	if err != nil {
		t.Fatalf("group not registered: %v", err)
	}
	cfg := g.Config()
	if cfg.BarrierTimeout != time.Second {
		t.Errorf("barrier timeout %v, want the configured default 1s", cfg.BarrierTimeout)
	}
	if cfg.SyncTolerance != 50*time.Millisecond {
		t.Errorf("sync tolerance %v, want the configured default 50ms", cfg.SyncTolerance)
	}

	// explicit request values win over the defaults
	w = env.do(t, "POST", "/api/groups", map[string]interface{}{
		"id":                      "bench-e",
		"member_ids":              []string{"psu-1"},
		"wait_for_all":            true,
		"sync_tolerance_seconds":  0.2,
		"barrier_timeout_seconds": 3,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create group with timeouts: status %d body %s", w.Code, w.Body.String())
	}
	g, _ = env.handlers.groups.Get("bench-e")
	if cfg := g.Config(); cfg.BarrierTimeout != 3*time.Second || cfg.SyncTolerance != 200*time.Millisecond {
		t.Errorf("explicit values overridden: tolerance %v, barrier %v", cfg.SyncTolerance, cfg.BarrierTimeout)
	}
}

func TestGroupBarrierTimeoutHTTP(t *testing.T) {
	env := setupTestEnv(t)

	env.do(t, "POST", "/api/groups", map[string]interface{}{
		"id":                      "bench-2",
		"member_ids":              []string{"psu-1", "scope-1"},
		"wait_for_all":            true,
		"barrier_timeout_seconds": 0.05,
	})

	var psu acquisition.Status
	w := env.do(t, "POST", "/api/sessions", continuousSession("psu-1", 100))
	decode(t, w, &psu)
	env.do(t, "POST", "/api/groups/bench-2/members", map[string]string{
		"equipment_id": "psu-1",
		"session_id":   psu.ID,
	})

	w = env.do(t, "POST", "/api/groups/bench-2/start", nil)
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 on barrier timeout, got %d body %s", w.Code, w.Body.String())
	}

	st, _ := env.sessions.Status(psu.ID)
	if st.State != acquisition.StateCreated {
		t.Errorf("member must stay created after barrier failure, got %s", st.State)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	if w := env.do(t, "POST", "/api/archive/start", nil); w.Code != http.StatusOK {
		t.Fatalf("archive start: status %d", w.Code)
	}

	env.archive.Save(archive.Record{
		EquipmentID: "psu-1",
		Channel:     "voltage",
		Value:       12.5,
		Timestamp:   0.5,
	})

	w := env.do(t, "GET", "/api/archive/history?equipment=psu-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: status %d body %s", w.Code, w.Body.String())
	}
	var history struct {
		Records []archive.Record `json:"records"`
	}
	decode(t, w, &history)
	if len(history.Records) != 1 {
		t.Fatalf("expected 1 archived record, got %d", len(history.Records))
	}

	w = env.do(t, "GET", "/api/archive/stats", nil)
	var st archive.Stats
	decode(t, w, &st)
	if st.RecordCount != 1 || !st.IsRecording {
		t.Errorf("unexpected archive stats: %+v", st)
	}

	if w := env.do(t, "DELETE", "/api/archive", nil); w.Code != http.StatusOK {
		t.Fatalf("clear: status %d", w.Code)
	}
	w = env.do(t, "GET", "/api/archive/history", nil)
	decode(t, w, &history)
	if len(history.Records) != 0 {
		t.Errorf("expected empty archive after clear, got %d", len(history.Records))
	}

	if w := env.do(t, "POST", "/api/archive/stop", nil); w.Code != http.StatusOK {
		t.Fatalf("archive stop: status %d", w.Code)
	}
}

func TestGetInstruments(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "GET", "/api/instruments", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("instruments: status %d", w.Code)
	}
	var resp struct {
		Instruments []string `json:"instruments"`
	}
	decode(t, w, &resp)
	if len(resp.Instruments) != 2 {
		t.Errorf("expected 2 instruments, got %v", resp.Instruments)
	}
}
