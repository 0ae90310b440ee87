package mutate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/flexi"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/queue"
	"vikings-osm-sync/internal/storage"
)

type capturedWrite struct {
	path string
	body map[string]any
}

type testEnv struct {
	service *Service
	db      *storage.DB
	gate    *auth.Gate

	mu     sync.Mutex
	writes []capturedWrite
}

func (e *testEnv) captured() []capturedWrite {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]capturedWrite, len(e.writes))
	copy(out, e.writes)
	return out
}

// newTestService wires a service against a capture server. respond decides
// the response for each write, in arrival order.
func newTestService(t *testing.T, respond func(n int, w http.ResponseWriter)) *testEnv {
	t.Helper()
	env := &testEnv{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		env.mu.Lock()
		env.writes = append(env.writes, capturedWrite{path: r.URL.Path, body: body})
		n := len(env.writes)
		env.mu.Unlock()
		respond(n, w)
	}))
	t.Cleanup(server.Close)

	db, err := storage.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	gate := auth.NewGate(false, nil)
	gate.SetToken("test-token")

	q := queue.New(queue.Config{
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallGap:     time.Millisecond,
		ResumeSlack: time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go q.Run(ctx)

	env.db = db
	env.gate = gate
	env.service = NewService(db, osm.NewClient(server.URL, gate, q), gate)
	env.service.clearGap = time.Millisecond
	return env
}

func ok(n int, w http.ResponseWriter) { w.Write([]byte(`{"ok":true}`)) }

func testContext() *flexi.Context {
	return &flexi.Context{
		RecordID:  "flexi_9",
		SectionID: "123",
		TermID:    "t1",
		FieldIDs: map[string]string{
			flexi.FieldSignedInBy:    "f_1",
			flexi.FieldSignedInWhen:  "f_2",
			flexi.FieldSignedOutBy:   "f_3",
			flexi.FieldSignedOutWhen: "f_4",
		},
	}
}

func TestUpdateFieldNormalizesUnassigned(t *testing.T) {
	env := newTestService(t, ok)

	err := env.service.UpdateField(context.Background(), "123", "m1", "flexi_9", "f_1", "Unassigned", "t1")
	if err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}

	writes := env.captured()
	if len(writes) != 1 {
		t.Fatalf("Expected 1 write, got %d", len(writes))
	}
	if writes[0].body["value"] != "" {
		t.Errorf("Expected Unassigned normalised to empty, got %q", writes[0].body["value"])
	}

	// Cold store patched after confirmed write
	rows, err := env.db.GetFlexiData("flexi_9", "123", "t1")
	if err != nil || len(rows) != 1 {
		t.Fatalf("Expected patched row, got %v / %v", rows, err)
	}
	if rows[0].Fields["f_1"] != "" {
		t.Errorf("Expected cleared stored value, got %q", rows[0].Fields["f_1"])
	}
}

func TestClearSignInDataOrderAndSentinels(t *testing.T) {
	env := newTestService(t, ok)

	result, err := env.service.ClearSignInData(context.Background(), testContext(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("ClearSignInData failed: %v", err)
	}
	if !result.FullySuccessful() {
		t.Errorf("Expected full success, got %+v", result.Outcomes)
	}

	writes := env.captured()
	if len(writes) != 4 {
		t.Fatalf("Expected 4 bulk updates, got %d", len(writes))
	}

	wantColumns := []string{"f_1", "f_2", "f_3", "f_4"}
	wantValues := []string{ClearedString, ClearedTime, ClearedString, ClearedTime}
	for i, w := range writes {
		if w.path != "/multi-update-flexi-record" {
			t.Errorf("Write %d: unexpected path %s", i, w.path)
		}
		if w.body["columnid"] != wantColumns[i] {
			t.Errorf("Write %d: expected column %s, got %v", i, wantColumns[i], w.body["columnid"])
		}
		if w.body["value"] != wantValues[i] {
			t.Errorf("Write %d: expected value %q, got %q", i, wantValues[i], w.body["value"])
		}
		scouts, _ := w.body["scouts"].([]any)
		if len(scouts) != 3 {
			t.Errorf("Write %d: expected 3 scouts, got %v", i, w.body["scouts"])
		}
	}
}

func TestClearSignInDataRetriesThroughRateLimit(t *testing.T) {
	env := newTestService(t, func(n int, w http.ResponseWriter) {
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"wait 1 seconds"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	result, err := env.service.ClearSignInData(context.Background(), testContext(), []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("ClearSignInData failed: %v", err)
	}
	if !result.FullySuccessful() {
		t.Fatalf("Expected full success after retry, got %+v", result.Outcomes)
	}
	if result.Succeeded() != 4 {
		t.Errorf("Expected 4 cleared fields, got %d", result.Succeeded())
	}

	// The rate-limited first field was retried, so five calls total
	if got := len(env.captured()); got != 5 {
		t.Errorf("Expected 5 upstream calls, got %d", got)
	}
}

func TestClearSignInDataPartialSuccess(t *testing.T) {
	// The third field's write fails; application failures are not retried
	env := newTestService(t, func(n int, w http.ResponseWriter) {
		if n == 3 {
			w.Write([]byte(`{"ok":false,"error":"Something went wrong"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})

	result, err := env.service.ClearSignInData(context.Background(), testContext(), []string{"1"})
	if err != nil {
		t.Fatalf("ClearSignInData failed: %v", err)
	}
	if result.FullySuccessful() {
		t.Error("Expected partial result, got full success")
	}
	if !result.PartiallySuccessful() {
		t.Errorf("Expected partial success, got %+v", result.Outcomes)
	}
}

func TestClearSignInDataMissingFieldReported(t *testing.T) {
	env := newTestService(t, ok)

	fctx := testContext()
	delete(fctx.FieldIDs, flexi.FieldSignedOutWhen)

	result, err := env.service.ClearSignInData(context.Background(), fctx, []string{"1"})
	if err != nil {
		t.Fatalf("ClearSignInData failed: %v", err)
	}
	if result.FullySuccessful() || !result.PartiallySuccessful() {
		t.Errorf("Expected partial success, got %+v", result.Outcomes)
	}
	last := result.Outcomes[len(result.Outcomes)-1]
	if !apperr.Is(last.Err, apperr.KindMissingFields) {
		t.Errorf("Expected missing-field outcome, got %v", last.Err)
	}
}

func TestExpiredTokenFailsFastWithoutUpstreamCall(t *testing.T) {
	env := newTestService(t, ok)
	env.gate.MarkExpired()

	err := env.service.UpdateField(context.Background(), "123", "m1", "flexi_9", "f_1", "x", "t1")
	if !apperr.Is(err, apperr.KindAuthExpired) {
		t.Fatalf("Expected auth expired, got %v", err)
	}
	if len(env.captured()) != 0 {
		t.Error("Expected no upstream call with expired token")
	}
}

func TestDemoModeWritesPatchCacheOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Unexpected upstream request in demo mode")
	}))
	defer server.Close()

	db, err := storage.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	gate := auth.NewGate(true, nil)
	service := NewService(db, osm.NewClient(server.URL, gate, queue.New(queue.Config{})), gate)

	// Seed the demo cache with one row
	key := storage.Key(true, storage.CategoryFlexiData, "flexi_9", "123", "t1")
	if err := db.CachePut(key, json.RawMessage(`[{"scoutid":"m1","f_1":"Group 1"}]`)); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}

	if err := service.UpdateField(context.Background(), "123", "m1", "flexi_9", "f_1", "Group 2", "t1"); err != nil {
		t.Fatalf("UpdateField failed: %v", err)
	}

	entry, err := db.CacheGet(key)
	if err != nil || entry == nil {
		t.Fatalf("Expected cache entry, got %v / %v", entry, err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(entry.Payload, &rows); err != nil {
		t.Fatalf("Failed to decode patched payload: %v", err)
	}
	if rows[0]["f_1"] != "Group 2" {
		t.Errorf("Expected patched demo cache, got %v", rows[0])
	}
}
