package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/mutate"
	"vikings-osm-sync/internal/network"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/queue"
	"vikings-osm-sync/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHandleStatus(t *testing.T) {
	db := openTestDB(t)
	gate := auth.NewGate(false, nil)
	gate.SetToken("test-token")
	q := queue.New(queue.Config{})
	monitor := network.NewMonitor(network.ProberFunc(func(ctx context.Context) bool {
		return true
	}), 0)

	h := NewStatusHandler(db, gate, q, monitor)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Authenticated || resp.TokenExpired || resp.BreakerTripped {
		t.Errorf("Unexpected session state: %+v", resp)
	}
	if !resp.Online {
		t.Error("Expected online")
	}
	if resp.Queue.Length != 0 || resp.Queue.RateLimited {
		t.Errorf("Unexpected queue state: %+v", resp.Queue)
	}
}

func TestHandleStatusMethodNotAllowed(t *testing.T) {
	h := NewStatusHandler(openTestDB(t), auth.NewGate(false, nil), queue.New(queue.Config{}),
		network.NewMonitor(network.ProberFunc(func(ctx context.Context) bool { return false }), 0))

	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	db := openTestDB(t)
	h := NewStatusHandler(db, auth.NewGate(false, nil), queue.New(queue.Config{}),
		network.NewMonitor(network.ProberFunc(func(ctx context.Context) bool { return true }), 0))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("Expected ok, got %q", resp["status"])
	}
}

func TestHandleClearCaches(t *testing.T) {
	db := openTestDB(t)
	if err := db.CachePut(storage.Key(false, storage.CategoryEvents, "1"), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}

	h := NewSyncHandler(nil, db, queue.New(queue.Config{}))

	req := httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	rec := httptest.NewRecorder()
	h.HandleClearCaches(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	entry, err := db.CacheGet(storage.Key(false, storage.CategoryEvents, "1"))
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if entry != nil {
		t.Error("Expected cache cleared")
	}
}

// newFlexiHandler builds the write path around a gate. The client never
// reaches the network in these tests: demo mode and missing tokens both
// short-circuit before it.
func newFlexiHandler(t *testing.T, db *storage.DB, gate *auth.Gate) *FlexiHandler {
	t.Helper()
	client := osm.NewClient("http://127.0.0.1:0", gate, queue.New(queue.Config{}))
	return NewFlexiHandler(mutate.NewService(db, client, gate))
}

func TestHandleFlexiUpdateDemoModePatchesStore(t *testing.T) {
	db := openTestDB(t)
	h := newFlexiHandler(t, db, auth.NewGate(true, nil))

	body := `{"sectionId":"1","memberId":"m1","flexiRecordId":"flexi_9","fieldId":"f_1","value":"Group 2","termId":"t1"}`
	req := httptest.NewRequest(http.MethodPost, "/flexi/update", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rows, err := db.GetFlexiData("flexi_9", "1", "t1")
	if err != nil {
		t.Fatalf("GetFlexiData failed: %v", err)
	}
	if len(rows) != 1 || rows[0].Fields["f_1"] != "Group 2" {
		t.Errorf("Expected patched row, got %+v", rows)
	}
}

func TestHandleFlexiUpdateExpiredSessionRejected(t *testing.T) {
	h := newFlexiHandler(t, openTestDB(t), auth.NewGate(false, nil))

	body := `{"sectionId":"1","memberId":"m1","flexiRecordId":"flexi_9","fieldId":"f_1","value":"x","termId":"t1"}`
	req := httptest.NewRequest(http.MethodPost, "/flexi/update", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestHandleFlexiUpdateBadRequest(t *testing.T) {
	h := newFlexiHandler(t, openTestDB(t), auth.NewGate(true, nil))

	req := httptest.NewRequest(http.MethodPost, "/flexi/update", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad body, got %d", rec.Code)
	}

	// Blank ids never reach the upstream either
	body := `{"sectionId":"","memberId":"m1","flexiRecordId":"flexi_9","fieldId":"f_1","value":"x","termId":"t1"}`
	req = httptest.NewRequest(http.MethodPost, "/flexi/update", strings.NewReader(body))
	rec = httptest.NewRecorder()
	h.HandleUpdate(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for blank id, got %d", rec.Code)
	}
}

func TestHandleFlexiUpdateMethodNotAllowed(t *testing.T) {
	h := newFlexiHandler(t, openTestDB(t), auth.NewGate(true, nil))

	req := httptest.NewRequest(http.MethodGet, "/flexi/update", nil)
	rec := httptest.NewRecorder()
	h.HandleUpdate(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestHandleSyncMethodNotAllowed(t *testing.T) {
	h := NewSyncHandler(nil, openTestDB(t), queue.New(queue.Config{}))

	req := httptest.NewRequest(http.MethodGet, "/sync", nil)
	rec := httptest.NewRecorder()
	h.HandleSync(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
