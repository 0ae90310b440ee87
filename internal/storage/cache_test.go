package storage

import (
	"encoding/json"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKeyScheme(t *testing.T) {
	got := Key(false, CategoryFlexiData, "flexi_9", "1", "t1")
	want := "viking_data_flexi_9_1_t1_offline"
	if got != want {
		t.Errorf("Key() = %s, want %s", got, want)
	}

	demo := Key(true, CategoryEvents, "123")
	if demo != "demo_viking_events_123_offline" {
		t.Errorf("Demo key = %s", demo)
	}
}

func TestCachePutGet(t *testing.T) {
	db := openTestDB(t)

	key := Key(false, CategoryEvents, "123")
	payload := json.RawMessage(`{"items":[{"eventid":"9"}]}`)

	before := time.Now()
	if err := db.CachePut(key, payload); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}

	entry, err := db.CacheGet(key)
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if entry == nil {
		t.Fatal("Expected cache entry")
	}

	// Timestamp stamped at write time, never in the future
	if entry.Timestamp.Before(before.Add(-time.Second)) || entry.Timestamp.After(time.Now()) {
		t.Errorf("Cache timestamp out of range: %v", entry.Timestamp)
	}

	// Object payloads carry an injected _cacheTimestamp
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(entry.Payload, &obj); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	if _, ok := obj["_cacheTimestamp"]; !ok {
		t.Error("Expected _cacheTimestamp injected into object payload")
	}
	if _, ok := obj["items"]; !ok {
		t.Error("Expected original payload preserved")
	}
}

func TestCacheGetMissingReturnsNil(t *testing.T) {
	db := openTestDB(t)

	entry, err := db.CacheGet("viking_events_unknown_offline")
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if entry != nil {
		t.Error("Expected nil for missing key")
	}
}

func TestCacheArrayPayloadNotMangled(t *testing.T) {
	db := openTestDB(t)

	key := Key(false, CategoryTerms)
	payload := json.RawMessage(`[{"termid":"t1"}]`)
	if err := db.CachePut(key, payload); err != nil {
		t.Fatalf("CachePut failed: %v", err)
	}

	entry, err := db.CacheGet(key)
	if err != nil {
		t.Fatalf("CacheGet failed: %v", err)
	}
	if string(entry.Payload) != string(payload) {
		t.Errorf("Array payload changed: %s", entry.Payload)
	}
}

func TestCacheFreshness(t *testing.T) {
	e := &CacheEntry{Timestamp: time.Now().Add(-2 * time.Minute)}

	if !e.Fresh(5 * time.Minute) {
		t.Error("Expected entry stamped 2m ago to be fresh within 5m TTL")
	}
	if e.Fresh(time.Minute) {
		t.Error("Expected entry stamped 2m ago to be stale within 1m TTL")
	}
	// Zero TTL categories are always refreshed opportunistically
	if e.Fresh(0) {
		t.Error("Expected zero TTL never fresh")
	}
}

func TestClearAllCaches(t *testing.T) {
	db := openTestDB(t)

	db.CachePut(Key(false, CategoryEvents, "1"), json.RawMessage(`{}`))
	db.CachePut(Key(true, CategoryEvents, "1"), json.RawMessage(`{}`))

	if err := db.ClearAllCaches(); err != nil {
		t.Fatalf("ClearAllCaches failed: %v", err)
	}

	for _, key := range []string{Key(false, CategoryEvents, "1"), Key(true, CategoryEvents, "1")} {
		entry, err := db.CacheGet(key)
		if err != nil {
			t.Fatalf("CacheGet failed: %v", err)
		}
		if entry != nil {
			t.Errorf("Expected %s cleared", key)
		}
	}
}

func TestCacheKeys(t *testing.T) {
	db := openTestDB(t)

	db.CachePut("viking_events_1_offline", json.RawMessage(`{}`))
	db.CachePut("viking_events_2_offline", json.RawMessage(`{}`))
	db.CachePut("demo_viking_events_3_offline", json.RawMessage(`{}`))

	entries, err := db.CacheKeys("viking_")
	if err != nil {
		t.Fatalf("CacheKeys failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 non-demo keys, got %d", len(entries))
	}
	for _, e := range entries {
		if len(e.Payload) == 0 {
			t.Errorf("Expected payload on %s", e.Key)
		}
	}
}

func TestTTLDefaults(t *testing.T) {
	ttls := DefaultTTLs()

	if ttls.For(CategoryFlexiList) != 30*time.Minute {
		t.Errorf("Expected 30m list TTL, got %v", ttls.For(CategoryFlexiList))
	}
	if ttls.For(CategoryFlexiStructure) != 60*time.Minute {
		t.Errorf("Expected 60m structure TTL, got %v", ttls.For(CategoryFlexiStructure))
	}
	if ttls.For(CategoryFlexiData) != 5*time.Minute {
		t.Errorf("Expected 5m data TTL, got %v", ttls.For(CategoryFlexiData))
	}
	if ttls.For(CategoryEvents) != 5*time.Minute {
		t.Errorf("Expected 5m events TTL, got %v", ttls.For(CategoryEvents))
	}
	if ttls.For(CategoryAttendance) != 0 || ttls.For(CategoryMembers) != 0 {
		t.Error("Expected zero TTL for attendance and reference data")
	}
}
