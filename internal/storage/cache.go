package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"vikings-osm-sync/internal/metrics"
)

// Category identifies a hot-tier cache family. Each category carries its
// own TTL; a zero TTL means "refresh whenever online, fall back otherwise".
type Category string

const (
	CategoryFlexiList        Category = "lists"
	CategoryFlexiStructure   Category = "structure"
	CategoryFlexiData        Category = "data"
	CategoryEvents           Category = "events"
	CategoryAttendance       Category = "attendance"
	CategorySharedAttendance Category = "sharedAttendance"
	CategoryMembers          Category = "members"
	CategoryTerms            Category = "terms"
	CategoryRoles            Category = "roles"
	CategoryStartup          Category = "startup"
)

// TTLs holds the per-category freshness windows.
type TTLs struct {
	FlexiList      time.Duration
	FlexiStructure time.Duration
	FlexiData      time.Duration
	Events         time.Duration
}

// DefaultTTLs are the shipped freshness windows. Structures live an order
// of magnitude longer than data.
func DefaultTTLs() TTLs {
	return TTLs{
		FlexiList:      30 * time.Minute,
		FlexiStructure: 60 * time.Minute,
		FlexiData:      5 * time.Minute,
		Events:         5 * time.Minute,
	}
}

// For returns the TTL for a category. Attendance and reference data are
// refreshed opportunistically, so their TTL is zero.
func (t TTLs) For(category Category) time.Duration {
	switch category {
	case CategoryFlexiList:
		return t.FlexiList
	case CategoryFlexiStructure:
		return t.FlexiStructure
	case CategoryFlexiData:
		return t.FlexiData
	case CategoryEvents:
		return t.Events
	default:
		return 0
	}
}

// Key builds a hot-tier cache key: viking_<category>_<ids>_offline, with a
// demo_ prefix in demo mode.
func Key(demo bool, category Category, ids ...string) string {
	parts := append([]string{"viking", string(category)}, ids...)
	key := strings.Join(parts, "_") + "_offline"
	if demo {
		key = "demo_" + key
	}
	return key
}

// CacheEntry is one hot-tier blob.
type CacheEntry struct {
	Key       string
	Payload   json.RawMessage
	Timestamp time.Time
}

// Age returns how long ago the entry was stamped.
func (e *CacheEntry) Age() time.Duration {
	return time.Since(e.Timestamp)
}

// Fresh reports whether the entry is within ttl. A zero ttl is never fresh:
// those categories are always refreshed when the network allows.
func (e *CacheEntry) Fresh(ttl time.Duration) bool {
	return ttl > 0 && e.Age() <= ttl
}

// CacheGet retrieves a hot-tier entry. Returns nil, nil when the key is
// absent; cache reads never fail on missing data.
func (db *DB) CacheGet(key string) (*CacheEntry, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCacheGet))
	defer timer.ObserveDuration()

	var payload string
	var stampMs int64
	err := db.conn.QueryRow(`
		SELECT payload, cache_timestamp FROM cache_entries WHERE key = ?
	`, key).Scan(&payload, &stampMs)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCacheGet).Inc()
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	return &CacheEntry{
		Key:       key,
		Payload:   json.RawMessage(payload),
		Timestamp: time.UnixMilli(stampMs),
	}, nil
}

// CachePut stores a hot-tier entry, stamping it with the current time. When
// the payload is a JSON object a _cacheTimestamp field is injected so
// consumers that round-trip the blob keep the stamp.
func (db *DB) CachePut(key string, payload json.RawMessage) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCachePut))
	defer timer.ObserveDuration()

	now := time.Now()
	stamped := stampPayload(payload, now)

	_, err := db.conn.Exec(`
		INSERT INTO cache_entries (key, payload, cache_timestamp)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload,
		                               cache_timestamp = excluded.cache_timestamp
	`, key, string(stamped), now.UnixMilli())

	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCachePut).Inc()
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// stampPayload injects _cacheTimestamp into JSON objects. Arrays and
// scalars are stored untouched; the column timestamp still covers them.
func stampPayload(payload json.RawMessage, now time.Time) json.RawMessage {
	trimmed := strings.TrimLeft(string(payload), " \t\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return payload
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return payload
	}
	obj["_cacheTimestamp"] = json.RawMessage(fmt.Sprintf("%d", now.UnixMilli()))

	stamped, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return stamped
}

// CacheDelete removes one hot-tier entry.
func (db *DB) CacheDelete(key string) error {
	_, err := db.conn.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// ClearAllCaches removes every hot-tier entry, demo rows included.
func (db *DB) ClearAllCaches() error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCacheClear))
	defer timer.ObserveDuration()

	_, err := db.conn.Exec(`DELETE FROM cache_entries`)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCacheClear).Inc()
		return fmt.Errorf("failed to clear caches: %w", err)
	}
	return nil
}

// CacheKeys lists hot-tier keys with the given prefix, newest first.
func (db *DB) CacheKeys(prefix string) ([]CacheEntry, error) {
	rows, err := db.conn.Query(`
		SELECT key, payload, cache_timestamp FROM cache_entries
		WHERE key LIKE ? || '%'
		ORDER BY cache_timestamp DESC
	`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()

	var entries []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var payload string
		var stampMs int64
		if err := rows.Scan(&e.Key, &payload, &stampMs); err != nil {
			return nil, fmt.Errorf("failed to scan cache key: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		e.Timestamp = time.UnixMilli(stampMs)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
