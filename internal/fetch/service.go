// Package fetch implements the per-resource read paths.
//
// Every read runs the same offline-first protocol: demo mode and missing
// tokens are served from cache, offline and breaker-tripped states are
// served from cache, fresh cache short-circuits the network, and an
// upstream failure falls back to whatever stale copy exists before giving
// up. Successful fetches overwrite the hot cache and feed the normalised
// cold store as a side effect.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/metrics"
	"vikings-osm-sync/internal/network"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

// Service owns the read paths for every upstream resource.
type Service struct {
	db      *storage.DB
	client  *osm.Client
	gate    *auth.Gate
	monitor *network.Monitor
	ttls    storage.TTLs
	logger  *slog.Logger
}

// NewService creates the fetch service.
func NewService(db *storage.DB, client *osm.Client, gate *auth.Gate, monitor *network.Monitor, ttls storage.TTLs) *Service {
	return &Service{
		db:      db,
		client:  client,
		gate:    gate,
		monitor: monitor,
		ttls:    ttls,
		logger:  slog.Default(),
	}
}

var (
	emptyList   = json.RawMessage(`[]`)
	emptyObject = json.RawMessage(`{}`)
)

// upstreamFunc performs the network fetch and returns the payload to cache.
type upstreamFunc func(ctx context.Context) (json.RawMessage, error)

// readThrough runs the read protocol for one cache key. The empty payload
// is served when nothing is cached and the network cannot be used.
func (s *Service) readThrough(ctx context.Context, category storage.Category, key string, forceRefresh bool, empty json.RawMessage, upstream upstreamFunc) (json.RawMessage, error) {
	mcat := metricCategory(category)

	serveCache := func(outcome string) (json.RawMessage, error) {
		entry, err := s.db.CacheGet(key)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInvalidData, "failed to read cache", err)
		}
		if entry == nil {
			metrics.CacheReadsTotal.WithLabelValues(mcat, metrics.CacheMiss).Inc()
			return empty, nil
		}
		metrics.CacheReadsTotal.WithLabelValues(mcat, outcome).Inc()
		return entry.Payload, nil
	}

	switch {
	case s.gate.DemoMode():
		return serveCache(metrics.CacheDemo)
	case !s.gate.HasUsableToken():
		return serveCache(metrics.CacheHit)
	case !s.monitor.IsOnline(ctx):
		return serveCache(metrics.CacheHit)
	case s.gate.BreakerTripped():
		return serveCache(metrics.CacheHit)
	}

	if !forceRefresh {
		entry, err := s.db.CacheGet(key)
		if err == nil && entry != nil && entry.Fresh(s.ttls.For(category)) {
			metrics.CacheReadsTotal.WithLabelValues(mcat, metrics.CacheHit).Inc()
			return entry.Payload, nil
		}
	}

	payload, err := upstream(ctx)
	if err == nil {
		if perr := s.db.CachePut(key, payload); perr != nil {
			s.logger.Warn("Failed to write cache", "key", key, "error", perr)
		}
		metrics.CacheWritesTotal.WithLabelValues(mcat).Inc()
		return payload, nil
	}

	entry, cerr := s.db.CacheGet(key)
	if cerr == nil && entry != nil {
		s.logger.Warn("Upstream fetch failed, serving stale cache",
			"key", key, "age", entry.Age().Round(time.Second), "error", err)
		metrics.CacheReadsTotal.WithLabelValues(mcat, metrics.CacheStaleFallback).Inc()
		return entry.Payload, nil
	}
	return nil, err
}

// metricCategory maps a storage cache category to its metrics label.
func metricCategory(category storage.Category) string {
	switch category {
	case storage.CategoryFlexiList:
		return metrics.CategoryFlexiList
	case storage.CategoryFlexiStructure:
		return metrics.CategoryFlexiStructure
	case storage.CategoryFlexiData:
		return metrics.CategoryFlexiData
	case storage.CategoryEvents:
		return metrics.CategoryEvents
	case storage.CategoryAttendance:
		return metrics.CategoryAttendance
	case storage.CategorySharedAttendance:
		return metrics.CategorySharedAttendance
	case storage.CategoryMembers:
		return metrics.CategoryMembers
	case storage.CategoryTerms:
		return metrics.CategoryTerms
	case storage.CategoryRoles:
		return metrics.CategoryRoles
	case storage.CategoryStartup:
		return metrics.CategoryStartup
	default:
		return string(category)
	}
}

// CanonicalID normalises an identifier to a string, rejecting the junk
// values that leak out of upstream payloads and UI form state.
func CanonicalID(v any) (string, error) {
	var s string
	switch t := v.(type) {
	case string:
		s = strings.TrimSpace(t)
	case json.Number:
		s = t.String()
	case int:
		s = strconv.Itoa(t)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		s = strings.TrimSpace(t.String())
	default:
		return "", apperr.Newf(apperr.KindInvalidData, "identifier has unsupported type %T", v)
	}

	switch strings.ToLower(s) {
	case "", "undefined", "null":
		return "", apperr.Newf(apperr.KindInvalidData, "invalid identifier %q", s)
	}
	return s, nil
}

// marshalPayload encodes a fetched value for the hot cache.
func marshalPayload(v any) (json.RawMessage, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidData, "failed to encode payload", err)
	}
	return payload, nil
}

// decodeList decodes a cached or fresh list payload.
func decodeList[T any](payload json.RawMessage) ([]T, error) {
	var out []T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidData, "failed to decode payload", err)
	}
	return out, nil
}
