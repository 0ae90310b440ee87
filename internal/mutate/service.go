// Package mutate implements the write paths for FlexiRecord fields.
//
// Writes go upstream first; only a confirmed success patches the local
// caches. A sticky auth failure makes every subsequent write fail fast. In
// demo mode writes never leave the device: they patch the demo-keyed cache
// and report the same success shape.
package mutate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/auth"
	"vikings-osm-sync/internal/fetch"
	"vikings-osm-sync/internal/flexi"
	"vikings-osm-sync/internal/osm"
	"vikings-osm-sync/internal/storage"
)

// Sentinels the upstream accepts as "cleared", depending on field kind.
const (
	ClearedString = "---"
	ClearedTime   = " "
)

// defaultClearGap separates the per-field bulk updates of a sign-in clear.
const defaultClearGap = 100 * time.Millisecond

// Service owns the FlexiRecord write paths.
type Service struct {
	db       *storage.DB
	client   *osm.Client
	gate     *auth.Gate
	logger   *slog.Logger
	clearGap time.Duration
}

// NewService creates the mutation service.
func NewService(db *storage.DB, client *osm.Client, gate *auth.Gate) *Service {
	return &Service{
		db:       db,
		client:   client,
		gate:     gate,
		logger:   slog.Default(),
		clearGap: defaultClearGap,
	}
}

// NormalizeValue canonicalises a field value for the upstream write.
// "Unassigned" is a UI placeholder, not a real value.
func NormalizeValue(value string) string {
	if value == "Unassigned" {
		return ""
	}
	return value
}

// UpdateField writes one field value for one member, then patches the
// local caches so reads see the new value without a refetch.
func (s *Service) UpdateField(ctx context.Context, sectionID, memberID, extraID, fieldID, value, termID string) error {
	sectionID, err := fetch.CanonicalID(sectionID)
	if err != nil {
		return err
	}
	memberID, err = fetch.CanonicalID(memberID)
	if err != nil {
		return err
	}
	extraID, err = fetch.CanonicalID(extraID)
	if err != nil {
		return err
	}
	termID, err = fetch.CanonicalID(termID)
	if err != nil {
		return err
	}

	value = NormalizeValue(value)

	if err := s.gate.CheckWritePermission(); err != nil {
		return err
	}
	if s.gate.DemoMode() {
		s.patchLocal(extraID, sectionID, termID, fieldID, value, memberID)
		return nil
	}

	if err := s.client.UpdateFlexiRecord(ctx, sectionID, memberID, extraID, fieldID, value, termID); err != nil {
		return err
	}
	s.patchLocal(extraID, sectionID, termID, fieldID, value, memberID)
	return nil
}

// BulkUpdateField writes one value to one field across many members in a
// single upstream call. Partial application upstream is treated as failure.
func (s *Service) BulkUpdateField(ctx context.Context, sectionID string, memberIDs []string, value, fieldID, extraID, termID string) error {
	sectionID, err := fetch.CanonicalID(sectionID)
	if err != nil {
		return err
	}
	extraID, err = fetch.CanonicalID(extraID)
	if err != nil {
		return err
	}
	canonical := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		c, err := fetch.CanonicalID(id)
		if err != nil {
			return err
		}
		canonical = append(canonical, c)
	}
	if len(canonical) == 0 {
		return apperr.New(apperr.KindInvalidData, "no members to update")
	}

	value = NormalizeValue(value)

	if err := s.gate.CheckWritePermission(); err != nil {
		return err
	}
	if s.gate.DemoMode() {
		s.patchLocal(extraID, sectionID, termID, fieldID, value, canonical...)
		return nil
	}

	if err := s.client.MultiUpdateFlexiRecord(ctx, sectionID, canonical, value, fieldID, extraID); err != nil {
		return err
	}
	s.patchLocal(extraID, sectionID, termID, fieldID, value, canonical...)
	return nil
}

// FieldOutcome reports one field of a sign-in clear.
type FieldOutcome struct {
	Field   string
	FieldID string
	Err     error
}

// ClearResult aggregates the per-field outcomes of a sign-in clear.
// Partial success is a distinct state: some fields cleared, some did not.
type ClearResult struct {
	Outcomes []FieldOutcome
}

// Succeeded counts cleared fields.
func (r *ClearResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// FullySuccessful reports whether every field cleared.
func (r *ClearResult) FullySuccessful() bool {
	return len(r.Outcomes) > 0 && r.Succeeded() == len(r.Outcomes)
}

// PartiallySuccessful reports whether some but not all fields cleared.
func (r *ClearResult) PartiallySuccessful() bool {
	n := r.Succeeded()
	return n > 0 && n < len(r.Outcomes)
}

// clearField pairs a named sign-in field with the sentinel its kind needs.
type clearField struct {
	name     string
	sentinel string
}

// Declared order matters: the upstream applies the writes in sequence and
// observers may see intermediate states.
var signInClearOrder = []clearField{
	{flexi.FieldSignedInBy, ClearedString},
	{flexi.FieldSignedInWhen, ClearedTime},
	{flexi.FieldSignedOutBy, ClearedString},
	{flexi.FieldSignedOutWhen, ClearedTime},
}

// ClearSignInData clears the four sign-in tracking fields for the given
// members, one bulk update per field, spaced out to stay under the rate
// limit. Fields the schema does not carry are reported as failed outcomes.
func (s *Service) ClearSignInData(ctx context.Context, fctx *flexi.Context, memberIDs []string) (*ClearResult, error) {
	if fctx == nil {
		return nil, apperr.New(apperr.KindInvalidData, "no record context")
	}
	if err := s.gate.CheckWritePermission(); err != nil {
		return nil, err
	}

	result := &ClearResult{}
	for i, field := range signInClearOrder {
		if i > 0 {
			select {
			case <-time.After(s.clearGap):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		fieldID, ok := fctx.FieldID(field.name)
		if !ok {
			result.Outcomes = append(result.Outcomes, FieldOutcome{
				Field: field.name,
				Err:   apperr.Newf(apperr.KindMissingFields, "schema has no %s field", field.name),
			})
			continue
		}

		err := s.BulkUpdateField(ctx, fctx.SectionID, memberIDs,
			field.sentinel, fieldID, fctx.RecordID, fctx.TermID)
		if err != nil {
			s.logger.Warn("Failed to clear sign-in field",
				"field", field.name, "record", fctx.RecordID, "error", err)
		}
		result.Outcomes = append(result.Outcomes, FieldOutcome{
			Field:   field.name,
			FieldID: fieldID,
			Err:     err,
		})
	}
	return result, nil
}

// patchLocal updates the cold store and the hot cache after a confirmed
// write. Failures here are logged, not surfaced: the upstream write
// already happened and the next refresh will converge.
func (s *Service) patchLocal(extraID, sectionID, termID, fieldID, value string, memberIDs ...string) {
	for _, memberID := range memberIDs {
		if err := s.db.UpdateFlexiField(extraID, sectionID, termID, memberID, fieldID, value); err != nil {
			s.logger.Warn("Failed to patch stored row", "member", memberID, "error", err)
		}
	}

	key := storage.Key(s.gate.DemoMode(), storage.CategoryFlexiData, extraID, sectionID, termID)
	entry, err := s.db.CacheGet(key)
	if err != nil || entry == nil {
		return
	}

	var rows []map[string]any
	if err := json.Unmarshal(entry.Payload, &rows); err != nil {
		s.logger.Warn("Failed to decode cached rows for patch", "key", key, "error", err)
		return
	}

	targets := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		targets[id] = true
	}
	for _, row := range rows {
		id, err := fetch.CanonicalID(row["scoutid"])
		if err != nil || !targets[id] {
			continue
		}
		row[fieldID] = value
	}

	payload, err := json.Marshal(rows)
	if err != nil {
		return
	}
	if err := s.db.CachePut(key, payload); err != nil {
		s.logger.Warn("Failed to patch cache", "key", key, "error", err)
	}
}
