// Package orchestrator runs the post-auth sync cascade.
//
// Four steps run in order, each feeding the next: reference data, events
// per section, attendance per event, FlexiRecord lists and Viking-named
// structures. A failing step is recorded and the cascade moves on; only a
// reference step with zero usable sections stops it early. Concurrent
// calls coalesce onto the in-flight run.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"vikings-osm-sync/internal/apperr"
	"vikings-osm-sync/internal/fetch"
	"vikings-osm-sync/internal/flexi"
	"vikings-osm-sync/internal/metrics"
	"vikings-osm-sync/internal/osm"
)

// StepError is one recorded step-level failure.
type StepError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Friendly string `json:"friendly"`
}

// Summary is the result of one cascade.
type Summary struct {
	Success    bool          `json:"success"`
	HasErrors  bool          `json:"hasErrors"`
	Errors     []StepError   `json:"errors"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Sections   int           `json:"sections"`
	Events     int           `json:"events"`
	Duration   time.Duration `json:"duration"`
}

// Orchestrator coordinates the cascade.
type Orchestrator struct {
	fetcher *fetch.Service
	logger  *slog.Logger

	mu      sync.Mutex
	current *run
}

type run struct {
	done    chan struct{}
	summary *Summary
	err     error
}

// New creates an orchestrator over the fetch service.
func New(fetcher *fetch.Service) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		logger:  slog.Default(),
	}
}

// Sync runs the cascade, or joins the one already in progress. Joined
// callers get the same summary as the caller that started the run.
func (o *Orchestrator) Sync(ctx context.Context) (*Summary, error) {
	o.mu.Lock()
	if o.current != nil {
		r := o.current
		o.mu.Unlock()
		select {
		case <-r.done:
			return r.summary, r.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r := &run{done: make(chan struct{})}
	o.current = r
	o.mu.Unlock()

	r.summary, r.err = o.runCascade(ctx)

	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
	close(r.done)

	return r.summary, r.err
}

func (o *Orchestrator) runCascade(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	record := func(category string, err error) {
		summary.Errors = append(summary.Errors, StepError{
			Category: category,
			Message:  err.Error(),
			Friendly: apperr.FriendlyMessage(err),
		})
		metrics.SyncStepErrorsTotal.WithLabelValues(category).Inc()
		o.logger.Warn("Sync step failed", "category", category, "error", err)
	}

	finish := func() (*Summary, error) {
		summary.HasErrors = len(summary.Errors) > 0
		summary.Duration = time.Since(start)
		metrics.SyncDuration.Observe(summary.Duration.Seconds())
		result := metrics.ResultSuccess
		if !summary.Success {
			result = metrics.ResultFailure
		}
		metrics.SyncRunsTotal.WithLabelValues(result).Inc()
		o.logger.Info("Sync finished",
			"success", summary.Success,
			"successfulSteps", summary.Successful,
			"failedSteps", summary.Failed,
			"errors", len(summary.Errors),
			"duration", summary.Duration.Round(time.Millisecond))
		return summary, nil
	}

	// Step 1: reference data
	roles, terms, refErr := o.syncReference(ctx)
	if refErr != nil {
		record(metrics.StepReference, refErr)
		summary.Failed++
		summary.Success = false
		return finish()
	}
	summary.Successful++
	summary.Success = true
	summary.Sections = len(roles)

	if len(roles) == 0 {
		o.logger.Info("No accessible sections, nothing to sync")
		return finish()
	}

	// Step 2: events per section
	events, eventsErr := o.syncEvents(ctx, roles, terms)
	if eventsErr != nil {
		record(metrics.StepEvents, eventsErr)
		summary.Failed++
	} else {
		summary.Successful++
	}
	summary.Events = len(events)

	// Step 3: attendance per event. No events means nothing to do, which
	// counts as success.
	if len(events) == 0 {
		summary.Successful++
	} else if attErr := o.syncAttendance(ctx, events); attErr != nil {
		record(metrics.StepAttendance, attErr)
		summary.Failed++
	} else {
		summary.Successful++
	}

	// Step 4: FlexiRecord lists, Viking-named structures and sign-in data
	if flexiErr := o.syncFlexiRecords(ctx, roles, terms); flexiErr != nil {
		record(metrics.StepFlexiRecord, flexiErr)
		summary.Failed++
	} else {
		summary.Successful++
	}

	return finish()
}

// syncReference refreshes terms, roles, the startup blob and the member
// directory. Each is attempted independently; the step fails only when
// none succeed.
func (o *Orchestrator) syncReference(ctx context.Context) ([]osm.Role, map[string][]osm.Term, error) {
	successes := 0
	var firstErr error
	note := func(err error) {
		if err == nil {
			successes++
			return
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	terms, err := o.fetcher.Terms(ctx, true)
	note(err)

	roles, err := o.fetcher.Sections(ctx, true)
	note(err)

	_, err = o.fetcher.StartupData(ctx, true)
	note(err)

	if len(roles) > 0 {
		sectionIDs := make([]string, 0, len(roles))
		for _, role := range roles {
			sectionIDs = append(sectionIDs, role.SectionID.String())
		}
		_, err = o.fetcher.Members(ctx, sectionIDs, true)
		note(err)
	}

	if successes == 0 {
		return nil, nil, firstErr
	}
	return roles, terms, nil
}

// syncEvents refreshes events for every section's most recent term and
// returns the combined set.
func (o *Orchestrator) syncEvents(ctx context.Context, roles []osm.Role, terms map[string][]osm.Term) ([]osm.Event, error) {
	var all []osm.Event
	var firstErr error
	attempted := false

	for _, role := range roles {
		sectionID := role.SectionID.String()
		term := fetch.MostRecentTerm(terms[sectionID])
		if term == nil {
			continue
		}
		attempted = true

		events, err := o.fetcher.Events(ctx, sectionID, term.TermID.String(), true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		all = append(all, events...)
	}

	if attempted && len(all) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// syncAttendance refreshes attendance for every event.
func (o *Orchestrator) syncAttendance(ctx context.Context, events []osm.Event) error {
	var firstErr error
	failures := 0

	for _, event := range events {
		_, err := o.fetcher.Attendance(ctx,
			event.SectionID.String(), event.TermID.String(), event.EventID.String(), true)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if failures == len(events) && firstErr != nil {
		return firstErr
	}
	return nil
}

// syncFlexiRecords refreshes each section's record list and the structures
// of its Viking-named records.
func (o *Orchestrator) syncFlexiRecords(ctx context.Context, roles []osm.Role, terms map[string][]osm.Term) error {
	var firstErr error
	successes := 0
	attempted := 0

	for _, role := range roles {
		sectionID := role.SectionID.String()
		term := fetch.MostRecentTerm(terms[sectionID])
		if term == nil {
			continue
		}
		attempted++

		entries, err := o.fetcher.FlexiRecordList(ctx, sectionID, true)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		successes++

		for _, entry := range entries {
			if !flexi.IsVikingEventMgmt(entry.Name) && !flexi.IsVikingSectionMovers(entry.Name) {
				continue
			}
			raw, err := o.fetcher.FlexiStructure(ctx,
				entry.ExtraID.String(), sectionID, term.TermID.String(), true)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}

			// Event-management records also feed the denormalised
			// sign-in store
			if flexi.IsVikingEventMgmt(entry.Name) {
				if err := o.syncVikingEventData(ctx, entry, raw, role, term); err != nil && firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if attempted > 0 && successes == 0 && firstErr != nil {
		return firstErr
	}
	return nil
}

// syncVikingEventData resolves the record's context from its structure and
// refreshes its rows. A schema missing the required fields is skipped, not
// failed: ExtractContext already logged why.
func (o *Orchestrator) syncVikingEventData(ctx context.Context, entry osm.FlexiRecordListEntry, structure json.RawMessage, role osm.Role, term *osm.Term) error {
	mapping, err := flexi.ParseStructure(structure)
	if err != nil {
		return err
	}

	fctx := flexi.ExtractContext(entry.ExtraID.String(), mapping,
		role.SectionID.String(), term.TermID.String(), role.SectionName,
		flexi.VikingEventRequiredFields, flexi.VikingEventOptionalFields)
	if fctx == nil {
		return nil
	}

	_, err = o.fetcher.VikingEventData(ctx, fctx, true)
	return err
}
