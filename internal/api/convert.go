package api

import (
	"errors"
	"sort"
	"strings"
	"time"

	"l10nboard/internal/flags"
	"l10nboard/internal/ingest"
	"l10nboard/internal/pushview"
	"l10nboard/internal/services"
	"l10nboard/internal/signoff"
	"l10nboard/internal/store"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime accepts RFC3339 timestamps with or without fractional seconds.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, services.Wrap(services.ErrValidation, "api", "parse time", "expected RFC3339 timestamp", err)
	}
	return t.UTC(), nil
}

// FromStats converts store counts.
func FromStats(stats store.Stats) StoreStats {
	return StoreStats{
		Repositories: stats.Repositories,
		Changesets:   stats.Changesets,
		Pushes:       stats.Pushes,
		Signoffs:     stats.Signoffs,
		Actions:      stats.Actions,
		Runs:         stats.Runs,
	}
}

// ToPushRecords validates wire push records.
func ToPushRecords(records []PushRecord) ([]ingest.PushRecord, error) {
	out := make([]ingest.PushRecord, 0, len(records))
	for _, rec := range records {
		if rec.PushID <= 0 {
			return nil, services.Wrap(services.ErrValidation, "api", "push record", "pushId must be positive", nil)
		}
		date, err := ParseTime(rec.Date)
		if err != nil {
			return nil, err
		}
		revisions := make([]string, 0, len(rec.Revisions))
		for _, rev := range rec.Revisions {
			if rev = strings.TrimSpace(rev); rev != "" {
				revisions = append(revisions, rev)
			}
		}
		out = append(out, ingest.PushRecord{PushID: rec.PushID, Date: date, User: rec.User, Revisions: revisions})
	}
	return out, nil
}

// FromAction converts a store action.
func FromAction(action store.Action) Action {
	return Action{
		ID:        action.ID,
		Seq:       action.Seq,
		Flag:      action.Flag.String(),
		Author:    action.Author,
		CreatedAt: formatTime(action.CreatedAt),
		Comment:   action.Comment,
	}
}

// FromSignoffState converts a sign-off with its latest action.
func FromSignoffState(state store.SignoffState) Signoff {
	dto := Signoff{
		ID:           state.ID,
		PushID:       state.PushID,
		AppVersionID: state.AppVersionID,
		LocaleID:     state.LocaleID,
		Author:       state.Author,
		CreatedAt:    formatTime(state.CreatedAt),
		Status:       state.Status().String(),
	}
	if state.Latest != nil {
		latest := FromAction(*state.Latest)
		dto.Latest = &latest
	}
	return dto
}

// FromTransition converts a sign-off transition.
func FromTransition(tr *signoff.Transition) TransitionResponse {
	if tr == nil {
		return TransitionResponse{}
	}
	return TransitionResponse{
		SignoffID: tr.Signoff.ID,
		Previous:  tr.Previous.String(),
		Action:    FromAction(tr.Action),
		Canceled:  tr.Canceled,
	}
}

// FromRun converts a build run.
func FromRun(run store.Run) Run {
	return Run{
		ID:       run.ID,
		Revision: run.Revision,
		Errors:   run.Errors,
		Missing:  run.Missing,
		SrcTime:  formatTime(run.SrcTime),
		Active:   run.Active,
		Clean:    run.Clean(),
	}
}

// FromPage converts an annotated push page.
func FromPage(page *pushview.Page) PushPage {
	if page == nil {
		return PushPage{}
	}
	out := PushPage{
		Pushes:     make([]Push, 0, len(page.Pushes)),
		PushesLeft: page.PushesLeft,
		NextCursor: page.NextCursor,
	}
	for _, ap := range page.Pushes {
		dto := Push{
			ID:           ap.Push.ID,
			PushID:       ap.Push.PushID,
			RepositoryID: ap.Push.RepositoryID,
			Date:         formatTime(ap.Push.Date),
			Author:       ap.Push.Author,
			Changesets:   make([]Changeset, 0, len(ap.Changesets)),
			Suggest:      ap.Suggest,
			Fallback:     ap.Fallback,
		}
		for _, cs := range ap.Changesets {
			dto.Changesets = append(dto.Changesets, Changeset{
				Revision:    cs.Revision,
				Author:      cs.Author,
				Description: cs.Description,
				Branch:      cs.Branch,
			})
		}
		for _, st := range ap.Signoffs {
			dto.Signoffs = append(dto.Signoffs, FromSignoffState(st))
		}
		if ap.Run != nil {
			run := FromRun(*ap.Run)
			dto.Run = &run
		}
		out.Pushes = append(out.Pushes, dto)
	}
	return out
}

// FromResult converts resolver output for the given app versions, keeping
// their order. Locales are sorted by code.
func FromResult(result flags.Result, versions []store.AppVersion) FlagsResponse {
	out := FlagsResponse{AppVersions: make([]AppVersionFlags, 0, len(versions))}
	for _, av := range versions {
		locales := result[av.ID]
		codes := make([]string, 0, len(locales))
		for code := range locales {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		entry := AppVersionFlags{AppVersion: av.Code, Locales: make([]LocaleFlags, 0, len(codes))}
		for _, code := range codes {
			lf := locales[code]
			wire := make(map[string]int64, len(lf.Flags))
			for flag, actionID := range lf.Flags {
				wire[flag.String()] = actionID
			}
			entry.Locales = append(entry.Locales, LocaleFlags{
				Locale:     code,
				AppVersion: lf.AppVersion,
				Fallback:   lf.Fallback,
				Flags:      wire,
			})
		}
		out.AppVersions = append(out.AppVersions, entry)
	}
	return out
}

// ErrorKind names the marker carried by err for error payloads.
func ErrorKind(err error) string {
	markers := []struct {
		marker error
		kind   string
	}{
		{services.ErrNotFound, "not_found"},
		{services.ErrConflict, "conflict"},
		{services.ErrInvalidState, "invalid_state"},
		{services.ErrValidation, "validation"},
		{services.ErrConfiguration, "configuration"},
		{services.ErrVCS, "vcs"},
		{services.ErrTransient, "transient"},
	}
	for _, m := range markers {
		if errors.Is(err, m.marker) {
			return m.kind
		}
	}
	return "internal"
}
