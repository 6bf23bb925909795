package flags

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
)

// LocaleFlags is the effective state of one locale under one app version.
type LocaleFlags struct {
	// AppVersion is the code of the app version the flags were recorded on.
	AppVersion string
	// Flags maps each recorded flag to the action that set it.
	Flags map[store.Flag]int64
	// Fallback is true when the flags were inherited from a fallback.
	Fallback bool
}

// Result maps app version id to locale code to effective flags. Locales
// without any effective flag are omitted.
type Result map[int64]map[string]LocaleFlags

// Resolver computes effective flags.
type Resolver struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver constructs a resolver.
func NewResolver(st *store.Store, logger *slog.Logger) *Resolver {
	return &Resolver{store: st, logger: logging.NewComponentLogger(logger, "flags"), now: time.Now}
}

// Resolve returns the effective flags of appVersionIDs. With no locales, each
// app version uses the active locales of its current tree. upUntil, when
// set, ignores actions recorded after it.
func (r *Resolver) Resolve(ctx context.Context, appVersionIDs []int64, locales []string, upUntil *time.Time) (Result, error) {
	versions, order, err := r.closure(ctx, appVersionIDs)
	if err != nil {
		return nil, err
	}

	needed := make(map[int64]map[string]struct{}, len(versions))
	for _, id := range appVersionIDs {
		codes := locales
		if len(codes) == 0 {
			codes, err = r.activeLocales(ctx, id)
			if err != nil {
				return nil, err
			}
		}
		addLocales(needed, id, codes)
	}

	// Children before fallbacks: a fallback is queried once, for the union of
	// locales its dependents could not resolve themselves.
	own := make(map[int64]map[string]map[store.Flag]int64, len(versions))
	for _, id := range order {
		codes := sortedKeys(needed[id])
		flags, err := r.ownFlags(ctx, id, codes, upUntil)
		if err != nil {
			return nil, err
		}
		own[id] = flags
		fallbackID := versions[id].FallbackID
		if fallbackID == 0 {
			continue
		}
		var missing []string
		for _, code := range codes {
			if _, ok := flags[code]; !ok {
				missing = append(missing, code)
			}
		}
		addLocales(needed, fallbackID, missing)
	}

	effective := make(map[int64]map[string]LocaleFlags, len(versions))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		av := versions[id]
		out := make(map[string]LocaleFlags, len(needed[id]))
		for code, flags := range own[id] {
			out[code] = LocaleFlags{AppVersion: av.Code, Flags: flags}
		}
		if av.FallbackID != 0 {
			for code := range needed[id] {
				if _, ok := out[code]; ok {
					continue
				}
				inherited, ok := effective[av.FallbackID][code]
				if !ok {
					continue
				}
				actionID, accepted := inherited.Flags[store.FlagAccepted]
				if !accepted {
					continue
				}
				out[code] = LocaleFlags{
					AppVersion: inherited.AppVersion,
					Flags:      map[store.Flag]int64{store.FlagAccepted: actionID},
					Fallback:   true,
				}
			}
		}
		effective[id] = out
	}

	result := make(Result, len(appVersionIDs))
	for _, id := range appVersionIDs {
		result[id] = effective[id]
	}
	r.logger.Debug("resolved flags",
		logging.Int("app_versions", len(appVersionIDs)),
		logging.Int("closure", len(order)),
	)
	return result, nil
}

// closure loads the requested app versions and every fallback they reach, and
// returns them ordered so that each app version precedes its fallback.
func (r *Resolver) closure(ctx context.Context, ids []int64) (map[int64]store.AppVersion, []int64, error) {
	versions := make(map[int64]store.AppVersion)
	frontier := append([]int64(nil), ids...)
	for len(frontier) > 0 {
		found, err := r.store.AppVersionsByID(ctx, frontier)
		if err != nil {
			return nil, nil, err
		}
		for _, id := range frontier {
			if _, ok := found[id]; !ok {
				return nil, nil, services.Wrap(services.ErrNotFound, "flags", "resolve", fmt.Sprintf("app version %d", id), nil)
			}
		}
		var next []int64
		for id, av := range found {
			versions[id] = av
			if av.FallbackID == 0 {
				continue
			}
			if _, seen := versions[av.FallbackID]; !seen && !contains(frontier, av.FallbackID) {
				next = append(next, av.FallbackID)
			}
		}
		frontier = dedupe(next)
	}

	// Kahn's algorithm over child -> fallback edges. Nodes left over sit on a
	// cycle.
	indegree := make(map[int64]int, len(versions))
	for id, av := range versions {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		if av.FallbackID != 0 {
			indegree[av.FallbackID]++
		}
	}
	var queue []int64
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Slice(queue, func(i, j int) bool { return queue[i] < queue[j] })
	order := make([]int64, 0, len(versions))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		if fb := versions[id].FallbackID; fb != 0 {
			indegree[fb]--
			if indegree[fb] == 0 {
				queue = append(queue, fb)
			}
		}
	}
	if len(order) != len(versions) {
		var cyclic []string
		for id, deg := range indegree {
			if deg > 0 {
				cyclic = append(cyclic, versions[id].Code)
			}
		}
		sort.Strings(cyclic)
		return nil, nil, fmt.Errorf("app versions %v: %w", cyclic, store.ErrFallbackCycle)
	}
	return versions, order, nil
}

// ownFlags scans the actions of one app version newest first, across all
// sign-offs. Only the latest action of each sign-off counts. ACCEPTED and OBSOLETED settle a
// locale; PENDING and REJECTED are recorded once and the scan continues
// towards older sign-offs; CANCELED sign-offs are skipped.
func (r *Resolver) ownFlags(ctx context.Context, appVersionID int64, locales []string, upUntil *time.Time) (map[string]map[store.Flag]int64, error) {
	out := make(map[string]map[store.Flag]int64)
	if len(locales) == 0 {
		return out, nil
	}
	actions, err := r.store.LocaleActions(ctx, appVersionID, locales, upUntil)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	settled := make(map[string]struct{})
	for _, a := range actions {
		if _, ok := seen[a.SignoffID]; ok {
			continue
		}
		seen[a.SignoffID] = struct{}{}
		if _, ok := settled[a.LocaleCode]; ok {
			continue
		}
		switch a.Flag {
		case store.FlagAccepted, store.FlagObsoleted:
			record(out, a)
			settled[a.LocaleCode] = struct{}{}
		case store.FlagPending, store.FlagRejected:
			record(out, a)
		case store.FlagCanceled:
		}
	}
	return out, nil
}

func (r *Resolver) activeLocales(ctx context.Context, appVersionID int64) ([]string, error) {
	tree, err := r.store.TreeFor(ctx, appVersionID, r.now())
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	locales, err := r.store.ActiveLocales(ctx, tree.ID)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(locales))
	for _, loc := range locales {
		codes = append(codes, loc.Code)
	}
	return codes, nil
}

func record(out map[string]map[store.Flag]int64, a store.LocaleAction) {
	flags, ok := out[a.LocaleCode]
	if !ok {
		flags = make(map[store.Flag]int64)
		out[a.LocaleCode] = flags
	}
	if _, ok := flags[a.Flag]; !ok {
		flags[a.Flag] = a.ActionID
	}
}

func addLocales(needed map[int64]map[string]struct{}, id int64, codes []string) {
	set, ok := needed[id]
	if !ok {
		set = make(map[string]struct{}, len(codes))
		needed[id] = set
	}
	for _, code := range codes {
		set[code] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
