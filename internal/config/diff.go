package config

import (
	"reflect"
	"sort"
	"strings"

	logx "audiocast/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes bot tokens), and
// (3) the ids of destinations whose definition changed (added/removed/edited).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.DataDir) != strings.TrimSpace(newCfg.DataDir) ||
		strings.TrimSpace(oldCfg.Timezone) != strings.TrimSpace(newCfg.Timezone) {
		changed = append(changed, "core")
		attrs = append(attrs,
			logx.String("data_dir", strings.TrimSpace(newCfg.DataDir)),
			logx.String("timezone", strings.TrimSpace(newCfg.Timezone)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Cache != newCfg.Cache {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.String("cache.dir", newCfg.Cache.Dir))
	}

	if oldCfg.Scheduler != newCfg.Scheduler || oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled))
	}

	dests := DiffDestinations(oldCfg.Destinations, newCfg.Destinations)
	if len(dests) > 0 {
		changed = append(changed, "destinations")
		attrs = append(attrs,
			logx.Int("destinations.count", len(newCfg.Destinations)),
			logx.Int("destinations.changed", len(dests)),
		)
	}

	return changed, attrs, dests
}

// DiffDestinations reports destination ids that were added, removed, or whose
// definition changed between two destination lists. Tokens count as part of
// the definition but are never surfaced beyond the id.
func DiffDestinations(older, newer []Destination) []string {
	oldByID := make(map[string]Destination, len(older))
	for _, d := range older {
		oldByID[strings.TrimSpace(d.ID)] = d
	}
	newByID := make(map[string]Destination, len(newer))
	for _, d := range newer {
		newByID[strings.TrimSpace(d.ID)] = d
	}

	ids := make(map[string]struct{})
	for id, nd := range newByID {
		od, ok := oldByID[id]
		if !ok || !reflect.DeepEqual(od, nd) {
			ids[id] = struct{}{}
		}
	}
	for id := range oldByID {
		if _, ok := newByID[id]; !ok {
			ids[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
