package cache

import (
	"strings"
	"time"

	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

// Namespace is the Redis key prefix for the ingestion pipeline.
const Namespace = "datadoggo"

// TTLSet normalises mirror TTLs from config into time.Duration values.
type TTLSet struct {
	// Active applies to snapshots of runs still in progress; each update
	// refreshes it.
	Active time.Duration
	// Finished applies once a run reaches a terminal status.
	Finished time.Duration
}

// NewTTLSet converts config TTLs (in seconds) into durations.
func NewTTLSet(cfg config.CacheTTL) TTLSet {
	return TTLSet{
		Active:   durationOrDefault(cfg.Active, time.Hour),
		Finished: durationOrDefault(cfg.Finished, 7*24*time.Hour),
	}
}

func durationOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds < 0 {
		return 0
	}
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// For picks the TTL matching a run status.
func (t TTLSet) For(status model.RunStatus) time.Duration {
	if status.Terminal() {
		return t.Finished
	}
	return t.Active
}

func formatKey(parts ...string) string {
	values := make([]string, 0, len(parts)+1)
	values = append(values, Namespace)
	for _, part := range parts {
		clean := strings.TrimSpace(part)
		if clean == "" {
			continue
		}
		values = append(values, clean)
	}
	return strings.Join(values, ":")
}

// JobRunKey holds the JSON snapshot of one run.
func JobRunKey(runID string) string {
	return formatKey("jobrun", runID)
}

// LatestJobRunKey points at the most recent run of a kind.
func LatestJobRunKey(kind model.JobKind) string {
	return formatKey("jobrun", "latest", string(kind))
}
