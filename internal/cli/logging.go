package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
// Secrets are never printed; only whether they are present.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}
	_, dsnErr := cfg.DSN()
	in := cfg.Ingest

	lines := []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Postgres (%s): %s, schema %s", cfg.Env, presence(dsnErr == nil), cfg.Postgres.Schema),
		fmt.Sprintf("Redis mirror: %s", presence(cfg.RedisEnabled())),
		fmt.Sprintf("Mirror TTL (active/finished): %ds / %ds", cfg.Cache.Active, cfg.Cache.Finished),
		sectionLine("Alpaca config", cfg.Alpaca),
		fmt.Sprintf("Alpaca credentials: %s", presence(cfg.Alpaca.Value.HasCredentials())),
		fmt.Sprintf("Rate budget: %d req/min (burst %d)", in.RequestsPerMinute, in.Burst),
		fmt.Sprintf("Workers: %d, fetch attempts: %d, persist attempts: %d", in.Workers, in.MaxAttempts, in.PersistAttempts),
		fmt.Sprintf("Failure mode: %s", in.Mode),
		rejectLine(in),
	}
	return lines
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func rejectLine(in config.IngestConf) string {
	dl := "off"
	if strings.TrimSpace(in.DeadLetterDir) != "" {
		dl = in.DeadLetterDir
	}
	if in.RejectThreshold <= 0 {
		return fmt.Sprintf("Reject alert: off, dead letters: %s", dl)
	}
	return fmt.Sprintf("Reject alert: > %.1f%% (fatal=%t), dead letters: %s", in.RejectThreshold*100, in.RejectThresholdFatal, dl)
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: not configured", name)
	}
}
