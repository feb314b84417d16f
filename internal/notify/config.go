package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"chip-settlement/internal/config"
	"chip-settlement/internal/events"
)

// defaultAllowlist applies to targets that do not name their events.
var defaultAllowlist = []string{string(events.KindAlertRaised)}

func ConfigFrom(cfg config.NotifyConfig) (Config, error) {
	out := Config{
		Enabled:          cfg.Enabled,
		ConfigPath:       strings.TrimSpace(cfg.ConfigPath),
		ConfigReload:     cfg.ConfigReload,
		Workers:          cfg.Workers,
		RetryMax:         cfg.RetryMax,
		RetryBase:        cfg.RetryBase,
		RequestTimeout:   cfg.RequestTimeout,
		DispatchBuffer:   2048,
		FailureThreshold: 3,
		BreakerTimeout:   30 * time.Second,
	}
	if !out.Enabled {
		return out, nil
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.RetryMax < 0 {
		out.RetryMax = 0
	}
	if out.RetryBase <= 0 {
		out.RetryBase = 500 * time.Millisecond
	}
	if out.ConfigReload <= 0 {
		out.ConfigReload = 5 * time.Second
	}

	raw, err := loadTargetsJSON(cfg)
	if err != nil {
		return Config{}, err
	}
	if raw == "" {
		return out, nil
	}
	targets, err := parseTargetsJSON(raw)
	if err != nil {
		return Config{}, err
	}
	out.Targets = targets
	return out, nil
}

func loadTargetsJSON(cfg config.NotifyConfig) (string, error) {
	path := strings.TrimSpace(cfg.ConfigPath)
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read notify config path %q: %w", path, err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return strings.TrimSpace(cfg.ConfigJSON), nil
}

func parseTargetsJSON(raw string) ([]Target, error) {
	var targets []Target
	if err := json.Unmarshal([]byte(raw), &targets); err != nil {
		return nil, fmt.Errorf("parse notify targets: %w", err)
	}
	filtered := make([]Target, 0, len(targets))
	for _, target := range targets {
		target.Platform = strings.ToLower(strings.TrimSpace(target.Platform))
		target.ScopeType = strings.ToLower(strings.TrimSpace(target.ScopeType))
		if target.ScopeType == "" {
			target.ScopeType = "all"
		}
		if target.ScopeType != "all" && target.ScopeType != "address" {
			continue
		}
		if target.ScopeType == "address" && strings.TrimSpace(target.ScopeValue) == "" {
			continue
		}
		target.Endpoint = strings.TrimSpace(target.Endpoint)
		if target.Endpoint == "" || !target.Enabled {
			continue
		}
		target.MinSeverity = strings.ToLower(strings.TrimSpace(target.MinSeverity))
		if len(target.EventAllowlist) == 0 {
			target.EventAllowlist = append([]string(nil), defaultAllowlist...)
		}
		for i := range target.EventAllowlist {
			target.EventAllowlist[i] = strings.TrimSpace(strings.ToLower(target.EventAllowlist[i]))
		}
		filtered = append(filtered, target)
	}
	return filtered, nil
}
