package notify

import (
	"time"
)

// Target is one webhook destination. Scope "all" receives every matching
// event; scope "address" only events whose subject is ScopeValue.
type Target struct {
	Platform       string   `json:"platform"`
	Endpoint       string   `json:"endpoint"`
	Secret         string   `json:"secret"`
	ScopeType      string   `json:"scope_type"`
	ScopeValue     string   `json:"scope_value"`
	EventAllowlist []string `json:"event_allowlist"`
	MinSeverity    string   `json:"min_severity"`
	Enabled        bool     `json:"enabled"`
}

type Config struct {
	Enabled          bool
	ConfigPath       string
	ConfigReload     time.Duration
	Targets          []Target
	Workers          int
	RetryMax         int
	RetryBase        time.Duration
	RequestTimeout   time.Duration
	DispatchBuffer   int
	FailureThreshold uint32
	BreakerTimeout   time.Duration
}

type MessageField struct {
	Name   string
	Value  string
	Inline bool
}

type FormattedMessage struct {
	Title       string
	Content     string
	Description string
	Color       int
	Severity    string
	Timestamp   string
	Footer      string
	Fields      []MessageField
}

type pushJob struct {
	Target    Target
	EventKey  string
	Formatted FormattedMessage
	Attempt   int
}

func targetKey(t Target) string {
	return t.Platform + "|" + t.Endpoint + "|" + t.ScopeType + "|" + t.ScopeValue
}
