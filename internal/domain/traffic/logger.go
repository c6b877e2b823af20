package traffic

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/arena-labs/arena-gateway/pkg/mcp"
)

const (
	// DefaultCapacity is the default ring buffer size.
	DefaultCapacity = 1000
	// DefaultExcerptLimit bounds the stored length of a matched excerpt,
	// capping memory use from pathological payloads.
	DefaultExcerptLimit = 100
)

// Logger records gateway traffic in a bounded FIFO ring and scans every
// message against its detection rules. Rule evaluation happens synchronously
// inside Record, so readers never observe a partially-annotated entry.
type Logger struct {
	mu           sync.RWMutex
	entries      []*Entry
	capacity     int
	rules        []Rule
	excerptLimit int

	now func() time.Time
}

// Config holds traffic logger configuration.
type Config struct {
	// Capacity is the ring buffer size. Default: 1000.
	Capacity int
	// ExcerptLimit bounds stored match excerpts. Default: 100 bytes.
	ExcerptLimit int
	// ExtraRules are appended after the built-in detection table.
	ExtraRules []Rule
}

// NewLogger creates a traffic logger with the built-in detection rules plus
// any extra rules from the config.
func NewLogger(cfg Config) *Logger {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	excerptLimit := cfg.ExcerptLimit
	if excerptLimit <= 0 {
		excerptLimit = DefaultExcerptLimit
	}
	return &Logger{
		entries:      make([]*Entry, 0, capacity),
		capacity:     capacity,
		rules:        append(DefaultRules(), cfg.ExtraRules...),
		excerptLimit: excerptLimit,
		now:          time.Now,
	}
}

// Record appends a message to the log, scanning it against the detection
// rules first. Returns the completed entry (findings attached).
func (l *Logger) Record(dir mcp.Direction, raw []byte, sessionID, correlationID string) *Entry {
	return l.record(dir, raw, sessionID, correlationID, nil)
}

// RecordParseFailure appends a message that failed envelope validation.
// The entry carries a parse-error finding in addition to any rule matches,
// so malformed traffic still shows up in the security feed.
func (l *Logger) RecordParseFailure(dir mcp.Direction, raw []byte, sessionID string, detail string) *Entry {
	excerpt := detail
	if len(excerpt) > l.excerptLimit {
		excerpt = excerpt[:l.excerptLimit]
	}
	return l.record(dir, raw, sessionID, "", []Finding{{
		RuleName:    ParseFailureRule,
		Severity:    SeverityLow,
		Description: "Message failed protocol validation",
		Excerpt:     excerpt,
	}})
}

func (l *Logger) record(dir mcp.Direction, raw []byte, sessionID, correlationID string, pre []Finding) *Entry {
	entry := &Entry{
		ID:            uuid.NewString(),
		Direction:     dir.String(),
		Timestamp:     l.now().UTC(),
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Raw:           append([]byte(nil), raw...),
		Digest:        formatDigest(xxhash.Sum64(raw)),
		Findings:      pre,
	}

	var probe struct {
		Method string          `json:"method"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		entry.Method = probe.Method
		entry.IsError = probe.Error != nil
	}

	entry.Findings = append(entry.Findings, l.scan(raw)...)

	l.mu.Lock()
	if len(l.entries) >= l.capacity {
		// Strict FIFO: drop the oldest.
		copy(l.entries, l.entries[1:])
		l.entries[len(l.entries)-1] = entry
	} else {
		l.entries = append(l.entries, entry)
	}
	l.mu.Unlock()

	return entry
}

// scan evaluates every detection rule independently against the serialized
// message and collects all matches.
func (l *Logger) scan(raw []byte) []Finding {
	var findings []Finding
	for _, rule := range l.rules {
		for _, loc := range rule.Pattern.FindAllIndex(raw, -1) {
			excerpt := raw[loc[0]:loc[1]]
			if len(excerpt) > l.excerptLimit {
				excerpt = excerpt[:l.excerptLimit]
			}
			findings = append(findings, Finding{
				RuleName:    rule.Name,
				Severity:    rule.Severity,
				Description: rule.Description,
				Excerpt:     string(excerpt),
				Start:       loc[0],
				End:         loc[1],
			})
		}
	}
	return findings
}

// Recent returns up to limit entries, most recent first.
func (l *Logger) Recent(limit int) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]*Entry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[len(l.entries)-1-i]
	}
	return out
}

// Since returns entries recorded strictly after the given time, oldest first.
func (l *Logger) Since(t time.Time) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []*Entry
	for _, e := range l.entries {
		if e.Timestamp.After(t) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of retained entries.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Stats summarizes the retained window.
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := Stats{
		TotalMessages: len(l.entries),
		Methods:       make(map[string]int),
		FindingCounts: make(map[string]int),
	}
	for _, e := range l.entries {
		switch e.Direction {
		case mcp.Inbound.String():
			stats.Inbound++
		case mcp.Outbound.String():
			stats.Outbound++
		}
		if e.IsError {
			stats.Errors++
		}
		if e.Method != "" {
			stats.Methods[e.Method]++
		}
		for _, f := range e.Findings {
			stats.FindingCounts[f.RuleName]++
			stats.FindingsTotal++
		}
	}
	return stats
}
