// Package traffic records and pattern-scans every message that crosses the
// gateway. The log is an in-memory bounded ring: best-effort, volatile, and
// deliberately unpersisted.
package traffic

import (
	"fmt"
	"time"
)

// Severity grades a finding.
type Severity string

// Severity levels, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Finding is a detection-rule match flagged against message content.
// Findings are append-only annotations attached at record time; they never
// mutate routing or session state.
type Finding struct {
	// RuleName identifies the detection rule that matched.
	RuleName string `json:"rule_name"`
	// Severity is the rule's severity grade.
	Severity Severity `json:"severity"`
	// Description is the rule's human-readable description.
	Description string `json:"description"`
	// Excerpt is the matched text, truncated to the configured bound.
	Excerpt string `json:"excerpt"`
	// Start and End are byte offsets of the match in the serialized message.
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entry is one recorded message crossing the gateway. Immutable once
// appended; findings are attached before the entry becomes visible.
type Entry struct {
	// ID is a unique entry identifier.
	ID string `json:"id"`
	// Direction is "inbound" or "outbound".
	Direction string `json:"direction"`
	// Timestamp is when the entry was recorded (UTC).
	Timestamp time.Time `json:"timestamp"`
	// SessionID is the client session the message belongs to, if known.
	SessionID string `json:"session_id,omitempty"`
	// CorrelationID ties a response entry back to its request entry.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Method is the JSON-RPC method for requests and notifications.
	Method string `json:"method,omitempty"`
	// IsError marks error responses.
	IsError bool `json:"is_error,omitempty"`
	// Raw is the message body as received.
	Raw []byte `json:"raw"`
	// Digest is an xxhash64 content fingerprint of Raw, as fixed-width hex.
	Digest string `json:"digest"`
	// Findings are the detection-rule matches for this entry.
	Findings []Finding `json:"findings,omitempty"`
}

// Stats summarizes the current contents of the traffic log. Because the log
// is a bounded ring, the numbers describe the retained window, not the
// gateway's lifetime.
type Stats struct {
	// TotalMessages is the number of retained entries.
	TotalMessages int `json:"total_messages"`
	// Inbound and Outbound count retained entries by direction.
	Inbound  int `json:"inbound"`
	Outbound int `json:"outbound"`
	// Errors counts retained error responses.
	Errors int `json:"errors"`
	// Methods is the histogram of request methods.
	Methods map[string]int `json:"methods"`
	// FindingCounts maps rule name to match count.
	FindingCounts map[string]int `json:"finding_counts"`
	// FindingsTotal is the sum over FindingCounts.
	FindingsTotal int `json:"findings_total"`
}

func formatDigest(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
