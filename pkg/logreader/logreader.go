// Package logreader implements the log reader and drift detector
// (spec.md §4.10, component C10): a dedupe-on-read JSONL parser for
// Archon's append-only logs, plus the sync-conflict signal the status
// surface reports from it. Both operate on already-read text — neither
// touches StateIO directly, so they can run against any of
// decisions.jsonl, proposal-events.jsonl, acknowledgments.jsonl, or
// hazard-acks.jsonl.
package logreader

import (
	"encoding/json"
	"sort"
	"strings"
)

// LogEvent is one successfully parsed JSONL line, with the fields every
// Archon log line may carry plus the untouched raw line for callers that
// need more than the common fields.
type LogEvent struct {
	EventID    string
	Timestamp  string
	RSHash     string
	ProposalID string
	Status     string
	Raw        json.RawMessage
}

type envelope struct {
	EventID    string `json:"event_id"`
	Timestamp  string `json:"timestamp"`
	RSHash     string `json:"rs_hash"`
	ProposalID string `json:"proposal_id"`
	Status     string `json:"status"`
}

// ReadStats are the counters LOGR-U1..U6 require readLog to surface.
type ReadStats struct {
	TotalLines          int
	ParseErrors         int
	Duplicates          int
	PartialTrailingLine bool
	Regressions         int
	OutOfOrder          bool
}

// ReadResult is readLog's return value.
type ReadResult struct {
	Events []LogEvent
	Stats  ReadStats
}

// ReadLog parses raw JSONL text per LOGR-U1..U6: malformed lines are
// dropped and counted, duplicate event_ids keep their first occurrence,
// a missing trailing newline drops the (presumably truncated) last line,
// and the surviving events are returned sorted by (timestamp, event_id).
// Empty input returns zero stats and no events.
func ReadLog(raw string) ReadResult {
	if raw == "" {
		return ReadResult{}
	}

	partialTrailingLine := !strings.HasSuffix(raw, "\n")
	lines := strings.Split(raw, "\n")
	// strings.Split on a trailing "\n" yields a final empty element; on a
	// missing one it yields the truncated partial line instead. Either way
	// the last element is not a complete record and is dropped.
	lines = lines[:len(lines)-1]

	stats := ReadStats{PartialTrailingLine: partialTrailingLine}

	var parsed []LogEvent
	prevTimestamp := ""
	for _, line := range lines {
		if line == "" {
			continue
		}
		stats.TotalLines++

		var env envelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			stats.ParseErrors++
			continue
		}
		if env.EventID == "" {
			stats.ParseErrors++
			continue
		}

		if prevTimestamp != "" && env.Timestamp < prevTimestamp {
			stats.Regressions++
		}
		if env.Timestamp != "" {
			prevTimestamp = env.Timestamp
		}

		parsed = append(parsed, LogEvent{
			EventID:    env.EventID,
			Timestamp:  env.Timestamp,
			RSHash:     env.RSHash,
			ProposalID: env.ProposalID,
			Status:     env.Status,
			Raw:        json.RawMessage(line),
		})
	}
	stats.OutOfOrder = stats.Regressions > 1

	seen := make(map[string]bool, len(parsed))
	events := make([]LogEvent, 0, len(parsed))
	for _, e := range parsed {
		if seen[e.EventID] {
			stats.Duplicates++
			continue
		}
		seen[e.EventID] = true
		events = append(events, e)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].EventID < events[j].EventID
	})

	return ReadResult{Events: events, Stats: stats}
}

// DriftStatus is detectDrift's monotonic severity scale: none < unknown <
// conflict.
type DriftStatus string

const (
	DriftNone     DriftStatus = "none"
	DriftUnknown  DriftStatus = "unknown"
	DriftConflict DriftStatus = "conflict"
)

func severity(s DriftStatus) int {
	switch s {
	case DriftConflict:
		return 2
	case DriftUnknown:
		return 1
	default:
		return 0
	}
}

// DriftMetrics is the evidence behind a DriftResult's status.
type DriftMetrics struct {
	Duplicates            int
	ParseErrors           int
	PartialTrailingLine   bool
	OutOfOrder            bool
	RSHashDiscontinuities int
}

// DriftResult is detectDrift's return value.
type DriftResult struct {
	Status  DriftStatus
	Reasons []string
	Metrics DriftMetrics
}

// DetectDrift elevates a ReadResult to a sync-conflict signal per
// spec.md §4.10's monotonic elevation rules. Reasons accumulate in the
// order they were evaluated; Status is the highest severity any reason
// reached.
func DetectDrift(result ReadResult) DriftResult {
	metrics := DriftMetrics{
		Duplicates:          result.Stats.Duplicates,
		ParseErrors:         result.Stats.ParseErrors,
		PartialTrailingLine: result.Stats.PartialTrailingLine,
		OutOfOrder:          result.Stats.OutOfOrder,
	}

	status := DriftNone
	var reasons []string
	elevate := func(s DriftStatus, reason string) {
		reasons = append(reasons, reason)
		if severity(s) > severity(status) {
			status = s
		}
	}

	if metrics.Duplicates > 0 {
		elevate(DriftUnknown, "duplicate_event_ids")
	}
	if metrics.ParseErrors > 0 {
		elevate(DriftUnknown, "parse_errors")
	}
	if metrics.PartialTrailingLine {
		elevate(DriftUnknown, "partial_trailing_line")
	}
	if metrics.OutOfOrder {
		elevate(DriftUnknown, "out_of_order_timestamps")
	}

	metrics.RSHashDiscontinuities = rsHashDiscontinuities(result.Events)
	if metrics.RSHashDiscontinuities >= 3 {
		elevate(DriftConflict, "rs_hash_discontinuity")
	}

	if proposalTerminalConflict(result.Events) {
		elevate(DriftConflict, "proposal_terminal_state_conflict")
	}

	return DriftResult{Status: status, Reasons: reasons, Metrics: metrics}
}

// rsHashDiscontinuities counts rs_hash changes across the events in their
// given (already timestamp-sorted) order. A change back to a hash seen
// earlier in the sequence — oscillation — counts double, since it signals
// two writers disagreeing rather than one clean rollover.
func rsHashDiscontinuities(events []LogEvent) int {
	seen := make(map[string]bool)
	prev := ""
	count := 0
	for _, e := range events {
		if e.RSHash == "" {
			continue
		}
		if prev != "" && e.RSHash != prev {
			if seen[e.RSHash] {
				count += 2
			} else {
				count++
			}
		}
		seen[e.RSHash] = true
		prev = e.RSHash
	}
	return count
}

// terminalStatuses are proposal states that cannot be revisited — two
// different ones for the same proposal_id means two writers each believe
// they own the terminal transition.
var terminalStatuses = map[string]bool{
	"applied":  true,
	"rejected": true,
	"failed":   true,
}

func proposalTerminalConflict(events []LogEvent) bool {
	seen := make(map[string]map[string]bool)
	for _, e := range events {
		if e.ProposalID == "" || !terminalStatuses[e.Status] {
			continue
		}
		states, ok := seen[e.ProposalID]
		if !ok {
			states = make(map[string]bool)
			seen[e.ProposalID] = states
		}
		states[e.Status] = true
		if len(states) >= 2 {
			return true
		}
	}
	return false
}
