package logreader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLog_Empty(t *testing.T) {
	result := ReadLog("")
	require.Empty(t, result.Events)
	require.Zero(t, result.Stats.TotalLines)
	require.Zero(t, result.Stats.ParseErrors)
	require.Zero(t, result.Stats.Duplicates)
	require.False(t, result.Stats.PartialTrailingLine)
	require.False(t, result.Stats.OutOfOrder)
}

func TestReadLog_DropsMalformedLines(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
not json at all
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z"}
`
	result := ReadLog(raw)
	require.Equal(t, 1, result.Stats.ParseErrors)
	require.Len(t, result.Events, 2)
	require.Equal(t, "e1", result.Events[0].EventID)
	require.Equal(t, "e2", result.Events[1].EventID)
}

func TestReadLog_DropsLineMissingEventID(t *testing.T) {
	raw := `{"timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e1","timestamp":"2026-01-01T00:00:01Z"}
`
	result := ReadLog(raw)
	require.Equal(t, 1, result.Stats.ParseErrors)
	require.Len(t, result.Events, 1)
}

func TestReadLog_DedupesByEventIDFirstWins(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","status":"pending"}
{"event_id":"e1","timestamp":"2026-01-01T00:00:05Z","status":"applied"}
`
	result := ReadLog(raw)
	require.Equal(t, 1, result.Stats.Duplicates)
	require.Len(t, result.Events, 1)
	require.Equal(t, "pending", result.Events[0].Status)
}

func TestReadLog_PartialTrailingLineDropped(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z"}
{"event_id":"e3","trunc`
	result := ReadLog(raw)
	require.True(t, result.Stats.PartialTrailingLine)
	require.Len(t, result.Events, 2)
	require.Equal(t, "e1", result.Events[0].EventID)
	require.Equal(t, "e2", result.Events[1].EventID)
}

func TestReadLog_NoPartialTrailingLineWhenProperlyTerminated(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
`
	result := ReadLog(raw)
	require.False(t, result.Stats.PartialTrailingLine)
	require.Len(t, result.Events, 1)
}

func TestReadLog_OutOfOrderRequiresMoreThanOneRegression(t *testing.T) {
	// A single regression is tolerated as clock skew noise; two or more
	// flips outOfOrder.
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:05Z"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z"}
`
	result := ReadLog(raw)
	require.Equal(t, 1, result.Stats.Regressions)
	require.False(t, result.Stats.OutOfOrder)

	raw2 := `{"event_id":"e1","timestamp":"2026-01-01T00:00:05Z"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z"}
{"event_id":"e3","timestamp":"2026-01-01T00:00:09Z"}
{"event_id":"e4","timestamp":"2026-01-01T00:00:02Z"}
`
	result2 := ReadLog(raw2)
	require.Equal(t, 2, result2.Stats.Regressions)
	require.True(t, result2.Stats.OutOfOrder)
}

func TestReadLog_SortsByTimestampThenEventID(t *testing.T) {
	raw := `{"event_id":"e2","timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e3","timestamp":"2025-12-31T00:00:00Z"}
`
	result := ReadLog(raw)
	require.Len(t, result.Events, 3)
	require.Equal(t, []string{"e3", "e1", "e2"}, []string{
		result.Events[0].EventID, result.Events[1].EventID, result.Events[2].EventID,
	})
}

func TestDetectDrift_CleanLogIsNone(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","rs_hash":"h1"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","rs_hash":"h1"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftNone, drift.Status)
	require.Empty(t, drift.Reasons)
}

func TestDetectDrift_DuplicatesElevateToUnknown(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e1","timestamp":"2026-01-01T00:00:01Z"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftUnknown, drift.Status)
	require.Contains(t, drift.Reasons, "duplicate_event_ids")
}

func TestDetectDrift_ParseErrorsElevateToUnknown(t *testing.T) {
	raw := `garbage
{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftUnknown, drift.Status)
	require.Contains(t, drift.Reasons, "parse_errors")
}

func TestDetectDrift_PartialTrailingLineElevatesToUnknown(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z"}
{"event_id":"e2","trunc`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftUnknown, drift.Status)
	require.Contains(t, drift.Reasons, "partial_trailing_line")
}

func TestDetectDrift_OutOfOrderElevatesToUnknown(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:05Z"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z"}
{"event_id":"e3","timestamp":"2026-01-01T00:00:09Z"}
{"event_id":"e4","timestamp":"2026-01-01T00:00:02Z"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftUnknown, drift.Status)
	require.Contains(t, drift.Reasons, "out_of_order_timestamps")
}

func TestDetectDrift_RSHashDiscontinuityBelowThresholdStaysUnelevated(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","rs_hash":"h1"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","rs_hash":"h2"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, 1, drift.Metrics.RSHashDiscontinuities)
	require.Equal(t, DriftNone, drift.Status)
}

func TestDetectDrift_RSHashDiscontinuityAtThresholdIsConflict(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","rs_hash":"h1"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","rs_hash":"h2"}
{"event_id":"e3","timestamp":"2026-01-01T00:00:02Z","rs_hash":"h3"}
{"event_id":"e4","timestamp":"2026-01-01T00:00:03Z","rs_hash":"h4"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, 3, drift.Metrics.RSHashDiscontinuities)
	require.Equal(t, DriftConflict, drift.Status)
	require.Contains(t, drift.Reasons, "rs_hash_discontinuity")
}

func TestDetectDrift_RSHashOscillationCountsDouble(t *testing.T) {
	// h1 -> h2 (1) -> h1 (oscillation, +2) = 3, reaching the conflict threshold
	// with only two hash changes instead of three.
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","rs_hash":"h1"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","rs_hash":"h2"}
{"event_id":"e3","timestamp":"2026-01-01T00:00:02Z","rs_hash":"h1"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, 3, drift.Metrics.RSHashDiscontinuities)
	require.Equal(t, DriftConflict, drift.Status)
}

func TestDetectDrift_ProposalDualTerminalStateIsConflict(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","proposal_id":"p1","status":"applied"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","proposal_id":"p1","status":"rejected"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftConflict, drift.Status)
	require.Contains(t, drift.Reasons, "proposal_terminal_state_conflict")
}

func TestDetectDrift_ProposalSingleTerminalStateIsFine(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","proposal_id":"p1","status":"pending"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","proposal_id":"p1","status":"applied"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftNone, drift.Status)
}

func TestDetectDrift_ConflictOutranksUnknown(t *testing.T) {
	raw := `{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","proposal_id":"p1","status":"applied"}
{"event_id":"e1","timestamp":"2026-01-01T00:00:00Z","proposal_id":"p1","status":"applied"}
{"event_id":"e2","timestamp":"2026-01-01T00:00:01Z","proposal_id":"p1","status":"failed"}
`
	drift := DetectDrift(ReadLog(raw))
	require.Equal(t, DriftConflict, drift.Status)
	require.Contains(t, drift.Reasons, "duplicate_event_ids")
	require.Contains(t, drift.Reasons, "proposal_terminal_state_conflict")
}
