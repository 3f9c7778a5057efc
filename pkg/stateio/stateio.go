// Package stateio implements the StateIO abstraction (spec.md §4.3): every
// registry is handed a StateIO rather than reaching for a global — so two
// Project instances in the same process can never cross-read each other's
// files. Two implementations exist: a durable file-backed one rooted at
// <archon_home>/projects/<id>/{state,logs}/, and an in-memory one for tests.
package stateio

import (
	"encoding/json"
	"fmt"
)

// StateIO is the narrow five-operation persistence surface every registry
// depends on. Reads of a missing or malformed JSON document recover to the
// caller-supplied fallback (spec.md §7: StateIO read errors are
// recoverable); writes propagate any error.
type StateIO interface {
	// ReadRaw returns the raw bytes stored under name, or ok=false if no
	// such state document exists yet.
	ReadRaw(name string) (data []byte, ok bool, err error)
	// WriteRaw persists data under name, replacing any prior content.
	WriteRaw(name string, data []byte) error
	// AppendLine appends one line (without its own trailing newline) to the
	// named append-only log, creating it if necessary.
	AppendLine(logName string, line string) error
	// ReadLogRaw returns the full raw contents of the named log.
	ReadLogRaw(logName string) (string, error)
	// WriteLogRaw replaces a log's full contents. Logs are append-only by
	// convention (AppendLine); this exists solely for the rare in-place
	// rewrite an append-only log still needs, such as backfilling a
	// previously-unknown field on an already-written line.
	WriteLogRaw(logName string, data []byte) error
}

// ReadJSON reads and unmarshals the document stored under name. A missing
// document, or one that fails to unmarshal, falls back to fallback rather
// than propagating an error — ENOENT and malformed JSON are both
// recoverable per spec.md §7.
func ReadJSON[T any](io StateIO, name string, fallback T) (T, error) {
	data, ok, err := io.ReadRaw(name)
	if err != nil {
		return fallback, nil
	}
	if !ok {
		return fallback, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return fallback, nil
	}
	return v, nil
}

// WriteJSON marshals v and persists it under name. Write errors propagate.
func WriteJSON[T any](io StateIO, name string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("stateio: marshal %s: %w", name, err)
	}
	if err := io.WriteRaw(name, data); err != nil {
		return fmt.Errorf("stateio: write %s: %w", name, err)
	}
	return nil
}
