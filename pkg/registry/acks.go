package registry

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/CustodyZero/archon-sub000/pkg/stateio"
)

const (
	acknowledgmentsLog = "acknowledgments.jsonl"
	hazardAcksLog      = "hazard-acks.jsonl"
)

// AckRecord is one typed-acknowledgment event: an operator's byte-exact
// "I ACCEPT {tier} RISK ({type})" phrase, logged append-only (spec.md §4.9).
type AckRecord struct {
	EventID      string `json:"event_id"`
	CapabilityID string `json:"capability_id"`
	Phrase       string `json:"phrase"`
	RSHash       string `json:"rs_hash,omitempty"`
}

// HazardAckRecord is one hazard-pair confirmation event: the operator's
// explicit acceptance of enabling a type known to conflict with another
// already-enabled type (spec.md §4.1's hazard matrix).
type HazardAckRecord struct {
	EventID      string `json:"event_id"`
	CapabilityID string `json:"capability_id"`
	PartnerType  string `json:"partner_type"`
	RSHash       string `json:"rs_hash,omitempty"`
}

// AckStore is the append-only record of typed acknowledgments and hazard
// confirmations. Its epoch — the total event count across both logs —
// feeds snapshot construction so that any new ack immediately changes the
// rule snapshot hash (spec.md §4.5's "ack epoch" component).
type AckStore struct {
	mu sync.Mutex
	io stateio.StateIO
}

// NewAckStore returns an AckStore backed by io.
func NewAckStore(io stateio.StateIO) *AckStore {
	return &AckStore{io: io}
}

// RecordAck appends a typed-acknowledgment event.
func (s *AckStore) RecordAck(rec AckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.io.AppendLine(acknowledgmentsLog, string(line))
}

// RecordHazardAck appends a hazard-pair confirmation event.
func (s *AckStore) RecordHazardAck(rec HazardAckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.io.AppendLine(hazardAcksLog, string(line))
}

// Epoch returns the total number of ack + hazard-ack events recorded so
// far. This value, not the events' content, is what feeds the rule
// snapshot — any new acknowledgment bumps it.
func (s *AckStore) Epoch() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acks, err := s.countLines(acknowledgmentsLog)
	if err != nil {
		return 0, err
	}
	hazards, err := s.countLines(hazardAcksLog)
	if err != nil {
		return 0, err
	}
	return acks + hazards, nil
}

func (s *AckStore) countLines(name string) (int, error) {
	raw, err := s.io.ReadLogRaw(name)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	lines := strings.Split(strings.TrimRight(raw, "\n"), "\n")
	return len(lines), nil
}

// HasAck reports whether capabilityID already has a recorded typed ack.
func (s *AckStore) HasAck(capabilityID string) (bool, error) {
	return s.hasEventFor(acknowledgmentsLog, capabilityID)
}

// HasHazardAck reports whether capabilityID already has a recorded hazard
// confirmation against partnerType.
func (s *AckStore) HasHazardAck(capabilityID, partnerType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.io.ReadLogRaw(hazardAcksLog)
	if err != nil {
		return false, err
	}
	for _, line := range splitNonEmptyLines(raw) {
		var rec HazardAckRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue // malformed trailing line: ignore, per logreader semantics
		}
		if rec.CapabilityID == capabilityID && rec.PartnerType == partnerType {
			return true, nil
		}
	}
	return false, nil
}

func (s *AckStore) hasEventFor(logName, capabilityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := s.io.ReadLogRaw(logName)
	if err != nil {
		return false, err
	}
	for _, line := range splitNonEmptyLines(raw) {
		var rec AckRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.CapabilityID == capabilityID {
			return true, nil
		}
	}
	return false, nil
}

func splitNonEmptyLines(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(raw, "\n"), "\n")
}

// PatchAckEventRSHash sets the rs_hash field on the ack event with the
// given event_id, exactly once. Later calls for an already-patched
// event_id are a no-op — the write is idempotent because the rule
// snapshot the ack was validated against cannot change retroactively.
func (s *AckStore) PatchAckEventRSHash(eventID, rsHash string) error {
	return s.patchLog(acknowledgmentsLog, eventID, rsHash)
}

// PatchHazardAckEventRSHash is the hazard-ack-log equivalent of
// PatchAckEventRSHash.
func (s *AckStore) PatchHazardAckEventRSHash(eventID, rsHash string) error {
	return s.patchHazardLog(eventID, rsHash)
}

func (s *AckStore) patchLog(logName, eventID, rsHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.io.ReadLogRaw(logName)
	if err != nil {
		return err
	}
	lines := splitNonEmptyLines(raw)
	rewritten := make([]string, 0, len(lines))
	for _, line := range lines {
		var rec AckRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil && rec.EventID == eventID && rec.RSHash == "" {
			rec.RSHash = rsHash
			patched, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			rewritten = append(rewritten, string(patched))
			continue
		}
		rewritten = append(rewritten, line)
	}
	return s.rewrite(logName, rewritten)
}

func (s *AckStore) patchHazardLog(eventID, rsHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.io.ReadLogRaw(hazardAcksLog)
	if err != nil {
		return err
	}
	lines := splitNonEmptyLines(raw)
	rewritten := make([]string, 0, len(lines))
	for _, line := range lines {
		var rec HazardAckRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil && rec.EventID == eventID && rec.RSHash == "" {
			rec.RSHash = rsHash
			patched, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			rewritten = append(rewritten, string(patched))
			continue
		}
		rewritten = append(rewritten, line)
	}
	return s.rewrite(hazardAcksLog, rewritten)
}

// rewrite replaces a log's full contents. Logs are otherwise append-only;
// this is the sole exception, used only to backfill rs_hash once a
// snapshot has been computed for the action the ack was attached to.
func (s *AckStore) rewrite(logName string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return s.io.WriteLogRaw(logName, []byte(b.String()))
}
