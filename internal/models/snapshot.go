package models

import (
	"encoding/json"
	"fmt"
)

// Snapshot is a point-in-time export of every sheet.
//
// Hash is the content hash of the serialized form when known; it is not part of the wire format.
type Snapshot struct {
	Sheets []Sheet `json:"musicSheets"`
	Hash   string  `json:"-"`
}

// ParseSnapshot decodes the backup file format. A document without a musicSheets array is rejected.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var raw struct {
		Sheets *json.RawMessage `json:"musicSheets"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if raw.Sheets == nil {
		return nil, fmt.Errorf("snapshot has no musicSheets")
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

// Marshal encodes the snapshot in the backup file format.
func (s *Snapshot) Marshal() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// TrackCount returns the number of tracks across all sheets.
func (s *Snapshot) TrackCount() int {
	n := 0
	for _, sh := range s.Sheets {
		n += len(sh.Tracks)
	}
	return n
}
