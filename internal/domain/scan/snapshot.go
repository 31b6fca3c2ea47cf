package scan

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// SnapshotVersion is the current encoding of Snapshot.
const SnapshotVersion = 1

// SnapshotLine is one priced reward selection.
type SnapshotLine struct {
	TierID              uuid.UUID `json:"tier_id"`
	Quantity            int       `json:"quantity"`
	PointsPerUnit       int64     `json:"points_per_unit"`
	RewardType          string    `json:"reward_type"`
	AllowSelfRedemption bool      `json:"allow_self_redemption"`
}

func (l SnapshotLine) Points() int64 {
	return l.PointsPerUnit * int64(l.Quantity)
}

// Snapshot freezes reward selections and their prices at preparation time.
// Confirmation prices from the snapshot only.
type Snapshot struct {
	Version int            `json:"version"`
	Lines   []SnapshotLine `json:"lines"`
}

func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Lines) == 0
}

// Total is the sum of all lines.
func (s *Snapshot) Total() int64 {
	if s == nil {
		return 0
	}
	var total int64
	for _, l := range s.Lines {
		total += l.Points()
	}
	return total
}

// SelfRedeemTotal sums the lines settled at scan time.
func (s *Snapshot) SelfRedeemTotal() int64 {
	if s == nil {
		return 0
	}
	var total int64
	for _, l := range s.Lines {
		if l.AllowSelfRedemption {
			total += l.Points()
		}
	}
	return total
}

// Validate checks the structural invariants of a stored snapshot.
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	seen := make(map[uuid.UUID]struct{}, len(s.Lines))
	for _, l := range s.Lines {
		if l.Quantity <= 0 || l.PointsPerUnit <= 0 {
			return errors.New("snapshot line must have positive quantity and price")
		}
		if _, dup := seen[l.TierID]; dup {
			return errors.New("snapshot has duplicate tier")
		}
		seen[l.TierID] = struct{}{}
	}
	return nil
}

// Value implements driver.Valuer for the JSONB column.
func (s Snapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for the JSONB column.
func (s *Snapshot) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported snapshot source %T", src)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	return s.Validate()
}
