// Package state persists the engine's client-side snapshot: cart lines,
// coupon, discount, points-to-redeem, points-discount, and the removed-gift
// set. The snapshot must survive restarts and is the sole source of
// client-side truth between sessions.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"storefront-engine/internal/model"
)

// Snapshot is the full persisted state. All writers read-modify-write the
// whole snapshot; there is no partial persistence, so the four sub-states can
// always be cleared together as one unit.
type Snapshot struct {
	Lines          []model.CartLine  `json:"lines"`
	Coupon         *model.Coupon     `json:"coupon,omitempty"`
	CouponDiscount int64             `json:"coupon_discount"` // minor units
	Points         model.PointsState `json:"points"`
	RemovedGiftIDs []int             `json:"removed_gift_ids,omitempty"`
}

// Clone returns a deep copy so callers can hand snapshots to subscribers
// without aliasing the store's internal state.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Lines = make([]model.CartLine, len(s.Lines))
	copy(out.Lines, s.Lines)
	for i, l := range out.Lines {
		if l.Gift != nil {
			g := *l.Gift
			out.Lines[i].Gift = &g
		}
	}
	if s.Coupon != nil {
		c := *s.Coupon
		out.Coupon = &c
	}
	out.RemovedGiftIDs = append([]int(nil), s.RemovedGiftIDs...)
	return out
}

// Persister loads and stores the snapshot.
type Persister interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FileStore persists the snapshot as JSON in a single file, written
// atomically via rename so a crash mid-write never corrupts the saved cart.
type FileStore struct {
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load reads the stored snapshot. A missing file yields the empty snapshot.
func (f *FileStore) Load() (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("reading state file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parsing state file: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot atomically.
func (f *FileStore) Save(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// MemStore is an in-memory Persister for tests.
type MemStore struct {
	snap Snapshot
}

func (m *MemStore) Load() (Snapshot, error) { return m.snap.Clone(), nil }
func (m *MemStore) Save(s Snapshot) error   { m.snap = s.Clone(); return nil }
