package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cohortql/cohort-engine/pkg/models"
)

// Snapshot is the persisted startup record: everything needed to answer the
// two most common query shapes (no filter; filter matched nothing) without
// touching the store. Rewritten whenever any member is recomputed.
type Snapshot struct {
	// PopulationSize counts subjects in the summary table; CaseCount counts
	// distinct cases in the fact table. The fact table can know cases the
	// summary table does not, so whole-population detection uses CaseCount.
	PopulationSize int
	CaseCount      int
	Categories     []models.CategoryMeta
	Population     *models.FilterResponse
	Null           *models.FilterResponse
}

// LoadSnapshot reads a snapshot from path. A missing or unreadable file is an
// error the caller treats as "rebuild", never as fatal.
func LoadSnapshot(path string) (*Snapshot, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer fh.Close()

	var snap Snapshot
	if err := gob.NewDecoder(fh).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Population == nil || snap.Null == nil {
		return nil, fmt.Errorf("decode snapshot: missing precomputed responses")
	}
	return &snap, nil
}

// Save writes the snapshot atomically (temp file + rename) so a crashed write
// never leaves a truncated snapshot for the next startup to trip over.
func (s *Snapshot) Save(path string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
