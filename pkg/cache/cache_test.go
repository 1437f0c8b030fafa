package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cohortql/cohort-engine/pkg/models"
)

func resp(v float64) *models.FilterResponse {
	return &models.FilterResponse{
		Counts: []models.SubjectCount{{ID: "selected", Header: "Selected", Value: v}},
		Age: models.ChartData{
			Labels:   []string{"60-64", "65+"},
			Datasets: []models.Dataset{{Label: "Female", Data: []int{int(v), 0}}},
		},
	}
}

func TestMemoHitMissCounters(t *testing.T) {
	memo, err := NewMemo(4)
	require.NoError(t, err)

	_, ok := memo.Get("a")
	assert.False(t, ok)
	assert.Equal(t, int64(1), memo.Misses())

	memo.Add("a", resp(10))
	got, ok := memo.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10.0, got.Counts[0].Value)
	assert.Equal(t, int64(1), memo.Hits())
}

func TestMemoBoundedEviction(t *testing.T) {
	memo, err := NewMemo(2)
	require.NoError(t, err)

	memo.Add("a", resp(1))
	memo.Add("b", resp(2))
	memo.Add("c", resp(3)) // evicts "a"

	assert.Equal(t, 2, memo.Len())
	_, ok := memo.Get("a")
	assert.False(t, ok)
	_, ok = memo.Get("c")
	assert.True(t, ok)
}

func TestMemoDefaultCapacity(t *testing.T) {
	memo, err := NewMemo(0)
	require.NoError(t, err)
	for i := 0; i < DefaultMemoCapacity+10; i++ {
		memo.Add(string(rune('a'+i%26))+string(rune('a'+i/26)), resp(float64(i)))
	}
	assert.LessOrEqual(t, memo.Len(), DefaultMemoCapacity)
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.gob")
	snap := &Snapshot{
		PopulationSize: 500,
		CaseCount:      510,
		Categories: []models.CategoryMeta{{
			ID:   1,
			Name: "Demographics",
			Items: []models.ItemMeta{{
				ID:    2,
				Name:  "Age",
				Range: &models.RangeMeta{Min: 60, Max: 100, Step: 5},
			}},
		}},
		Population: resp(500),
		Null:       resp(500).Zeroed(),
	}

	require.NoError(t, snap.Save(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap, loaded)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "nope.gob"))
	assert.Error(t, err)
}

func TestLoadSnapshotCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.gob")
	require.NoError(t, os.WriteFile(path, []byte("not a gob stream"), 0o600))

	_, err := LoadSnapshot(path)
	assert.Error(t, err)
}
