package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerie/mission-core/mission"
	"github.com/aerie/mission-core/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "aerie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func deployedMission(t *testing.T) *mission.State {
	t.Helper()
	m := mission.New()
	require.NoError(t, m.AttachImage("uploads/zone.jpg"))
	require.NoError(t, m.CompleteScan())
	require.NoError(t, m.RecordDetections([]models.Detection{
		{ID: 2, Class: "flood", Confidence: 0.95, X: 10, Y: 20, Width: 30, Height: 40, Zone: models.ZoneCentral},
		{ID: 1, Class: "fire", Confidence: 0.85, X: 1, Y: 2, Width: 3, Height: 4, Zone: models.ZoneNorth},
		{ID: 3, Class: "debris", Confidence: 0.40, Zone: models.ZoneSouth},
	}))
	require.NoError(t, m.Analyze())
	_, err := m.DeployUAVs(2)
	require.NoError(t, err)
	return m
}

func TestSaveAndLoadMission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := deployedMission(t)

	require.NoError(t, s.SaveMission(ctx, m))

	loaded, err := s.LoadMission(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, m.ID(), loaded.ID())
	assert.Equal(t, mission.StageDelivery, loaded.Stage())
	assert.Equal(t, "uploads/zone.jpg", loaded.ImageRef())
	assert.Equal(t, m.Detections(), loaded.Detections())
	assert.Equal(t, m.Deployed(), loaded.Deployed())
	assert.True(t, m.CreatedAt().Equal(loaded.CreatedAt()))
}

func TestLoadMissionNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadMission(context.Background(), "missing")
	assert.ErrorIs(t, err, mission.ErrNotFound)
}

func TestSaveMissionReplacesDetections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := deployedMission(t)
	require.NoError(t, s.SaveMission(ctx, m))

	m.Reset()
	require.NoError(t, s.SaveMission(ctx, m))

	loaded, err := s.LoadMission(ctx, m.ID())
	require.NoError(t, err)
	assert.Equal(t, mission.StageStart, loaded.Stage())
	assert.Empty(t, loaded.Detections())
	assert.Empty(t, loaded.Deployed())
	assert.Empty(t, loaded.ImageRef())
}

func TestLoadAllAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := deployedMission(t)
	second := mission.New()
	require.NoError(t, s.SaveMission(ctx, first))
	require.NoError(t, s.SaveMission(ctx, second))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	totals, err := s.ClassTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"flood": 1, "fire": 1, "debris": 1}, totals)

	require.NoError(t, s.DeleteMission(ctx, first.ID()))
	_, err = s.LoadMission(ctx, first.ID())
	assert.ErrorIs(t, err, mission.ErrNotFound)

	all, err = s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, second.ID(), all[0].ID())
}

func TestInMemoryStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer s.Close()

	m := mission.New()
	require.NoError(t, s.SaveMission(context.Background(), m))
	loaded, err := s.LoadMission(context.Background(), m.ID())
	require.NoError(t, err)
	assert.Equal(t, mission.StageStart, loaded.Stage())
}

func TestSaveMissionDuringReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := deployedMission(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Reset()
	}()
	require.NoError(t, s.SaveMission(ctx, m))
	<-done

	loaded, err := s.LoadMission(ctx, m.ID())
	require.NoError(t, err)
	if loaded.Stage() == mission.StageStart {
		assert.Empty(t, loaded.Detections())
		assert.Empty(t, loaded.Deployed())
		assert.Empty(t, loaded.ImageRef())
	} else {
		assert.Equal(t, mission.StageDelivery, loaded.Stage())
		assert.Len(t, loaded.Detections(), 3)
		assert.Len(t, loaded.Deployed(), 2)
	}
}
