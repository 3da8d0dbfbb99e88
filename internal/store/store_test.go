package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/pipeline"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stableResult(seq uint64, dets ...pipeline.StabilizedDetection) *pipeline.StabilizedResult {
	return &pipeline.StabilizedResult{
		FrameSeq:   seq,
		Timestamp:  time.Now(),
		Stabilized: dets,
	}
}

func stable(class string, classID int, conf float32, count int) pipeline.StabilizedDetection {
	return pipeline.StabilizedDetection{
		Detection: pipeline.Detection{
			ClassID:    classID,
			Class:      class,
			Confidence: conf,
			Box:        pipeline.Box{X1: 10, Y1: 20, X2: 110, Y2: 220},
		},
		StabilityCount: count,
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.StartSession()
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.EndSession(id, 1234))
}

func TestInsertAndQueryDetections(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartSession()
	require.NoError(t, err)

	require.NoError(t, s.InsertDetections(id, stableResult(1,
		stable("person", 0, 0.62, 2),
		stable("dog", 16, 0.8, 3),
	)))
	require.NoError(t, s.InsertDetections(id, stableResult(2,
		stable("person", 0, 0.64, 3),
	)))

	count, err := s.CountBySession(id)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	records, err := s.RecentDetections(id, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)

	byClass := map[string]int{}
	for _, r := range records {
		byClass[r.Class]++
		assert.Equal(t, id, r.SessionID)
		assert.Equal(t, 10.0, r.X1)
		assert.Equal(t, 220.0, r.Y2)
		assert.GreaterOrEqual(t, r.StabilityCount, 2)
	}
	assert.Equal(t, 2, byClass["person"])
	assert.Equal(t, 1, byClass["dog"])
}

func TestInsertDetectionsEmptyFrameIsNoop(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartSession()
	require.NoError(t, err)

	require.NoError(t, s.InsertDetections(id, stableResult(1)))

	count, err := s.CountBySession(id)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRecentDetectionsLimit(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartSession()
	require.NoError(t, err)

	for seq := uint64(1); seq <= 5; seq++ {
		require.NoError(t, s.InsertDetections(id, stableResult(seq, stable("person", 0, 0.7, 2))))
	}

	records, err := s.RecentDetections(id, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestSessionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	a, err := s.StartSession()
	require.NoError(t, err)
	b, err := s.StartSession()
	require.NoError(t, err)

	require.NoError(t, s.InsertDetections(a, stableResult(1, stable("person", 0, 0.7, 2))))

	countB, err := s.CountBySession(b)
	require.NoError(t, err)
	assert.Equal(t, 0, countB)

	recordsB, err := s.RecentDetections(b, 10)
	require.NoError(t, err)
	assert.Empty(t, recordsB)
}

func TestRecorderPersistsStableDetections(t *testing.T) {
	s := openTestStore(t)
	id, err := s.StartSession()
	require.NoError(t, err)

	r := NewRecorder(s, id)
	r.OnResult(stableResult(1, stable("person", 0, 0.7, 2)))
	r.OnResult(stableResult(2)) // empty frame, nothing stored

	count, err := s.CountBySession(id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
