package audit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureSink remembers every emitted record
type captureSink struct {
	records []Record
}

func (s *captureSink) Emit(rec Record) {
	s.records = append(s.records, rec)
}

func TestHashInput(t *testing.T) {
	// Stable and input-sensitive
	assert.Equal(t, HashInput("SELECT 1"), HashInput("SELECT 1"))
	assert.NotEqual(t, HashInput("SELECT 1"), HashInput("SELECT 2"))
	assert.Len(t, HashInput("SELECT 1"), 64)
}

func TestRecorder_BeginAndFinish(t *testing.T) {
	sink := &captureSink{}
	recorder := NewRecorder(sink)

	rec := recorder.Begin("user-1", ActionQuery, "SELECT * FROM ih.patients")
	assert.Equal(t, "user-1", rec.CallerID)
	assert.Equal(t, ActionQuery, rec.Action)
	assert.Equal(t, HashInput("SELECT * FROM ih.patients"), rec.InputHash)

	_, err := uuid.Parse(rec.InvocationID)
	assert.NoError(t, err)

	rec.TablesReferenced = []string{"ih.patients"}
	rec.FilterApplied = true
	rec.PracticeScopeLen = 3
	recorder.Finish(rec, "ok")

	require.Len(t, sink.records, 1)
	emitted := sink.records[0]
	assert.Equal(t, "ok", emitted.Outcome)
	assert.Equal(t, []string{"ih.patients"}, emitted.TablesReferenced)
	assert.True(t, emitted.FilterApplied)
	assert.Equal(t, 3, emitted.PracticeScopeLen)
	assert.GreaterOrEqual(t, emitted.Duration, time.Duration(0))
}

func TestRecorder_DistinctInvocationIDs(t *testing.T) {
	recorder := NewRecorder(&captureSink{})

	a := recorder.Begin("user-1", ActionAsk, "q")
	b := recorder.Begin("user-1", ActionAsk, "q")
	assert.NotEqual(t, a.InvocationID, b.InvocationID)

	// Same input always hashes identically
	assert.Equal(t, a.InputHash, b.InputHash)
}

func TestNewRecorder_NilSinkDefaultsToLog(t *testing.T) {
	recorder := NewRecorder(nil)
	rec := recorder.Begin("user-1", ActionQuery, "SELECT 1")
	// Must not panic
	recorder.Finish(rec, "ok")
}
