package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Action identifies which pipeline entry point produced a record
type Action string

const (
	ActionQuery Action = "query"
	ActionAsk   Action = "ask"
)

// Record is one audit entry. It carries a hash of the caller input, not
// the input itself, so audit storage never holds raw query text.
type Record struct {
	InvocationID     string        `json:"invocation_id"`
	CallerID         string        `json:"caller_id"`
	Action           Action        `json:"action"`
	InputHash        string        `json:"input_hash"`
	TablesReferenced []string      `json:"tables_referenced,omitempty"`
	FilterApplied    bool          `json:"filter_applied"`
	PracticeScopeLen int           `json:"practice_scope_len"`
	Outcome          string        `json:"outcome"`
	Duration         time.Duration `json:"duration"`
	At               time.Time     `json:"at"`
}

// Sink receives finished records. Emission must never block or fail the
// pipeline; sinks swallow their own errors.
type Sink interface {
	Emit(rec Record)
}

// LogSink writes records to the structured log
type LogSink struct{}

// Emit writes one record as a structured log line
func (LogSink) Emit(rec Record) {
	log.Info().
		Str("invocation_id", rec.InvocationID).
		Str("caller_id", rec.CallerID).
		Str("action", string(rec.Action)).
		Str("input_hash", rec.InputHash).
		Strs("tables_referenced", rec.TablesReferenced).
		Bool("filter_applied", rec.FilterApplied).
		Int("practice_scope_len", rec.PracticeScopeLen).
		Str("outcome", rec.Outcome).
		Dur("duration", rec.Duration).
		Msg("Query audit")
}

// Recorder assembles and emits audit records
type Recorder struct {
	sink Sink
}

// NewRecorder creates a recorder over the given sink. A nil sink logs.
func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = LogSink{}
	}
	return &Recorder{sink: sink}
}

// Begin starts a record for one invocation. The returned record carries
// a fresh invocation id and the input hash; the caller fills in the
// outcome fields and passes it to Finish.
func (r *Recorder) Begin(callerID string, action Action, input string) Record {
	return Record{
		InvocationID: uuid.New().String(),
		CallerID:     callerID,
		Action:       action,
		InputHash:    HashInput(input),
		At:           time.Now(),
	}
}

// Finish stamps the duration and emits the record
func (r *Recorder) Finish(rec Record, outcome string) {
	rec.Outcome = outcome
	rec.Duration = time.Since(rec.At)
	r.sink.Emit(rec)
}

// HashInput returns the hex SHA-256 of the caller's input
func HashInput(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
