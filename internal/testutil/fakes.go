package testutil

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/judgeflow/backend/internal/notify"
	"github.com/judgeflow/backend/internal/oracle"
)

// ScorerFunc adapts a function to oracle.Scorer.
type ScorerFunc func(ctx context.Context, req oracle.Request) (string, error)

func (f ScorerFunc) Score(ctx context.Context, req oracle.Request) (string, error) {
	return f(ctx, req)
}

// StaticScorer always answers with raw and records the requests it saw.
type StaticScorer struct {
	mu       sync.Mutex
	raw      string
	err      error
	requests []oracle.Request
}

func NewStaticScorer(raw string, err error) *StaticScorer {
	return &StaticScorer{raw: raw, err: err}
}

func (s *StaticScorer) Score(_ context.Context, req oracle.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.raw, s.err
}

func (s *StaticScorer) Calls() []oracle.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]oracle.Request(nil), s.requests...)
}

// RecordingEmitter keeps every event it was asked to send.
type RecordingEmitter struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func NewRecordingEmitter() *RecordingEmitter {
	return &RecordingEmitter{}
}

// FailWith makes later emits return err after recording the event.
func (e *RecordingEmitter) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (e *RecordingEmitter) EmitToUser(_ context.Context, userID, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, notify.Event{UserID: userID, Name: event, Payload: data})
	return e.err
}

func (e *RecordingEmitter) Events() []notify.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]notify.Event(nil), e.events...)
}
