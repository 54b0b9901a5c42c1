// Package mock provides an in-memory test double for [patternstore.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. All methods are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.GetWordMetricsResult = &patternstore.WordMetrics{Word: "hello"}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("GetWordMetrics"); got != 1 {
//	    t.Errorf("expected 1 GetWordMetrics call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/arthurnavah/echoline/pkg/patternstore"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Compile-time interface check.
var _ patternstore.Store = (*Store)(nil)

// Store is a configurable test double for [patternstore.Store].
// All exported *Err fields default to nil (success); slice-valued *Result
// fields default to nil (an empty non-nil slice is returned).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// GetWordMetricsResult is returned by [Store.GetWordMetrics]. When nil
	// (and GetWordMetricsErr is nil) the word is reported as not found.
	GetWordMetricsResult *patternstore.WordMetrics

	// GetWordMetricsErr is returned by [Store.GetWordMetrics] when non-nil.
	GetWordMetricsErr error

	// GetWordMetricsFunc, when non-nil, overrides GetWordMetricsResult/Err
	// entirely. Useful for per-word behaviour and failure sequencing.
	GetWordMetricsFunc func(word string) (*patternstore.WordMetrics, error)

	// UpsertLearningRecordErr is returned by [Store.UpsertLearningRecord]
	// when non-nil.
	UpsertLearningRecordErr error

	// RecentWordMetricsResult holds the full rehydration data set;
	// [Store.RecentWordMetrics] pages through it honouring limit and offset.
	RecentWordMetricsResult []patternstore.WordMetrics

	// RecentWordMetricsErr is returned by [Store.RecentWordMetrics] when non-nil.
	RecentWordMetricsErr error

	// SimilarWordsResult is returned by [Store.SimilarWords].
	SimilarWordsResult []patternstore.SimilarWord

	// SimilarWordsErr is returned by [Store.SimilarWords] when non-nil.
	SimilarWordsErr error

	// WordsByPrefixResult is returned by [Store.WordsByPrefix].
	WordsByPrefixResult []patternstore.SimilarWord

	// WordsByPrefixErr is returned by [Store.WordsByPrefix] when non-nil.
	WordsByPrefixErr error

	// InsertWordObservationErr is returned by [Store.InsertWordObservation]
	// when non-nil.
	InsertWordObservationErr error

	// InsertTranscriptErr is returned by [Store.InsertTranscript] when non-nil.
	InsertTranscriptErr error

	// PruneResult is returned by [Store.PruneObservationsBefore].
	PruneResult int64

	// PruneErr is returned by [Store.PruneObservationsBefore] when non-nil.
	PruneErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error
}

// record appends a call entry under the lock.
func (s *Store) record(method string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded calls in invocation order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// GetWordMetrics implements [patternstore.Store].
func (s *Store) GetWordMetrics(_ context.Context, word string) (*patternstore.WordMetrics, error) {
	s.record("GetWordMetrics", word)
	s.mu.Lock()
	fn := s.GetWordMetricsFunc
	res, err := s.GetWordMetricsResult, s.GetWordMetricsErr
	s.mu.Unlock()
	if fn != nil {
		return fn(word)
	}
	return res, err
}

// UpsertLearningRecord implements [patternstore.Store].
func (s *Store) UpsertLearningRecord(_ context.Context, rec patternstore.LearningRecord) error {
	s.record("UpsertLearningRecord", rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpsertLearningRecordErr
}

// UpsertedRecords returns every record passed to UpsertLearningRecord.
func (s *Store) UpsertedRecords() []patternstore.LearningRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recs []patternstore.LearningRecord
	for _, c := range s.calls {
		if c.Method == "UpsertLearningRecord" {
			recs = append(recs, c.Args[0].(patternstore.LearningRecord))
		}
	}
	return recs
}

// RecentWordMetrics implements [patternstore.Store]. It pages through
// RecentWordMetricsResult so rehydration batching can be tested faithfully.
func (s *Store) RecentWordMetrics(_ context.Context, since time.Time, limit, offset int) ([]patternstore.WordMetrics, error) {
	s.record("RecentWordMetrics", since, limit, offset)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentWordMetricsErr != nil {
		return nil, s.RecentWordMetricsErr
	}
	if offset >= len(s.RecentWordMetricsResult) {
		return []patternstore.WordMetrics{}, nil
	}
	end := offset + limit
	if end > len(s.RecentWordMetricsResult) {
		end = len(s.RecentWordMetricsResult)
	}
	page := make([]patternstore.WordMetrics, end-offset)
	copy(page, s.RecentWordMetricsResult[offset:end])
	return page, nil
}

// SimilarWords implements [patternstore.Store].
func (s *Store) SimilarWords(_ context.Context, embedding []float32, limit int, threshold float64) ([]patternstore.SimilarWord, error) {
	s.record("SimilarWords", embedding, limit, threshold)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SimilarWordsErr != nil {
		return nil, s.SimilarWordsErr
	}
	if s.SimilarWordsResult == nil {
		return []patternstore.SimilarWord{}, nil
	}
	return s.SimilarWordsResult, nil
}

// WordsByPrefix implements [patternstore.Store].
func (s *Store) WordsByPrefix(_ context.Context, prefix string, limit int) ([]patternstore.SimilarWord, error) {
	s.record("WordsByPrefix", prefix, limit)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.WordsByPrefixErr != nil {
		return nil, s.WordsByPrefixErr
	}
	if s.WordsByPrefixResult == nil {
		return []patternstore.SimilarWord{}, nil
	}
	return s.WordsByPrefixResult, nil
}

// InsertWordObservation implements [patternstore.Store].
func (s *Store) InsertWordObservation(_ context.Context, obs patternstore.WordObservation) error {
	s.record("InsertWordObservation", obs)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InsertWordObservationErr
}

// InsertTranscript implements [patternstore.Store].
func (s *Store) InsertTranscript(_ context.Context, rec patternstore.TranscriptRecord) error {
	s.record("InsertTranscript", rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.InsertTranscriptErr
}

// PruneObservationsBefore implements [patternstore.Store].
func (s *Store) PruneObservationsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.record("PruneObservationsBefore", cutoff)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PruneResult, s.PruneErr
}

// Ping implements [patternstore.Store].
func (s *Store) Ping(_ context.Context) error {
	s.record("Ping")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}
