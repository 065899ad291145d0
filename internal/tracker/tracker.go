// Package tracker records scalar metric events keyed by training iteration,
// the runner's stand-in for an experiment-tracking dashboard.
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const batchSize = 10 // Number of events to batch write

// ScalarEvent is one tracked value.
type ScalarEvent struct {
	Tag   string  `json:"tag"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// Sink accepts scalar events. Implementations must be safe for use from a
// single goroutine; the coordinator emits from rank 0 only.
type Sink interface {
	// AddScalar records one (tag, value, step) event.
	AddScalar(tag string, value float64, step int) error

	// Flush ensures all pending events are saved.
	Flush() error
}

// JSONLSink batches events and appends them to a JSON-lines file.
type JSONLSink struct {
	mu     sync.Mutex
	events []ScalarEvent
	path   string
}

// NewJSONLSink creates a sink writing to path.
func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

// AddScalar adds an event to the batch and flushes if the batch is full.
func (s *JSONLSink) AddScalar(tag string, value float64, step int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ScalarEvent{Tag: tag, Value: value, Step: step})

	if len(s.events) >= batchSize {
		return s.flush()
	}
	return nil
}

// Flush writes all pending events to disk.
func (s *JSONLSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *JSONLSink) flush() error {
	if len(s.events) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for events: %w", err)
		}
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open event file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, ev := range s.events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}

	s.events = nil // Clear the batch
	return nil
}
