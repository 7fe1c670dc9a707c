package feed

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// Stream runs a Parser in a producer goroutine and hands records over an
// unbuffered channel. While paused the producer does not call Next, so no
// further input is read; at most one record already pulled waits in the
// hand-off.
//
// Typical consumer loop:
//
//	for rec := range s.Items() {
//	    batch = append(batch, rec)
//	    if len(batch) == size {
//	        s.Pause()
//	        flush(batch)
//	        s.Resume()
//	    }
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	items chan Record
	stop  chan struct{}

	mu     sync.Mutex
	gate   chan struct{} // closed while running
	paused bool

	stopOnce sync.Once
	pulled   atomic.Int64
	err      error
}

// NewStream starts producing from p immediately.
func NewStream(p Parser) *Stream {
	gate := make(chan struct{})
	close(gate)
	s := &Stream{
		items: make(chan Record),
		stop:  make(chan struct{}),
		gate:  gate,
	}
	go s.produce(p)
	return s
}

// Items returns the record channel. It is closed when the parser is
// exhausted, fails, or the stream is closed.
func (s *Stream) Items() <-chan Record {
	return s.items
}

// Err returns the fatal parser error, if any. Only valid after Items is
// closed.
func (s *Stream) Err() error {
	return s.err
}

// Pulled returns how many records the producer has taken from the parser.
func (s *Stream) Pulled() int64 {
	return s.pulled.Load()
}

// Pause stops the producer before its next read.
func (s *Stream) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		s.gate = make(chan struct{})
		s.paused = true
	}
}

// Resume lets a paused producer continue.
func (s *Stream) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		close(s.gate)
		s.paused = false
	}
}

// Paused reports whether the producer is held.
func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Close stops the producer. A producer blocked inside the parser exits once
// the underlying reader returns.
func (s *Stream) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Stream) produce(p Parser) {
	defer close(s.items)
	defer func() {
		if r := recover(); r != nil {
			s.err = fmt.Errorf("%w: parser panic: %v", ErrMalformedFeed, r)
		}
	}()

	for {
		if !s.waitRunning() {
			return
		}

		rec, err := p.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			s.err = err
			return
		}
		s.pulled.Add(1)

		select {
		case s.items <- rec:
		case <-s.stop:
			return
		}
	}
}

func (s *Stream) waitRunning() bool {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()

	select {
	case <-gate:
	case <-s.stop:
		return false
	}
	select {
	case <-s.stop:
		return false
	default:
		return true
	}
}
