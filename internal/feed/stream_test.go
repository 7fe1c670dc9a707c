package feed

import (
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"
)

// countingParser yields n empty records and counts Next calls.
type countingParser struct {
	n     int
	calls atomic.Int64
	fail  error
}

func (p *countingParser) Next() (Record, error) {
	i := int(p.calls.Add(1)) - 1
	if i >= p.n {
		if p.fail != nil {
			return Record{}, p.fail
		}
		return Record{}, io.EOF
	}
	return newRecord(i), nil
}

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream(&countingParser{n: 50})

	want := 0
	for rec := range s.Items() {
		if rec.Index != want {
			t.Fatalf("got index %d, want %d", rec.Index, want)
		}
		want++
	}
	if want != 50 {
		t.Errorf("received %d records, want 50", want)
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStreamPauseStopsPulling(t *testing.T) {
	p := &countingParser{n: 100}
	s := NewStream(p)

	<-s.Items()
	s.Pause()
	if !s.Paused() {
		t.Fatal("Paused() = false after Pause")
	}

	time.Sleep(20 * time.Millisecond)
	pulled := s.Pulled()
	if pulled > 2 {
		t.Fatalf("pulled %d records while paused, want at most 2", pulled)
	}

	time.Sleep(20 * time.Millisecond)
	if s.Pulled() != pulled {
		t.Errorf("producer advanced while paused: %d -> %d", pulled, s.Pulled())
	}

	s.Resume()
	got := 1
	for range s.Items() {
		got++
	}
	if got != 100 {
		t.Errorf("received %d records, want 100", got)
	}
}

func TestStreamPropagatesParserError(t *testing.T) {
	boom := errors.New("boom")
	s := NewStream(&countingParser{n: 3, fail: boom})

	got := 0
	for range s.Items() {
		got++
	}
	if got != 3 {
		t.Errorf("received %d records, want 3", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want boom", s.Err())
	}
}

func TestStreamClose(t *testing.T) {
	s := NewStream(&countingParser{n: 1000})
	<-s.Items()
	s.Close()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-s.Items():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("items channel not closed after Close")
		}
	}
}
