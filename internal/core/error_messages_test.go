package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/feedpipe/internal/feed"
	"github.com/JonMunkholm/feedpipe/internal/mapping"
	"github.com/JonMunkholm/feedpipe/internal/model"
	"github.com/JonMunkholm/feedpipe/internal/normalize"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"oversized feed", fmt.Errorf("%w: xml feed exceeds 10 bytes", feed.ErrFeedTooLarge), "FEED001"},
		{"malformed feed", fmt.Errorf("%w: unexpected EOF", feed.ErrMalformedFeed), "FEED002"},
		{"unknown charset", errors.New(`unknown charset "klingon": bad`), "FEED004"},
		{"missing source", fmt.Errorf("%w: missing feed source", ErrInvalidRequest), "FEED005"},
		{"busy", ErrTooManyRuns, "RUN002"},
		{"cancelled run", ErrRunCancelled, "RUN001"},
		{"unknown run", fmt.Errorf("%w: abc", ErrRunNotFound), "RUN003"},
		{"run timeout wins over db timeout", errors.New("run timed out: context deadline exceeded"), "RUN004"},
		{"canceled context", context.Canceled, "RUN005"},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"unique constraint", errors.New("UNIQUE constraint failed: final_products.match_value"), "DB002"},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), "DB005"},
		{"invalid definition", fmt.Errorf("%w: Key failed", model.ErrInvalidDefinition), "VAL001"},
		{"required field", fmt.Errorf("%w: price", mapping.ErrMissingRequired), "VAL002"},
		{"no identity", normalize.ErrNoIdentity, "VAL003"},
		{"missing workspace", fmt.Errorf("%w: missing workspace id", ErrInvalidRequest), "VAL004"},
		{"lock held", errors.New("dedup:ws: lock already held"), "DEDUP001"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
		{"case insensitive matching", errors.New("DUPLICATE KEY value"), "DB001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyRuns)
	want := "System is busy processing other feeds (Code: RUN002). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", feed.ErrFeedTooLarge, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	if got := NewUserError(nil); got != nil {
		t.Errorf("NewUserError(nil) = %v, want nil", got)
	}

	techErr := fmt.Errorf("flush: %w", feed.ErrMalformedFeed)
	userErr := NewUserError(techErr)

	if userErr.Error() != "The feed could not be parsed" {
		t.Errorf("Error() = %q, want user message", userErr.Error())
	}
	if !errors.Is(userErr, feed.ErrMalformedFeed) {
		t.Error("Unwrap() should expose the technical error")
	}
}
