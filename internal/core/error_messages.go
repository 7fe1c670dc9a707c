package core

// # Error Codes Reference
//
// This file maps technical errors to user-facing messages with codes for
// support reference. Codes are grouped by category:
//
// # Feed Errors (FEED001-FEED099)
//
//	FEED001 - Feed too large: the buffered feed exceeds the size cap
//	          Patterns: "feed too large"
//	FEED002 - Malformed feed: the feed could not be parsed
//	          Patterns: "malformed feed"
//	FEED003 - Unsupported format: the format hint is not csv, json or xml
//	          Patterns: "unsupported feed format"
//	FEED004 - Unknown charset: the declared encoding is not supported
//	          Patterns: "unknown charset"
//	FEED005 - No feed: the request carried no feed
//	          Patterns: "feed source", "no feed provided"
//	FEED006 - Fetch failed: the feed URL could not be downloaded
//	          Patterns: "fetch feed"
//	FEED007 - Unsupported URL: the feed URL scheme cannot be opened
//	          Patterns: "unsupported uri scheme"
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Run cancelled         Patterns: "run cancelled"
//	RUN002 - System busy           Patterns: "too many concurrent runs"
//	RUN003 - Run not found         Patterns: "run not found"
//	RUN004 - Run timed out         Patterns: "run timed out"
//	RUN005 - Request cancelled     Patterns: "context canceled"
//	RUN006 - Request timeout       Patterns: "context deadline exceeded"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Connection refused     Patterns: "connection refused"
//	DB004 - Connection reset       Patterns: "connection reset"
//	DB005 - Database busy          Patterns: "database is locked", "sqlite_busy"
//	DB006 - Deadlock               Patterns: "deadlock"
//	DB007 - Timeout                Patterns: "timeout"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid definition    Patterns: "invalid definition"
//	VAL002 - Required field empty  Patterns: "missing required field"
//	VAL003 - Item has no identity  Patterns: "no identifier or title"
//	VAL004 - Invalid request       Patterns: "invalid request"
//	VAL005 - Product not found     Patterns: "product not found"
//
// # Deduplication Errors (DEDUP001-DEDUP099)
//
//	DEDUP001 - Already running     Patterns: "lock already held"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited         Patterns: "rate limit"
//
// Fallback when no specific pattern matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.
// For ERR000 reports check the logs for the original technical error.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgFeedMissing = UserMessage{
		Message: "No feed was provided",
		Action:  "Upload a file or pass a feed URL",
		Code:    "FEED005",
	}
	msgUnique = UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check for duplicate identifiers in the feed",
		Code:    "DB002",
	}
	msgDBBusy = UserMessage{
		Message: "The database is busy",
		Action:  "Please try again in a few moments",
		Code:    "DB005",
	}
)

// errorPatterns maps technical error patterns (case-insensitive) to user
// messages. Order matters: the first match wins.
var errorPatterns = []errorPattern{
	// Feed errors
	{
		pattern: "feed too large",
		msg: UserMessage{
			Message: "Feed exceeds the maximum size for its format",
			Action:  "Split the feed or provide it as CSV or JSON",
			Code:    "FEED001",
		},
	},
	{
		pattern: "malformed feed",
		msg: UserMessage{
			Message: "The feed could not be parsed",
			Action:  "Check that the file is valid CSV, JSON or XML",
			Code:    "FEED002",
		},
	},
	{
		pattern: "unsupported feed format",
		msg: UserMessage{
			Message: "Unsupported feed format",
			Action:  "Use csv, json or xml as the format",
			Code:    "FEED003",
		},
	},
	{
		pattern: "unknown charset",
		msg: UserMessage{
			Message: "The feed encoding is not supported",
			Action:  "Use an encoding such as utf-8 or windows-1251",
			Code:    "FEED004",
		},
	},
	{pattern: "feed source", msg: msgFeedMissing},
	{pattern: "no feed provided", msg: msgFeedMissing},
	{
		pattern: "unsupported uri scheme",
		msg: UserMessage{
			Message: "The feed URL scheme is not supported",
			Action:  "Use an http, https or s3 URL",
			Code:    "FEED007",
		},
	},
	{
		pattern: "fetch feed",
		msg: UserMessage{
			Message: "The feed could not be downloaded",
			Action:  "Check the feed URL and its access permissions",
			Code:    "FEED006",
		},
	},

	// Run errors
	{
		pattern: "run cancelled",
		msg: UserMessage{
			Message: "The ingestion run was cancelled",
			Action:  "Start a new run when ready",
			Code:    "RUN001",
		},
	},
	{
		pattern: "too many concurrent runs",
		msg: UserMessage{
			Message: "System is busy processing other feeds",
			Action:  "Please wait a moment and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "Ingestion run not found",
			Action:  "Check the run id",
			Code:    "RUN003",
		},
	},
	{
		pattern: "run timed out",
		msg: UserMessage{
			Message: "The ingestion run took too long",
			Action:  "Split the feed or raise the run timeout",
			Code:    "RUN004",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "RUN005",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try again later or ingest asynchronously",
			Code:    "RUN006",
		},
	},

	// Database errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Check for duplicate identifiers in the feed",
			Code:    "DB001",
		},
	},
	{pattern: "unique constraint", msg: msgUnique},
	{pattern: "violates unique", msg: msgUnique},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},
	{pattern: "database is locked", msg: msgDBBusy},
	{pattern: "sqlite_busy", msg: msgDBBusy},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB007",
		},
	},

	// Validation errors
	{
		pattern: "invalid definition",
		msg: UserMessage{
			Message: "The definition is invalid",
			Action:  "Fix the listed fields and save again",
			Code:    "VAL001",
		},
	},
	{
		pattern: "missing required field",
		msg: UserMessage{
			Message: "A required field is empty",
			Action:  "Map a source column to every required field",
			Code:    "VAL002",
		},
	},
	{
		pattern: "no identifier or title",
		msg: UserMessage{
			Message: "Item has no identifier or title",
			Action:  "Include a sku, ean, id or title column",
			Code:    "VAL003",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request is incomplete",
			Action:  "Check the request parameters",
			Code:    "VAL004",
		},
	},
	{
		pattern: "product not found",
		msg: UserMessage{
			Message: "Product not found",
			Action:  "Check the supplier and uid",
			Code:    "VAL005",
		},
	},

	// Deduplication errors
	{
		pattern: "lock already held",
		msg: UserMessage{
			Message: "Deduplication is already running for this workspace",
			Action:  "Wait for the current pass to finish",
			Code:    "DEDUP001",
		},
	},

	// Rate limiting
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first case-insensitive pattern match, or the ERR000
// fallback. A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
