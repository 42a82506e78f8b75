package core

// error_messages.go maps technical errors to user-facing messages with
// support codes. Users quote the code; support staff look it up here.
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Store busy             Patterns: "database is locked", "sqlite_busy"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Deadlock               Patterns: "deadlock"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import failed         Patterns: "read input", "open input", "write batch"
//	IMP002 - System busy           ErrTooManyImports
//	IMP003 - Import not found      ErrImportNotFound
//	IMP004 - Import cancelled      context.Canceled, "import cancelled"
//	IMP005 - File too large        Patterns: "file too large"
//	IMP006 - No file               Patterns: "no file provided"
//
// # Simulation Errors (SIM001-SIM099)
//
//	SIM001 - Invalid sample count  ErrInvalidSampleCount
//	SIM002 - Simulator busy        ErrTooManySimulations
//	SIM003 - Event not found       ErrEventNotFound
//
// # Policy Errors (POL001-POL099)
//
//	POL001 - Invalid policy        ErrInvalidPolicy
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Rate limited         Patterns: "rate limit"
//
// ERR000 is the fallback. When a user reports it, check the logs for the
// technical error logged alongside the request ID.
//
// Sentinel errors are matched first with errors.Is. Text patterns are then
// matched case-insensitively; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type sentinelMapping struct {
	target error
	msg    UserMessage
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgImportFailed = UserMessage{
		Message: "Import failed",
		Action:  "Check the file and try again; rows already written were kept",
		Code:    "IMP001",
	}
	msgImportCancelled = UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "IMP004",
	}
)

var sentinelMappings = []sentinelMapping{
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports in progress",
		Action:  "Please wait a moment and try again",
		Code:    "IMP002",
	}},
	{ErrImportNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please start a new import",
		Code:    "IMP003",
	}},
	{context.Canceled, msgImportCancelled},
	{ErrInvalidSampleCount, UserMessage{
		Message: "Sample count must be a positive integer",
		Action:  "Use the default of 5000 or choose another positive value",
		Code:    "SIM001",
	}},
	{ErrTooManySimulations, UserMessage{
		Message: "Too many simulations in progress",
		Action:  "Please wait a moment and try again",
		Code:    "SIM002",
	}},
	{ErrEventNotFound, UserMessage{
		Message: "Event not found",
		Action:  "Refresh the event list; it may have been cleared",
		Code:    "SIM003",
	}},
	{ErrInvalidPolicy, UserMessage{
		Message: "Policy thresholds are out of range",
		Action:  "Probabilities must be in (0, 1] and gate thresholds positive",
		Code:    "POL001",
	}},
}

// errorPatterns is ordered specific before general.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this ID already exists",
		Action:  "Check the file for duplicate ids",
		Code:    "DB001",
	}},
	{"unique constraint", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check the file for duplicate entries",
		Code:    "DB002",
	}},
	{"violates unique", UserMessage{
		Message: "This value must be unique but already exists",
		Action:  "Check the file for duplicate entries",
		Code:    "DB002",
	}},
	{"database is locked", UserMessage{
		Message: "The event store is busy",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"sqlite_busy", UserMessage{
		Message: "The event store is busy",
		Action:  "Please try again",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "DB006",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB007",
	}},
	{"import cancelled", msgImportCancelled},
	{"file too large", UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Split the file or compress it with gzip or zstd",
		Code:    "IMP005",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Attach a CDM file in the 'file' form field",
		Code:    "IMP006",
	}},
	{"read input", msgImportFailed},
	{"open input", msgImportFailed},
	{"write batch", msgImportFailed},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the zero UserMessage for a nil error and ERR000 when nothing matches.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	for _, sm := range sentinelMappings {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// MapImportError is MapError for a fatal ingestion error. Anything other than
// cancellation or a capacity problem surfaces as the generic IMP001.
func MapImportError(err error) UserMessage {
	msg := MapError(err)
	switch msg.Code {
	case "", "IMP002", "IMP004", "IMP005", "IMP006":
		return msg
	default:
		return msgImportFailed
	}
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error (for logs) with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and wraps it. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
