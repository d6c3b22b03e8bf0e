package core

// error_messages.go maps technical errors to user-facing messages with codes
// that can be quoted to support.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the maximum upload size
//	          Match: "request body too large", "file too large"
//	FILE002 - Invalid format: A row is missing a name or email, or the file is malformed
//	          Match: ErrInvalidFormat
//	FILE003 - Unsupported type: File is neither CSV nor XLSX
//	          Match: ErrUnsupportedFileType
//	FILE004 - No file: No file was provided in the "file" field
//	          Match: "no file provided"
//	FILE005 - Empty batch: No records were found in the file
//	          Match: ErrEmptyBatch
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Not found: The upload id is unknown or has expired
//	         Match: ErrJobNotFound
//	JOB002 - Request cancelled: The request was cancelled
//	         Match: context.Canceled
//	JOB003 - Request timeout: The request timed out
//	         Match: context.DeadlineExceeded
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Match: "rate limit exceeded"
//
// ERR000 is the fallback for anything unmatched; check the server logs for
// the original error.

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// sentinelMessages are checked with errors.Is before any text matching.
var sentinelMessages = []struct {
	target error
	msg    UserMessage
}{
	{ErrInvalidFormat, UserMessage{
		Message: "Invalid file format",
		Action:  "Make sure every row has both a name and an email",
		Code:    "FILE002",
	}},
	{ErrUnsupportedFileType, UserMessage{
		Message: "Unsupported file type",
		Action:  "Upload a .csv or .xlsx file",
		Code:    "FILE003",
	}},
	{ErrEmptyBatch, UserMessage{
		Message: "No records found in file",
		Action:  "Upload a file with a header row and at least one data row",
		Code:    "FILE005",
	}},
	{ErrJobNotFound, UserMessage{
		Message: "Upload not found",
		Action:  "The upload may have expired. Please upload the file again",
		Code:    "JOB001",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "JOB002",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "JOB003",
	}},
}

// errorPatterns are matched case-insensitively against the error text.
// The first match wins, so specific patterns come first.
var errorPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"request body too large", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{"file too large", UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "FILE001",
	}},
	{"no file provided", UserMessage{
		Message: "No file was provided",
		Action:  "Attach a file in the \"file\" form field",
		Code:    "FILE004",
	}},
	{"rate limit exceeded", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a minute and try again",
		Code:    "RATE001",
	}},
}

var fallbackMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// A nil error returns the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return withHint(s.msg, err)
		}
	}

	lower := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(lower, p.pattern) {
			return p.msg
		}
	}
	return fallbackMessage
}

// withHint prefers a hint attached at the error site over the table's
// default action.
func withHint(msg UserMessage, err error) UserMessage {
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		msg.Action = hints[0]
	}
	return msg
}
