package core

// error_messages.go maps technical errors to user-facing messages.
//
// Codes are grouped by category so support staff can find the cause quickly:
//
//	AUTH001-AUTH099  identity and permissions
//	BRD001-BRD099    boards and jobs
//	FILE001-FILE099  uploaded workbook problems
//	IMP001-IMP099    import pipeline
//	DB001-DB099      database failures
//	RATE001          throttling
//	ERR000           fallback, check the logs for the technical error
//
// Sentinel errors are matched first with errors.Is. Anything else falls back
// to case-insensitive substring patterns, first match wins.

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrBoardNotFound   = errors.New("board not found")
	ErrJobNotFound     = errors.New("import job not found")
	ErrEmptyFile       = errors.New("empty file")
	ErrFileTooLarge    = errors.New("file too large")
	ErrNotSpreadsheet  = errors.New("file is not an xlsx workbook")
	ErrInvalidMode     = errors.New("invalid import mode")
	ErrTooManyImports  = errors.New("too many concurrent imports, please try again later")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type sentinelMessage struct {
	err    error
	status int
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrUnauthenticated, http.StatusUnauthorized, UserMessage{
		Message: "You must be signed in",
		Action:  "Sign in and try again",
		Code:    "AUTH001",
	}},
	{ErrForbidden, http.StatusForbidden, UserMessage{
		Message: "You do not have access to this board",
		Action:  "Ask a board owner for editor access",
		Code:    "AUTH002",
	}},
	{ErrBoardNotFound, http.StatusNotFound, UserMessage{
		Message: "Board not found",
		Action:  "Check the board link",
		Code:    "BRD001",
	}},
	{board.ErrNotFound, http.StatusNotFound, UserMessage{
		Message: "Board not found",
		Action:  "Check the board link",
		Code:    "BRD001",
	}},
	{ErrJobNotFound, http.StatusNotFound, UserMessage{
		Message: "Import job not found",
		Action:  "Jobs are kept until the server restarts. Start a new import",
		Code:    "BRD002",
	}},
	{ErrEmptyFile, http.StatusBadRequest, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Upload an .xlsx workbook with a header row",
		Code:    "FILE001",
	}},
	{ErrFileTooLarge, http.StatusBadRequest, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the board into smaller workbooks",
		Code:    "FILE002",
	}},
	{ErrNotSpreadsheet, http.StatusBadRequest, UserMessage{
		Message: "File is not an Excel workbook",
		Action:  "Save the file as .xlsx and upload it again",
		Code:    "FILE003",
	}},
	{ErrInvalidMode, http.StatusBadRequest, UserMessage{
		Message: "Unknown import mode",
		Action:  "Use merge or overwrite",
		Code:    "IMP001",
	}},
	{sheet.ErrMissingHeader, http.StatusBadRequest, UserMessage{
		Message: "Required column \"Column Name\" is missing from the header row",
		Action:  "Export the board to get a workbook with the expected headers",
		Code:    "IMP002",
	}},
	{sheet.ErrNoSheet, http.StatusBadRequest, UserMessage{
		Message: "The workbook has no sheets",
		Action:  "Add a sheet with the board data",
		Code:    "IMP003",
	}},
	{ErrTooManyImports, http.StatusTooManyRequests, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "RATE002",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns covers errors without a sentinel, mostly from the database
// driver and the workbook reader. More specific patterns go first.
var errorPatterns = []errorPattern{
	{"duplicate key", UserMessage{
		Message: "A record with this name already exists",
		Action:  "Check the workbook for duplicate rows",
		Code:    "DB001",
	}},
	{"violates foreign key", UserMessage{
		Message: "Referenced record does not exist",
		Action:  "The board may have changed during the import. Try again",
		Code:    "DB002",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB003",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB004",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB005",
	}},
	{"zip: not a valid zip file", UserMessage{
		Message: "File is not an Excel workbook",
		Action:  "Save the file as .xlsx and upload it again",
		Code:    "FILE003",
	}},
	{"unzip size exceeds", UserMessage{
		Message: "Workbook is too large once decompressed",
		Action:  "Split the board into smaller workbooks",
		Code:    "FILE004",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "IMP004",
	}},
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
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
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

// HTTPStatus returns the response status for err. Unknown errors are 500.
func HTTPStatus(err error) int {
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// FormatUserError renders err as "Message (Code: XXX). Action".
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
