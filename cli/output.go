package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/warp/food-ledger/ledger"
	"github.com/warp/food-ledger/tracker"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The ledger refused the operation (validation, not found, rejected write)
	ExitCommandError = 2 // Command error (bad flags, host unreachable, config)
)

// Error codes reported in JSON output.
const (
	ErrCodeGeneric      = "E000"
	ErrCodeValidation   = "E001"
	ErrCodeNotFound     = "E002"
	ErrCodeRejected     = "E003"
	ErrCodeUnavailable  = "E004"
	ErrCodeNotConnected = "E005"
)

// ExitError represents an error with a specific exit code. Its message has
// already been reported through the OutputFormatter.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostics, kept off Writer so JSON stays parseable
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Success outputs data as JSON, or calls text to render it for humans.
func (f *OutputFormatter) Success(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	details := ""
	if err != nil {
		details = err.Error()
	}

	if f.Format == "json" {
		json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	} else {
		fmt.Fprintf(f.errWriter(), "Error [%s]: %s\n", code, message)
		if details != "" {
			fmt.Fprintf(f.errWriter(), "  %s\n", details)
		}
	}
	return &ExitError{Code: exit, Message: message, Err: err}
}

// VerboseLog outputs a diagnostic line only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

// classify maps an error to a JSON error code and an exit code.
func classify(err error) (string, int) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		return ErrCodeValidation, ExitFailure
	case errors.Is(err, ledger.ErrNotFound):
		return ErrCodeNotFound, ExitFailure
	case errors.Is(err, tracker.ErrNotConnected):
		return ErrCodeNotConnected, ExitCommandError
	case errors.Is(err, ledger.ErrWriteRejected):
		return ErrCodeRejected, ExitFailure
	case errors.Is(err, ledger.ErrSyncUnavailable), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeUnavailable, ExitCommandError
	default:
		return ErrCodeGeneric, ExitCommandError
	}
}
