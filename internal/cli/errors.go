// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error handling shared by the chatlink subcommands.
//
// Handlers always return errors and never print them; main passes the
// result to Report, which renders it (plain or JSON) and picks the exit
// code.

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/chatlink/internal/config"
	"github.com/jeranaias/chatlink/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates any failure that is not a usage error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid arguments or configuration
	ExitUsageError = 2
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports a malformed command line.
type UsageError struct {
	Message string
	// Usage is an optional hint such as "chatlink session view <id>".
	Usage string
}

func (e *UsageError) Error() string {
	if e.Usage == "" {
		return e.Message
	}
	return fmt.Sprintf("%s\nUsage: %s", e.Message, e.Usage)
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ErrMissingArgument reports a required positional argument.
func ErrMissingArgument(name, usage string) error {
	return &UsageError{Message: "missing argument: " + name, Usage: usage}
}

// ErrUnknownSubcommand reports a subcommand the command does not have.
func ErrUnknownSubcommand(command, sub string, valid []string) error {
	msg := fmt.Sprintf("unknown %s subcommand %q (valid: %s)", command, sub, strings.Join(valid, ", "))
	if s := Suggest(sub, valid); s != "" {
		msg += fmt.Sprintf("\nDid you mean 'chatlink %s %s'?", command, s)
	}
	return &UsageError{Message: msg}
}

// ErrUnknownCommand reports a command word ParseArgs did not recognize.
func ErrUnknownCommand(name string) error {
	msg := fmt.Sprintf("unknown command %q", name)
	if s := SuggestCommand(name); s != "" {
		msg += fmt.Sprintf("\nDid you mean 'chatlink %s'?", s)
	}
	return &UsageError{Message: msg, Usage: "chatlink help"}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var usage *UsageError
	if errors.As(err, &usage) || errors.Is(err, config.ValidationError{}) {
		return ExitUsageError
	}
	return ExitGeneralError
}

// Report writes err to w and returns the exit code for it. In JSON mode the
// error is written as a failed JSONResponse so scripts always get one
// document.
func Report(w io.Writer, command string, err error, jsonMode bool) int {
	if err == nil {
		return ExitSuccess
	}
	if jsonMode {
		NewJSONErrorResponse(command, err).Write(w)
		return ExitCode(err)
	}

	msg := err.Error()
	if errors.Is(err, storage.ErrSessionNotFound) {
		msg += "\nRun 'chatlink session history' to list archived sessions."
	}
	fmt.Fprintln(w, ErrorStyle.Render("Error:"), msg)
	return ExitCode(err)
}
