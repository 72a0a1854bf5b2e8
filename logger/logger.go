// Copyright (c) caoyingjie21
// SPDX-License-Identifier: Apache-2.0

// Package logger wraps log/slog with the level-parsing constructor and
// deferred-exit-code helper every cmd/ entrypoint in this repository uses.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// New builds a slog.Logger writing JSON records to w at the given level.
// levelText is one of "debug", "info", "warn", "error" (case-insensitive);
// an unrecognised value is an error so that a typo in configuration fails
// startup loudly instead of silently defaulting.
func New(w io.Writer, levelText string) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelText)); err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", levelText, err)
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

// ExitWithError is deferred from main with a pointer to the exit code
// variable; the deferred os.Exit runs after all other deferred cleanup
// (connection closes, flushers) has had a chance to execute.
func ExitWithError(code *int) {
	os.Exit(*code)
}
