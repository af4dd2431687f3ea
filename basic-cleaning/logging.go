package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/platform/env"
)

func newLogger(w io.Writer, src *env.Source) (*slog.Logger, error) {
	var level slog.Level
	raw := src.String("BASIC_CLEANING_LOG_LEVEL", "info")
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return nil, fmt.Errorf("parse BASIC_CLEANING_LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch format := strings.ToLower(src.String("BASIC_CLEANING_LOG_FORMAT", "json")); format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("BASIC_CLEANING_LOG_FORMAT must be json or text, got %q", format)
	}
}
