// Package logger provides structured logging functionality for the application.
//
// It builds log/slog loggers from configuration, optionally fanning records out
// to a rotated JSON log file, and carries loggers through context.Context.
package logger
