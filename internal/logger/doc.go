// Package logger provides a simple, thread-safe logging facility on top of
// zerolog.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional component ID
// (usually a worker ID), and message.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Application started")
//	logger.Info("worker-1a2b", "Job launched")
//	logger.Error("worker-1a2b", "Failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("worker-1a2b", "Debug message")
//
// NewJSON writes one JSON object per line instead, with the ID in the
// "worker" field.
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// Writes go through zerolog.SyncWriter and are safe for concurrent use.
package logger
