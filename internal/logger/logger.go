// Package logger provides the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// Log is slog's default logger until Init replaces it.
var Log = slog.Default()

// Init initializes the global logger with the given level ("debug", "info",
// "warn", "error") and an optional log file path in addition to stdout.
func Init(level string, logFile string) error {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	writers := []io.Writer{os.Stdout}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		writers = append(writers, f)
	}
	multiWriter := io.MultiWriter(writers...)

	handler := slog.NewTextHandler(multiWriter, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format("15:04:05.000"))
			}
			return a
		},
	})

	Log = slog.New(handler)
	slog.SetDefault(Log)
	return nil
}

// ForPeer returns a logger bound to a connection's peer id, stable across
// every log line emitted while handling that peer.
func ForPeer(peerID string) *slog.Logger {
	return Log.With("peer_id", peerID)
}

// ForRoom returns a logger bound to a project's room, for lines emitted
// from room/merge/broadcast code paths.
func ForRoom(projectID string) *slog.Logger {
	return Log.With("project_id", projectID)
}

// ForPeerRoom binds both a peer and the room it acted within, the common
// case once a peer has joined a project.
func ForPeerRoom(peerID, projectID string) *slog.Logger {
	return Log.With("peer_id", peerID, "project_id", projectID)
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
