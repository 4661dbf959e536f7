package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// ParseLevel maps a level name onto a zerolog level, defaulting to info
func ParseLevel(l Level) zerolog.Level {
	switch l {
	case DebugLevel:
		return zerolog.DebugLevel
	case InfoLevel:
		return zerolog.InfoLevel
	case WarnLevel:
		return zerolog.WarnLevel
	case ErrorLevel:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	// Logs go to stderr so command output on stdout stays clean
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithClusterID returns a child of l carrying the cluster_id field
func WithClusterID(l zerolog.Logger, clusterID string) zerolog.Logger {
	return l.With().Str("cluster_id", clusterID).Logger()
}

// WithNodeID returns a child of l carrying the cluster_id and node_id fields
func WithNodeID(l zerolog.Logger, clusterID, nodeID string) zerolog.Logger {
	return l.With().Str("cluster_id", clusterID).Str("node_id", nodeID).Logger()
}

// WithTaskID returns a child of l carrying the cluster_id and task_id fields
func WithTaskID(l zerolog.Logger, clusterID, taskID string) zerolog.Logger {
	return l.With().Str("cluster_id", clusterID).Str("task_id", taskID).Logger()
}
