// Package observability wires structured logging, Prometheus metrics,
// OpenTelemetry tracing and an HTTP health endpoint for the chunkserver
// daemon.
package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging with chunkserver-domain
// context fields.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates the service's root logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{logger: logger}
}

// WithChunk adds chunk_id/folder context.
func (l *Logger) WithChunk(chunkID uint64, folder string) *Logger {
	return &Logger{logger: l.logger.With().
		Uint64("chunk_id", chunkID).
		Str("folder", folder).
		Logger()}
}

// WithJob adds job_id context.
func (l *Logger) WithJob(jobID uint32) *Logger {
	return &Logger{logger: l.logger.With().Uint32("job_id", jobID).Logger()}
}

// WithPeer adds peer_addr context.
func (l *Logger) WithPeer(addr string) *Logger {
	return &Logger{logger: l.logger.With().Str("peer_addr", addr).Logger()}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }

func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// ChunkOperation logs a single completed chunk operation (CREATE, DELETE,
// SET_VERSION, ...) at info level, or warn if the status wasn't OK.
func (l *Logger) ChunkOperation(op string, chunkID uint64, status string, dur time.Duration) {
	ev := l.logger.Info()
	if status != "OK" {
		ev = l.logger.Warn()
	}
	ev.Str("op", op).
		Uint64("chunk_id", chunkID).
		Str("status", status).
		Dur("duration", dur).
		Msg("chunk operation")
}

// FolderDamaged logs a folder being marked damaged.
func (l *Logger) FolderDamaged(path string) {
	l.logger.Error().Str("folder", path).Msg("folder marked damaged")
}

// MasterConnected/MasterDisconnected log the master connection's lifecycle.
func (l *Logger) MasterConnected(addr string) {
	l.logger.Info().Str("master_addr", addr).Msg("connected to master")
}

func (l *Logger) MasterDisconnected(addr string, err error) {
	ev := l.logger.Warn().Str("master_addr", addr)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("disconnected from master")
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
