package logsource

import "github.com/tinytelemetry/toucan/internal/model"

// LogSource is a unified interface for all log input sources (file, stdin).
type LogSource interface {
	Lines() <-chan model.IngestEnvelope // read-only channel of log lines
	Stop()                              // graceful shutdown
	Name() string                       // "file", "stdin"
}
