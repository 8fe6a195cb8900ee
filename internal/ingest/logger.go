package ingest

// Logger defines the logging interface used by the pipeline.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// payloadForLog bounds how much of a rejected payload ends up in a log line.
func payloadForLog(payload []byte) string {
	const maxLen = 64
	if len(payload) > maxLen {
		return string(payload[:maxLen]) + "..."
	}
	return string(payload)
}
