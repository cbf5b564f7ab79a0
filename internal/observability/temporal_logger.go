package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

var (
	_ log.Logger     = (*TemporalLogger)(nil)
	_ log.WithLogger = (*TemporalLogger)(nil)
)

// TemporalLogger adapts zerolog to the Temporal SDK logger interfaces.
type TemporalLogger struct {
	logger zerolog.Logger
}

// NewTemporalLogger wraps logger and tags every line with component=temporal-sdk.
func NewTemporalLogger(logger zerolog.Logger) *TemporalLogger {
	return &TemporalLogger{logger: logger.With().Str("component", "temporal-sdk").Logger()}
}

// Debug logs at debug level.
func (l *TemporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug().Fields(keyvalFields(keyvals)).Msg(msg)
}

// Info logs at info level.
func (l *TemporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info().Fields(keyvalFields(keyvals)).Msg(msg)
}

// Warn logs at warn level.
func (l *TemporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn().Fields(keyvalFields(keyvals)).Msg(msg)
}

// Error logs at error level.
func (l *TemporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error().Fields(keyvalFields(keyvals)).Msg(msg)
}

// With returns a child logger carrying keyvals on every line.
func (l *TemporalLogger) With(keyvals ...interface{}) log.Logger {
	return &TemporalLogger{logger: l.logger.With().Fields(keyvalFields(keyvals)).Logger()}
}

// keyvalFields turns alternating key/value pairs into zerolog fields.
// A trailing key without a value is kept under "extra".
func keyvalFields(keyvals []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", keyvals[i])
		}
		if i+1 >= len(keyvals) {
			fields["extra"] = key
			break
		}
		fields[key] = keyvals[i+1]
	}
	return fields
}
