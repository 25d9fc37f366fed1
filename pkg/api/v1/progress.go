package v1

// LogLevel represents the severity of a progress log entry
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Valid reports whether the level is one of the known values.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelSuccess, LogLevelWarning, LogLevelError:
		return true
	}
	return false
}

// ProgressLog represents one progress event emitted by an analysis run.
// Entries are immutable once received; a session's list grows monotonically
// until explicitly cleared.
type ProgressLog struct {
	ID         string         `json:"id"`
	Level      LogLevel       `json:"level"`
	Message    string         `json:"message"`
	Timestamp  Timestamp      `json:"timestamp"`
	Step       *int           `json:"step,omitempty"`
	TotalSteps *int           `json:"totalSteps,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}
