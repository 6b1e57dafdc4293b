package logs

import (
	"fmt"
	"time"
)

// Levels attached to captured lines and lifecycle events.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Entry is a single captured log line. Entries are never modified after creation.
type Entry struct {
	Time    time.Time         `json:"ts" yaml:"ts"`
	Level   string            `json:"level" yaml:"level"`
	Service string            `json:"service" yaml:"service"`
	Message string            `json:"message" yaml:"message"`
	Fields  map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// fileLine renders the on-disk form: "<ts> [<level>] <message>".
func (e Entry) fileLine() string {
	return fmt.Sprintf("%s [%s] %s\n", e.Time.Format(time.RFC3339Nano), e.Level, e.Message)
}

// exportLine renders the export form, which also names the service.
func (e Entry) exportLine() string {
	return fmt.Sprintf("%s [%s] %s %s\n", e.Time.Format(time.RFC3339Nano), e.Level, e.Service, e.Message)
}
