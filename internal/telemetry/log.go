// Package telemetry implements the structured operations logging and
// Prometheus metrics a Scribe partition worker emits, grounded on the
// teacher's go/ops package (Publisher/PublishLog/ShardRef) and its
// logrus-backed LocalPublisher.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/estuary/scribe/internal/labels"
)

// Level mirrors the small set of severities a Scribe lambda emits.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// Log is the canonical shape of a single Scribe operations log line.
type Log struct {
	Timestamp time.Time            `json:"ts"`
	Level     Level                `json:"level"`
	Message   string               `json:"message"`
	Fields    json.RawMessage      `json:"fields,omitempty"`
	Document  labels.ShardLabeling `json:"document"`
}

// Publisher emits operations logs for a document's shard. Session-scoped
// implementations attach the document's labeling once and need not repeat
// it at every call site.
type Publisher interface {
	PublishLog(Log)
	Labels() labels.ShardLabeling
}

// PublishLog constructs and emits a Log, mirroring the teacher's
// ops.PublishLog helper: fields must be alternating string keys and
// JSON-encodable values. Incorrect field lists are a programmer error and
// panic rather than silently drop data.
func PublishLog(p Publisher, level Level, message string, fields ...interface{}) {
	if len(fields)%2 != 0 {
		panic(fmt.Sprintf("fields must be of even length: %#v", fields))
	}

	var m = make(map[string]interface{}, len(fields)/2)
	for i := 0; i != len(fields); i += 2 {
		var key, ok = fields[i].(string)
		if !ok {
			panic(fmt.Sprintf("field key must be a string: %#v", fields[i]))
		}
		var value = fields[i+1]
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		m[key] = value
	}

	raw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}

	p.PublishLog(Log{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Fields:    raw,
		Document:  p.Labels(),
	})
}

// LocalPublisher emits logs to the process's logrus logger, for
// development and for workers that don't ship logs to a collection.
type LocalPublisher struct {
	labeling labels.ShardLabeling
}

var _ Publisher = &LocalPublisher{}

func NewLocalPublisher(labeling labels.ShardLabeling) *LocalPublisher {
	return &LocalPublisher{labeling: labeling}
}

func (p *LocalPublisher) Labels() labels.ShardLabeling { return p.labeling }

func (*LocalPublisher) PublishLog(log Log) {
	var level logrus.Level
	switch log.Level {
	case LevelTrace:
		level = logrus.TraceLevel
	case LevelDebug:
		level = logrus.DebugLevel
	case LevelInfo:
		level = logrus.InfoLevel
	case LevelWarn:
		level = logrus.WarnLevel
	default:
		level = logrus.ErrorLevel
	}

	var fields logrus.Fields
	if err := json.Unmarshal(log.Fields, &fields); err != nil {
		logrus.WithFields(logrus.Fields{"error": err, "fields": string(log.Fields)}).
			Error("failed to unmarshal log fields")
	}
	logrus.WithFields(fields).WithField("document", log.Document.DocumentId).Log(level, log.Message)
}
