package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"vitals/server/logging"
)

// Console prints one line per event:
//
//	WARN  tick=12 death.replay_rejected actor:hero {"from":"NotDead",...} trace=4bf9...
type Console struct {
	logger *log.Logger
}

func NewConsole(w io.Writer) *Console {
	return &Console{logger: log.New(w, "", log.LstdFlags)}
}

func (s *Console) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	fmt.Fprintf(&line, "%-5s tick=%d %s %s", severityLabel(event.Severity), event.Tick, event.Type, entityLabel(event.Actor))
	for _, target := range event.Targets {
		line.WriteString(" -> ")
		line.WriteString(entityLabel(target))
	}
	if event.Payload != nil {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event.Type, err)
		}
		line.WriteByte(' ')
		line.Write(data)
	}
	if event.TraceID != "" {
		line.WriteString(" trace=")
		line.WriteString(event.TraceID)
	}
	s.logger.Print(line.String())
	return nil
}

func (s *Console) Close(context.Context) error {
	return nil
}

func severityLabel(sev logging.Severity) string {
	switch sev {
	case logging.SeverityDebug:
		return "DEBUG"
	case logging.SeverityInfo:
		return "INFO"
	case logging.SeverityWarn:
		return "WARN"
	case logging.SeverityError:
		return "ERROR"
	default:
		return "?"
	}
}

func entityLabel(ref logging.EntityRef) string {
	switch {
	case ref.ID == "":
		return string(ref.Kind)
	case ref.Kind == "":
		return ref.ID
	default:
		return string(ref.Kind) + ":" + ref.ID
	}
}
