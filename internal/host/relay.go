package host

import (
	"fmt"

	"github.com/danmuck/webext/internal/protocol/frame"
	"github.com/danmuck/webext/internal/protocol/value"
	"github.com/rs/zerolog"
)

// relayLog writes a worker log line into the host log. The payload is
// [level string, message string, fields table].
func (s *Service) relayLog(id uint32, m frame.Message) error {
	vals, err := m.Values()
	if err != nil {
		return err
	}
	if len(vals) < 2 {
		return fmt.Errorf("host: log message needs level and text, got %d values", len(vals))
	}
	levelName, _ := vals[0].(value.String)
	level, err := zerolog.ParseLevel(string(levelName))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	text, ok := vals[1].(value.String)
	if !ok {
		return fmt.Errorf("host: log text is %s", value.KindOf(vals[1]))
	}

	event := s.log.WithLevel(level).Uint32("worker", id).Str("source", "worker")
	if len(vals) > 2 {
		if fields, ok := vals[2].(*value.Table); ok {
			for _, k := range value.Keys(fields) {
				v, _ := fields.Field(k)
				event = event.Interface(k, value.ToGo(v))
			}
		}
	}
	event.Msg(string(text))
	return nil
}

// relayCrash logs a worker crash report. The worker exits afterwards, so the
// disconnect that follows is expected.
func (s *Service) relayCrash(id uint32, m frame.Message) error {
	vals, err := m.Values()
	if err != nil {
		return err
	}
	reason := "unknown"
	if len(vals) > 0 {
		if r, ok := vals[0].(value.String); ok {
			reason = string(r)
		}
	}
	s.log.Error().Uint32("worker", id).Str("reason", reason).Msg("worker crashed")
	return nil
}
