package helpers

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillZerologAdapter routes watermill's logging into zerolog. Every
// line is tagged with component=watermill so it can be filtered out.
type WatermillZerologAdapter struct {
	logger zerolog.Logger
}

func NewWatermill(logger zerolog.Logger) *WatermillZerologAdapter {
	return &WatermillZerologAdapter{
		logger: logger.With().Str("component", "watermill").Logger(),
	}
}

func (w *WatermillZerologAdapter) emit(e *zerolog.Event, msg string, fields watermill.LogFields) {
	if len(fields) > 0 {
		e = e.Fields(map[string]interface{}(fields))
	}
	e.Msg(msg)
}

func (w *WatermillZerologAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.emit(w.logger.Error().Err(err), msg, fields)
}

// Info is logged at debug level, router start/stop chatter is not useful to users.
func (w *WatermillZerologAdapter) Info(msg string, fields watermill.LogFields) {
	w.emit(w.logger.Debug(), msg, fields)
}

func (w *WatermillZerologAdapter) Debug(msg string, fields watermill.LogFields) {
	w.emit(w.logger.Debug(), msg, fields)
}

func (w *WatermillZerologAdapter) Trace(msg string, fields watermill.LogFields) {
	w.emit(w.logger.Trace(), msg, fields)
}

func (w *WatermillZerologAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &WatermillZerologAdapter{
		logger: w.logger.With().Fields(map[string]interface{}(fields)).Logger(),
	}
}

var _ watermill.LoggerAdapter = &WatermillZerologAdapter{}
