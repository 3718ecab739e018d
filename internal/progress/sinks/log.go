package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-archiver/internal/progress"
)

// LogSink narrates progress at debug level, so it is silent unless the run
// is verbose.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink writing through logger; nil discards output.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	if !s.logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	for _, evt := range batch {
		s.logger.Debug(string(evt.Stage), eventFields(evt)...)
	}
	return nil
}

func eventFields(evt progress.Event) []zap.Field {
	fields := make([]zap.Field, 0, 6)
	fields = append(fields, zap.Stringer("run_id", evt.RunUUID()), zap.Time("at", evt.TS))
	switch evt.Stage {
	case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
	case progress.StagePageDone:
		fields = append(fields, zap.Int64("page", evt.Page), zap.Int64("records", evt.Count))
	case progress.StageCheckpoint:
		fields = append(fields, zap.Int64("next_page", evt.Page), zap.Int64("watermark", evt.Watermark))
	default:
		fields = append(fields, zap.Int64("record_id", evt.RecordID))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("took", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error { return nil }
