package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/murmur/pkg/speech"
)

var _ speech.Observer = SpeechObserver{}

// SpeechObserver feeds speak loop outcomes into Metrics.
type SpeechObserver struct {
	M *Metrics
}

// ChunkPlayed implements speech.Observer.
func (o SpeechObserver) ChunkPlayed(ctx context.Context, synth time.Duration) {
	o.M.TTSDuration.Record(ctx, synth.Seconds())
	o.M.ChunksPlayed.Add(ctx, 1)
}

// ChunkSkipped implements speech.Observer. Skipped chunks are logged with
// the trace-enriched logger as well.
func (o SpeechObserver) ChunkSkipped(ctx context.Context, reason string) {
	o.M.ChunksSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	Logger(ctx).Debug("speech chunk skipped", "reason", reason)
}
