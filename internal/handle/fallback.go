package handle

import "context"

// EventSink receives the tracking events a fallback handle reports.
type EventSink interface {
	FallbackEvent(ctx context.Context, game string, a Action)
}

// SinkFunc adapts a function into an EventSink.
type SinkFunc func(ctx context.Context, game string, a Action)

func (f SinkFunc) FallbackEvent(ctx context.Context, game string, a Action) { f(ctx, game, a) }

// Fallback is the synthetic handle used when a bundle exposes none. Every
// action is supported and does nothing except report start and end.
type Fallback struct {
	game string
	sink EventSink
}

// NewFallback creates a fallback handle for game. sink may be nil.
func NewFallback(game string, sink EventSink) *Fallback {
	return &Fallback{game: game, sink: sink}
}

func (f *Fallback) Supports(ctx context.Context, a Action) bool { return true }

func (f *Fallback) Invoke(ctx context.Context, a Action) error {
	if f.sink != nil && (a == ActionStart || a == ActionEnd) {
		f.sink.FallbackEvent(ctx, f.game, a)
	}
	return nil
}
