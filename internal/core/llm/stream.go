// Package llm is the Model Gateway: a closed set of provider adapters
// behind one streaming-completion interface, selected by configuration at
// session initialization.
package llm

import (
	"context"
	"sync"

	"github.com/analysedoc/analysedoc/internal/core"
)

// Delta is one streamed fragment from a provider adapter. A terminal
// failure is delivered as the final Delta with Err set; adapters close
// their channel afterwards.
type Delta struct {
	Text string
	Err  error
}

// Provider is one LLM backend. StreamCompletion returns a channel of
// deltas that the adapter closes when generation finishes, fails, or the
// context is cancelled.
type Provider interface {
	Name() core.ProviderName
	Models() []string
	StreamCompletion(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (<-chan Delta, error)
}

// Stream is a finite, ordered, non-restartable sequence of text deltas.
// Regenerating requires a fresh request. Err is valid once Deltas is
// closed; after Cancel, deltas already emitted stand but no more arrive.
type Stream struct {
	deltas chan string
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{deltas: make(chan string, 16), cancel: cancel}
}

// Deltas yields text fragments in generation order until the stream ends.
func (s *Stream) Deltas() <-chan string { return s.deltas }

// Err reports why the stream ended. It is nil for normal completion and
// context.Canceled after Cancel. Only call it after Deltas is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancel stops the stream. Idempotent and safe mid-consumption.
func (s *Stream) Cancel() { s.cancel() }

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// pump forwards provider deltas into the stream until the source closes
// or the context ends, then records the terminal error and closes.
func (s *Stream) pump(ctx context.Context, src <-chan Delta) {
	defer close(s.deltas)
	for {
		select {
		case d, ok := <-src:
			if !ok {
				if ctx.Err() != nil {
					s.setErr(ctx.Err())
				}
				return
			}
			if d.Err != nil {
				s.setErr(d.Err)
				return
			}
			select {
			case s.deltas <- d.Text:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		}
	}
}
