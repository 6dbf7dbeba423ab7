package matching

import (
	"context"

	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
)

// Event is one item of a scoring stream. The last event is either an
// EventResult carrying the calibrated Match or an EventError.
type Event struct {
	Type  gateway.EventType `json:"type"`
	Token string            `json:"token,omitempty"`
	Match *Match            `json:"match,omitempty"`
	Err   error             `json:"-"`
}

// ScoreStream is the streaming form of Score. Tokens are forwarded as they
// arrive and the terminal event carries the same calibrated Match Score would
// return. Ineligible programs yield a single result event without a provider call.
func (e *Engine) ScoreStream(ctx context.Context, identity string, req ScoreRequest) (<-chan Event, ratelimit.Info, error) {
	s, err := e.resolve(ctx, req)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}
	if !s.verdict.Eligible {
		out := make(chan Event, 1)
		out <- Event{Type: gateway.EventResult, Match: e.ineligible(ctx, s)}
		close(out)
		return out, ratelimit.Info{}, nil
	}

	genReq, err := e.generationRequest(s, e.config.Tier)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}

	events, info, err := e.gateway.Stream(ctx, identity, genReq)
	if err != nil {
		return nil, info, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for ev := range events {
			var next Event
			switch ev.Type {
			case gateway.EventToken:
				next = Event{Type: gateway.EventToken, Token: ev.Token}
			case gateway.EventResult:
				next = Event{Type: gateway.EventResult, Match: e.calibrate(ctx, s, ev.Result)}
			default:
				next = Event{Type: gateway.EventError, Err: ev.Err}
			}
			select {
			case <-ctx.Done():
				// Drain so the gateway producer can exit.
				for range events {
				}
				return
			case out <- next:
			}
		}
	}()
	return out, info, nil
}
