package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
)

// EventType distinguishes stream events.
type EventType string

// Stream event types. Every stream ends with exactly one EventResult or EventError.
const (
	EventToken  EventType = "token"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is one item of a generation stream.
type Event struct {
	Type   EventType
	Token  string
	Result *Result
	Err    error
}

// Terminal reports whether e ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// Stream admits the call for identity and streams generated tokens. The final
// event carries the same parsed Result that Generate would return, or the error.
// Failed attempts are retried only while no token has been delivered; after
// that a failure ends the stream with an *InterruptedError. The producer stops
// when ctx is cancelled, so abandoning the channel does not leak it.
func (g *Gateway) Stream(ctx context.Context, identity string, req Request) (<-chan Event, ratelimit.Info, error) {
	if err := validateRequest(req); err != nil {
		return nil, ratelimit.Info{}, err
	}

	info, err := g.admit(ctx, ratelimit.PurposeGenerate, identity)
	if err != nil {
		return nil, info, err
	}

	events := make(chan Event)
	go g.stream(ctx, req, events)
	return events, info, nil
}

func (g *Gateway) stream(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	send := func(e Event) bool {
		select {
		case <-ctx.Done():
			return false
		case events <- e:
			return true
		}
	}

	start := time.Now()
	defer func() { g.metrics.duration.Observe(time.Since(start).Seconds()) }()

	m := g.newMachine(ctx)
	delivered := 0

	for {
		text, err := g.streamAttempt(ctx, req, func(token string) bool {
			delivered++
			return send(Event{Type: EventToken, Token: token})
		})
		if err != nil && delivered > 0 {
			g.recordAttempt(req, m.Attempts()+1, err)
			g.metrics.outcomes.WithLabelValues("stream", outcomeRejected).Inc()
			g.logger.Error("generation stream interrupted",
				"request_id", req.ID,
				"chunks", delivered,
				"error", err)
			send(Event{Type: EventError, Err: &InterruptedError{Received: delivered, Err: err}})
			return
		}

		var res *Result
		if err == nil {
			// Parse failures are not retryable, so a completed stream is never replayed.
			res, err = parseResult(text)
		}
		g.recordAttempt(req, m.Attempts()+1, err)

		d := m.Next(err)
		if d.Retry {
			err = g.sleep(ctx, d.Delay)
			if err == nil {
				continue
			}
		}

		final, ferr := g.finish(ctx, m, req, "stream", res, err)
		if ferr != nil {
			send(Event{Type: EventError, Err: ferr})
			return
		}
		send(Event{Type: EventResult, Result: final})
		return
	}
}

// streamAttempt runs one streamed provider call, passing each token to emit,
// and returns the full text. emit returning false aborts the attempt.
func (g *Gateway) streamAttempt(ctx context.Context, req Request, emit func(string) bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.AttemptTimeout)
	defer cancel()

	chunks, err := g.client.GenerateStream(ctx, req.Prompt, tierOrDefault(req.Tier))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Error != nil {
				return "", chunk.Error
			}
			if chunk.Token != "" {
				sb.WriteString(chunk.Token)
				if !emit(chunk.Token) {
					return "", context.Cause(ctx)
				}
			}
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}

// Collect drains a stream and returns its terminal result, for callers that
// want the streaming path but not the tokens.
func Collect(events <-chan Event) (*Result, error) {
	var res *Result
	var err error
	for e := range events {
		if !e.Terminal() {
			continue
		}
		if e.Type == EventError {
			err = e.Err
		} else {
			res = e.Result
		}
	}
	if res == nil && err == nil {
		err = llm.ErrMalformedResponse
	}
	return res, err
}
