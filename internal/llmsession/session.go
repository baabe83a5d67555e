// Package llmsession implements the conversational thread bound to one
// (file, vulnerability type) pair, and the prefill protocol used to coerce
// strict JSON output from models with no native structured-output mode.
package llmsession

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vulnhuntr/vulnhuntr/internal/model"
	"github.com/vulnhuntr/vulnhuntr/internal/providers"
)

const (
	retryBaseDelay  = 1 * time.Second
	retryFactor     = 2.0
	retryMaxAttempts = 5
	retryJitter     = 0.25

	maxOutputTokens = 8192
)

// Session models one conversational thread bound to a (file, vuln-type)
// pair. All calls on a given Session are strictly serial; callers must not
// invoke send_initial/send_followup concurrently.
type Session struct {
	provider providers.Provider
	system   string
	messages []providers.Message
	costUSD  float64
	lastUsage providers.Usage
}

// New constructs a Session against provider, with a fixed system prompt
// reused for every request in the thread.
func New(provider providers.Provider, system string) *Session {
	return &Session{provider: provider, system: system}
}

// CostSoFar returns the accumulated USD cost of every completion this
// Session has made.
func (s *Session) CostSoFar() float64 {
	return s.costUSD
}

// LastUsage returns the token usage recorded by the most recent successful
// exchange, so the caller can attribute cost to its own per-file tracker
// without the Session needing to know about costtracker.
func (s *Session) LastUsage() providers.Usage {
	return s.lastUsage
}

// ModelID returns the underlying provider's model identifier.
func (s *Session) ModelID() string {
	return s.provider.ModelID()
}

// MessageCount returns the number of user+assistant turns recorded so far,
// not counting the in-flight prefill seed.
func (s *Session) MessageCount() int {
	return len(s.messages)
}

// SendInitial appends prompt as the first user turn and returns the parsed,
// schema-validated Response.
func (s *Session) SendInitial(ctx context.Context, prompt string) (*model.Response, error) {
	s.messages = append(s.messages, providers.Message{Role: "user", Content: prompt})
	return s.exchange(ctx)
}

// SendFollowup appends prompt as a subsequent user turn (e.g. resolved
// context code, or an iteration's refined prompt) and returns the parsed
// Response.
func (s *Session) SendFollowup(ctx context.Context, prompt string) (*model.Response, error) {
	s.messages = append(s.messages, providers.Message{Role: "user", Content: prompt})
	return s.exchange(ctx)
}

// exchange runs one full prefill round: inject the seed, call the
// provider, reassemble, parse-with-repair, and on schema failure issue the
// one-shot correction request.
func (s *Session) exchange(ctx context.Context) (*model.Response, error) {
	raw, usage, err := s.completeWithPrefill(ctx)
	if err != nil {
		return nil, err
	}

	s.costUSD += usage
	// The assistant's reply replaces the bare prefill seed in the
	// transcript, in send order, so a correction request or a later
	// follow-up sees the full prior turn.
	s.messages = append(s.messages, providers.Message{Role: "assistant", Content: prefillSeed + raw})

	full := reassemble(raw)
	resp, parseErr := parseResponse(full)
	if parseErr != nil {
		repaired := repair(full)
		resp, parseErr = parseResponse(repaired)
	}

	if parseErr == nil {
		if validateErr := resp.Validate(); validateErr != nil {
			parseErr = validateErr
		}
	}

	if parseErr != nil {
		corrected, correctErr := s.correctionRound(ctx, parseErr)
		if correctErr != nil {
			return nil, correctErr
		}
		resp = corrected
	}
	return resp, nil
}

// correctionRound issues the one-shot correction request: the user message
// names the specific validation failure and asks for a corrected object
// only. If this second attempt also fails to parse/validate, ParseError is
// returned.
func (s *Session) correctionRound(ctx context.Context, cause error) (*model.Response, error) {
	correction := fmt.Sprintf(
		"Your previous response was not a valid Response object: %s. "+
			"Reply with a corrected JSON object only, no other text.",
		cause.Error(),
	)
	s.messages = append(s.messages, providers.Message{Role: "user", Content: correction})

	raw, usage, err := s.completeWithPrefill(ctx)
	if err != nil {
		return nil, err
	}

	full := reassemble(raw)
	resp, parseErr := parseResponse(full)
	if parseErr != nil {
		repaired := repair(full)
		resp, parseErr = parseResponse(repaired)
	}
	if parseErr == nil {
		parseErr = resp.Validate()
	}
	if parseErr != nil {
		return nil, &ParseError{Raw: full, Reason: parseErr.Error()}
	}

	s.costUSD += usage
	s.messages = append(s.messages, providers.Message{Role: "assistant", Content: prefillSeed + raw})
	return resp, nil
}

func parseResponse(reassembled string) (*model.Response, error) {
	var r model.Response
	if err := json.Unmarshal([]byte(reassembled), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// completeWithPrefill runs one retried network round-trip: append the
// prefill seed as an assistant message, call the provider, drain the event
// stream, and return the raw (seed-stripped) completion text plus its USD
// cost. The prefill message is never left attached to the transcript — the
// caller appends the real assistant turn once the call returns.
func (s *Session) completeWithPrefill(ctx context.Context) (string, float64, error) {
	msgs := append(append([]providers.Message{}, s.messages...), providers.Message{Role: "assistant", Content: prefillSeed})

	var text string
	var costUSD float64
	var usage providers.Usage

	op := func() error {
		if err := checkCancelled(ctx); err != nil {
			return backoff.Permanent(err)
		}

		events, err := s.provider.Complete(ctx, providers.CompletionRequest{
			SystemPrompt: s.system,
			Messages:     msgs,
			MaxTokens:    maxOutputTokens,
		})
		if err != nil {
			return classifyErr(err)
		}

		var b []byte
		for evt := range events {
			switch evt.Type {
			case "text_delta":
				b = append(b, evt.Text...)
			case "error":
				return classifyErr(fmt.Errorf("%s", evt.Error))
			case "done":
				if evt.Usage != nil {
					costUSD = evt.Usage.CostUSD
					usage = *evt.Usage
				}
			}
		}
		text = string(b)
		return nil
	}

	bo := newBackoff(ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return "", 0, unwrapRetryErr(err)
	}
	s.lastUsage = usage
	return text, costUSD, nil
}

// newBackoff configures the exponential-backoff policy: base 1s, factor 2,
// max 5 attempts, jitter applied by backoff.WithRandomizationFactor, capped
// by ctx's deadline/cancellation.
func newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryBaseDelay
	b.Multiplier = retryFactor
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0 // bounded by MaxAttempts below, not wall-clock

	withCtx := backoff.WithContext(b, ctx)
	return backoff.WithMaxRetries(withCtx, retryMaxAttempts-1)
}

func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

// classifyErr distinguishes a permanent ProviderError (auth, quota) from a
// transient one that backoff.Retry should retry.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return backoff.Permanent(ErrCancelled)
	}
	if isPermanentProviderError(err) {
		return backoff.Permanent(&ProviderError{Err: err, Permanent: true})
	}
	return &ProviderError{Err: err, Permanent: false}
}

func unwrapRetryErr(err error) error {
	if pe, ok := err.(*ProviderError); ok {
		return pe
	}
	return err
}

// jitterFloat is kept for callers that need ad hoc jittered sleeps outside
// the backoff.BackOff machinery (none currently do; retained for parity
// with the documented ±25% jitter contract).
func jitterFloat(base float64, pct float64) float64 {
	delta := base * pct
	return base - delta + rand.Float64()*2*delta
}
