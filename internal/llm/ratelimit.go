package llm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mfateev/agentchat/internal/models"
)

// RateLimiter applies an adaptive tokens-per-minute budget in front of a
// Client. The budget is halved whenever the provider reports a rate limit
// and recovers by a small step after each successful call.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64
	recovery   float64
}

// NewRateLimiter creates a limiter. maxTPM below initialTPM is clamped.
func NewRateLimiter(initialTPM, maxTPM float64) *RateLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recovery := initialTPM * 0.05
	if recovery < 1 {
		recovery = 1
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initialTPM/60.0), int(maxTPM)),
		currentTPM: initialTPM,
		minTPM:     minTPM,
		maxTPM:     maxTPM,
		recovery:   recovery,
	}
}

// Wrap returns a Client that waits for budget before every call.
func (l *RateLimiter) Wrap(next Client) Client {
	return &limitedClient{next: next, limiter: l}
}

// CurrentTPM returns the effective budget.
func (l *RateLimiter) CurrentTPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (l *RateLimiter) wait(ctx context.Context, req Request) error {
	n := estimateTokens(req)
	if burst := l.limiter.Burst(); n > burst {
		n = burst
	}
	return l.limiter.WaitN(ctx, n)
}

func (l *RateLimiter) observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ae *models.ActivityError
	if err != nil && errors.As(err, &ae) && ae.Type == models.ErrorTypeAPILimit {
		l.currentTPM /= 2
		if l.currentTPM < l.minTPM {
			l.currentTPM = l.minTPM
		}
	} else if err == nil && l.currentTPM < l.maxTPM {
		l.currentTPM += l.recovery
		if l.currentTPM > l.maxTPM {
			l.currentTPM = l.maxTPM
		}
	} else {
		return
	}
	l.limiter.SetLimit(rate.Limit(l.currentTPM / 60.0))
}

// estimateTokens uses 4 characters per token over prompt and transcript.
func estimateTokens(req Request) int {
	chars := len(req.SystemPrompt)
	for _, m := range req.Messages {
		chars += len(m.Content)
	}
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

type limitedClient struct {
	next    Client
	limiter *RateLimiter
}

func (c *limitedClient) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return Response{}, err
	}
	resp, err := c.next.Invoke(ctx, req)
	c.limiter.observe(err)
	return resp, err
}

func (c *limitedClient) Stream(ctx context.Context, req Request) (ChunkStream, error) {
	if err := c.limiter.wait(ctx, req); err != nil {
		return nil, err
	}
	stream, err := c.next.Stream(ctx, req)
	c.limiter.observe(err)
	return stream, err
}
