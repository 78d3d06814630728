package skills

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"
)

// Runner is the external skill-runner collaborator (market quotes, account
// orders, order status). Payloads follow the ready/error/ask contract and
// must go through Unwrap.
type Runner interface {
	Run(ctx context.Context, runID, skill string, args map[string]any) (map[string]any, error)
}

// Skill names the core consumes.
const (
	SkillMarketQuote   = "market_quote"
	SkillAccountOrders = "account_orders"
	SkillOrderStatus   = "order_status"
)

// ErrAwaitingInput marks an "ask" response: the skill needs operator input
// before it can produce data.
var ErrAwaitingInput = errors.New("skill awaiting input")

// Unwrap applies the fixed ready/error/ask contract to a skill payload.
// status=ready yields the data object; status=error surfaces the message;
// status=ask maps to ErrAwaitingInput; anything else is a contract violation.
func Unwrap(payload map[string]any) (map[string]any, error) {
	status, _ := payload["status"].(string)
	switch status {
	case "ready":
		if data, ok := payload["data"].(map[string]any); ok {
			return data, nil
		}
		return map[string]any{}, nil
	case "error":
		msg, _ := payload["message"].(string)
		if msg == "" {
			msg = "unspecified skill error"
		}
		return nil, fmt.Errorf("skill error: %s", msg)
	case "ask":
		return nil, ErrAwaitingInput
	default:
		return nil, fmt.Errorf("skill payload has unknown status %q", status)
	}
}

// RateLimited wraps a Runner with a token-bucket limiter so hydration cannot
// hammer upstream APIs.
type RateLimited struct {
	inner   Runner
	limiter *rate.Limiter
}

func NewRateLimited(inner Runner, perMinute int) *RateLimited {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1),
	}
}

func (r *RateLimited) Run(ctx context.Context, runID, skill string, args map[string]any) (map[string]any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.Run(ctx, runID, skill, args)
}
