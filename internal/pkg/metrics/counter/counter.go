package counter

import (
	"context"
	"strconv"

	"github.com/provado-app/provado/internal/pkg/cache"
)

const webhookOutcomesKey = "payments:counters:webhooks"

// Webhook processing outcomes tracked for the admin panel.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeOrphaned  = "orphaned"
	OutcomeIgnored   = "ignored"
	OutcomeFailed    = "failed"
)

// AddWebhookOutcome increments the counter for one webhook processing outcome
// in Redis. Counting is best-effort; callers ignore the error.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// Snapshot returns the current outcome counters.
func Snapshot() (map[string]int64, error) {
	ctx := context.Background()
	data, err := cache.GetClient().HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// Reset clears the outcome counters.
func Reset() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, webhookOutcomesKey).Err()
}
