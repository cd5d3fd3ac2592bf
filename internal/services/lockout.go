package services

import (
	"fmt"
	"time"

	"github.com/matchwell/gatekeeper/internal/models"
)

// LockoutConfig holds the thresholds and durations for both windows.
// Values come from configuration; nothing here is hard-coded.
type LockoutConfig struct {
	ShortTermThreshold int
	ShortTermWindow    time.Duration
	ShortTermBlock     time.Duration
	DailyThreshold     int
	DailyWindow        time.Duration
	DailyBlock         time.Duration
}

// Decision is the outcome of evaluating a subject's failure windows.
type Decision struct {
	Allowed            bool
	RemainingShortTerm int
	RemainingDaily     int
	// Kind and RetryAfter are set on denial.
	Kind       string
	RetryAfter time.Duration
}

// LockoutPolicy is a stateless rules engine over failure counts. It never
// touches storage; callers hand it a consistent FailureWindows snapshot.
type LockoutPolicy struct {
	config LockoutConfig
}

// NewLockoutPolicy creates a new LockoutPolicy
func NewLockoutPolicy(config LockoutConfig) *LockoutPolicy {
	return &LockoutPolicy{config: config}
}

// Evaluate decides whether a subject with the given failure counts may
// attempt to authenticate. The short-term rule takes precedence when both
// thresholds are crossed: it is the tighter, more specific condition.
func (p *LockoutPolicy) Evaluate(w models.FailureWindows) Decision {
	if w.ShortTerm >= p.config.ShortTermThreshold {
		return Decision{
			Kind:       models.BlockKindShortTerm,
			RetryAfter: p.config.ShortTermBlock,
		}
	}

	if w.Daily >= p.config.DailyThreshold {
		return Decision{
			Kind:       models.BlockKindDaily,
			RetryAfter: p.config.DailyBlock,
		}
	}

	return Decision{
		Allowed:            true,
		RemainingShortTerm: p.config.ShortTermThreshold - w.ShortTerm,
		RemainingDaily:     p.config.DailyThreshold - w.Daily,
	}
}

// ShouldCreateBlock returns the spec for a block the given failure counts
// warrant, or nil when neither threshold is crossed. Both counts must come
// from the same snapshot.
func (p *LockoutPolicy) ShouldCreateBlock(w models.FailureWindows) *models.BlockSpec {
	if w.ShortTerm >= p.config.ShortTermThreshold {
		return &models.BlockSpec{
			Kind: models.BlockKindShortTerm,
			Reason: fmt.Sprintf("%d failed attempts within %s",
				w.ShortTerm, p.config.ShortTermWindow),
			FailureCount: w.ShortTerm,
			Duration:     p.config.ShortTermBlock,
		}
	}

	if w.Daily >= p.config.DailyThreshold {
		return &models.BlockSpec{
			Kind: models.BlockKindDaily,
			Reason: fmt.Sprintf("%d failed attempts within %s",
				w.Daily, p.config.DailyWindow),
			FailureCount: w.Daily,
			Duration:     p.config.DailyBlock,
		}
	}

	return nil
}
