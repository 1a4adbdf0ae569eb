package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/converso-ai/converso/internal/events"
	"github.com/converso-ai/converso/internal/metrics"
)

// ErrNegativeAmount is returned when a caller passes a negative amount.
// Like ErrUnknownMetric this is a programmer error, not a business condition.
var ErrNegativeAmount = errors.New("negative amount")

// Resolver maps a user to the limits of their subscription tier. Resolution
// never fails: implementations fall back to the most restrictive tier when
// the user's tier cannot be determined, so an admission decision is always
// producible.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID) Limits
}

// Config carries the service's tunables.
type Config struct {
	// StoreTimeout bounds every counter-store round-trip. A check that
	// cannot reach the store within it is denied, not blocked.
	StoreTimeout time.Duration

	// BurstPerMinute caps admission checks per user per minute. 0 disables
	// the burst limiter.
	BurstPerMinute int
}

// Service is the admission checker and usage recorder. Checks are read-only;
// callers record consumption separately after the gated action succeeds.
// Tiers with Strict set instead go through CheckAndReserve, which folds the
// check and the increment into one atomic store operation.
type Service struct {
	repo     Repository
	resolver Resolver
	burst    *BurstLimiter
	pub      *events.Publisher
	cfg      Config
	now      func() time.Time
}

// NewService creates the quota Service. burst and pub may be nil.
func NewService(repo Repository, resolver Resolver, burst *BurstLimiter, pub *events.Publisher, cfg Config) *Service {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &Service{
		repo:     repo,
		resolver: resolver,
		burst:    burst,
		pub:      pub,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Admit produces an admission decision for the user's tier, dispatching to
// the soft check or, for strict tiers, to the atomic check-and-reserve.
// When the returned decision has Charged set, the usage has already been
// recorded and the caller must not call Record for this action.
func (s *Service) Admit(ctx context.Context, userID uuid.UUID, metric Metric, amount int64) (Decision, error) {
	if err := validateArgs(metric, amount); err != nil {
		return Decision{}, err
	}
	limits := s.resolver.Resolve(ctx, userID)
	if limits.Strict {
		return s.reserve(ctx, userID, metric, amount, limits)
	}
	return s.check(ctx, userID, metric, amount, limits)
}

// Check is the read-only admission check. It does not mutate usage; the
// two-step check-then-record protocol can transiently overshoot the limit
// under concurrent load, which is the accepted soft-limit trade-off.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, metric Metric, amount int64) (Decision, error) {
	if err := validateArgs(metric, amount); err != nil {
		return Decision{}, err
	}
	limits := s.resolver.Resolve(ctx, userID)
	return s.check(ctx, userID, metric, amount, limits)
}

// CheckAndReserve is the hard-enforcement variant: the counter is
// incremented only if the resulting total stays within the limit, in a
// single atomic store operation. An allowed decision means the usage is
// already recorded (Decision.Charged is true).
func (s *Service) CheckAndReserve(ctx context.Context, userID uuid.UUID, metric Metric, amount int64) (Decision, error) {
	if err := validateArgs(metric, amount); err != nil {
		return Decision{}, err
	}
	limits := s.resolver.Resolve(ctx, userID)
	return s.reserve(ctx, userID, metric, amount, limits)
}

// Record persists consumption for a completed billable action. It is called
// exactly once per action, after the action produced an observable effect.
// Idempotency against caller retries is the caller's responsibility; each
// call is trusted as a distinct accounting event.
func (s *Service) Record(ctx context.Context, userID uuid.UUID, metric Metric, amount int64) error {
	if err := validateArgs(metric, amount); err != nil {
		return err
	}

	now := s.now()
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	count, err := s.repo.Increment(sctx, userID, DayOf(now), metric, amount)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}

	metrics.UsageIncrementsTotal.WithLabelValues(string(metric)).Add(float64(amount))
	s.publishRecorded(ctx, userID, metric, amount, count, now)
	return nil
}

// DailyUsage returns the user's counters for the given day. Metrics with no
// recorded usage read as 0.
func (s *Service) DailyUsage(ctx context.Context, userID uuid.UUID, day time.Time) (map[Metric]int64, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	usage, err := s.repo.DailyUsage(sctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("reading daily usage: %w", err)
	}
	return usage, nil
}

// LimitsFor returns the resolved tier limits for the user.
func (s *Service) LimitsFor(ctx context.Context, userID uuid.UUID) Limits {
	return s.resolver.Resolve(ctx, userID)
}

func (s *Service) check(ctx context.Context, userID uuid.UUID, metric Metric, amount int64, limits Limits) (Decision, error) {
	now := s.now()

	if d, ok := s.checkBurst(ctx, userID, metric, amount, limits, now); !ok {
		return d, nil
	}

	limit, ok := limits.LimitFor(metric)
	if !ok {
		metrics.AdmissionDecisionsTotal.WithLabelValues(string(metric), "allowed").Inc()
		return unlimitedDecision(now), nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	usage, err := s.repo.DailyUsage(sctx, userID, DayOf(now))
	if err != nil {
		slog.Warn("quota: usage read failed, denying", "error", err, "user_id", userID, "metric", metric)
		return s.deny(ctx, userID, metric, amount, limits, &limit, 0, now, ReasonStoreUnavailable), nil
	}
	current := usage[metric]

	if current+amount > limit {
		return s.deny(ctx, userID, metric, amount, limits, &limit, clampRemaining(limit-current), now, ReasonLimitExceeded), nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues(string(metric), "allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     &limit,
		Remaining: clampRemaining(limit - current - amount),
		ResetAt:   NextDay(now),
	}, nil
}

func (s *Service) reserve(ctx context.Context, userID uuid.UUID, metric Metric, amount int64, limits Limits) (Decision, error) {
	now := s.now()

	if d, ok := s.checkBurst(ctx, userID, metric, amount, limits, now); !ok {
		return d, nil
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	limit, ok := limits.LimitFor(metric)
	if !ok {
		// Unlimited metrics still get their consumption recorded so that
		// DailyUsage stays truthful.
		if amount > 0 {
			if _, err := s.repo.Increment(sctx, userID, DayOf(now), metric, amount); err != nil {
				slog.Warn("quota: reserve failed, denying", "error", err, "user_id", userID, "metric", metric)
				return s.deny(ctx, userID, metric, amount, limits, nil, 0, now, ReasonStoreUnavailable), nil
			}
			metrics.UsageIncrementsTotal.WithLabelValues(string(metric)).Add(float64(amount))
		}
		metrics.AdmissionDecisionsTotal.WithLabelValues(string(metric), "allowed").Inc()
		d := unlimitedDecision(now)
		d.Charged = amount > 0
		return d, nil
	}

	count, applied, err := s.repo.IncrementWithin(sctx, userID, DayOf(now), metric, amount, limit)
	if err != nil {
		slog.Warn("quota: reserve failed, denying", "error", err, "user_id", userID, "metric", metric)
		return s.deny(ctx, userID, metric, amount, limits, &limit, 0, now, ReasonStoreUnavailable), nil
	}
	if !applied {
		remaining := int64(0)
		if usage, err := s.repo.DailyUsage(sctx, userID, DayOf(now)); err == nil {
			remaining = clampRemaining(limit - usage[metric])
		}
		return s.deny(ctx, userID, metric, amount, limits, &limit, remaining, now, ReasonLimitExceeded), nil
	}

	metrics.AdmissionDecisionsTotal.WithLabelValues(string(metric), "allowed").Inc()
	metrics.UsageIncrementsTotal.WithLabelValues(string(metric)).Add(float64(amount))
	s.publishRecorded(ctx, userID, metric, amount, count, now)
	return Decision{
		Allowed:   true,
		Limit:     &limit,
		Remaining: clampRemaining(limit - count),
		ResetAt:   NextDay(now),
		Charged:   amount > 0,
	}, nil
}

// checkBurst applies the per-minute sliding window. The second return is
// false when the request must be denied; the Decision then carries the
// denial. Burst failures deny rather than bypass: admission control fails
// closed during an outage.
func (s *Service) checkBurst(ctx context.Context, userID uuid.UUID, metric Metric, amount int64, limits Limits, now time.Time) (Decision, bool) {
	if s.burst == nil || s.cfg.BurstPerMinute <= 0 {
		return Decision{}, true
	}
	allowed, err := s.burst.Allow(ctx, userID, s.cfg.BurstPerMinute)
	if err != nil {
		slog.Warn("quota: burst limiter check failed, denying", "error", err, "user_id", userID)
		return s.deny(ctx, userID, metric, amount, limits, nil, 0, now, ReasonStoreUnavailable), false
	}
	if !allowed {
		return s.deny(ctx, userID, metric, amount, limits, nil, 0, now, ReasonBurstExceeded), false
	}
	return Decision{}, true
}

func (s *Service) deny(ctx context.Context, userID uuid.UUID, metric Metric, amount int64, limits Limits, limit *int64, remaining int64, now time.Time, reason Reason) Decision {
	metrics.AdmissionDecisionsTotal.WithLabelValues(string(metric), string(reason)).Inc()

	if err := s.pub.PublishQuotaDenied(ctx, events.QuotaDenied{
		UserID:    userID.String(),
		Metric:    string(metric),
		Amount:    amount,
		Reason:    string(reason),
		Tier:      limits.Tier,
		Timestamp: now.UTC(),
	}); err != nil {
		slog.Debug("quota: publishing denial event", "error", err)
	}

	return Decision{
		Allowed:   false,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   NextDay(now),
		Reason:    reason,
	}
}

func (s *Service) publishRecorded(ctx context.Context, userID uuid.UUID, metric Metric, amount, count int64, now time.Time) {
	if err := s.pub.PublishUsageRecorded(ctx, events.UsageRecorded{
		UserID:    userID.String(),
		Metric:    string(metric),
		Amount:    amount,
		NewCount:  count,
		Timestamp: now.UTC(),
	}); err != nil {
		slog.Debug("quota: publishing usage event", "error", err)
	}
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func validateArgs(metric Metric, amount int64) error {
	if !metric.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}
	return nil
}

func unlimitedDecision(now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     nil,
		Remaining: -1,
		ResetAt:   NextDay(now),
	}
}

func clampRemaining(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
