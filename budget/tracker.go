// Package budget enforces hierarchical send budgets over Redis
// counters. A grant consumes from the campaign window and from the
// tenant-wide channel ceiling; both must succeed or neither does.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/internal/metrics"
	"github.com/BaSui01/leadflow/types"
)

// Window is a budget accounting window.
type Window = types.Window

const (
	WindowDaily  = types.WindowDaily
	WindowHourly = types.WindowHourly
)

// Limits carries the ceilings applying to one scope. A zero limit
// disables that ceiling.
type Limits struct {
	CampaignDaily  int
	CampaignHourly int
	TenantDaily    int
}

// Scope identifies whose budget a consumption draws from. Timezone is
// the tenant's IANA zone and anchors the daily boundary.
type Scope struct {
	TenantID   uuid.UUID
	CampaignID uuid.UUID
	Channel    types.Channel
	Timezone   string
	Limits     Limits
}

// consumeScript atomically grants n units unless the counter would
// exceed the limit. Returns 1 on grant, 0 on denial.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if current + n > limit then
	return 0
end
redis.call('INCRBY', KEYS[1], n)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// returnScript gives back up to n units without driving the counter
// negative.
var returnScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if n > current then
	n = current
end
if n > 0 then
	redis.call('DECRBY', KEYS[1], n)
end
return n
`)

// Tracker is the budget counter frontend. All state lives in Redis so
// every engine instance sees the same windows.
type Tracker struct {
	rdb     *redis.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewTracker creates a Tracker. The metrics collector may be nil.
func NewTracker(rdb *redis.Client, collector *metrics.Collector, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		rdb:     rdb,
		metrics: collector,
		logger:  logger.With(zap.String("component", "budget")),
	}
}

// TryConsume attempts to draw n units for the scope in the given
// window. Denial is a normal outcome, not an error: (false, nil) means
// the budget is exhausted until the next boundary.
//
// The campaign counter is consumed first, then the tenant ceiling. When
// the tenant grant fails the campaign units are returned, so a denied
// call leaves every counter unchanged.
func (t *Tracker) TryConsume(ctx context.Context, scope Scope, window Window, n int) (bool, error) {
	if n <= 0 {
		return false, fmt.Errorf("consume count must be positive, got %d", n)
	}

	now := time.Now().UTC()
	boundary, ttl, err := windowBoundary(window, now, scope.Timezone)
	if err != nil {
		return false, err
	}

	campaignLimit := scope.Limits.CampaignDaily
	if window == WindowHourly {
		campaignLimit = scope.Limits.CampaignHourly
	}

	if campaignLimit > 0 {
		campaignKey := t.key(scope, scope.CampaignID.String(), window, boundary)
		granted, err := t.consume(ctx, campaignKey, n, campaignLimit, ttl)
		if err != nil {
			return false, err
		}
		if !granted {
			t.deny("campaign", window, scope)
			return false, nil
		}

		// Tenant ceilings are daily only.
		if window == WindowDaily && scope.Limits.TenantDaily > 0 {
			tenantKey := t.key(scope, "tenant", window, boundary)
			granted, err := t.consume(ctx, tenantKey, n, scope.Limits.TenantDaily, ttl)
			if err != nil {
				return false, err
			}
			if !granted {
				// Return the campaign units so the deny is clean.
				if rbErr := t.rdb.DecrBy(ctx, campaignKey, int64(n)).Err(); rbErr != nil {
					t.logger.Error("budget rollback failed",
						zap.String("key", campaignKey), zap.Error(rbErr))
				}
				t.deny("tenant", window, scope)
				return false, nil
			}
		}
		return true, nil
	}

	// No campaign ceiling configured, only the tenant one applies.
	if window == WindowDaily && scope.Limits.TenantDaily > 0 {
		tenantKey := t.key(scope, "tenant", window, boundary)
		granted, err := t.consume(ctx, tenantKey, n, scope.Limits.TenantDaily, ttl)
		if err != nil {
			return false, err
		}
		if !granted {
			t.deny("tenant", window, scope)
			return false, nil
		}
	}
	return true, nil
}

// Return gives back n units previously granted for the scope in the
// given window. Callers use it when a grant in one window succeeds but
// a companion grant in another is denied, so the unused units do not
// starve the window until it rolls over.
func (t *Tracker) Return(ctx context.Context, scope Scope, window Window, n int) error {
	if n <= 0 {
		return nil
	}

	now := time.Now().UTC()
	boundary, _, err := windowBoundary(window, now, scope.Timezone)
	if err != nil {
		return err
	}

	campaignLimit := scope.Limits.CampaignDaily
	if window == WindowHourly {
		campaignLimit = scope.Limits.CampaignHourly
	}

	keys := make([]string, 0, 2)
	if campaignLimit > 0 {
		keys = append(keys, t.key(scope, scope.CampaignID.String(), window, boundary))
	}
	if window == WindowDaily && scope.Limits.TenantDaily > 0 {
		keys = append(keys, t.key(scope, "tenant", window, boundary))
	}
	for _, key := range keys {
		if err := returnScript.Run(ctx, t.rdb, []string{key}, n).Err(); err != nil {
			return fmt.Errorf("return budget %s: %w", key, err)
		}
	}
	return nil
}

// Remaining reports how many units are left in the campaign window.
func (t *Tracker) Remaining(ctx context.Context, scope Scope, window Window) (int, error) {
	limit := scope.Limits.CampaignDaily
	if window == WindowHourly {
		limit = scope.Limits.CampaignHourly
	}
	if limit <= 0 {
		return 0, nil
	}

	boundary, _, err := windowBoundary(window, time.Now().UTC(), scope.Timezone)
	if err != nil {
		return 0, err
	}

	used, err := t.rdb.Get(ctx, t.key(scope, scope.CampaignID.String(), window, boundary)).Int()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("read budget counter: %w", err)
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

func (t *Tracker) consume(ctx context.Context, key string, n, limit int, ttl time.Duration) (bool, error) {
	res, err := consumeScript.Run(ctx, t.rdb, []string{key},
		n, limit, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("consume budget %s: %w", key, err)
	}
	return res == 1, nil
}

func (t *Tracker) key(scope Scope, campaignSegment string, window Window, boundary string) string {
	return fmt.Sprintf("budget:%s:%s:%s:%s:%s",
		scope.TenantID, campaignSegment, scope.Channel, window, boundary)
}

func (t *Tracker) deny(deniedScope string, window Window, scope Scope) {
	if t.metrics != nil {
		t.metrics.RecordBudgetDenial(deniedScope, string(window))
	}
	t.logger.Debug("budget denied",
		zap.String("scope", deniedScope),
		zap.String("window", string(window)),
		zap.String("tenant_id", scope.TenantID.String()),
		zap.String("campaign_id", scope.CampaignID.String()),
		zap.String("channel", string(scope.Channel)))
}

// NextBoundary returns the instant the window rolls over: local
// midnight for daily windows (in the tenant zone), the top of the next
// hour UTC for hourly ones.
func NextBoundary(window Window, now time.Time, tz string) (time.Time, error) {
	switch window {
	case WindowDaily:
		loc, err := loadZone(tz)
		if err != nil {
			return time.Time{}, err
		}
		local := now.In(loc)
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		return midnight.AddDate(0, 0, 1), nil
	case WindowHourly:
		return now.UTC().Truncate(time.Hour).Add(time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unknown budget window: %s", window)
	}
}

// windowBoundary returns the key segment naming the current window and
// how long until it rolls over. The TTL gets a grace hour so a counter
// never expires while still authoritative.
func windowBoundary(window Window, now time.Time, tz string) (string, time.Duration, error) {
	next, err := NextBoundary(window, now, tz)
	if err != nil {
		return "", 0, err
	}
	ttl := next.Sub(now) + time.Hour

	switch window {
	case WindowDaily:
		loc, err := loadZone(tz)
		if err != nil {
			return "", 0, err
		}
		return now.In(loc).Format("2006-01-02"), ttl, nil
	default:
		return now.UTC().Format("2006-01-02T15"), ttl, nil
	}
}

func loadZone(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}
