// Package engine drives outreach execution. Each tick walks active
// campaigns, resolves due steps, and dispatches them under the
// concurrency discipline: per-lead redis lease around decide-and-log,
// optimistic version writes on the lead, adapter sends off the lease
// on the worker pool.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/leadflow/budget"
	"github.com/BaSui01/leadflow/channel"
	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/conversation"
	"github.com/BaSui01/leadflow/internal/metrics"
	"github.com/BaSui01/leadflow/internal/pool"
	"github.com/BaSui01/leadflow/sequence"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Engine orchestrates sequence execution across tenants.
type Engine struct {
	store      *store.Store
	budget     *budget.Tracker
	resolver   *sequence.Resolver
	adapters   *channel.Registry
	classifier conversation.Classifier
	leaser     *leaser
	dispatch   *pool.GoroutinePool
	cfg        config.EngineConfig
	limits     config.BudgetConfig
	metrics    *metrics.Collector
	logger     *zap.Logger
}

// Options carries the engine's collaborators.
type Options struct {
	Store      *store.Store
	Redis      *redis.Client
	Budget     *budget.Tracker
	Adapters   *channel.Registry
	Classifier conversation.Classifier
	Engine     config.EngineConfig
	Limits     config.BudgetConfig
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if opts.Adapters == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := opts.Budget
	if tracker == nil {
		tracker = budget.NewTracker(opts.Redis, opts.Metrics, logger)
	}

	workers := opts.Engine.WorkerCount
	if workers <= 0 {
		workers = 8
	}
	dispatch := pool.NewGoroutinePool(pool.GoroutinePoolConfig{
		MaxWorkers:  workers,
		QueueSize:   workers * 4,
		IdleTimeout: time.Minute,
	})

	retry := sequence.RetryPolicy{
		MaxAttempts: opts.Engine.MaxSendAttempts,
		Backoff:     opts.Engine.RetryBackoff,
	}

	return &Engine{
		store:      opts.Store,
		budget:     tracker,
		resolver:   sequence.NewResolver(opts.Store.Activities, retry, logger),
		adapters:   opts.Adapters,
		classifier: opts.Classifier,
		leaser:     newLeaser(opts.Redis, opts.Engine.LeaseTTL),
		dispatch:   dispatch,
		cfg:        opts.Engine,
		limits:     opts.Limits,
		metrics:    opts.Metrics,
		logger:     logger.With(zap.String("component", "engine")),
	}, nil
}

// Close drains the dispatch pool.
func (e *Engine) Close() {
	e.dispatch.Close()
}

// Tick runs one scheduling pass over every active tenant. Tenants run
// concurrently; a tenant failure is logged without stopping the pass.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	tenants, err := e.store.Tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	limit := e.cfg.WorkerCount
	if limit <= 0 {
		limit = 8
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var scanned atomic.Int64
	for i := range tenants {
		tenant := &tenants[i]
		g.Go(func() error {
			n, err := e.tickTenant(gctx, tenant, now)
			if err != nil {
				e.logger.Error("tenant tick failed",
					zap.String("tenant", tenant.Slug), zap.Error(err))
			}
			scanned.Add(int64(n))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.RecordTick("dispatch", time.Since(start), int(scanned.Load()))
	}
	return nil
}

func (e *Engine) tickTenant(ctx context.Context, tenant *store.Tenant, now time.Time) (int, error) {
	if err := e.reconcile(ctx, tenant, now); err != nil {
		e.logger.Error("reconciliation failed",
			zap.String("tenant", tenant.Slug), zap.Error(err))
	}

	campaigns, err := e.store.Campaigns.ListActive(ctx, tenant.ID)
	if err != nil {
		return 0, err
	}

	scanned := 0
	for i := range campaigns {
		campaign := &campaigns[i]
		steps, err := e.store.Campaigns.ListSteps(ctx, tenant.ID, campaign.ID)
		if err != nil {
			return scanned, err
		}
		if len(steps) == 0 {
			continue
		}

		leads, err := e.store.Leads.ListSequenceCandidates(ctx, tenant.ID, campaign.ID, e.cfg.BatchSize)
		if err != nil {
			return scanned, err
		}
		scanned += len(leads)

		for j := range leads {
			if err := ctx.Err(); err != nil {
				return scanned, err
			}
			if err := e.processLead(ctx, tenant, campaign, steps, &leads[j], now); err != nil {
				e.logger.Error("lead processing failed",
					zap.String("lead_id", leads[j].ID.String()),
					zap.Error(err))
			}
		}
	}
	return scanned, nil
}

// processLead does the leased decide-and-log phase for one lead, then
// hands the send to the dispatch pool.
func (e *Engine) processLead(ctx context.Context, tenant *store.Tenant, campaign *store.Campaign, steps []store.SequenceStep, candidate *store.Lead, now time.Time) error {
	release, ok, err := e.leaser.acquire(ctx, tenant.ID, candidate.ID)
	if err != nil {
		return err
	}
	if !ok {
		if e.metrics != nil {
			e.metrics.RecordLeaseConflict("tick")
		}
		return nil
	}
	defer release()

	// Fresh read under the lease; the candidate snapshot may be stale.
	lead, err := e.store.Leads.GetByID(ctx, tenant.ID, candidate.ID)
	if err != nil {
		return err
	}

	res, err := e.resolver.NextDueAction(ctx, now, lead, campaign, steps)
	if err != nil {
		return err
	}
	if res.Action == nil {
		return e.store.Leads.TouchFollowup(ctx, tenant.ID, lead.ID, res.NextDueAt)
	}
	action := res.Action

	granted, retryAt, err := e.consumeBudget(ctx, tenant, campaign, action.Channel, now)
	if err != nil {
		return err
	}
	if !granted {
		return e.store.Leads.TouchFollowup(ctx, tenant.ID, lead.ID, &retryAt)
	}

	record := action.Retry
	if record != nil {
		if err := e.store.Activities.Rearm(ctx, tenant.ID, record.ID, now); err != nil {
			if types.GetErrorCode(err) == types.ErrDataIntegrity {
				// Another instance rearmed this attempt first.
				if e.metrics != nil {
					e.metrics.RecordLeaseConflict("activity_log")
				}
				return nil
			}
			return err
		}
		record.Status = types.ActivityInFlight
		record.Attempts++
		record.ActivityAt = now
	} else {
		stepNumber := action.Step.StepNumber
		record = &store.ActivityRecord{
			TenantID:     tenant.ID,
			LeadID:       lead.ID,
			CampaignID:   &campaign.ID,
			StepNumber:   &stepNumber,
			ActivityType: types.ActivityStepExecuted,
			Channel:      action.Channel,
			Status:       types.ActivityInFlight,
			Metadata:     sequence.BaselineMetadata(lead),
			Attempts:     1,
			ActivityAt:   now,
		}
		if err := e.store.Activities.Append(ctx, record); err != nil {
			if types.GetErrorCode(err) == types.ErrDataIntegrity {
				// Another instance logged this step first.
				if e.metrics != nil {
					e.metrics.RecordLeaseConflict("activity_log")
				}
				return nil
			}
			return err
		}
	}

	// The lease's work is done once the in-flight entry exists; the
	// send itself runs off-lease on the pool.
	return e.dispatch.Submit(ctx, func(taskCtx context.Context) error {
		e.executeDispatch(taskCtx, tenant, campaign, lead, action, record, now)
		return nil
	})
}

// consumeBudget draws one unit from the hourly then the daily windows.
// On denial it reports when the budget reopens.
func (e *Engine) consumeBudget(ctx context.Context, tenant *store.Tenant, campaign *store.Campaign, ch types.Channel, now time.Time) (bool, time.Time, error) {
	scope := budget.Scope{
		TenantID:   tenant.ID,
		CampaignID: campaign.ID,
		Channel:    ch,
		Timezone:   tenant.Timezone,
		Limits: budget.Limits{
			CampaignDaily:  orDefault(campaign.DailyLimit, e.limits.CampaignDailyLimit),
			CampaignHourly: orDefault(campaign.HourlyLimit, e.limits.CampaignHourlyLimit),
			TenantDaily:    e.tenantCeiling(tenant, ch),
		},
	}

	granted, err := e.budget.TryConsume(ctx, scope, budget.WindowHourly, 1)
	if err != nil {
		return false, time.Time{}, err
	}
	if !granted {
		retryAt, err := budget.NextBoundary(budget.WindowHourly, now, tenant.Timezone)
		return false, retryAt, err
	}

	granted, err = e.budget.TryConsume(ctx, scope, budget.WindowDaily, 1)
	if err != nil {
		return false, time.Time{}, err
	}
	if !granted {
		// Give the hourly unit back, the send is not happening.
		if rbErr := e.budget.Return(ctx, scope, budget.WindowHourly, 1); rbErr != nil {
			e.logger.Error("hourly budget return failed", zap.Error(rbErr))
		}
		retryAt, err := budget.NextBoundary(budget.WindowDaily, now, tenant.Timezone)
		return false, retryAt, err
	}
	return true, time.Time{}, nil
}

func (e *Engine) tenantCeiling(tenant *store.Tenant, ch types.Channel) int {
	switch ch {
	case types.ChannelEmail:
		return orDefault(tenant.MaxEmailsPerDay, e.limits.TenantEmailsPerDay)
	case types.ChannelVoice:
		return orDefault(tenant.MaxCallsPerDay, e.limits.TenantCallsPerDay)
	default:
		return 0
	}
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// executeDispatch performs the adapter send and applies the outcome.
// It runs on the dispatch pool, off the lead lease.
func (e *Engine) executeDispatch(ctx context.Context, tenant *store.Tenant, campaign *store.Campaign, lead *store.Lead, action *sequence.Action, record *store.ActivityRecord, now time.Time) {
	start := time.Now()

	adapter, err := e.adapters.Get(action.Channel)
	if err != nil {
		e.finishFailed(ctx, tenant, lead, action, record, err)
		return
	}

	subject, body, err := action.Content()
	if err != nil {
		e.finishFailed(ctx, tenant, lead, action, record, err)
		return
	}

	sendCtx := ctx
	if e.cfg.DispatchTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.cfg.DispatchTimeout)
		defer cancel()
	}

	result, sendErr := adapter.Send(sendCtx, lead, channel.Content{Subject: subject, Body: body})
	if e.metrics != nil {
		status := "completed"
		if sendErr != nil {
			status = "failed"
		}
		e.metrics.RecordStepDispatched(string(action.Channel), status, time.Since(start))
	}
	if sendErr != nil {
		e.finishFailed(ctx, tenant, lead, action, record, sendErr)
		return
	}

	e.finishCompleted(ctx, tenant, campaign, lead, action, record, result, now)
}

func (e *Engine) finishCompleted(ctx context.Context, tenant *store.Tenant, campaign *store.Campaign, lead *store.Lead, action *sequence.Action, record *store.ActivityRecord, result channel.Result, now time.Time) {
	if err := e.store.Activities.MarkStatus(ctx, tenant.ID, record.ID, types.ActivityCompleted, result.ExternalRef); err != nil {
		e.logger.Error("mark activity completed failed", zap.Error(err))
	}

	err := e.updateLeadCAS(ctx, tenant.ID, lead, func(l *store.Lead) {
		l.CurrentSequenceStep = action.Step.StepNumber
		l.LastContactedAt = &now
		l.NextFollowupAt = nil
		l.Status = types.AdvanceFunnel(l.Status, types.LeadContacted)
		switch action.Channel {
		case types.ChannelEmail:
			l.EmailsSent++
		case types.ChannelVoice:
			l.CallsMade++
		}
	})
	if err != nil {
		e.logger.Error("lead update failed", zap.Error(err))
		return
	}

	deltas := map[string]int{}
	switch action.Channel {
	case types.ChannelEmail:
		deltas["emails_sent"] = 1
	case types.ChannelVoice:
		deltas["calls_made"] = 1
	}
	if action.Step.StepNumber == 1 {
		deltas["leads_contacted"] = 1
	}
	if err := e.store.Campaigns.IncrementCounters(ctx, tenant.ID, campaign.ID, deltas); err != nil {
		e.logger.Error("campaign counters failed", zap.Error(err))
	}
	if err := e.store.Campaigns.IncrementStepCounter(ctx, tenant.ID, campaign.ID, action.Step.StepNumber, "total_sent"); err != nil {
		e.logger.Error("step counter failed", zap.Error(err))
	}

	if action.Channel == types.ChannelVoice {
		e.emitCallTask(ctx, tenant, campaign, lead, action, now)
	}

	e.logger.Info("step dispatched",
		zap.String("lead_id", lead.ID.String()),
		zap.Int("step", action.Step.StepNumber),
		zap.String("channel", string(action.Channel)))
}

func (e *Engine) finishFailed(ctx context.Context, tenant *store.Tenant, lead *store.Lead, action *sequence.Action, record *store.ActivityRecord, sendErr error) {
	if err := e.store.Activities.MarkStatus(ctx, tenant.ID, record.ID, types.ActivityFailed, ""); err != nil {
		e.logger.Error("mark activity failed failed", zap.Error(err))
	}

	if channel.IsPermanent(sendErr) {
		err := e.updateLeadCAS(ctx, tenant.ID, lead, func(l *store.Lead) {
			switch action.Channel {
			case types.ChannelEmail:
				l.EmailDisabled = true
			case types.ChannelVoice:
				l.PhoneDisabled = true
			default:
				l.DoNotContact = true
			}
		})
		if err != nil {
			e.logger.Error("channel disable failed", zap.Error(err))
		}
	}

	// The failed entry stays in the log; the resolver offers the step
	// again after backoff until the attempt ceiling is spent.
	e.logger.Warn("dispatch failed",
		zap.String("lead_id", lead.ID.String()),
		zap.Int("step", action.Step.StepNumber),
		zap.Int("attempts", record.Attempts),
		zap.Error(sendErr))
}

// updateLeadCAS applies mutate under optimistic concurrency, retrying
// once against a fresh read when the version moved.
func (e *Engine) updateLeadCAS(ctx context.Context, tenantID uuid.UUID, lead *store.Lead, mutate func(*store.Lead)) error {
	mutate(lead)
	err := e.store.Leads.UpdateCAS(ctx, lead)
	if err == nil {
		return nil
	}
	if types.GetErrorCode(err) != types.ErrStaleLead {
		return err
	}

	fresh, err := e.store.Leads.GetByID(ctx, tenantID, lead.ID)
	if err != nil {
		return err
	}
	mutate(fresh)
	if err := e.store.Leads.UpdateCAS(ctx, fresh); err != nil {
		return err
	}
	*lead = *fresh
	return nil
}

func (e *Engine) emitCallTask(ctx context.Context, tenant *store.Tenant, campaign *store.Campaign, lead *store.Lead, action *sequence.Action, now time.Time) {
	task := &store.CallTask{
		TenantID:    tenant.ID,
		LeadID:      lead.ID,
		CampaignID:  &campaign.ID,
		PhoneNumber: lead.Phone,
		ScheduledAt: now,
		Status:      "pending",
		Script:      action.Step.CallScript,
		Objective:   action.Step.CallObjective,
	}
	if err := e.store.CallTasks.Create(ctx, task); err != nil {
		e.logger.Error("call task creation failed", zap.Error(err))
	}
}

// reconcile resolves in-flight activity entries whose dispatch never
// reported back, marking them failed so the step stays accounted for.
func (e *Engine) reconcile(ctx context.Context, tenant *store.Tenant, now time.Time) error {
	timeout := e.cfg.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cutoff := now.Add(-2 * timeout)

	stuck, err := e.store.Activities.ListInFlightOlderThan(ctx, tenant.ID, cutoff)
	if err != nil {
		return err
	}
	for i := range stuck {
		if err := e.store.Activities.MarkStatus(ctx, tenant.ID, stuck[i].ID, types.ActivityFailed, ""); err != nil {
			return err
		}
		e.logger.Warn("reconciled stuck dispatch",
			zap.String("activity_id", stuck[i].ID.String()),
			zap.Time("started_at", stuck[i].ActivityAt))
	}
	return nil
}
