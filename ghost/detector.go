// Package ghost watches leads stuck in awaiting_reply. A lead silent
// past its timeout gets a re-engagement nudge while attempts remain,
// then transitions to ghosted and leaves the active funnel.
package ghost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/budget"
	"github.com/BaSui01/leadflow/channel"
	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/conversation"
	"github.com/BaSui01/leadflow/internal/metrics"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

const scanBatchSize = 500

// Templates produces re-engagement content. The default is a neutral
// nudge; deployments override it with campaign-aware copy.
type Templates interface {
	Reengagement(lead *store.Lead, attempt int) channel.Content
}

type defaultTemplates struct{}

func (defaultTemplates) Reengagement(lead *store.Lead, attempt int) channel.Content {
	name := lead.FirstName
	if name == "" {
		name = "there"
	}
	return channel.Content{
		Subject: "Quick follow-up",
		Body:    fmt.Sprintf("Hi %s, just floating this back to the top of your inbox.", name),
	}
}

// Detector runs the ghost scan for one or more tenants.
type Detector struct {
	store     *store.Store
	budget    *budget.Tracker
	adapters  *channel.Registry
	templates Templates
	limits    config.BudgetConfig
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewDetector(s *store.Store, tracker *budget.Tracker, adapters *channel.Registry, limits config.BudgetConfig, collector *metrics.Collector, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:     s,
		budget:    tracker,
		adapters:  adapters,
		templates: defaultTemplates{},
		limits:    limits,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "ghost")),
	}
}

// SetTemplates overrides the re-engagement copy source.
func (d *Detector) SetTemplates(t Templates) {
	if t != nil {
		d.templates = t
	}
}

// Scan examines one tenant's awaiting_reply leads at now. Per-lead
// failures are logged and do not stop the scan.
func (d *Detector) Scan(ctx context.Context, tenant *store.Tenant, now time.Time) error {
	start := time.Now()
	leads, err := d.store.Leads.ListAwaitingReply(ctx, tenant.ID, scanBatchSize)
	if err != nil {
		return fmt.Errorf("list awaiting leads: %w", err)
	}

	for i := range leads {
		lead := &leads[i]
		if lead.AILastResponseAt == nil {
			continue
		}
		timeout := time.Duration(lead.GhostTimeoutHours) * time.Hour
		if now.Sub(*lead.AILastResponseAt) <= timeout {
			continue
		}

		if err := d.handleTimedOut(ctx, tenant, lead, now); err != nil {
			d.logger.Error("ghost handling failed",
				zap.String("lead_id", lead.ID.String()),
				zap.Error(err))
		}
	}

	if d.metrics != nil {
		d.metrics.RecordTick("ghost_scan", time.Since(start), len(leads))
	}
	return nil
}

func (d *Detector) handleTimedOut(ctx context.Context, tenant *store.Tenant, lead *store.Lead, now time.Time) error {
	if lead.ReEngagementCount >= lead.MaxReEngagements {
		return d.markGhosted(ctx, lead, now)
	}
	return d.reengage(ctx, tenant, lead, now)
}

func (d *Detector) markGhosted(ctx context.Context, lead *store.Lead, now time.Time) error {
	next, _ := conversation.Apply(lead.ConversationState, conversation.GhostTimeout{At: now})
	if next == lead.ConversationState {
		return nil
	}
	prev := lead.ConversationState
	lead.ConversationState = next
	if err := d.store.Leads.UpdateCAS(ctx, lead); err != nil {
		return err
	}

	if d.metrics != nil {
		d.metrics.RecordGhostDetected(lead.TenantID.String())
		d.metrics.RecordStateTransition(string(prev), string(next))
	}
	d.logger.Info("lead ghosted",
		zap.String("lead_id", lead.ID.String()),
		zap.Int("re_engagements", lead.ReEngagementCount))
	return nil
}

// reengage sends one nudge for the current timeout window. The attempt
// slot in the activity log makes the send at-most-once per window even
// across concurrent scanners.
func (d *Detector) reengage(ctx context.Context, tenant *store.Tenant, lead *store.Lead, now time.Time) error {
	ch := types.ChannelEmail
	if !lead.ChannelEnabled(ch) {
		return d.markGhosted(ctx, lead, now)
	}

	adapter, err := d.adapters.Get(ch)
	if err != nil {
		return err
	}

	// Nudges draw from the same campaign and tenant budgets as regular
	// sequence sends.
	limits := budget.Limits{
		TenantDaily: orDefault(tenant.MaxEmailsPerDay, d.limits.TenantEmailsPerDay),
	}
	if lead.CampaignID != nil {
		campaign, err := d.store.Campaigns.GetByID(ctx, lead.TenantID, *lead.CampaignID)
		if err != nil {
			return err
		}
		limits.CampaignDaily = orDefault(campaign.DailyLimit, d.limits.CampaignDailyLimit)
		limits.CampaignHourly = orDefault(campaign.HourlyLimit, d.limits.CampaignHourlyLimit)
	}
	scope := budget.Scope{
		TenantID:   lead.TenantID,
		CampaignID: campaignOrNil(lead),
		Channel:    ch,
		Timezone:   tenant.Timezone,
		Limits:     limits,
	}
	granted, err := d.budget.TryConsume(ctx, scope, budget.WindowHourly, 1)
	if err != nil {
		return err
	}
	if !granted {
		// Budget pressure: the next scan retries the same window.
		return nil
	}
	granted, err = d.budget.TryConsume(ctx, scope, budget.WindowDaily, 1)
	if err != nil {
		return err
	}
	if !granted {
		if rbErr := d.budget.Return(ctx, scope, budget.WindowHourly, 1); rbErr != nil {
			d.logger.Error("hourly budget return failed", zap.Error(rbErr))
		}
		return nil
	}

	attempt := lead.ReEngagementCount + 1
	slot := -attempt
	record := &store.ActivityRecord{
		TenantID:     lead.TenantID,
		LeadID:       lead.ID,
		CampaignID:   lead.CampaignID,
		StepNumber:   &slot,
		ActivityType: types.ActivityReengagement,
		Channel:      ch,
		Status:       types.ActivityInFlight,
		Description:  fmt.Sprintf("re-engagement attempt %d", attempt),
		ActivityAt:   now,
	}
	if err := d.store.Activities.Append(ctx, record); err != nil {
		if types.GetErrorCode(err) == types.ErrDataIntegrity {
			// Another scanner already took this window.
			return nil
		}
		return err
	}

	next, _ := conversation.Apply(lead.ConversationState, conversation.ReengagementSent{At: now})
	lead.ConversationState = next
	lead.ReEngagementCount = attempt
	lead.AILastResponseAt = &now
	if err := d.store.Leads.UpdateCAS(ctx, lead); err != nil {
		if types.GetErrorCode(err) == types.ErrStaleLead {
			return nil
		}
		return err
	}

	content := d.templates.Reengagement(lead, attempt)
	result, sendErr := adapter.Send(ctx, lead, content)
	if sendErr != nil {
		if markErr := d.store.Activities.MarkStatus(ctx, lead.TenantID, record.ID, types.ActivityFailed, ""); markErr != nil {
			d.logger.Error("mark re-engagement failed", zap.Error(markErr))
		}
		return sendErr
	}

	if err := d.store.Activities.MarkStatus(ctx, lead.TenantID, record.ID, types.ActivityCompleted, result.ExternalRef); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.RecordReEngagement(lead.TenantID.String())
	}
	d.logger.Info("re-engagement sent",
		zap.String("lead_id", lead.ID.String()),
		zap.Int("attempt", attempt))
	return nil
}

func campaignOrNil(lead *store.Lead) uuid.UUID {
	if lead.CampaignID != nil {
		return *lead.CampaignID
	}
	return uuid.Nil
}

func orDefault(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
