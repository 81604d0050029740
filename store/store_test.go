package store

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/types"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(AllModels()...))

	return New(db, zap.NewNop())
}

func seedTenant(t *testing.T, s *Store) *Tenant {
	t.Helper()
	tenant := &Tenant{
		Name:            "Acme",
		Slug:            "acme-" + uuid.NewString()[:8],
		Timezone:        "UTC",
		Status:          "active",
		MaxEmailsPerDay: 100,
		MaxCallsPerDay:  50,
	}
	require.NoError(t, s.Tenants.Create(context.Background(), tenant))
	return tenant
}

func seedCampaign(t *testing.T, s *Store, tenantID uuid.UUID, status types.CampaignStatus) *Campaign {
	t.Helper()
	c := &Campaign{
		TenantID:    tenantID,
		Name:        "Q3 Outbound",
		Channel:     types.ChannelEmail,
		Status:      status,
		Timezone:    "UTC",
		DailyLimit:  100,
		HourlyLimit: 20,
	}
	require.NoError(t, s.Campaigns.Create(context.Background(), c))
	return c
}

func seedLead(t *testing.T, s *Store, tenantID uuid.UUID, campaignID *uuid.UUID) *Lead {
	t.Helper()
	l := &Lead{
		TenantID:          tenantID,
		Email:             uuid.NewString()[:8] + "@example.com",
		FirstName:         "Jamie",
		CampaignID:        campaignID,
		GhostTimeoutHours: 48,
		MaxReEngagements:  5,
		ConversationState: types.StateInSequence,
		Status:            types.LeadNew,
	}
	require.NoError(t, s.Leads.Create(context.Background(), l))
	return l
}

// --- Tenants ---

func TestTenantStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tenant := seedTenant(t, s)
	require.NotEqual(t, uuid.Nil, tenant.ID)

	got, err := s.Tenants.GetByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, tenant.Slug, got.Slug)
	assert.Equal(t, 100, got.MaxEmailsPerDay)

	bySlug, err := s.Tenants.GetBySlug(ctx, tenant.Slug)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, bySlug.ID)
}

func TestTenantStore_GetMissing(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Tenants.GetByID(context.Background(), uuid.New())
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestTenantStore_ListActive(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	seedTenant(t, s)
	inactive := &Tenant{Name: "Dormant", Slug: "dormant", Status: "suspended"}
	require.NoError(t, s.Tenants.Create(ctx, inactive))

	tenants, err := s.Tenants.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Acme", tenants[0].Name)
}

// --- Campaign lifecycle ---

func TestCampaignStore_Lifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignDraft)

	activated, err := s.Campaigns.Activate(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignActive, activated.Status)
	require.NotNil(t, activated.StartedAt)

	paused, err := s.Campaigns.Pause(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignPaused, paused.Status)

	resumed, err := s.Campaigns.Resume(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignActive, resumed.Status)

	completed, err := s.Campaigns.Complete(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
}

func TestCampaignStore_InvalidTransition(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignDraft)

	// Draft cannot pause.
	_, err := s.Campaigns.Pause(ctx, tenant.ID, c.ID)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))

	// Completed is terminal except nothing.
	_, err = s.Campaigns.Activate(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	_, err = s.Campaigns.Complete(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	_, err = s.Campaigns.Resume(ctx, tenant.ID, c.ID)
	assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
}

func TestCampaignStore_TenantScoping(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	other := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignActive)

	_, err := s.Campaigns.GetByID(ctx, other.ID, c.ID)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestCampaignStore_Steps(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignActive)

	for i := 3; i >= 1; i-- {
		require.NoError(t, s.Campaigns.CreateStep(ctx, &SequenceStep{
			TenantID:   tenant.ID,
			CampaignID: c.ID,
			StepNumber: i,
			StepType:   types.StepEmail,
			DelayDays:  i,
			IsActive:   true,
		}))
	}

	steps, err := s.Campaigns.ListSteps(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, 1, steps[0].StepNumber)
	assert.Equal(t, 3, steps[2].StepNumber)
	assert.Equal(t, 24*time.Hour, steps[0].Delay())
}

func TestCampaignStore_IncrementCounters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignActive)

	err := s.Campaigns.IncrementCounters(ctx, tenant.ID, c.ID, map[string]int{
		"emails_sent":     2,
		"leads_contacted": 1,
	})
	require.NoError(t, err)

	got, err := s.Campaigns.GetByID(ctx, tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EmailsSent)
	assert.Equal(t, 1, got.LeadsContacted)
}

// --- Leads ---

func TestLeadStore_CreateRequiresContact(t *testing.T) {
	s := setupTestStore(t)
	tenant := seedTenant(t, s)

	err := s.Leads.Create(context.Background(), &Lead{TenantID: tenant.ID})
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestLeadStore_EmailNormalized(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	l := &Lead{TenantID: tenant.ID, Email: "  Jamie@Example.COM "}
	require.NoError(t, s.Leads.Create(ctx, l))
	assert.Equal(t, "jamie@example.com", l.Email)

	found, err := s.Leads.FindByEmail(ctx, tenant.ID, "JAMIE@example.com")
	require.NoError(t, err)
	assert.Equal(t, l.ID, found.ID)
}

func TestLeadStore_UpdateCAS(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	lead.CurrentSequenceStep = 1
	require.NoError(t, s.Leads.UpdateCAS(ctx, lead))
	assert.Equal(t, int64(1), lead.Version)

	// A writer holding the old version loses.
	stale := *lead
	stale.Version = 0
	stale.CurrentSequenceStep = 9
	err := s.Leads.UpdateCAS(ctx, &stale)
	assert.Equal(t, types.ErrStaleLead, types.GetErrorCode(err))

	got, err := s.Leads.GetByID(ctx, tenant.ID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentSequenceStep)
	assert.Equal(t, int64(1), got.Version)
}

func TestLeadStore_ListSequenceCandidates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	c := seedCampaign(t, s, tenant.ID, types.CampaignActive)

	inSequence := seedLead(t, s, tenant.ID, &c.ID)

	engaged := seedLead(t, s, tenant.ID, &c.ID)
	engaged.ConversationState = types.StateEngaged
	require.NoError(t, s.Leads.Save(ctx, engaged))

	unsubscribed := seedLead(t, s, tenant.ID, &c.ID)
	unsubscribed.IsUnsubscribed = true
	require.NoError(t, s.Leads.Save(ctx, unsubscribed))

	candidates, err := s.Leads.ListSequenceCandidates(ctx, tenant.ID, c.ID, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, inSequence.ID, candidates[0].ID)
}

func TestLeadStore_ChannelEnabled(t *testing.T) {
	l := &Lead{Email: "a@b.com", Phone: "+1555", LinkedInURL: ""}
	assert.True(t, l.ChannelEnabled(types.ChannelEmail))
	assert.True(t, l.ChannelEnabled(types.ChannelVoice))
	assert.False(t, l.ChannelEnabled(types.ChannelLinkedIn))

	l.EmailDisabled = true
	assert.False(t, l.ChannelEnabled(types.ChannelEmail))
}

// --- Activity log ---

func TestActivityStore_AtMostOncePerStep(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	step := 1
	first := &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &step,
		ActivityType: types.ActivityStepExecuted,
		Channel:      types.ChannelEmail,
		Status:       types.ActivityInFlight,
	}
	require.NoError(t, s.Activities.Append(ctx, first))

	dup := &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &step,
		ActivityType: types.ActivityStepExecuted,
		Channel:      types.ChannelEmail,
		Status:       types.ActivityInFlight,
	}
	err := s.Activities.Append(ctx, dup)
	assert.Equal(t, types.ErrDataIntegrity, types.GetErrorCode(err))

	prior, err := s.Activities.StepActivity(ctx, tenant.ID, lead.ID, step)
	require.NoError(t, err)
	require.NotNil(t, prior)
	assert.Equal(t, first.ID, prior.ID)
}

func TestActivityStore_RearmFailedStep(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	step := 1
	record := &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &step,
		ActivityType: types.ActivityStepExecuted,
		Channel:      types.ChannelEmail,
		Status:       types.ActivityInFlight,
		Attempts:     1,
		ActivityAt:   time.Now().Add(-time.Hour),
	}
	require.NoError(t, s.Activities.Append(ctx, record))

	// Only failed entries rearm.
	err := s.Activities.Rearm(ctx, tenant.ID, record.ID, time.Now())
	assert.Equal(t, types.ErrDataIntegrity, types.GetErrorCode(err))

	require.NoError(t, s.Activities.MarkStatus(ctx, tenant.ID, record.ID, types.ActivityFailed, ""))

	rearmedAt := time.Now().UTC()
	require.NoError(t, s.Activities.Rearm(ctx, tenant.ID, record.ID, rearmedAt))

	fresh, err := s.Activities.StepActivity(ctx, tenant.ID, lead.ID, step)
	require.NoError(t, err)
	require.NotNil(t, fresh)
	assert.Equal(t, types.ActivityInFlight, fresh.Status)
	assert.Equal(t, 2, fresh.Attempts)
	assert.WithinDuration(t, rearmedAt, fresh.ActivityAt, time.Second)

	// A second rearm of the now in-flight entry loses the race.
	err = s.Activities.Rearm(ctx, tenant.ID, record.ID, time.Now())
	assert.Equal(t, types.ErrDataIntegrity, types.GetErrorCode(err))
}

func TestActivityStore_FailedStepDoesNotMoveAnchor(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	one, two := 1, 2
	require.NoError(t, s.Activities.Append(ctx, &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &one,
		ActivityType: types.ActivityStepExecuted,
		Status:       types.ActivityCompleted,
		ActivityAt:   time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, s.Activities.Append(ctx, &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &two,
		ActivityType: types.ActivityStepExecuted,
		Status:       types.ActivityFailed,
		ActivityAt:   time.Now().Add(-time.Hour),
	}))

	last, err := s.Activities.LastStepActivity(ctx, tenant.ID, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.NotNil(t, last.StepNumber)
	assert.Equal(t, one, *last.StepNumber)
}

func TestActivityStore_NullStepNotUnique(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Activities.Append(ctx, &ActivityRecord{
			TenantID:     tenant.ID,
			LeadID:       lead.ID,
			ActivityType: types.ActivityReplyReceived,
			Channel:      types.ChannelEmail,
			Status:       types.ActivityCompleted,
		}))
	}

	records, err := s.Activities.ListByLead(ctx, tenant.ID, lead.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestActivityStore_ReconcileInFlight(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	lead := seedLead(t, s, tenant.ID, nil)

	step := 1
	old := &ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		StepNumber:   &step,
		ActivityType: types.ActivityStepExecuted,
		Status:       types.ActivityInFlight,
		ActivityAt:   time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, s.Activities.Append(ctx, old))

	stuck, err := s.Activities.ListInFlightOlderThan(ctx, tenant.ID, time.Now().Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, stuck, 1)

	require.NoError(t, s.Activities.MarkStatus(ctx, tenant.ID, stuck[0].ID, types.ActivityFailed, ""))

	stuck, err = s.Activities.ListInFlightOlderThan(ctx, tenant.ID, time.Now())
	require.NoError(t, err)
	assert.Empty(t, stuck)
}

// --- Assignments ---

func TestAssignmentStore_SingleActivePerChannel(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)
	now := time.Now().UTC()

	_, err := s.Assignments.Assign(ctx, tenant.ID, "ava", types.ChannelEmail, now)
	require.NoError(t, err)

	second, err := s.Assignments.Assign(ctx, tenant.ID, "sam", types.ChannelEmail, now.Add(time.Hour))
	require.NoError(t, err)

	active, err := s.Assignments.ActiveFor(ctx, tenant.ID, types.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)
	assert.Equal(t, "sam", active.AgentName)

	history, err := s.Assignments.History(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// The replaced span is closed.
	var closed int
	for _, a := range history {
		if a.DeactivatedAt != nil {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

// --- ICP tracking ---

func TestICPStore_GetOrCreateTracking(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	icp := &ICP{
		TenantID: tenant.ID,
		ICPCode:  "saas-us",
		Name:     "US SaaS",
		Status:   types.ICPActive,
		Priority: 1,
	}
	require.NoError(t, s.ICPs.Create(ctx, icp))

	tracking, err := s.ICPs.GetOrCreateTracking(ctx, tenant.ID, icp.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tracking.CurrentPage)
	assert.Equal(t, types.TrackingActive, tracking.Status)

	tracking.CurrentPage = 4
	require.NoError(t, s.ICPs.UpdateTracking(ctx, tracking))

	again, err := s.ICPs.GetOrCreateTracking(ctx, tenant.ID, icp.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, again.CurrentPage)
	assert.Equal(t, tracking.ID, again.ID)
}

func TestICPStore_ListActiveOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenant := seedTenant(t, s)

	low := &ICP{TenantID: tenant.ID, ICPCode: "low", Name: "Low", Status: types.ICPActive, Priority: 5}
	high := &ICP{TenantID: tenant.ID, ICPCode: "high", Name: "High", Status: types.ICPActive, Priority: 1}
	draft := &ICP{TenantID: tenant.ID, ICPCode: "draft", Name: "Draft", Status: types.ICPDraft, Priority: 1}
	require.NoError(t, s.ICPs.Create(ctx, low))
	require.NoError(t, s.ICPs.Create(ctx, high))
	require.NoError(t, s.ICPs.Create(ctx, draft))

	profiles, err := s.ICPs.ListActive(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "high", profiles[0].ICPCode)
}
