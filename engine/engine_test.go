package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/budget"
	"github.com/BaSui01/leadflow/channel"
	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/conversation"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Wednesday, inside the default 09:00-17:00 weekday window.
var testNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store    *store.Store
	engine   *Engine
	fake     *channel.Fake
	rdb      *redis.Client
	tenant   *store.Tenant
	campaign *store.Campaign
}

type fakeClassifier struct {
	result *conversation.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, history []conversation.Message) (*conversation.Classification, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func setupFixture(t *testing.T, classifier conversation.Classifier) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(store.AllModels()...))
	s := store.New(db, zap.NewNop())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	fake := channel.NewFake()
	registry := channel.NewRegistry()
	registry.Register(types.ChannelEmail, fake)
	registry.Register(types.ChannelVoice, fake)

	eng, err := New(Options{
		Store:      s,
		Redis:      rdb,
		Adapters:   registry,
		Classifier: classifier,
		Engine: config.EngineConfig{
			TickInterval:    time.Minute,
			WorkerCount:     4,
			LeaseTTL:        time.Minute,
			DispatchTimeout: 5 * time.Second,
			BatchSize:       50,
			MaxSendAttempts: 3,
			RetryBackoff:    5 * time.Minute,
		},
		Limits: config.BudgetConfig{
			CampaignDailyLimit:  100,
			CampaignHourlyLimit: 20,
			TenantEmailsPerDay:  100,
			TenantCallsPerDay:   50,
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	ctx := context.Background()
	tenant := &store.Tenant{
		Name: "Acme", Slug: "acme", Status: "active", Timezone: "UTC",
		MaxEmailsPerDay: 100, MaxCallsPerDay: 50,
	}
	require.NoError(t, s.Tenants.Create(ctx, tenant))

	startedAt := testNow.Add(-72 * time.Hour)
	campaign := &store.Campaign{
		TenantID:     tenant.ID,
		Name:         "Launch",
		Channel:      types.ChannelEmail,
		Status:       types.CampaignActive,
		Timezone:     "UTC",
		SendingDays:  "monday,tuesday,wednesday,thursday,friday",
		SendingStart: "09:00",
		SendingEnd:   "17:00",
		DailyLimit:   100,
		HourlyLimit:  20,
		StartedAt:    &startedAt,
	}
	require.NoError(t, s.Campaigns.Create(ctx, campaign))

	return &fixture{
		store:    s,
		engine:   eng,
		fake:     fake,
		rdb:      rdb,
		tenant:   tenant,
		campaign: campaign,
	}
}

func (f *fixture) addEmailStep(t *testing.T, number int, delay time.Duration) *store.SequenceStep {
	t.Helper()
	step := &store.SequenceStep{
		TenantID:     f.tenant.ID,
		CampaignID:   f.campaign.ID,
		StepNumber:   number,
		StepType:     types.StepEmail,
		DelayHours:   int(delay / time.Hour),
		EmailSubject: "Quick question",
		EmailBody:    "Hi there",
		IsActive:     true,
	}
	require.NoError(t, f.store.Campaigns.CreateStep(context.Background(), step))
	return step
}

func (f *fixture) addLead(t *testing.T, email string) *store.Lead {
	t.Helper()
	lead := &store.Lead{
		TenantID:          f.tenant.ID,
		Email:             email,
		FirstName:         "Pat",
		CampaignID:        &f.campaign.ID,
		Status:            types.LeadNew,
		ConversationState: types.StateInSequence,
		GhostTimeoutHours: 48,
		MaxReEngagements:  5,
	}
	require.NoError(t, f.store.Leads.Create(context.Background(), lead))
	return lead
}

// drain waits until every submitted dispatch finished.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats := f.engine.dispatch.Stats()
		return stats.Completed+stats.Failed == stats.Submitted
	}, 2*time.Second, 5*time.Millisecond)
}

func (f *fixture) tick(t *testing.T, now time.Time) {
	t.Helper()
	require.NoError(t, f.engine.Tick(context.Background(), now))
	f.drain(t)
}

func (f *fixture) reload(t *testing.T, lead *store.Lead) *store.Lead {
	t.Helper()
	fresh, err := f.store.Leads.GetByID(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	return fresh
}

func TestTick_DispatchesDueStep(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	f.tick(t, testNow)

	sent := f.fake.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "pat@example.com", sent[0].Email)
	assert.Equal(t, "Quick question", sent[0].Content.Subject)

	fresh := f.reload(t, lead)
	assert.Equal(t, 1, fresh.CurrentSequenceStep)
	assert.Equal(t, 1, fresh.EmailsSent)
	assert.Equal(t, types.LeadContacted, fresh.Status)
	assert.NotNil(t, fresh.LastContactedAt)

	activities, err := f.store.Activities.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, types.ActivityCompleted, activities[0].Status)
	assert.Equal(t, "fake-1", activities[0].ExternalRef)

	campaign, err := f.store.Campaigns.GetByID(context.Background(), f.tenant.ID, f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, campaign.EmailsSent)
	assert.Equal(t, 1, campaign.LeadsContacted)
}

func TestTick_StepExecutedOnce(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	f.addLead(t, "pat@example.com")

	f.tick(t, testNow)
	f.tick(t, testNow.Add(time.Minute))

	assert.Equal(t, 1, f.fake.Calls())
}

func TestTick_DailyLimitCapsDispatches(t *testing.T) {
	f := setupFixture(t, nil)
	f.campaign.DailyLimit = 2
	require.NoError(t, f.store.DB().Save(f.campaign).Error)

	f.addEmailStep(t, 1, 0)
	f.addLead(t, "a@example.com")
	f.addLead(t, "b@example.com")
	third := f.addLead(t, "c@example.com")

	f.tick(t, testNow)

	assert.Len(t, f.fake.Sent(), 2)

	// The denied lead is parked until the budget reopens.
	fresh := f.reload(t, third)
	if fresh.CurrentSequenceStep == 0 {
		require.NotNil(t, fresh.NextFollowupAt)
		assert.True(t, fresh.NextFollowupAt.After(testNow))
	}

	// A re-tick inside the same day sends nothing more.
	f.tick(t, testNow.Add(time.Minute))
	assert.Len(t, f.fake.Sent(), 2)
}

func TestTick_DailyDenialReturnsHourlyUnit(t *testing.T) {
	f := setupFixture(t, nil)
	f.campaign.DailyLimit = 1
	f.campaign.HourlyLimit = 5
	require.NoError(t, f.store.DB().Save(f.campaign).Error)

	f.addEmailStep(t, 1, 0)
	f.addLead(t, "a@example.com")
	f.addLead(t, "b@example.com")

	f.tick(t, testNow)
	assert.Len(t, f.fake.Sent(), 1)

	// Only the delivered send counts against the hour; the denied
	// lead's hourly unit went back.
	scope := budget.Scope{
		TenantID:   f.tenant.ID,
		CampaignID: f.campaign.ID,
		Channel:    types.ChannelEmail,
		Timezone:   f.tenant.Timezone,
		Limits:     budget.Limits{CampaignDaily: 1, CampaignHourly: 5},
	}
	remaining, err := f.engine.budget.Remaining(context.Background(), scope, budget.WindowHourly)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestTick_LeaseConflictSkipsLead(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	require.NoError(t, f.rdb.Set(context.Background(),
		leaseKey(f.tenant.ID, lead.ID), "other-holder", time.Minute).Err())

	f.tick(t, testNow)
	assert.Empty(t, f.fake.Sent())
}

func TestTick_PermanentFailureDisablesChannel(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	f.fake.FailWith(channel.Permanent(errors.New("mailbox does not exist")))

	f.tick(t, testNow)

	fresh := f.reload(t, lead)
	assert.True(t, fresh.EmailDisabled)
	assert.Equal(t, 0, fresh.EmailsSent)

	activities, err := f.store.Activities.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, types.ActivityFailed, activities[0].Status)
}

func TestTick_TransientFailureRetriesAfterBackoff(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	f.fake.FailWith(channel.Transient(errors.New("smtp timeout")))

	f.tick(t, testNow)

	fresh := f.reload(t, lead)
	assert.False(t, fresh.EmailDisabled)
	assert.Equal(t, 0, fresh.CurrentSequenceStep)
	assert.Empty(t, f.fake.Sent())

	// Still inside the backoff, no resend yet.
	f.tick(t, testNow.Add(time.Minute))
	assert.Equal(t, 1, f.fake.Calls())

	// The backoff elapsed; the same step goes out again and completes.
	f.tick(t, testNow.Add(6*time.Minute))
	require.Len(t, f.fake.Sent(), 1)

	fresh = f.reload(t, lead)
	assert.Equal(t, 1, fresh.CurrentSequenceStep)
	assert.Equal(t, 1, fresh.EmailsSent)

	activities, err := f.store.Activities.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, types.ActivityCompleted, activities[0].Status)
	assert.Equal(t, 2, activities[0].Attempts)
}

func TestTick_RetryCeilingEndsAttempts(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	f.fake.FailWith(
		channel.Transient(errors.New("smtp timeout")),
		channel.Transient(errors.New("smtp timeout")),
		channel.Transient(errors.New("smtp timeout")),
	)

	// Backoff doubles per attempt: 5m after the first failure, 10m
	// after the second.
	f.tick(t, testNow)
	f.tick(t, testNow.Add(6*time.Minute))
	f.tick(t, testNow.Add(17*time.Minute))
	assert.Equal(t, 3, f.fake.Calls())

	// Attempts spent; the step is never offered again.
	f.tick(t, testNow.Add(2*time.Hour))
	assert.Equal(t, 3, f.fake.Calls())

	activities, err := f.store.Activities.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, types.ActivityFailed, activities[0].Status)
	assert.Equal(t, 3, activities[0].Attempts)
}

func TestTick_CallStepEmitsCallTask(t *testing.T) {
	f := setupFixture(t, nil)
	step := &store.SequenceStep{
		TenantID:      f.tenant.ID,
		CampaignID:    f.campaign.ID,
		StepNumber:    1,
		StepType:      types.StepCall,
		CallScript:    "Intro call script",
		CallObjective: "Book a demo",
		IsActive:      true,
	}
	require.NoError(t, f.store.Campaigns.CreateStep(context.Background(), step))

	lead := f.addLead(t, "pat@example.com")
	lead.Phone = "+15551234567"
	require.NoError(t, f.store.Leads.Save(context.Background(), lead))

	f.tick(t, testNow)

	tasks, err := f.store.CallTasks.ListPending(context.Background(), f.tenant.ID, testNow.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, lead.ID, tasks[0].LeadID)
	assert.Equal(t, "+15551234567", tasks[0].PhoneNumber)
	assert.Equal(t, "Intro call script", tasks[0].Script)
}

func TestTick_ReconcilesStuckDispatches(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	lead := f.addLead(t, "pat@example.com")

	stepNumber := 3
	stale := &store.ActivityRecord{
		TenantID:     f.tenant.ID,
		LeadID:       lead.ID,
		CampaignID:   &f.campaign.ID,
		StepNumber:   &stepNumber,
		ActivityType: types.ActivityStepExecuted,
		Channel:      types.ChannelEmail,
		Status:       types.ActivityInFlight,
		ActivityAt:   testNow.Add(-time.Hour),
	}
	require.NoError(t, f.store.Activities.Append(context.Background(), stale))

	f.tick(t, testNow)

	rec, err := f.store.Activities.StepActivity(context.Background(), f.tenant.ID, lead.ID, stepNumber)
	require.NoError(t, err)
	assert.Equal(t, types.ActivityFailed, rec.Status)
}

func TestHandleInboundReply_PausesSequence(t *testing.T) {
	f := setupFixture(t, nil)
	f.addEmailStep(t, 1, 0)
	f.addEmailStep(t, 2, 24*time.Hour)
	lead := f.addLead(t, "pat@example.com")

	f.tick(t, testNow)
	require.Len(t, f.fake.Sent(), 1)

	reply := &store.InboundReply{
		TenantID:    f.tenant.ID,
		LeadID:      lead.ID,
		Channel:     types.ChannelEmail,
		FromAddress: "pat@example.com",
		Body:        "Sounds interesting, tell me more",
		ReceivedAt:  testNow.Add(2 * time.Hour),
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	fresh := f.reload(t, lead)
	assert.Equal(t, types.StateEngaged, fresh.ConversationState)
	require.NotNil(t, fresh.SequencePausedAtStep)
	assert.Equal(t, 1, *fresh.SequencePausedAtStep)
	require.NotNil(t, fresh.LastRepliedAt)
	assert.Equal(t, 1, fresh.EmailsReplied)
	assert.Equal(t, types.LeadEngaged, fresh.Status)

	// The paused lead is no longer offered sequence steps.
	f.tick(t, testNow.Add(48*time.Hour))
	assert.Len(t, f.fake.Sent(), 1)

	messages, err := f.store.Conversations.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, types.RoleUser, messages[0].Role)
}

func TestHandleInboundReply_BounceDisablesChannel(t *testing.T) {
	f := setupFixture(t, nil)
	lead := f.addLead(t, "pat@example.com")

	reply := &store.InboundReply{
		TenantID:   f.tenant.ID,
		LeadID:     lead.ID,
		Channel:    types.ChannelEmail,
		Body:       "550 mailbox unavailable",
		IsBounce:   true,
		ReceivedAt: testNow,
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	fresh := f.reload(t, lead)
	assert.True(t, fresh.EmailDisabled)
	assert.Equal(t, types.StateInSequence, fresh.ConversationState)
	assert.Equal(t, 0, fresh.EmailsReplied)
	assert.Nil(t, fresh.LastRepliedAt)
}

func TestHandleInboundReply_AutoReplyIgnored(t *testing.T) {
	classifier := &fakeClassifier{result: &conversation.Classification{Intent: "none"}}
	f := setupFixture(t, classifier)
	lead := f.addLead(t, "pat@example.com")

	reply := &store.InboundReply{
		TenantID:    f.tenant.ID,
		LeadID:      lead.ID,
		Channel:     types.ChannelEmail,
		Body:        "I am out of the office until Monday",
		IsAutoReply: true,
		ReceivedAt:  testNow,
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	fresh := f.reload(t, lead)
	assert.Equal(t, types.StateInSequence, fresh.ConversationState)
	assert.Equal(t, 0, fresh.EmailsReplied)
	assert.Zero(t, classifier.calls)
}

func TestHandleInboundReply_ClassifierAppliesSignals(t *testing.T) {
	classifier := &fakeClassifier{result: &conversation.Classification{
		Intent:     "meeting_request",
		Sentiment:  "positive",
		Confidence: 0.92,
		BANTSignals: []conversation.BANTSignal{
			{Dimension: types.BANTBudget, Score: 2, Details: "budget approved for Q2"},
			{Dimension: types.BANTTimeline, Score: 3, Details: "wants to start this month"},
		},
		ReplyDraft: "Happy to set up a call. Does Thursday work?",
	}}
	f := setupFixture(t, classifier)
	lead := f.addLead(t, "pat@example.com")

	reply := &store.InboundReply{
		TenantID:   f.tenant.ID,
		LeadID:     lead.ID,
		Channel:    types.ChannelEmail,
		Body:       "We have budget, can we talk this week?",
		ReceivedAt: testNow,
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	assert.Equal(t, 1, classifier.calls)

	fresh := f.reload(t, lead)
	assert.Equal(t, 2, fresh.BudgetScore)
	assert.Equal(t, 3, fresh.TimelineScore)
	assert.Equal(t, 5, fresh.OverallScore)
	assert.Equal(t, types.PartiallyQualified, fresh.Qualification)

	replies, err := f.store.Replies.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "meeting_request", replies[0].Intent)
	assert.NotNil(t, replies[0].ProcessedAt)

	messages, err := f.store.Conversations.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	var draft *store.ConversationMessage
	for i := range messages {
		if messages[i].Role == types.RoleAssistant {
			draft = &messages[i]
		}
	}
	require.NotNil(t, draft)
	assert.Equal(t, "Happy to set up a call. Does Thursday work?", draft.Content)
	assert.False(t, draft.IsSent)
}

func TestHandleInboundReply_DraftCarriesAssignedAgent(t *testing.T) {
	classifier := &fakeClassifier{result: &conversation.Classification{
		Intent:     "question",
		Sentiment:  "positive",
		Confidence: 0.8,
		ReplyDraft: "Great question, here is how it works.",
	}}
	f := setupFixture(t, classifier)
	lead := f.addLead(t, "pat@example.com")

	_, err := f.store.Assignments.Assign(context.Background(),
		f.tenant.ID, "Ava Reynolds", types.ChannelEmail, testNow.Add(-time.Hour))
	require.NoError(t, err)

	reply := &store.InboundReply{
		TenantID:   f.tenant.ID,
		LeadID:     lead.ID,
		Channel:    types.ChannelEmail,
		Body:       "How does pricing work?",
		ReceivedAt: testNow,
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	messages, err := f.store.Conversations.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	var draft *store.ConversationMessage
	for i := range messages {
		if messages[i].Role == types.RoleAssistant {
			draft = &messages[i]
		}
	}
	require.NotNil(t, draft)
	assert.Equal(t, "Ava Reynolds", draft.AgentName)
}

func TestHandleInboundReply_ClassifierFailureKeepsReply(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("model unavailable")}
	f := setupFixture(t, classifier)
	lead := f.addLead(t, "pat@example.com")

	reply := &store.InboundReply{
		TenantID:   f.tenant.ID,
		LeadID:     lead.ID,
		Channel:    types.ChannelEmail,
		Body:       "Interesting",
		ReceivedAt: testNow,
	}
	require.NoError(t, f.engine.HandleInboundReply(context.Background(), f.tenant, reply))

	fresh := f.reload(t, lead)
	assert.Equal(t, types.StateEngaged, fresh.ConversationState)

	replies, err := f.store.Replies.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Nil(t, replies[0].ProcessedAt)
}

func TestRecordAIResponse(t *testing.T) {
	f := setupFixture(t, nil)
	lead := f.addLead(t, "pat@example.com")
	lead.ConversationState = types.StateEngaged
	require.NoError(t, f.store.Leads.Save(context.Background(), lead))

	msg := &store.ConversationMessage{
		TenantID: f.tenant.ID,
		LeadID:   lead.ID,
		Channel:  types.ChannelEmail,
		Role:     types.RoleAssistant,
		Content:  "Happy to help",
	}
	require.NoError(t, f.store.Conversations.AppendMessage(context.Background(), msg))

	sentAt := testNow.Add(time.Minute)
	require.NoError(t, f.engine.RecordAIResponse(context.Background(), f.tenant, lead.ID, msg.ID, sentAt))

	fresh := f.reload(t, lead)
	assert.Equal(t, types.StateAwaitingReply, fresh.ConversationState)
	require.NotNil(t, fresh.AILastResponseAt)
	assert.WithinDuration(t, sentAt, *fresh.AILastResponseAt, time.Second)

	messages, err := f.store.Conversations.ListByLead(context.Background(), f.tenant.ID, lead.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsSent)
}

func TestScheduler_RunsTickLoop(t *testing.T) {
	f := setupFixture(t, nil)

	// The scheduler runs on wall-clock time, so the window must always
	// be open.
	f.campaign.SendingDays = "monday,tuesday,wednesday,thursday,friday,saturday,sunday"
	f.campaign.SendingStart = "00:00"
	f.campaign.SendingEnd = "23:59"
	require.NoError(t, f.store.DB().Save(f.campaign).Error)

	f.addEmailStep(t, 1, 0)
	f.addLead(t, "pat@example.com")

	f.engine.cfg.TickInterval = 10 * time.Millisecond
	sched := NewScheduler(f.engine, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.fake.Calls() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	f.drain(t)
}
