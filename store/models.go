package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/types"
)

// Base carries the identity and timestamps shared by all records.
type Base struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was set.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Tenant is a workspace. Every other record hangs off a tenant and
// every repository method filters by tenant ID.
type Tenant struct {
	Base
	Name     string `gorm:"size:200;not null" json:"name"`
	Slug     string `gorm:"size:100;uniqueIndex;not null" json:"slug"`
	Timezone string `gorm:"size:64;default:UTC" json:"timezone"` // IANA name
	Plan     string `gorm:"size:50;default:free" json:"plan"`
	Status   string `gorm:"size:20;default:active" json:"status"`

	// Tenant-wide channel ceilings, consumed alongside campaign budgets.
	MaxEmailsPerDay int `gorm:"default:100" json:"max_emails_per_day"`
	MaxCallsPerDay  int `gorm:"default:50" json:"max_calls_per_day"`

	Settings string `gorm:"type:text" json:"settings"` // JSON blob
}

// Campaign is an outreach campaign with its sequence, sending window,
// and rate limits.
type Campaign struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_campaign_tenant" json:"tenant_id"`

	Name         string               `gorm:"size:200;not null" json:"name"`
	Description  string               `gorm:"type:text" json:"description"`
	CampaignType string               `gorm:"size:50;default:outbound" json:"campaign_type"`
	Channel      types.Channel        `gorm:"size:20;default:email" json:"channel"`
	Status       types.CampaignStatus `gorm:"size:20;default:draft;index:idx_campaign_status" json:"status"`

	// Sending window, evaluated in the campaign timezone.
	Timezone     string `gorm:"size:64;default:UTC" json:"timezone"`
	SendingDays  string `gorm:"size:100;default:monday,tuesday,wednesday,thursday,friday" json:"sending_days"`
	SendingStart string `gorm:"size:5;default:09:00" json:"sending_start"` // HH:MM
	SendingEnd   string `gorm:"size:5;default:17:00" json:"sending_end"`   // HH:MM

	DailyLimit  int `gorm:"default:100" json:"daily_limit"`
	HourlyLimit int `gorm:"default:20" json:"hourly_limit"`

	// Aggregate counters, updated by the engine.
	TotalLeads     int `gorm:"default:0" json:"total_leads"`
	LeadsContacted int `gorm:"default:0" json:"leads_contacted"`
	LeadsResponded int `gorm:"default:0" json:"leads_responded"`
	LeadsConverted int `gorm:"default:0" json:"leads_converted"`
	EmailsSent     int `gorm:"default:0" json:"emails_sent"`
	EmailsOpened   int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked  int `gorm:"default:0" json:"emails_clicked"`
	EmailsReplied  int `gorm:"default:0" json:"emails_replied"`
	EmailsBounced  int `gorm:"default:0" json:"emails_bounced"`
	CallsMade      int `gorm:"default:0" json:"calls_made"`
	CallsConnected int `gorm:"default:0" json:"calls_connected"`
	MeetingsBooked int `gorm:"default:0" json:"meetings_booked"`

	UseAIPersonalization bool   `gorm:"default:true" json:"use_ai_personalization"`
	AITone               string `gorm:"size:50;default:professional" json:"ai_tone"`

	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// SequenceStep is one ordered step of a campaign sequence.
type SequenceStep struct {
	Base
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_step_campaign_number" json:"campaign_id"`

	StepNumber int            `gorm:"not null;uniqueIndex:idx_step_campaign_number" json:"step_number"`
	Name       string         `gorm:"size:200" json:"name"`
	StepType   types.StepType `gorm:"size:30;not null" json:"step_type"`

	DelayDays    int `gorm:"default:0" json:"delay_days"`
	DelayHours   int `gorm:"default:0" json:"delay_hours"`
	DelayMinutes int `gorm:"default:0" json:"delay_minutes"`

	ConditionType types.ConditionType `gorm:"size:30;default:''" json:"condition_type"`

	// Per-channel content.
	EmailSubject    string `gorm:"size:500" json:"email_subject"`
	EmailBody       string `gorm:"type:text" json:"email_body"`
	CallScript      string `gorm:"type:text" json:"call_script"`
	CallObjective   string `gorm:"size:500" json:"call_objective"`
	LinkedInMessage string `gorm:"type:text" json:"linkedin_message"`
	ConnectionNote  string `gorm:"size:500" json:"connection_note"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	// Per-step counters.
	TotalSent    int `gorm:"default:0" json:"total_sent"`
	TotalOpened  int `gorm:"default:0" json:"total_opened"`
	TotalClicked int `gorm:"default:0" json:"total_clicked"`
	TotalReplied int `gorm:"default:0" json:"total_replied"`

	IsABTest  bool   `gorm:"default:false" json:"is_ab_test"`
	ABVariant string `gorm:"size:10" json:"ab_variant"`
}

// Delay returns the step's configured delay as a duration.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayMinutes)*time.Minute
}

// Lead is a prospect being worked by campaigns. The funnel status and
// the conversation state are orthogonal axes.
type Lead struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_lead_tenant" json:"tenant_id"`

	// Contact. At least one of Email/Phone must be present.
	Email     string `gorm:"size:320;index:idx_lead_email" json:"email"`
	Phone     string `gorm:"size:50" json:"phone"`
	FirstName string `gorm:"size:100" json:"first_name"`
	LastName  string `gorm:"size:100" json:"last_name"`

	CompanyName   string `gorm:"size:200" json:"company_name"`
	CompanyDomain string `gorm:"size:200;index:idx_lead_domain" json:"company_domain"`
	JobTitle      string `gorm:"size:200" json:"job_title"`

	Country     string `gorm:"size:100" json:"country"`
	City        string `gorm:"size:100" json:"city"`
	Timezone    string `gorm:"size:64" json:"timezone"`
	LinkedInURL string `gorm:"size:500" json:"linkedin_url"`

	Source   string `gorm:"size:100" json:"source"`
	SourceID string `gorm:"size:200;index:idx_lead_source_id" json:"source_id"`

	Status types.LeadStatus `gorm:"size:20;default:new;index:idx_lead_status" json:"status"`

	CampaignID          *uuid.UUID `gorm:"type:uuid;index:idx_lead_campaign" json:"campaign_id"`
	CurrentSequenceStep int        `gorm:"default:0" json:"current_sequence_step"`

	LastContactedAt *time.Time `json:"last_contacted_at"`
	LastRepliedAt   *time.Time `json:"last_replied_at"`
	NextFollowupAt  *time.Time `gorm:"index:idx_lead_followup" json:"next_followup_at"`

	// Per-channel counters.
	EmailsSent     int `gorm:"default:0" json:"emails_sent"`
	EmailsOpened   int `gorm:"default:0" json:"emails_opened"`
	EmailsClicked  int `gorm:"default:0" json:"emails_clicked"`
	EmailsReplied  int `gorm:"default:0" json:"emails_replied"`
	EmailsBounced  int `gorm:"default:0" json:"emails_bounced"`
	CallsMade      int `gorm:"default:0" json:"calls_made"`
	CallsConnected int `gorm:"default:0" json:"calls_connected"`
	MeetingsBooked int `gorm:"default:0" json:"meetings_booked"`

	LeadScore       int `gorm:"default:0" json:"lead_score"`
	EngagementScore int `gorm:"default:0" json:"engagement_score"`

	EnrichmentData string `gorm:"type:text" json:"enrichment_data"` // JSON blob
	Tags           string `gorm:"size:500" json:"tags"`             // csv

	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	DoNotContact   bool `gorm:"default:false" json:"do_not_contact"`

	// Per-channel kill switches, set on permanent channel failures.
	EmailDisabled bool `gorm:"default:false" json:"email_disabled"`
	PhoneDisabled bool `gorm:"default:false" json:"phone_disabled"`

	ConversationState    types.ConversationState `gorm:"size:20;default:in_sequence;index:idx_lead_conv_state" json:"conversation_state"`
	AILastResponseAt     *time.Time              `json:"ai_last_response_at"`
	SequencePausedAtStep *int                    `json:"sequence_paused_at_step"`
	GhostTimeoutHours    int                     `gorm:"default:48" json:"ghost_timeout_hours"`
	ReEngagementCount    int                     `gorm:"default:0" json:"re_engagement_count"`
	MaxReEngagements     int                     `gorm:"default:5" json:"max_re_engagements"`

	// BANT qualification, per-dimension scores 0-3.
	BudgetScore      int        `gorm:"default:0" json:"budget_score"`
	AuthorityScore   int        `gorm:"default:0" json:"authority_score"`
	NeedScore        int        `gorm:"default:0" json:"need_score"`
	TimelineScore    int        `gorm:"default:0" json:"timeline_score"`
	BudgetDetails    string     `gorm:"size:1000" json:"budget_details"`
	AuthorityDetails string     `gorm:"size:1000" json:"authority_details"`
	NeedDetails      string     `gorm:"size:1000" json:"need_details"`
	TimelineDetails  string     `gorm:"size:1000" json:"timeline_details"`
	OverallScore     int        `gorm:"default:0" json:"overall_score"`
	Qualification    types.QualificationStatus `gorm:"size:30;default:unqualified" json:"qualification_status"`
	BANTUpdatedAt    *time.Time `json:"bant_updated_at"`

	// Optimistic concurrency token, bumped on every engine write.
	Version int64 `gorm:"default:0" json:"version"`
}

// FullName returns the lead's display name.
func (l *Lead) FullName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	default:
		return l.LastName
	}
}

// Contactable reports whether any outreach may target this lead.
func (l *Lead) Contactable() bool {
	return !l.IsUnsubscribed && !l.DoNotContact && l.Status != types.LeadDoNotContact
}

// ChannelEnabled reports whether a specific channel may be used.
func (l *Lead) ChannelEnabled(ch types.Channel) bool {
	switch ch {
	case types.ChannelEmail:
		return !l.EmailDisabled && l.Email != ""
	case types.ChannelVoice:
		return !l.PhoneDisabled && l.Phone != ""
	case types.ChannelLinkedIn:
		return l.LinkedInURL != ""
	}
	return false
}

// ActivityRecord is an append-only entry in the outreach activity log.
// Step executions are written in_flight before the external call and
// reconciled to completed or failed afterwards.
type ActivityRecord struct {
	Base
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_activity_step" json:"tenant_id"`
	LeadID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_activity_lead;uniqueIndex:idx_activity_step" json:"lead_id"`
	CampaignID *uuid.UUID `gorm:"type:uuid;index" json:"campaign_id"`

	StepNumber *int `gorm:"uniqueIndex:idx_activity_step,where:step_number IS NOT NULL" json:"step_number"`

	ActivityType types.ActivityType `gorm:"size:30;not null;uniqueIndex:idx_activity_step" json:"activity_type"`
	Channel      types.Channel      `gorm:"size:20" json:"channel"`
	Description  string             `gorm:"size:1000" json:"description"`

	// Tagged cross-entity reference, closed set.
	RelatedType types.RelatedType `gorm:"size:30;default:''" json:"related_type"`
	RelatedID   *uuid.UUID        `gorm:"type:uuid" json:"related_id"`

	EmailSubject   string `gorm:"size:500" json:"email_subject"`
	EmailMessageID string `gorm:"size:500" json:"email_message_id"`
	CallDuration   int    `gorm:"default:0" json:"call_duration"`
	CallOutcome    string `gorm:"size:200" json:"call_outcome"`

	Metadata    string `gorm:"type:text" json:"metadata"` // JSON blob
	ExternalRef string `gorm:"size:500" json:"external_ref"`

	Status types.ActivityStatus `gorm:"size:20;default:completed;index:idx_activity_status" json:"status"`

	// Send attempts recorded against this entry, step executions only.
	Attempts int `gorm:"default:1" json:"attempts"`

	ActivityAt time.Time `gorm:"not null;index:idx_activity_at" json:"activity_at"`
}

// ConversationMessage is one turn in a lead's AI conversation.
type ConversationMessage struct {
	Base
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	LeadID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_convmsg_lead" json:"lead_id"`
	CampaignID *uuid.UUID `gorm:"type:uuid" json:"campaign_id"`

	Channel types.Channel     `gorm:"size:20;default:email" json:"channel"`
	Role    types.MessageRole `gorm:"size:20;not null" json:"role"`
	Content string            `gorm:"type:text;not null" json:"content"`
	Subject string            `gorm:"size:500" json:"subject"`

	Sentiment string `gorm:"size:30" json:"sentiment"`

	// AgentName is the persona assigned to the channel when an
	// assistant message was drafted.
	AgentName string `gorm:"size:200" json:"agent_name"`

	ModelUsed        string `gorm:"size:100" json:"model_used"`
	PromptTokens     int    `gorm:"default:0" json:"prompt_tokens"`
	CompletionTokens int    `gorm:"default:0" json:"completion_tokens"`

	BANTData string `gorm:"type:text" json:"bant_data"` // JSON blob

	IsSent bool       `gorm:"default:false" json:"is_sent"`
	SentAt *time.Time `json:"sent_at"`
}

// InboundReply is a raw inbound message from a lead on any channel.
type InboundReply struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	LeadID   uuid.UUID `gorm:"type:uuid;not null;index:idx_reply_lead" json:"lead_id"`

	Channel     types.Channel `gorm:"size:20;default:email" json:"channel"`
	FromAddress string        `gorm:"size:320" json:"from_address"`
	ToAddress   string        `gorm:"size:320" json:"to_address"`
	Subject     string        `gorm:"size:500" json:"subject"`
	Body        string        `gorm:"type:text" json:"body"`

	IsAutoReply   bool `gorm:"default:false" json:"is_auto_reply"`
	IsOutOfOffice bool `gorm:"default:false" json:"is_out_of_office"`
	IsBounce      bool `gorm:"default:false" json:"is_bounce"`

	Intent     string  `gorm:"size:50" json:"intent"`
	Sentiment  string  `gorm:"size:30" json:"sentiment"`
	Confidence float64 `gorm:"default:0" json:"confidence"`

	ReceivedAt  time.Time  `gorm:"not null" json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// CallTask is a queued phone call produced when a call step dispatches.
// The voice adapter consumes and resolves it.
type CallTask struct {
	Base
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	LeadID     uuid.UUID  `gorm:"type:uuid;not null;index:idx_calltask_lead" json:"lead_id"`
	CampaignID *uuid.UUID `gorm:"type:uuid" json:"campaign_id"`

	PhoneNumber string    `gorm:"size:50;not null" json:"phone_number"`
	ScheduledAt time.Time `gorm:"not null;index:idx_calltask_scheduled" json:"scheduled_at"`
	Status      string    `gorm:"size:20;default:pending" json:"status"`

	Script    string `gorm:"type:text" json:"script"`
	Objective string `gorm:"size:500" json:"objective"`

	ProviderCallID    string `gorm:"size:200" json:"provider_call_id"`
	Outcome           string `gorm:"size:200" json:"outcome"`
	DurationSeconds   int    `gorm:"default:0" json:"duration_seconds"`
	TranscriptSummary string `gorm:"type:text" json:"transcript_summary"`
}

// ICP is an ideal customer profile used to source new leads.
type ICP struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_icp_code" json:"tenant_id"`

	ICPCode string `gorm:"size:50;not null;uniqueIndex:idx_icp_code" json:"icp_code"`
	Name    string `gorm:"size:200;not null" json:"name"`

	// Targeting filters, csv lists.
	Industries      string `gorm:"size:1000" json:"industries"`
	CompanySizes    string `gorm:"size:500" json:"company_sizes"`
	MinEmployees    int    `gorm:"default:0" json:"min_employees"`
	MaxEmployees    int    `gorm:"default:0" json:"max_employees"`
	Countries       string `gorm:"size:1000" json:"countries"`
	Regions         string `gorm:"size:1000" json:"regions"`
	JobTitles       string `gorm:"size:1000" json:"job_titles"`
	Seniorities     string `gorm:"size:500" json:"seniorities"`
	Departments     string `gorm:"size:500" json:"departments"`
	TechInclude     string `gorm:"size:1000" json:"tech_include"`
	TechExclude     string `gorm:"size:1000" json:"tech_exclude"`
	KeywordsInclude string `gorm:"size:1000" json:"keywords_include"`
	KeywordsExclude string `gorm:"size:1000" json:"keywords_exclude"`

	DataProvider   string `gorm:"size:50;default:apollo" json:"data_provider"`
	ProviderParams string `gorm:"type:text" json:"provider_params"` // JSON blob

	ScoringWeights  string `gorm:"type:text" json:"scoring_weights"` // JSON blob
	MinLeadScore    int    `gorm:"default:60" json:"min_lead_score"`
	MaxLeadsToFetch int    `gorm:"default:1000" json:"max_leads_to_fetch"`
	DailyFetchLimit int    `gorm:"default:100" json:"daily_fetch_limit"`

	LeadsFetchedTotal int `gorm:"default:0" json:"leads_fetched_total"`

	Status     types.ICPStatus `gorm:"size:20;default:draft" json:"status"`
	Priority   int             `gorm:"default:1" json:"priority"` // 1 = highest
	LastUsedAt *time.Time      `json:"last_used_at"`
}

// ICPTrackingState is the durable fetch cursor for one ICP.
type ICPTrackingState struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ICPID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"icp_id"`

	CurrentPage  int `gorm:"default:1" json:"current_page"`
	TotalPages   int `gorm:"default:0" json:"total_pages"`
	LeadsPerPage int `gorm:"default:100" json:"leads_per_page"`

	TotalLeadsFetched int        `gorm:"default:0" json:"total_leads_fetched"`
	DailyLeadsFetched int        `gorm:"default:0" json:"daily_leads_fetched"`
	LastDailyResetAt  *time.Time `json:"last_daily_reset_at"`

	ProviderSearchID string `gorm:"size:200" json:"provider_search_id"`

	Status            types.TrackingStatus `gorm:"size:20;default:active" json:"status"`
	ErrorMessage      string               `gorm:"size:1000" json:"error_message"`
	ConsecutiveErrors int                  `gorm:"default:0" json:"consecutive_errors"`
	LastErrorAt       *time.Time           `json:"last_error_at"`
	LastFetchedAt     *time.Time           `json:"last_fetched_at"`
}

// AgentAssignment records which outreach agent persona serves a tenant
// on a channel. An open span (nil DeactivatedAt) is the active one, and
// history stays auditable.
type AgentAssignment struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;not null;index:idx_assignment_tenant" json:"tenant_id"`

	AgentName string        `gorm:"size:200;not null" json:"agent_name"`
	Channel   types.Channel `gorm:"size:20;not null" json:"channel"`

	ActivatedAt   time.Time  `gorm:"not null" json:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
}

// AllModels lists every model for AutoMigrate in tests.
func AllModels() []any {
	return []any{
		&Tenant{},
		&Campaign{},
		&SequenceStep{},
		&Lead{},
		&ActivityRecord{},
		&ConversationMessage{},
		&InboundReply{},
		&CallTask{},
		&ICP{},
		&ICPTrackingState{},
		&AgentAssignment{},
	}
}
