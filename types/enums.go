package types

// Channel identifies an outreach delivery channel.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelVoice    Channel = "voice"
	ChannelLinkedIn Channel = "linkedin"
)

// Valid reports whether the channel is a known delivery channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelVoice, ChannelLinkedIn:
		return true
	}
	return false
}

// CampaignStatus is the lifecycle status of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignArchived  CampaignStatus = "archived"
)

// Terminal reports whether the status admits no further transitions.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignArchived
}

// LeadStatus is the funnel stage of a lead. It is orthogonal to
// ConversationState: the funnel tracks commercial progress while the
// conversation state tracks the dialogue loop.
type LeadStatus string

const (
	LeadNew          LeadStatus = "new"
	LeadContacted    LeadStatus = "contacted"
	LeadEngaged      LeadStatus = "engaged"
	LeadQualified    LeadStatus = "qualified"
	LeadConverted    LeadStatus = "converted"
	LeadUnqualified  LeadStatus = "unqualified"
	LeadDoNotContact LeadStatus = "do_not_contact"
)

// funnelRank orders the forward-only funnel stages. Terminal branches
// (converted/unqualified/do_not_contact) sit outside the ordering.
var funnelRank = map[LeadStatus]int{
	LeadNew:       0,
	LeadContacted: 1,
	LeadEngaged:   2,
	LeadQualified: 3,
}

// AdvanceFunnel returns the later of the two funnel stages. Terminal
// branches always win so a lead never moves back into the funnel once
// converted or excluded.
func AdvanceFunnel(current, proposed LeadStatus) LeadStatus {
	switch current {
	case LeadConverted, LeadUnqualified, LeadDoNotContact:
		return current
	}
	switch proposed {
	case LeadConverted, LeadUnqualified, LeadDoNotContact:
		return proposed
	}
	if funnelRank[proposed] > funnelRank[current] {
		return proposed
	}
	return current
}

// ConversationState is the dialogue state of a lead.
type ConversationState string

const (
	StateInSequence    ConversationState = "in_sequence"
	StateEngaged       ConversationState = "engaged"
	StateAwaitingReply ConversationState = "awaiting_reply"
	StateGhosted       ConversationState = "ghosted"
)

// StepType classifies a sequence step.
type StepType string

const (
	StepEmail           StepType = "email"
	StepCall            StepType = "call"
	StepLinkedInMessage StepType = "linkedin_message"
	StepLinkedInConnect StepType = "linkedin_connect"
	StepWait            StepType = "wait"
	StepCondition       StepType = "condition"
)

// Channel returns the delivery channel a step type dispatches on, or
// an empty channel for non-dispatching steps (wait/condition).
func (t StepType) Channel() Channel {
	switch t {
	case StepEmail:
		return ChannelEmail
	case StepCall:
		return ChannelVoice
	case StepLinkedInMessage, StepLinkedInConnect:
		return ChannelLinkedIn
	}
	return ""
}

// ConditionType is the closed set of step gating conditions. Conditions
// are evaluated against the lead's state at the moment the step becomes
// due, never at scheduling time.
type ConditionType string

const (
	ConditionNone      ConditionType = ""
	ConditionIfNoReply ConditionType = "if_no_reply"
	ConditionIfOpened  ConditionType = "if_opened"
	ConditionIfClicked ConditionType = "if_clicked"
	ConditionIfReplied ConditionType = "if_replied"
)

// Window is a rate-budget accounting window.
type Window string

const (
	WindowDaily  Window = "daily"
	WindowHourly Window = "hourly"
)

// ActivityType classifies an entry in the outreach activity log.
type ActivityType string

const (
	ActivityStepExecuted   ActivityType = "step_executed"
	ActivityReplyReceived  ActivityType = "reply_received"
	ActivityReengagement   ActivityType = "re_engagement"
	ActivityMeetingBooked  ActivityType = "meeting_booked"
	ActivityChannelBounced ActivityType = "channel_bounced"
	ActivityLeadImported   ActivityType = "lead_imported"
	ActivityManualReopen   ActivityType = "manual_reopen"
)

// ActivityStatus tracks the durable dispatch state of a logged action.
// An action is logged in_flight before the external call is made; the
// follow-up reconciliation marks it completed or failed.
type ActivityStatus string

const (
	ActivityInFlight  ActivityStatus = "in_flight"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
)

// RelatedType is the tagged-variant discriminator for cross-entity
// activity references. The set is closed so log consumers can match
// exhaustively.
type RelatedType string

const (
	RelatedNone       RelatedType = ""
	RelatedEmailReply RelatedType = "email_reply"
	RelatedCallTask   RelatedType = "call_task"
	RelatedMeeting    RelatedType = "meeting"
)

// MessageRole is the author of a conversation turn.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleAssistant MessageRole = "assistant"
	RoleUser      MessageRole = "user"
)

// BANTDimension is one axis of the BANT qualification framework.
type BANTDimension string

const (
	BANTBudget    BANTDimension = "budget"
	BANTAuthority BANTDimension = "authority"
	BANTNeed      BANTDimension = "need"
	BANTTimeline  BANTDimension = "timeline"
)

// QualificationStatus is derived from the overall BANT score.
type QualificationStatus string

const (
	Unqualified        QualificationStatus = "unqualified"
	PartiallyQualified QualificationStatus = "partially_qualified"
	Qualified          QualificationStatus = "qualified"
)

// ICPStatus is the lifecycle status of an ideal customer profile.
type ICPStatus string

const (
	ICPDraft     ICPStatus = "draft"
	ICPActive    ICPStatus = "active"
	ICPPaused    ICPStatus = "paused"
	ICPCompleted ICPStatus = "completed"
	ICPArchived  ICPStatus = "archived"
)

// TrackingStatus is the state of an in-progress ICP fetch job.
type TrackingStatus string

const (
	TrackingActive    TrackingStatus = "active"
	TrackingPaused    TrackingStatus = "paused"
	TrackingCompleted TrackingStatus = "completed"
	TrackingFailed    TrackingStatus = "failed"
)
