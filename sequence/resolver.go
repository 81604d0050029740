// Package sequence decides which step, if any, a lead is due for. The
// resolver is read-only: it inspects the lead, the campaign, and the
// activity log, and hands the engine an Action to execute.
package sequence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Action is one executable step for one lead.
type Action struct {
	Lead     *store.Lead
	Campaign *store.Campaign
	Step     *store.SequenceStep
	Channel  types.Channel
	DueAt    time.Time

	// Retry, when set, is the failed activity entry this action sends
	// again. The engine rearms it instead of appending a new one.
	Retry *store.ActivityRecord

	// Skipped lists steps whose condition failed on the way here. The
	// engine logs them so the pointer history stays explainable.
	Skipped []int
}

// Resolution is the outcome of resolving one lead. Action is nil when
// nothing should execute; NextDueAt, when set, is the earliest instant
// worth re-examining the lead.
type Resolution struct {
	Action    *Action
	NextDueAt *time.Time
}

var noAction = &Resolution{}

// RetryPolicy bounds resends of a failed step. The wait before the
// next attempt starts at Backoff and doubles with each failure; once
// MaxAttempts are spent the failure is permanent and the sequence
// moves past the step.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Delay returns the wait before the next attempt, given how many have
// already been made.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return p.Backoff << (attempts - 1)
}

// Resolver computes due actions from campaign sequences.
type Resolver struct {
	activities *store.ActivityStore
	retry      RetryPolicy
	logger     *zap.Logger
}

func NewResolver(activities *store.ActivityStore, retry RetryPolicy, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 3
	}
	if retry.Backoff <= 0 {
		retry.Backoff = 5 * time.Minute
	}
	return &Resolver{
		activities: activities,
		retry:      retry,
		logger:     logger.With(zap.String("component", "sequence")),
	}
}

// NextDueAction resolves the lead's next executable step at now. Steps
// whose condition fails at due time are skipped without executing;
// wait steps push the anchor forward without emitting an action.
func (r *Resolver) NextDueAction(ctx context.Context, now time.Time, lead *store.Lead, campaign *store.Campaign, steps []store.SequenceStep) (*Resolution, error) {
	if campaign == nil || campaign.Status != types.CampaignActive {
		return noAction, nil
	}
	if !lead.Contactable() {
		return noAction, nil
	}
	switch lead.Status {
	case types.LeadConverted, types.LeadUnqualified:
		return noAction, nil
	}
	if lead.ConversationState != types.StateInSequence {
		return noAction, nil
	}

	anchor, baseline, err := r.anchor(ctx, lead, campaign)
	if err != nil {
		return nil, err
	}

	pointer := lead.CurrentSequenceStep
	var skipped []int

	// Each pass either returns or advances the pointer, so the loop is
	// bounded by the sequence length.
	for range steps {
		step := findStep(steps, pointer+1)
		if step == nil {
			return noAction, nil
		}

		dueAt := anchor.Add(step.Delay())
		if dueAt.After(now) {
			return &Resolution{NextDueAt: &dueAt}, nil
		}

		if step.StepType == types.StepWait {
			pointer = step.StepNumber
			anchor = dueAt
			continue
		}

		channel := step.StepType.Channel()
		if !lead.ChannelEnabled(channel) {
			skipped = append(skipped, step.StepNumber)
			pointer = step.StepNumber
			anchor = dueAt
			continue
		}

		if !r.conditionMet(step, lead, anchor, baseline) {
			skipped = append(skipped, step.StepNumber)
			pointer = step.StepNumber
			anchor = dueAt
			continue
		}

		prior, err := r.activities.StepActivity(ctx, lead.TenantID, lead.ID, step.StepNumber)
		if err != nil {
			return nil, err
		}
		var retry *store.ActivityRecord
		if prior != nil {
			// Completed and in-flight entries settle the step. A failed
			// entry keeps it open until the attempt ceiling.
			if prior.Status != types.ActivityFailed || prior.Attempts >= r.retry.MaxAttempts {
				pointer = step.StepNumber
				anchor = dueAt
				continue
			}
			retryAt := prior.ActivityAt.Add(r.retry.Delay(prior.Attempts))
			if retryAt.After(now) {
				return &Resolution{NextDueAt: &retryAt}, nil
			}
			retry = prior
		}

		sendAt, err := NextSendTime(campaign, now)
		if err != nil {
			return nil, err
		}
		if sendAt.After(now) {
			return &Resolution{NextDueAt: &sendAt}, nil
		}

		return &Resolution{Action: &Action{
			Lead:     lead,
			Campaign: campaign,
			Step:     step,
			Channel:  channel,
			DueAt:    dueAt,
			Retry:    retry,
			Skipped:  skipped,
		}}, nil
	}

	return noAction, nil
}

// anchor returns the time the sequence clock last advanced and the
// counter baseline recorded at that point. Step 1 anchors on campaign
// start.
func (r *Resolver) anchor(ctx context.Context, lead *store.Lead, campaign *store.Campaign) (time.Time, counterBaseline, error) {
	last, err := r.activities.LastStepActivity(ctx, lead.TenantID, lead.ID)
	if err != nil {
		return time.Time{}, counterBaseline{}, err
	}
	if last == nil {
		start := campaign.CreatedAt
		if campaign.StartedAt != nil {
			start = *campaign.StartedAt
		}
		return start, counterBaseline{}, nil
	}
	return last.ActivityAt, parseBaseline(last.Metadata), nil
}

// counterBaseline is the lead's engagement counters snapshotted when a
// step executed, stored in the activity metadata.
type counterBaseline struct {
	EmailsOpened  int `json:"emails_opened"`
	EmailsClicked int `json:"emails_clicked"`
	EmailsReplied int `json:"emails_replied"`
}

// BaselineMetadata renders the lead's current counters for storage in
// a step execution's activity metadata.
func BaselineMetadata(lead *store.Lead) string {
	b, err := json.Marshal(counterBaseline{
		EmailsOpened:  lead.EmailsOpened,
		EmailsClicked: lead.EmailsClicked,
		EmailsReplied: lead.EmailsReplied,
	})
	if err != nil {
		return ""
	}
	return string(b)
}

func parseBaseline(metadata string) counterBaseline {
	var b counterBaseline
	if metadata == "" {
		return b
	}
	// A malformed payload falls back to zero baselines, which only
	// makes conditions more permissive.
	_ = json.Unmarshal([]byte(metadata), &b)
	return b
}

// conditionMet evaluates the step's gate against the live lead at due
// time. Engagement conditions compare counters against the baseline
// snapshotted when the previous step ran.
func (r *Resolver) conditionMet(step *store.SequenceStep, lead *store.Lead, anchor time.Time, baseline counterBaseline) bool {
	switch step.ConditionType {
	case types.ConditionNone:
		return true
	case types.ConditionIfNoReply:
		return lead.LastRepliedAt == nil || lead.LastRepliedAt.Before(anchor)
	case types.ConditionIfOpened:
		return lead.EmailsOpened > baseline.EmailsOpened
	case types.ConditionIfClicked:
		return lead.EmailsClicked > baseline.EmailsClicked
	case types.ConditionIfReplied:
		return lead.EmailsReplied > baseline.EmailsReplied
	default:
		r.logger.Warn("unknown step condition, treating as unmet",
			zap.String("condition", string(step.ConditionType)),
			zap.String("step_id", step.ID.String()))
		return false
	}
}

func findStep(steps []store.SequenceStep, number int) *store.SequenceStep {
	for i := range steps {
		if steps[i].StepNumber == number && steps[i].IsActive {
			return &steps[i]
		}
	}
	return nil
}

// Content returns the send payload for the step's channel.
func (a *Action) Content() (subject, body string, err error) {
	switch a.Channel {
	case types.ChannelEmail:
		return a.Step.EmailSubject, a.Step.EmailBody, nil
	case types.ChannelVoice:
		return a.Step.CallObjective, a.Step.CallScript, nil
	case types.ChannelLinkedIn:
		return a.Step.ConnectionNote, a.Step.LinkedInMessage, nil
	default:
		return "", "", fmt.Errorf("no content for channel %s", a.Channel)
	}
}
