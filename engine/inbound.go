package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/leadflow/bant"
	"github.com/BaSui01/leadflow/conversation"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// HandleInboundReply ingests one reply: persist it, move the
// conversation state, run the classifier, and merge any qualification
// signals. The classified reply draft is recorded unsent; delivery is
// confirmed later through RecordAIResponse.
func (e *Engine) HandleInboundReply(ctx context.Context, tenant *store.Tenant, reply *store.InboundReply) error {
	lead, err := e.store.Leads.GetByID(ctx, tenant.ID, reply.LeadID)
	if err != nil {
		return err
	}

	if err := e.store.Replies.Create(ctx, reply); err != nil {
		return err
	}
	if _, err := e.appendReplyActivity(ctx, tenant, lead, reply); err != nil {
		e.logger.Error("reply activity failed", zap.Error(err))
	}

	prev := lead.ConversationState
	signal := conversation.ReplyReceived{
		At:      reply.ReceivedAt,
		Auto:    reply.IsAutoReply || reply.IsOutOfOffice,
		Bounce:  reply.IsBounce,
		Channel: reply.Channel,
	}
	next, effects := conversation.Apply(prev, signal)

	err = e.updateLeadCAS(ctx, tenant.ID, lead, func(l *store.Lead) {
		l.ConversationState = next
		if reply.Channel == types.ChannelEmail && !signal.Auto && !signal.Bounce {
			l.EmailsReplied++
		}
		for _, effect := range effects {
			applyEffect(l, effect)
		}
	})
	if err != nil {
		return err
	}

	if e.metrics != nil && next != prev {
		e.metrics.RecordStateTransition(string(prev), string(next))
	}

	if signal.Auto || signal.Bounce {
		return nil
	}

	// Keep the transcript whole even without a classifier.
	if err := e.store.Conversations.AppendMessage(ctx, &store.ConversationMessage{
		TenantID:   tenant.ID,
		LeadID:     lead.ID,
		CampaignID: lead.CampaignID,
		Channel:    reply.Channel,
		Role:       types.RoleUser,
		Content:    reply.Body,
		Subject:    reply.Subject,
	}); err != nil {
		e.logger.Error("transcript append failed", zap.Error(err))
	}

	intent := ""
	if e.classifier != nil {
		intent = e.classify(ctx, tenant, lead, reply)
	}
	if e.metrics != nil {
		e.metrics.RecordReplyIngested(string(reply.Channel), intent)
		if intent == "meeting_booked" {
			e.metrics.RecordMeetingBooked(tenant.ID.String())
		}
	}
	return nil
}

// classify runs the AI classifier over the transcript and applies the
// structured result. Classifier failures degrade to an unclassified
// reply, never a lost one.
func (e *Engine) classify(ctx context.Context, tenant *store.Tenant, lead *store.Lead, reply *store.InboundReply) string {
	transcript, err := e.store.Conversations.ListByLead(ctx, tenant.ID, lead.ID)
	if err != nil {
		e.logger.Error("transcript load failed", zap.Error(err))
		return ""
	}
	history := make([]conversation.Message, 0, len(transcript))
	for _, m := range transcript {
		history = append(history, conversation.Message{
			Role:    m.Role,
			Content: m.Content,
			At:      m.CreatedAt,
		})
	}

	result, err := e.classifier.Classify(ctx, history)
	if err != nil {
		e.logger.Error("classification failed",
			zap.String("lead_id", lead.ID.String()), zap.Error(err))
		return ""
	}

	if err := e.store.Replies.MarkProcessed(ctx, tenant.ID, reply.ID,
		result.Intent, result.Sentiment, result.Confidence); err != nil {
		e.logger.Error("mark reply processed failed", zap.Error(err))
	}

	if len(result.BANTSignals) > 0 {
		now := time.Now().UTC()
		err := e.updateLeadCAS(ctx, tenant.ID, lead, func(l *store.Lead) {
			for _, s := range result.BANTSignals {
				if err := bant.ApplySignal(l, s.Dimension, s.Score, s.Details, now); err != nil {
					e.logger.Warn("bant signal rejected", zap.Error(err))
				}
			}
		})
		if err != nil {
			e.logger.Error("bant update failed", zap.Error(err))
		}
	}

	if result.ReplyDraft != "" {
		// The draft speaks as the persona currently assigned to the
		// channel, so the transcript records who authored it.
		agentName := ""
		assignment, err := e.store.Assignments.ActiveFor(ctx, tenant.ID, reply.Channel)
		if err != nil {
			e.logger.Error("active assignment lookup failed", zap.Error(err))
		} else if assignment != nil {
			agentName = assignment.AgentName
		}

		if err := e.store.Conversations.AppendMessage(ctx, &store.ConversationMessage{
			TenantID:   tenant.ID,
			LeadID:     lead.ID,
			CampaignID: lead.CampaignID,
			Channel:    reply.Channel,
			Role:       types.RoleAssistant,
			Content:    result.ReplyDraft,
			Sentiment:  result.Sentiment,
			AgentName:  agentName,
		}); err != nil {
			e.logger.Error("draft append failed", zap.Error(err))
		}
	}
	return result.Intent
}

// RecordAIResponse confirms an assistant message went out: the
// transcript entry is stamped sent and the conversation moves to
// awaiting_reply, arming the ghost clock.
func (e *Engine) RecordAIResponse(ctx context.Context, tenant *store.Tenant, leadID, messageID uuid.UUID, at time.Time) error {
	lead, err := e.store.Leads.GetByID(ctx, tenant.ID, leadID)
	if err != nil {
		return err
	}

	if err := e.store.Conversations.MarkSent(ctx, tenant.ID, messageID, at); err != nil {
		return err
	}

	prev := lead.ConversationState
	next, effects := conversation.Apply(prev, conversation.AIResponded{At: at})
	if next == prev && len(effects) == 0 {
		return nil
	}
	err = e.updateLeadCAS(ctx, tenant.ID, lead, func(l *store.Lead) {
		l.ConversationState = next
		for _, effect := range effects {
			applyEffect(l, effect)
		}
	})
	if err != nil {
		return err
	}
	if e.metrics != nil && next != prev {
		e.metrics.RecordStateTransition(string(prev), string(next))
	}
	return nil
}

// applyEffect maps a state machine effect onto lead fields.
func applyEffect(l *store.Lead, effect conversation.Effect) {
	switch eff := effect.(type) {
	case conversation.PauseSequence:
		step := l.CurrentSequenceStep
		l.SequencePausedAtStep = &step
	case conversation.BumpFunnel:
		l.Status = types.AdvanceFunnel(l.Status, eff.To)
	case conversation.SetAIResponseTime:
		at := eff.At
		l.AILastResponseAt = &at
	case conversation.RecordLastReply:
		at := eff.At
		l.LastRepliedAt = &at
	case conversation.DisableChannel:
		switch eff.Channel {
		case types.ChannelEmail:
			l.EmailDisabled = true
		case types.ChannelVoice:
			l.PhoneDisabled = true
		}
	}
}

func (e *Engine) appendReplyActivity(ctx context.Context, tenant *store.Tenant, lead *store.Lead, reply *store.InboundReply) (*store.ActivityRecord, error) {
	desc := "reply received"
	if reply.IsBounce {
		desc = "delivery bounced"
	}
	record := &store.ActivityRecord{
		TenantID:     tenant.ID,
		LeadID:       lead.ID,
		CampaignID:   lead.CampaignID,
		ActivityType: replyActivityType(reply),
		Channel:      reply.Channel,
		Description:  desc,
		RelatedType:  types.RelatedEmailReply,
		RelatedID:    &reply.ID,
		ActivityAt:   reply.ReceivedAt,
	}
	if err := e.store.Activities.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("append reply activity: %w", err)
	}
	return record, nil
}

func replyActivityType(reply *store.InboundReply) types.ActivityType {
	if reply.IsBounce {
		return types.ActivityChannelBounced
	}
	return types.ActivityReplyReceived
}
