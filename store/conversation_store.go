package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConversationStore manages AI conversation transcripts.
type ConversationStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// AppendMessage inserts a conversation turn.
func (s *ConversationStore) AppendMessage(ctx context.Context, m *ConversationMessage) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("append conversation message: %w", err)
	}
	return nil
}

// ListByLead returns a lead's conversation in creation order.
func (s *ConversationStore) ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]ConversationMessage, error) {
	var messages []ConversationMessage
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).
		Order("created_at").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return messages, nil
}

// MarkSent stamps an assistant turn as delivered.
func (s *ConversationStore) MarkSent(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ConversationMessage{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{"is_sent": true, "sent_at": at})
	if res.Error != nil {
		return fmt.Errorf("mark message sent: %w", res.Error)
	}
	return nil
}

// ReplyStore manages raw inbound replies.
type ReplyStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts an inbound reply.
func (s *ReplyStore) Create(ctx context.Context, r *InboundReply) error {
	if r.ReceivedAt.IsZero() {
		r.ReceivedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create inbound reply: %w", err)
	}
	return nil
}

// MarkProcessed stamps a reply after classification and state update.
func (s *ReplyStore) MarkProcessed(ctx context.Context, tenantID, id uuid.UUID, intent, sentiment string, confidence float64) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&InboundReply{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"intent":       intent,
			"sentiment":    sentiment,
			"confidence":   confidence,
			"processed_at": &now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark reply processed: %w", res.Error)
	}
	return nil
}

// ListByLead returns a lead's inbound replies, newest first.
func (s *ReplyStore) ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]InboundReply, error) {
	var replies []InboundReply
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).
		Order("received_at DESC").
		Find(&replies).Error
	if err != nil {
		return nil, fmt.Errorf("list inbound replies: %w", err)
	}
	return replies, nil
}

// CallTaskStore manages queued phone calls.
type CallTaskStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts a call task.
func (s *CallTaskStore) Create(ctx context.Context, t *CallTask) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create call task: %w", err)
	}
	return nil
}

// ListPending returns unresolved call tasks due at or before now.
func (s *CallTaskStore) ListPending(ctx context.Context, tenantID uuid.UUID, now time.Time, limit int) ([]CallTask, error) {
	var tasks []CallTask
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND scheduled_at <= ?", tenantID, "pending", now).
		Order("scheduled_at").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list pending call tasks: %w", err)
	}
	return tasks, nil
}

// Resolve records the provider outcome of a call.
func (s *CallTaskStore) Resolve(ctx context.Context, tenantID, id uuid.UUID, status, outcome, providerCallID string, durationSeconds int) error {
	res := s.db.WithContext(ctx).Model(&CallTask{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(map[string]any{
			"status":           status,
			"outcome":          outcome,
			"provider_call_id": providerCallID,
			"duration_seconds": durationSeconds,
		})
	if res.Error != nil {
		return fmt.Errorf("resolve call task: %w", res.Error)
	}
	return nil
}
