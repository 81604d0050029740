package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/types"
)

// AssignmentStore manages agent persona assignments. An open span
// (nil deactivated_at) is the active assignment for a channel.
type AssignmentStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// ActiveFor returns the active assignment for a tenant and channel,
// or nil when none is assigned.
func (s *AssignmentStore) ActiveFor(ctx context.Context, tenantID uuid.UUID, channel types.Channel) (*AgentAssignment, error) {
	var a AgentAssignment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND deactivated_at IS NULL", tenantID, channel).
		Order("activated_at DESC").
		First(&a).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get active assignment: %w", err)
	}
	return &a, nil
}

// Assign closes any open span for the channel and opens a new one, in
// one transaction so there is never more than one active assignment.
func (s *AssignmentStore) Assign(ctx context.Context, tenantID uuid.UUID, agentName string, channel types.Channel, at time.Time) (*AgentAssignment, error) {
	var a AgentAssignment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AgentAssignment{}).
			Where("tenant_id = ? AND channel = ? AND deactivated_at IS NULL", tenantID, channel).
			Update("deactivated_at", &at).Error; err != nil {
			return err
		}

		a = AgentAssignment{
			TenantID:    tenantID,
			AgentName:   agentName,
			Channel:     channel,
			ActivatedAt: at,
		}
		return tx.Create(&a).Error
	})
	if err != nil {
		return nil, fmt.Errorf("assign agent: %w", err)
	}
	return &a, nil
}

// History returns all assignments for a tenant, newest first.
func (s *AssignmentStore) History(ctx context.Context, tenantID uuid.UUID) ([]AgentAssignment, error) {
	var assignments []AgentAssignment
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("activated_at DESC").
		Find(&assignments).Error
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, nil
}
