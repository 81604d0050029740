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

// CampaignStore manages campaigns and their sequence steps.
type CampaignStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts a campaign.
func (s *CampaignStore) Create(ctx context.Context, c *Campaign) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

// GetByID fetches a campaign scoped to a tenant.
func (s *CampaignStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	var c Campaign
	err := s.db.WithContext(ctx).
		First(&c, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, notFound(err, "campaign")
	}
	return &c, nil
}

// ListActive returns a tenant's active campaigns.
func (s *CampaignStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]Campaign, error) {
	var campaigns []Campaign
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, types.CampaignActive).
		Order("created_at").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("list active campaigns: %w", err)
	}
	return campaigns, nil
}

// List returns all campaigns for a tenant.
func (s *CampaignStore) List(ctx context.Context, tenantID uuid.UUID) ([]Campaign, error) {
	var campaigns []Campaign
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// campaignTransitions is the campaign lifecycle graph.
var campaignTransitions = map[types.CampaignStatus][]types.CampaignStatus{
	types.CampaignDraft:     {types.CampaignScheduled, types.CampaignActive, types.CampaignArchived},
	types.CampaignScheduled: {types.CampaignActive, types.CampaignArchived},
	types.CampaignActive:    {types.CampaignPaused, types.CampaignCompleted, types.CampaignArchived},
	types.CampaignPaused:    {types.CampaignActive, types.CampaignCompleted, types.CampaignArchived},
}

func transitionAllowed(from, to types.CampaignStatus) bool {
	for _, allowed := range campaignTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition moves a campaign through the lifecycle graph, rejecting
// invalid transitions.
func (s *CampaignStore) transition(ctx context.Context, tenantID, id uuid.UUID, to types.CampaignStatus, stamp func(*Campaign)) (*Campaign, error) {
	var c Campaign
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&c, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
			return notFound(err, "campaign")
		}
		if !transitionAllowed(c.Status, to) {
			return types.NewError(types.ErrInvalidTransition,
				fmt.Sprintf("campaign cannot move from %s to %s", c.Status, to))
		}
		c.Status = to
		if stamp != nil {
			stamp(&c)
		}
		return tx.Save(&c).Error
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Activate moves a draft or scheduled campaign to active and stamps
// the start time.
func (s *CampaignStore) Activate(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	now := time.Now().UTC()
	return s.transition(ctx, tenantID, id, types.CampaignActive, func(c *Campaign) {
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	})
}

// Pause suspends an active campaign.
func (s *CampaignStore) Pause(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	return s.transition(ctx, tenantID, id, types.CampaignPaused, nil)
}

// Resume reactivates a paused campaign.
func (s *CampaignStore) Resume(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	return s.transition(ctx, tenantID, id, types.CampaignActive, nil)
}

// Complete finishes a campaign and stamps the completion time.
func (s *CampaignStore) Complete(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	now := time.Now().UTC()
	return s.transition(ctx, tenantID, id, types.CampaignCompleted, func(c *Campaign) {
		c.CompletedAt = &now
	})
}

// Archive retires a campaign. Archived is terminal.
func (s *CampaignStore) Archive(ctx context.Context, tenantID, id uuid.UUID) (*Campaign, error) {
	return s.transition(ctx, tenantID, id, types.CampaignArchived, nil)
}

// IncrementCounters applies counter deltas atomically.
func (s *CampaignStore) IncrementCounters(ctx context.Context, tenantID, id uuid.UUID, deltas map[string]int) error {
	if len(deltas) == 0 {
		return nil
	}
	updates := make(map[string]any, len(deltas))
	for col, delta := range deltas {
		updates[col] = gorm.Expr(col+" + ?", delta)
	}
	res := s.db.WithContext(ctx).Model(&Campaign{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("increment campaign counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "campaign not found")
	}
	return nil
}

// =============================================================================
// Sequence steps
// =============================================================================

// CreateStep inserts a sequence step.
func (s *CampaignStore) CreateStep(ctx context.Context, step *SequenceStep) error {
	if err := s.db.WithContext(ctx).Create(step).Error; err != nil {
		return fmt.Errorf("create sequence step: %w", err)
	}
	return nil
}

// ListSteps returns a campaign's active steps ordered by step number.
func (s *CampaignStore) ListSteps(ctx context.Context, tenantID, campaignID uuid.UUID) ([]SequenceStep, error) {
	var steps []SequenceStep
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ? AND is_active = ?", tenantID, campaignID, true).
		Order("step_number").
		Find(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("list sequence steps: %w", err)
	}
	return steps, nil
}

// IncrementStepCounter bumps one per-step counter.
func (s *CampaignStore) IncrementStepCounter(ctx context.Context, tenantID, campaignID uuid.UUID, stepNumber int, column string) error {
	res := s.db.WithContext(ctx).Model(&SequenceStep{}).
		Where("tenant_id = ? AND campaign_id = ? AND step_number = ?", tenantID, campaignID, stepNumber).
		Update(column, gorm.Expr(column+" + 1"))
	if res.Error != nil {
		return fmt.Errorf("increment step counter: %w", res.Error)
	}
	return nil
}
