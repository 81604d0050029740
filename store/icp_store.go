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

// ICPStore manages ideal customer profiles and their fetch cursors.
type ICPStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts a profile.
func (s *ICPStore) Create(ctx context.Context, p *ICP) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create icp: %w", err)
	}
	return nil
}

// GetByID fetches a profile scoped to a tenant.
func (s *ICPStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*ICP, error) {
	var p ICP
	err := s.db.WithContext(ctx).
		First(&p, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, notFound(err, "icp")
	}
	return &p, nil
}

// GetByCode fetches a profile by its tenant-unique code.
func (s *ICPStore) GetByCode(ctx context.Context, tenantID uuid.UUID, code string) (*ICP, error) {
	var p ICP
	err := s.db.WithContext(ctx).
		First(&p, "tenant_id = ? AND icp_code = ?", tenantID, code).Error
	if err != nil {
		return nil, notFound(err, "icp")
	}
	return &p, nil
}

// ListActive returns a tenant's active profiles, highest priority
// first (priority 1 is highest).
func (s *ICPStore) ListActive(ctx context.Context, tenantID uuid.UUID) ([]ICP, error) {
	var profiles []ICP
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, types.ICPActive).
		Order("priority, created_at").
		Find(&profiles).Error
	if err != nil {
		return nil, fmt.Errorf("list active icps: %w", err)
	}
	return profiles, nil
}

// Update persists profile changes.
func (s *ICPStore) Update(ctx context.Context, p *ICP) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update icp: %w", err)
	}
	return nil
}

// TouchUsed stamps last_used_at.
func (s *ICPStore) TouchUsed(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ICP{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("last_used_at", &at)
	if res.Error != nil {
		return fmt.Errorf("touch icp: %w", res.Error)
	}
	return nil
}

// =============================================================================
// Tracking state
// =============================================================================

// GetOrCreateTracking returns the fetch cursor for a profile, creating
// a fresh one on first use.
func (s *ICPStore) GetOrCreateTracking(ctx context.Context, tenantID, icpID uuid.UUID) (*ICPTrackingState, error) {
	var t ICPTrackingState
	err := s.db.WithContext(ctx).
		First(&t, "tenant_id = ? AND icp_id = ?", tenantID, icpID).Error
	if err == nil {
		return &t, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("get tracking: %w", err)
	}

	t = ICPTrackingState{
		TenantID:     tenantID,
		ICPID:        icpID,
		CurrentPage:  1,
		LeadsPerPage: 100,
		Status:       types.TrackingActive,
	}
	if err := s.db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, fmt.Errorf("create tracking: %w", err)
	}
	return &t, nil
}

// UpdateTracking persists cursor changes.
func (s *ICPStore) UpdateTracking(ctx context.Context, t *ICPTrackingState) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("update tracking: %w", err)
	}
	return nil
}

