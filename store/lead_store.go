package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/types"
)

// LeadStore manages leads. Engine writes go through UpdateCAS so a
// concurrent writer can never silently overwrite a newer version.
type LeadStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts a lead. At least one of email or phone is required.
func (s *LeadStore) Create(ctx context.Context, l *Lead) error {
	if l.Email == "" && l.Phone == "" {
		return types.NewError(types.ErrInvalidRequest, "lead requires an email or phone")
	}
	l.Email = NormalizeEmail(l.Email)
	if err := s.db.WithContext(ctx).Create(l).Error; err != nil {
		return fmt.Errorf("create lead: %w", err)
	}
	return nil
}

// GetByID fetches a lead scoped to a tenant.
func (s *LeadStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*Lead, error) {
	var l Lead
	err := s.db.WithContext(ctx).
		First(&l, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, notFound(err, "lead")
	}
	return &l, nil
}

// FindByEmail fetches a lead by normalized email.
func (s *LeadStore) FindByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*Lead, error) {
	var l Lead
	err := s.db.WithContext(ctx).
		First(&l, "tenant_id = ? AND email = ?", tenantID, NormalizeEmail(email)).Error
	if err != nil {
		return nil, notFound(err, "lead")
	}
	return &l, nil
}

// FindByDomain fetches the first lead matching a company domain.
func (s *LeadStore) FindByDomain(ctx context.Context, tenantID uuid.UUID, domain string) (*Lead, error) {
	var l Lead
	err := s.db.WithContext(ctx).
		First(&l, "tenant_id = ? AND company_domain = ?", tenantID, strings.ToLower(domain)).Error
	if err != nil {
		return nil, notFound(err, "lead")
	}
	return &l, nil
}

// FindBySourceID fetches a lead by its provider-native identifier.
func (s *LeadStore) FindBySourceID(ctx context.Context, tenantID uuid.UUID, source, sourceID string) (*Lead, error) {
	var l Lead
	err := s.db.WithContext(ctx).
		First(&l, "tenant_id = ? AND source = ? AND source_id = ?", tenantID, source, sourceID).Error
	if err != nil {
		return nil, notFound(err, "lead")
	}
	return &l, nil
}

// ListSequenceCandidates returns contactable in-sequence leads attached
// to a campaign, the scheduler's per-tick work set.
func (s *LeadStore) ListSequenceCandidates(ctx context.Context, tenantID, campaignID uuid.UUID, limit int) ([]Lead, error) {
	var leads []Lead
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND campaign_id = ?", tenantID, campaignID).
		Where("conversation_state = ?", types.StateInSequence).
		Where("is_unsubscribed = ? AND do_not_contact = ?", false, false).
		Where("status NOT IN ?", []types.LeadStatus{
			types.LeadConverted, types.LeadUnqualified, types.LeadDoNotContact,
		}).
		Order("next_followup_at NULLS FIRST").
		Limit(limit).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list sequence candidates: %w", err)
	}
	return leads, nil
}

// ListAwaitingReply returns leads whose last outbound AI response is
// older than the cutoff, the ghost detector's scan set.
func (s *LeadStore) ListAwaitingReply(ctx context.Context, tenantID uuid.UUID, limit int) ([]Lead, error) {
	var leads []Lead
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND conversation_state = ?", tenantID, types.StateAwaitingReply).
		Where("ai_last_response_at IS NOT NULL").
		Order("ai_last_response_at").
		Limit(limit).
		Find(&leads).Error
	if err != nil {
		return nil, fmt.Errorf("list awaiting-reply leads: %w", err)
	}
	return leads, nil
}

// UpdateCAS persists a lead iff the caller holds the current version.
// The stored version is bumped; the caller's copy is updated to match.
// Returns a stale-lead error when another writer got there first.
func (s *LeadStore) UpdateCAS(ctx context.Context, l *Lead) error {
	current := l.Version
	l.Version = current + 1
	res := s.db.WithContext(ctx).Model(&Lead{}).
		Where("tenant_id = ? AND id = ? AND version = ?", l.TenantID, l.ID, current).
		Select("*").
		Omit("id", "tenant_id", "created_at").
		Updates(l)
	if res.Error != nil {
		l.Version = current
		return fmt.Errorf("update lead: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		l.Version = current
		return types.NewError(types.ErrStaleLead, "lead was modified concurrently")
	}
	return nil
}

// Save persists a lead without the version check. Reserved for ingress
// paths that own the record exclusively (imports, manual edits).
func (s *LeadStore) Save(ctx context.Context, l *Lead) error {
	if err := s.db.WithContext(ctx).Save(l).Error; err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}

// Count returns the number of leads for a tenant.
func (s *LeadStore) Count(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Lead{}).
		Where("tenant_id = ?", tenantID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

// TouchFollowup sets next_followup_at without a full CAS write.
func (s *LeadStore) TouchFollowup(ctx context.Context, tenantID, id uuid.UUID, at *time.Time) error {
	res := s.db.WithContext(ctx).Model(&Lead{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("next_followup_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch followup: %w", res.Error)
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address so dedup
// comparisons are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
