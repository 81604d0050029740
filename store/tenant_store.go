package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TenantStore manages tenant records.
type TenantStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Create inserts a tenant.
func (s *TenantStore) Create(ctx context.Context, t *Tenant) error {
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	return nil
}

// GetByID fetches a tenant by ID.
func (s *TenantStore) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	var t Tenant
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return &t, nil
}

// GetBySlug fetches a tenant by its slug.
func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	var t Tenant
	err := s.db.WithContext(ctx).First(&t, "slug = ?", slug).Error
	if err != nil {
		return nil, notFound(err, "tenant")
	}
	return &t, nil
}

// ListActive returns all active tenants. The scheduler fans out over
// this list each tick.
func (s *TenantStore) ListActive(ctx context.Context) ([]Tenant, error) {
	var tenants []Tenant
	err := s.db.WithContext(ctx).
		Where("status = ?", "active").
		Order("created_at").
		Find(&tenants).Error
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}

// Update persists tenant field changes.
func (s *TenantStore) Update(ctx context.Context, t *Tenant) error {
	if err := s.db.WithContext(ctx).Save(t).Error; err != nil {
		return fmt.Errorf("update tenant: %w", err)
	}
	return nil
}
