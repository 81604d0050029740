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

// ActivityStore is the outreach activity log. Step executions are
// written in_flight before any external call; the unique (tenant,
// lead, step, type) index rejects a second insert, so resends of a
// failed step go through Rearm and at most one send per step is ever
// in flight.
type ActivityStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Append inserts a log entry. A duplicate step entry surfaces as a
// data-integrity error rather than a generic database error.
func (s *ActivityStore) Append(ctx context.Context, r *ActivityRecord) error {
	if r.ActivityAt.IsZero() {
		r.ActivityAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		if isUniqueViolation(err) {
			return types.NewError(types.ErrDataIntegrity,
				"step already executed for this lead").WithCause(err)
		}
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// Rearm returns a failed step entry to in_flight for another send
// attempt. The status guard races safely against concurrent instances:
// the loser sees zero rows and surfaces a data-integrity error.
func (s *ActivityStore) Rearm(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&ActivityRecord{}).
		Where("tenant_id = ? AND id = ? AND status = ?",
			tenantID, id, types.ActivityFailed).
		Updates(map[string]any{
			"status":      types.ActivityInFlight,
			"attempts":    gorm.Expr("attempts + 1"),
			"activity_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("rearm activity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrDataIntegrity,
			"activity is not in a retryable state")
	}
	return nil
}

// ListByLead returns a lead's activity in chronological order.
func (s *ActivityStore) ListByLead(ctx context.Context, tenantID, leadID uuid.UUID) ([]ActivityRecord, error) {
	var records []ActivityRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ?", tenantID, leadID).
		Order("activity_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return records, nil
}

// LastStepActivity returns the most recent step execution for a lead,
// or nil when none exists. Failed entries are excluded so a step
// awaiting retry does not move the sequence clock.
func (s *ActivityStore) LastStepActivity(ctx context.Context, tenantID, leadID uuid.UUID) (*ActivityRecord, error) {
	var r ActivityRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ? AND activity_type = ? AND status <> ?",
			tenantID, leadID, types.ActivityStepExecuted, types.ActivityFailed).
		Order("activity_at DESC").
		First(&r).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("last step activity: %w", err)
	}
	return &r, nil
}

// StepActivity returns the logged execution of one step, or nil.
func (s *ActivityStore) StepActivity(ctx context.Context, tenantID, leadID uuid.UUID, stepNumber int) (*ActivityRecord, error) {
	var r ActivityRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND lead_id = ? AND step_number = ? AND activity_type = ?",
			tenantID, leadID, stepNumber, types.ActivityStepExecuted).
		First(&r).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get step activity: %w", err)
	}
	return &r, nil
}

// MarkStatus resolves an in-flight entry to completed or failed.
func (s *ActivityStore) MarkStatus(ctx context.Context, tenantID, id uuid.UUID, status types.ActivityStatus, externalRef string) error {
	updates := map[string]any{"status": status}
	if externalRef != "" {
		updates["external_ref"] = externalRef
	}
	res := s.db.WithContext(ctx).Model(&ActivityRecord{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("mark activity status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "activity not found")
	}
	return nil
}

// ListInFlightOlderThan returns unresolved in-flight entries whose
// dispatch began before the cutoff. The scheduler reconciles them.
func (s *ActivityStore) ListInFlightOlderThan(ctx context.Context, tenantID uuid.UUID, cutoff time.Time) ([]ActivityRecord, error) {
	var records []ActivityRecord
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND activity_at < ?",
			tenantID, types.ActivityInFlight, cutoff).
		Order("activity_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list in-flight activity: %w", err)
	}
	return records, nil
}

// isUniqueViolation recognizes unique index violations across postgres
// and sqlite.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
