package acquire

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/leadflow/config"
	"github.com/BaSui01/leadflow/internal/metrics"
	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Pipeline runs ICP-driven lead acquisition for tenants.
type Pipeline struct {
	store     *store.Store
	providers *Providers
	cfg       config.AcquireConfig
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func NewPipeline(s *store.Store, providers *Providers, cfg config.AcquireConfig, collector *metrics.Collector, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:     s,
		providers: providers,
		cfg:       cfg,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "acquire")),
	}
}

// Run fetches leads for every active ICP of the tenant, highest
// priority first. Provider failures stop the affected ICP only; the
// failed page is retried on the next run.
func (p *Pipeline) Run(ctx context.Context, tenant *store.Tenant, now time.Time) error {
	icps, err := p.store.ICPs.ListActive(ctx, tenant.ID)
	if err != nil {
		return fmt.Errorf("list active icps: %w", err)
	}

	for i := range icps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.runICP(ctx, tenant, &icps[i], now); err != nil {
			p.logger.Error("icp acquisition failed",
				zap.String("icp_code", icps[i].ICPCode),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) runICP(ctx context.Context, tenant *store.Tenant, icp *store.ICP, now time.Time) error {
	provider, err := p.providers.Get(icp.DataProvider)
	if err != nil {
		return err
	}

	tracking, err := p.store.ICPs.GetOrCreateTracking(ctx, tenant.ID, icp.ID)
	if err != nil {
		return err
	}
	if tracking.Status == types.TrackingCompleted || tracking.Status == types.TrackingPaused {
		return nil
	}

	p.resetDailyWindow(tracking, now)

	for pages := 0; pages < p.cfg.MaxPagesPerRun; pages++ {
		if icp.LeadsFetchedTotal >= icp.MaxLeadsToFetch {
			tracking.Status = types.TrackingCompleted
			return p.store.ICPs.UpdateTracking(ctx, tracking)
		}
		if icp.DailyFetchLimit > 0 && tracking.DailyLeadsFetched >= icp.DailyFetchLimit {
			return nil
		}

		page, err := provider.Search(ctx, icp, tracking.CurrentPage, tracking.LeadsPerPage)
		if err != nil {
			if p.metrics != nil {
				p.metrics.RecordAcquirePage(provider.Name(), "error")
				p.metrics.RecordAcquireError(provider.Name())
			}
			return p.recordProviderFailure(ctx, icp, tracking, err, now)
		}

		imported, err := p.commitPage(ctx, tenant, icp, tracking, provider.Name(), page, now)
		if err != nil {
			return err
		}
		if p.metrics != nil {
			p.metrics.RecordAcquirePage(provider.Name(), "ok")
		}
		p.logger.Info("acquisition page committed",
			zap.String("icp_code", icp.ICPCode),
			zap.Int("page", tracking.CurrentPage-1),
			zap.Int("imported", imported))

		if len(page.Candidates) == 0 ||
			(page.TotalPages > 0 && tracking.CurrentPage > page.TotalPages) {
			tracking.Status = types.TrackingCompleted
			if err := p.store.ICPs.UpdateTracking(ctx, tracking); err != nil {
				return err
			}
			break
		}
	}

	return p.store.ICPs.TouchUsed(ctx, tenant.ID, icp.ID, now)
}

// recordProviderFailure stamps the cursor with the failure and pauses
// the ICP once MaxConsecutiveErrors failures land in a row. A paused
// ICP needs operator attention; failed ones retry next run.
func (p *Pipeline) recordProviderFailure(ctx context.Context, icp *store.ICP, tracking *store.ICPTrackingState, cause error, now time.Time) error {
	tracking.ConsecutiveErrors++
	tracking.ErrorMessage = cause.Error()
	errAt := now
	tracking.LastErrorAt = &errAt
	tracking.Status = types.TrackingFailed

	if p.cfg.MaxConsecutiveErrors > 0 && tracking.ConsecutiveErrors >= p.cfg.MaxConsecutiveErrors {
		tracking.Status = types.TrackingPaused
		p.logger.Warn("icp acquisition paused after repeated provider failures",
			zap.String("icp_code", icp.ICPCode),
			zap.Int("consecutive_errors", tracking.ConsecutiveErrors))
	}

	if err := p.store.ICPs.UpdateTracking(ctx, tracking); err != nil {
		return err
	}
	return cause
}

// resetDailyWindow rolls the per-day fetch counter when a full day has
// passed since the last reset.
func (p *Pipeline) resetDailyWindow(tracking *store.ICPTrackingState, now time.Time) {
	if tracking.LastDailyResetAt == nil || now.Sub(*tracking.LastDailyResetAt) >= 24*time.Hour {
		tracking.DailyLeadsFetched = 0
		resetAt := now
		tracking.LastDailyResetAt = &resetAt
	}
}

// commitPage persists one page atomically: lead inserts, cursor
// advance, and counter bumps all commit together. A crash mid-page
// re-runs the same page and dedup keeps the rerun idempotent.
func (p *Pipeline) commitPage(ctx context.Context, tenant *store.Tenant, icp *store.ICP, tracking *store.ICPTrackingState, providerName string, page *Page, now time.Time) (int, error) {
	minScore := icp.MinLeadScore
	if minScore <= 0 {
		minScore = p.cfg.ScoreThreshold
	}

	imported := 0
	err := p.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txStore := p.store.WithTx(tx)

		for _, c := range page.Candidates {
			reason, dup, err := p.screen(ctx, txStore, tenant, icp, providerName, c, minScore)
			if err != nil {
				return err
			}
			if dup {
				if p.metrics != nil {
					p.metrics.RecordLeadRejected(providerName, reason)
				}
				continue
			}

			lead := candidateToLead(tenant.ID, providerName, c)
			lead.LeadScore = Score(icp, c)
			if err := txStore.Leads.Create(ctx, lead); err != nil {
				return err
			}
			imported++
		}

		tracking.CurrentPage++
		tracking.TotalPages = page.TotalPages
		tracking.ProviderSearchID = page.SearchID
		tracking.TotalLeadsFetched += imported
		tracking.DailyLeadsFetched += imported
		fetchedAt := now
		tracking.LastFetchedAt = &fetchedAt
		tracking.Status = types.TrackingActive
		tracking.ErrorMessage = ""
		tracking.ConsecutiveErrors = 0
		if err := txStore.ICPs.UpdateTracking(ctx, tracking); err != nil {
			return err
		}

		icp.LeadsFetchedTotal += imported
		return txStore.ICPs.Update(ctx, icp)
	})
	if err != nil {
		return 0, fmt.Errorf("commit acquisition page: %w", err)
	}

	if p.metrics != nil {
		for i := 0; i < imported; i++ {
			p.metrics.RecordLeadImported(providerName)
		}
	}
	return imported, nil
}

// screen rejects duplicates and low scorers. The dedup ladder is
// normalized email, then company domain when email is absent, then the
// provider-native ID.
func (p *Pipeline) screen(ctx context.Context, txStore *store.Store, tenant *store.Tenant, icp *store.ICP, providerName string, c Candidate, minScore int) (string, bool, error) {
	if c.Email == "" && c.Phone == "" {
		return "no_contact", true, nil
	}

	if c.Email != "" {
		existing, err := txStore.Leads.FindByEmail(ctx, tenant.ID, c.Email)
		if err != nil && types.GetErrorCode(err) != types.ErrNotFound {
			return "", false, err
		}
		if existing != nil {
			return "duplicate_email", true, nil
		}
	} else if c.CompanyDomain != "" {
		existing, err := txStore.Leads.FindByDomain(ctx, tenant.ID, c.CompanyDomain)
		if err != nil && types.GetErrorCode(err) != types.ErrNotFound {
			return "", false, err
		}
		if existing != nil {
			return "duplicate_domain", true, nil
		}
	}

	if c.ProviderID != "" {
		existing, err := txStore.Leads.FindBySourceID(ctx, tenant.ID, providerName, c.ProviderID)
		if err != nil && types.GetErrorCode(err) != types.ErrNotFound {
			return "", false, err
		}
		if existing != nil {
			return "duplicate_provider_id", true, nil
		}
	}

	if Score(icp, c) < minScore {
		return "low_score", true, nil
	}
	return "", false, nil
}

func candidateToLead(tenantID uuid.UUID, providerName string, c Candidate) *store.Lead {
	return &store.Lead{
		TenantID:      tenantID,
		Email:         c.Email,
		Phone:         c.Phone,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		CompanyName:   c.CompanyName,
		CompanyDomain: c.CompanyDomain,
		JobTitle:      c.JobTitle,
		Country:       c.Country,
		City:          c.City,
		LinkedInURL:   c.LinkedInURL,
		Source:        providerName,
		SourceID:      c.ProviderID,
		Status:        types.LeadNew,

		ConversationState: types.StateInSequence,
	}
}
