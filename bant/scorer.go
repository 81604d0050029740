// Package bant scores leads on Budget, Authority, Need, and Timeline.
// Dimension scores only ever go up; the overall score and the
// qualification status are derived, never stored independently.
package bant

import (
	"fmt"
	"time"

	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

const (
	// MaxDimensionScore bounds each of the four dimensions.
	MaxDimensionScore = 3
	// MaxOverallScore is the sum of four maxed dimensions.
	MaxOverallScore = 12
)

// Derive maps four dimension scores to the overall score and the
// qualification status.
func Derive(budget, authority, need, timeline int) (int, types.QualificationStatus) {
	overall := budget + authority + need + timeline
	switch {
	case overall >= 8:
		return overall, types.Qualified
	case overall >= 4:
		return overall, types.PartiallyQualified
	default:
		return overall, types.Unqualified
	}
}

// ApplySignal merges one qualification observation into the lead.
// Scores max-merge so a weak later signal never erases a strong earlier
// one; details update whenever the signal carries any. The funnel
// status is bumped to qualified when the lead crosses the threshold.
func ApplySignal(lead *store.Lead, dimension types.BANTDimension, score int, details string, now time.Time) error {
	if score < 0 || score > MaxDimensionScore {
		return fmt.Errorf("bant score out of range: %d", score)
	}

	switch dimension {
	case types.BANTBudget:
		if score > lead.BudgetScore {
			lead.BudgetScore = score
		}
		if details != "" {
			lead.BudgetDetails = details
		}
	case types.BANTAuthority:
		if score > lead.AuthorityScore {
			lead.AuthorityScore = score
		}
		if details != "" {
			lead.AuthorityDetails = details
		}
	case types.BANTNeed:
		if score > lead.NeedScore {
			lead.NeedScore = score
		}
		if details != "" {
			lead.NeedDetails = details
		}
	case types.BANTTimeline:
		if score > lead.TimelineScore {
			lead.TimelineScore = score
		}
		if details != "" {
			lead.TimelineDetails = details
		}
	default:
		return fmt.Errorf("unknown bant dimension: %s", dimension)
	}

	lead.OverallScore, lead.Qualification = Derive(
		lead.BudgetScore, lead.AuthorityScore, lead.NeedScore, lead.TimelineScore)
	lead.BANTUpdatedAt = &now

	if lead.Qualification == types.Qualified {
		lead.Status = types.AdvanceFunnel(lead.Status, types.LeadQualified)
	}
	return nil
}
