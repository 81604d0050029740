package acquire

import (
	"encoding/json"
	"strings"

	"github.com/BaSui01/leadflow/store"
)

// ScoringWeights distributes 100 points over the match components.
// Stored as JSON on the ICP; zero-value weights fall back to an even
// split.
type ScoringWeights struct {
	Industry  int `json:"industry"`
	Title     int `json:"title"`
	Country   int `json:"country"`
	Employees int `json:"employees"`
}

var defaultWeights = ScoringWeights{Industry: 25, Title: 25, Country: 25, Employees: 25}

func parseWeights(raw string) ScoringWeights {
	if raw == "" {
		return defaultWeights
	}
	var w ScoringWeights
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return defaultWeights
	}
	if w.Industry+w.Title+w.Country+w.Employees == 0 {
		return defaultWeights
	}
	return w
}

// Score rates a candidate against an ICP, 0-100. A component whose
// filter is empty on the ICP counts as a match, so narrow profiles
// are stricter than broad ones.
func Score(icp *store.ICP, c Candidate) int {
	w := parseWeights(icp.ScoringWeights)

	score := 0
	if matchesCSV(icp.Industries, c.Industry) {
		score += w.Industry
	}
	if matchesTitle(icp.JobTitles, c.JobTitle) {
		score += w.Title
	}
	if matchesCSV(icp.Countries, c.Country) {
		score += w.Country
	}
	if matchesEmployeeRange(icp.MinEmployees, icp.MaxEmployees, c.EmployeeCount) {
		score += w.Employees
	}
	return score
}

func matchesCSV(csv, value string) bool {
	if strings.TrimSpace(csv) == "" {
		return true
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, part := range strings.Split(csv, ",") {
		if strings.ToLower(strings.TrimSpace(part)) == value {
			return true
		}
	}
	return false
}

// matchesTitle does substring matching so "VP Engineering" satisfies a
// "vp" filter.
func matchesTitle(csv, title string) bool {
	if strings.TrimSpace(csv) == "" {
		return true
	}
	title = strings.ToLower(title)
	if title == "" {
		return false
	}
	for _, part := range strings.Split(csv, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" && strings.Contains(title, part) {
			return true
		}
	}
	return false
}

func matchesEmployeeRange(min, max, count int) bool {
	if min == 0 && max == 0 {
		return true
	}
	if count == 0 {
		return false
	}
	if min > 0 && count < min {
		return false
	}
	if max > 0 && count > max {
		return false
	}
	return true
}
