package engine

import "dupeguard.ai/internal/engine/finding"

const StatsKey = "antidupe:stats"

// Stats are aggregate counters kept across restarts.
type Stats struct {
	Findings     map[finding.Category]int `json:"findings"`
	Total        int                      `json:"total"`
	Kicks        int                      `json:"kicks"`
	KickFailures int                      `json:"kick_failures"`
	TagsApplied  int                      `json:"tags_applied"`
	Passes       int                      `json:"passes"`
}

func defaultStats() Stats {
	return Stats{Findings: map[finding.Category]int{}}
}

func normalizeStats(s Stats) (Stats, bool) {
	changed := false
	if s.Findings == nil {
		s.Findings = map[finding.Category]int{}
		changed = true
	}
	for c, n := range s.Findings {
		if !c.Valid() || n < 0 {
			delete(s.Findings, c)
			changed = true
		}
	}
	return s, changed
}

func (s Stats) clone() Stats {
	out := s
	out.Findings = make(map[finding.Category]int, len(s.Findings))
	for c, n := range s.Findings {
		out.Findings[c] = n
	}
	return out
}
