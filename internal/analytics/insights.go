package analytics

import "context"

// Insights pairs the heuristic health score with the suggestion strings
// triggered by the same conditions.
type Insights struct {
	HealthScore int      `json:"health_score"`
	Suggestions []string `json:"suggestions"`
}

const baseHealthScore = 70

// healthRule is one row of the fixed-point scoring table. points returns
// the additive contribution; suggestion is shown when the rule earns less
// than its maximum.
type healthRule struct {
	name       string
	max        int
	points     func(UsageStats) int
	suggestion string
}

// The rules are arbitrary product heuristics, kept as data so they can be
// tuned without touching the scoring loop.
var healthRules = []healthRule{
	{
		name: "type_diversity",
		max:  10,
		points: func(s UsageStats) int {
			switch {
			case len(s.ByType) >= 3:
				return 10
			case len(s.ByType) == 2:
				return 5
			default:
				return 0
			}
		},
		suggestion: "Store a wider mix of facts, preferences, and insights to build a richer profile.",
	},
	{
		name: "pinned",
		max:  5,
		points: func(s UsageStats) int {
			if s.PinnedCount > 0 {
				return 5
			}
			return 0
		},
		suggestion: "Pin your most important memories so they always surface first.",
	},
	{
		name: "categorized",
		max:  10,
		points: func(s UsageStats) int {
			if len(s.ByCategory) >= 3 {
				return 10
			}
			return 0
		},
		suggestion: "Organize memories into at least three categories to improve retrieval.",
	},
	{
		name: "recall",
		max:  5,
		points: func(s UsageStats) int {
			if s.TotalAccesses >= s.TotalMemories {
				return 5
			}
			return 0
		},
		suggestion: "Reference stored memories in tasks so they stay fresh and useful.",
	},
}

// Insights computes the heuristic 0-100 health score for a user's memory
// store. The score starts at a fixed base and adds points per rule; it is
// clamped into [0, 100].
func (s *Service) Insights(ctx context.Context, userID string) (Insights, error) {
	stats, err := s.UsageStats(ctx, userID)
	if err != nil {
		return Insights{}, err
	}

	out := Insights{HealthScore: baseHealthScore, Suggestions: []string{}}
	for _, rule := range healthRules {
		earned := rule.points(stats)
		out.HealthScore += earned
		if earned < rule.max {
			out.Suggestions = append(out.Suggestions, rule.suggestion)
		}
	}
	if out.HealthScore > 100 {
		out.HealthScore = 100
	}
	if out.HealthScore < 0 {
		out.HealthScore = 0
	}
	if len(out.Suggestions) == 0 {
		out.Suggestions = append(out.Suggestions, "Your memory store looks healthy.")
	}
	return out, nil
}
