package scoring

import (
	"sort"

	"github.com/quantbrief/alphapipe/config"
)

// Per-component score caps. Positive components sum to 100 at their caps, so
// the final clamp only bites when penalties are absent and inputs are
// over-range.
const (
	maxFundamentals       = 30.0
	maxEdge               = 20.0
	maxCatalyst           = 15.0
	maxDownsideProtection = 15.0
	maxStyleAlignment     = 10.0
	maxConviction         = 10.0
	maxCrowdingPenalty    = 15.0
	maxDisclosurePenalty  = 10.0
)

// Components are the additive inputs to a work unit's total score. Each is
// clamped independently to its own [0,max] range before aggregation.
type Components struct {
	Fundamentals       float64
	Edge               float64
	Catalyst           float64
	DownsideProtection float64
	StyleAlignment     float64
	Conviction         float64
	CrowdingPenalty    float64
	DisclosurePenalty  float64
}

// TotalScore aggregates the six positive components minus the two penalties,
// clamped to [0,100].
func TotalScore(c Components) float64 {
	total := clamp(c.Fundamentals, maxFundamentals) +
		clamp(c.Edge, maxEdge) +
		clamp(c.Catalyst, maxCatalyst) +
		clamp(c.DownsideProtection, maxDownsideProtection) +
		clamp(c.StyleAlignment, maxStyleAlignment) +
		clamp(c.Conviction, maxConviction) -
		clamp(c.CrowdingPenalty, maxCrowdingPenalty) -
		clamp(c.DisclosurePenalty, maxDisclosurePenalty)
	return clamp(total, 100)
}

// Policy carries the ranking and novelty constants. The repetition window and
// new-ticker window are global policy, not per-run values.
type Policy struct {
	NoveltyWeight        float64
	NoveltyCap           float64
	NoveltyFloor         float64
	NewTickerDays        int
	RepetitionWindowDays int
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		NoveltyWeight:        0.45,
		NoveltyCap:           60,
		NoveltyFloor:         5,
		NewTickerDays:        90,
		RepetitionWindowDays: 30,
	}
}

// PolicyFromConfig lifts the scoring config section into a Policy.
func PolicyFromConfig(cfg config.ScoringConfig) Policy {
	return Policy{
		NoveltyWeight:        cfg.NoveltyWeight,
		NoveltyCap:           cfg.NoveltyCap,
		NoveltyFloor:         cfg.NoveltyFloor,
		NewTickerDays:        cfg.NewTickerDays,
		RepetitionWindowDays: cfg.RepetitionWindowDays,
	}
}

// RankScore blends the total score with the novelty score. Novelty is
// renormalized from its raw cap to a 0-100 scale before blending.
func (p Policy) RankScore(totalScore, noveltyScore float64) float64 {
	normalized := 0.0
	if p.NoveltyCap > 0 {
		normalized = clamp(noveltyScore/p.NoveltyCap*100, 100)
	}
	blended := totalScore*(1-p.NoveltyWeight) + normalized*p.NoveltyWeight
	return clamp(blended, 100)
}

// Idea is a scored work unit entering the ranking step.
type Idea struct {
	ID           string
	Ticker       string
	Components   Components
	NoveltyScore float64
}

// RankedItem is the output of RankIdeas: the idea's scores plus its assigned
// rank (1-based, dense).
type RankedItem struct {
	ID           string
	Ticker       string
	TotalScore   float64
	NoveltyScore float64
	RankScore    float64
	Rank         int
}

// RankIdeas computes rank scores, sorts descending and assigns dense 1-based
// ranks. The sort is stable: two items with identical rank scores retain
// their original relative order. The input slice is not mutated.
func (p Policy) RankIdeas(ideas []Idea) []RankedItem {
	ranked := make([]RankedItem, 0, len(ideas))
	for _, idea := range ideas {
		total := TotalScore(idea.Components)
		ranked = append(ranked, RankedItem{
			ID:           idea.ID,
			Ticker:       idea.Ticker,
			TotalScore:   total,
			NoveltyScore: idea.NoveltyScore,
			RankScore:    p.RankScore(total, idea.NoveltyScore),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RankScore > ranked[j].RankScore
	})
	rank := 0
	for i := range ranked {
		if i == 0 || ranked[i].RankScore != ranked[i-1].RankScore {
			rank++
		}
		ranked[i].Rank = rank
	}
	return ranked
}

func clamp(v, max float64) float64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
