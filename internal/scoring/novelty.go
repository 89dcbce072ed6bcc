package scoring

// Novelty bonus and penalty constants. These are policy numbers, not derived
// values; adjust them deliberately.
const (
	newTickerBonus   = 25.0
	newEdgeBonus     = 12.0
	styleChangeBonus = 8.0
	newCatalystBonus = 10.0
	newThemeBonus    = 8.0

	repetitionPenaltyPerAppearance = 4.0
	repetitionAppearanceCap        = 5

	missingFilingsPenalty  = 6.0
	missingPeerDataPenalty = 4.0
)

// NoveltyInputs summarizes a work unit's history for novelty scoring. The
// caller derives these from its idea history; the scoring module stays pure.
type NoveltyInputs struct {
	// NeverSeen marks a ticker with no prior appearances at all.
	NeverSeen bool
	// DaysSinceLastSeen is meaningful only when NeverSeen is false.
	DaysSinceLastSeen int
	PriorAppearances  int

	NewEdgeType bool
	StyleChange bool
	NewCatalyst bool
	NewTheme    bool

	MissingFilings  bool
	MissingPeerData bool
}

// NoveltyScore combines the freshness bonuses minus repetition and
// disclosure-friction penalties. The repetition penalty applies only when the
// ticker was seen within the recent window and no new edge type was found.
// The result is capped at the configured upper bound and floored at the
// configured minimum.
func (p Policy) NoveltyScore(in NoveltyInputs) float64 {
	score := 0.0

	if in.NeverSeen || in.DaysSinceLastSeen >= p.NewTickerDays {
		score += newTickerBonus
	}
	if in.NewEdgeType {
		score += newEdgeBonus
	}
	if in.StyleChange {
		score += styleChangeBonus
	}
	if in.NewCatalyst {
		score += newCatalystBonus
	}
	if in.NewTheme {
		score += newThemeBonus
	}

	if !in.NeverSeen && in.DaysSinceLastSeen < p.RepetitionWindowDays && !in.NewEdgeType {
		appearances := in.PriorAppearances
		if appearances > repetitionAppearanceCap {
			appearances = repetitionAppearanceCap
		}
		score -= repetitionPenaltyPerAppearance * float64(appearances)
	}

	if in.MissingFilings {
		score -= missingFilingsPenalty
	}
	if in.MissingPeerData {
		score -= missingPeerDataPenalty
	}

	if score > p.NoveltyCap {
		score = p.NoveltyCap
	}
	if score < p.NoveltyFloor {
		score = p.NoveltyFloor
	}
	return score
}
