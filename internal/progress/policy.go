package progress

import (
	"math"

	"github.com/ashureev/viso-labs/internal/domain"
)

// ceilSlack absorbs float error so that 10 x 0.7 rounds up to 7, not 8.
const ceilSlack = 1e-9

// ThresholdCount returns how many details must be identified to advance.
func ThresholdCount(total int, fraction float64) int {
	if total <= 0 {
		return 0
	}
	return int(math.Ceil(float64(total)*fraction - ceilSlack))
}

// PercentIdentified returns identified/total as a percentage, 0 for an empty total.
func PercentIdentified(identified, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(identified) / float64(total) * 100
}

// Tier is an encouragement band.
type Tier string

const (
	TierThresholdReached Tier = "threshold_reached"
	TierAlmostThere      Tier = "almost_there"
	TierHalfway          Tier = "halfway"
	TierGoodStart        Tier = "good_start"
	TierFindMore         Tier = "find_more"
)

var tierMessages = map[Tier]string{
	TierThresholdReached: "Threshold reached! Ready to advance!",
	TierAlmostThere:      "Almost there! Keep going!",
	TierHalfway:          "Halfway there! You're doing great!",
	TierGoodStart:        "Good start! Keep looking!",
	TierFindMore:         "Let's find more details!",
}

// Message returns the learner-facing text for the tier.
func (t Tier) Message() string {
	return tierMessages[t]
}

// SelectTier picks the first matching encouragement band.
func SelectTier(identified, total int, fraction float64) Tier {
	pct := PercentIdentified(identified, total)
	switch {
	case total > 0 && identified >= ThresholdCount(total, fraction):
		return TierThresholdReached
	case pct >= 75:
		return TierAlmostThere
	case pct >= 50:
		return TierHalfway
	case pct >= 25:
		return TierGoodStart
	default:
		return TierFindMore
	}
}

// Progress is the learner-facing summary of a session.
type Progress struct {
	Identified       int               `json:"identified"`
	Total            int               `json:"total"`
	Percent          float64           `json:"percent"`
	ThresholdCount   int               `json:"threshold_count"`
	ThresholdPercent int               `json:"threshold_percent"`
	ThresholdMarker  float64           `json:"threshold_marker"`
	Tier             Tier              `json:"tier"`
	Message          string            `json:"message"`
	AttemptCount     int               `json:"attempt_count"`
	AttemptLimit     int               `json:"attempt_limit"`
	Difficulty       domain.Difficulty `json:"difficulty"`
}

// Summarize builds the progress view for a session.
func Summarize(s *domain.Session) Progress {
	if s == nil || len(s.KeyDetails) == 0 {
		return Progress{Tier: TierFindMore, Message: TierFindMore.Message(), Difficulty: domain.DefaultDifficulty}
	}
	items := ProjectSession(s)
	identified := CountIdentified(items)
	total := len(items)
	need := ThresholdCount(total, s.DetailsThreshold)
	tier := SelectTier(identified, total, s.DetailsThreshold)
	return Progress{
		Identified:       identified,
		Total:            total,
		Percent:          PercentIdentified(identified, total),
		ThresholdCount:   need,
		ThresholdPercent: int(math.Round(s.DetailsThreshold * 100)),
		ThresholdMarker:  PercentIdentified(need, total),
		Tier:             tier,
		Message:          tier.Message(),
		AttemptCount:     s.AttemptCount,
		AttemptLimit:     s.AttemptLimit,
		Difficulty:       s.Difficulty,
	}
}
