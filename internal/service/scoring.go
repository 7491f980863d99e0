package service

import "math"

// roundingEpsilon absorbs binary representation error before half-up rounding,
// so 7.25 at 0.5 granularity rounds to 7.5 rather than 7.0.
const roundingEpsilon = 1e-9

// ScoreInputs are the facts a submission's grade is derived from.
// ReviewWindowClosed is set once no further peer reviews can arrive.
type ScoreInputs struct {
	InstructorScore      *float64
	PeerScores           []float64
	AIScore              *float64
	IncludeAIScore       bool
	RequiredPeerReviews  int
	MissingReviewPenalty float64
	ReviewWindowClosed   bool
	InstructorWeight     float64
	PeerWeight           float64
	Precision            float64
	MaxScore             float64
}

// ScoreOutcome is the derived grade of a submission.
type ScoreOutcome struct {
	PeerAverage    *float64
	Final          *float64
	MissingReviews int
}

// ComputeScore derives the peer component and the weighted final score.
//
// The peer component is the mean of completed peer reviews, with the AI review
// blended in as one more sample when enabled, reduced by the missing-review
// penalty and floored at zero. While the review window is open a submission
// without any sample has no peer component; once it closes the component is
// present at max(0, -missing*penalty) so unreviewed work is never favoured.
// The final score is the weighted mean of the components that are present, clamped to [0, MaxScore] and rounded half-up to
// Precision.
func ComputeScore(in ScoreInputs) (ScoreOutcome, error) {
	if in.InstructorWeight < 0 || in.PeerWeight < 0 {
		return ScoreOutcome{}, validationError("score.compute", "weights must not be negative")
	}
	if in.InstructorWeight == 0 && in.PeerWeight == 0 {
		return ScoreOutcome{}, validationError("score.compute", "instructor and peer weights are both zero")
	}

	outcome := ScoreOutcome{}

	missing := in.RequiredPeerReviews - len(in.PeerScores)
	if missing > 0 {
		outcome.MissingReviews = missing
	}

	samples := make([]float64, 0, len(in.PeerScores)+1)
	samples = append(samples, in.PeerScores...)
	if in.IncludeAIScore && in.AIScore != nil {
		samples = append(samples, *in.AIScore)
	}

	switch {
	case len(samples) > 0:
		var total float64
		for _, sample := range samples {
			total += sample
		}
		peer := math.Max(0, total/float64(len(samples))-float64(outcome.MissingReviews)*in.MissingReviewPenalty)
		outcome.PeerAverage = &peer
	case in.ReviewWindowClosed && outcome.MissingReviews > 0:
		peer := math.Max(0, -float64(outcome.MissingReviews)*in.MissingReviewPenalty)
		outcome.PeerAverage = &peer
	}

	var weighted, weights float64
	if in.InstructorScore != nil && in.InstructorWeight > 0 {
		weighted += *in.InstructorScore * in.InstructorWeight
		weights += in.InstructorWeight
	}
	if outcome.PeerAverage != nil && in.PeerWeight > 0 {
		weighted += *outcome.PeerAverage * in.PeerWeight
		weights += in.PeerWeight
	}
	if weights == 0 {
		return outcome, nil
	}

	final := clamp(RoundHalfUp(clamp(weighted/weights, in.MaxScore), in.Precision), in.MaxScore)
	outcome.Final = &final

	return outcome, nil
}

// RoundHalfUp rounds value to the nearest multiple of precision, ties upward.
func RoundHalfUp(value, precision float64) float64 {
	if precision <= 0 {
		return value
	}
	steps := math.Floor(value/precision + 0.5 + roundingEpsilon)
	rounded := steps * precision
	// Trim artefacts such as 7.500000000000001.
	return math.Round(rounded*1e6) / 1e6
}

// IsPassing applies the pass threshold to a final score.
func IsPassing(final, threshold float64) bool {
	return final+roundingEpsilon >= threshold
}

func clamp(value, max float64) float64 {
	if value < 0 {
		return 0
	}
	if max > 0 && value > max {
		return max
	}
	return value
}
