package chat

import (
	"strings"

	"github.com/confide-ai/confide/pkg/models"
)

// IntakeScoreThreshold is the number of filled intake categories required
// before the advice assistant takes over.
const IntakeScoreThreshold = 3

// EvaluateIntake scores an intake snapshot by counting its non-empty
// categories.
func EvaluateIntake(snapshot *models.IntakeSnapshot) models.IntakeEvaluation {
	score := 0
	for _, field := range []string{
		snapshot.Symptoms,
		snapshot.Duration,
		snapshot.Severity,
		snapshot.Triggers,
		snapshot.Meds,
	} {
		if strings.TrimSpace(field) != "" {
			score++
		}
	}
	return models.IntakeEvaluation{
		Score:      score,
		EnoughData: score >= IntakeScoreThreshold,
	}
}
