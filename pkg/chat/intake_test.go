package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/confide-ai/confide/pkg/models"
)

func TestEvaluateIntake(t *testing.T) {
	tests := []struct {
		name     string
		snapshot models.IntakeSnapshot
		want     models.IntakeEvaluation
	}{
		{
			name:     "empty snapshot",
			snapshot: models.IntakeSnapshot{},
			want:     models.IntakeEvaluation{Score: 0, EnoughData: false},
		},
		{
			name: "two categories is not enough",
			snapshot: models.IntakeSnapshot{
				Symptoms: "insomnio",
				Duration: "dos semanas",
			},
			want: models.IntakeEvaluation{Score: 2, EnoughData: false},
		},
		{
			name: "three categories is enough",
			snapshot: models.IntakeSnapshot{
				Symptoms: "insomnio",
				Duration: "dos semanas",
				Severity: "moderada",
			},
			want: models.IntakeEvaluation{Score: 3, EnoughData: true},
		},
		{
			name: "all categories",
			snapshot: models.IntakeSnapshot{
				Symptoms: "insomnio",
				Duration: "dos semanas",
				Severity: "moderada",
				Triggers: "trabajo",
				Meds:     "ninguno",
			},
			want: models.IntakeEvaluation{Score: 5, EnoughData: true},
		},
		{
			name: "whitespace does not count",
			snapshot: models.IntakeSnapshot{
				Symptoms: "insomnio",
				Duration: "  ",
				Severity: "moderada",
				Triggers: "\t",
			},
			want: models.IntakeEvaluation{Score: 2, EnoughData: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateIntake(&tt.snapshot))
		})
	}
}
