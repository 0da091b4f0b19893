package models

// IntakeSnapshot is the structured intake data collected so far for a
// session. Fields mirror the categories the intake assistant asks about.
type IntakeSnapshot struct {
	Symptoms string `json:"symptoms"`
	Duration string `json:"duration"`
	Severity string `json:"severity"`
	Triggers string `json:"triggers"`
	Meds     string `json:"meds"`
}

// IntakeEvaluation is the verdict of evaluate_intake_progress.
type IntakeEvaluation struct {
	EnoughData bool `json:"enough_data"`
	Score      int  `json:"score"`
}
