package models

// RiskFlag classifies a message that tripped the moderation check.
type RiskFlag string

const (
	RiskFlagNone     RiskFlag = ""
	RiskFlagSelfHarm RiskFlag = "self-harm"
	RiskFlagViolence RiskFlag = "violence"
)

func (f RiskFlag) Flagged() bool {
	return f != RiskFlagNone
}
