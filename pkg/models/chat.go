package models

// ChatRequest is the payload posted by the Typebot frontend for each turn.
type ChatRequest struct {
	SessionID string                 `json:"session_id" validate:"required"`
	Role      string                 `json:"role"       validate:"omitempty,oneof=user assistant"`
	Message   string                 `json:"message"    validate:"required"`
	History   []Message              `json:"history"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// ChatResponse is returned to the frontend. Need and BackToIntake carry the
// assistant's tool-call verdicts; RiskFlag is set when the turn was escalated.
type ChatResponse struct {
	Reply        string   `json:"reply"`
	EndChat      bool     `json:"end_chat"`
	Need         string   `json:"need,omitempty"`
	BackToIntake bool     `json:"back_to_intake,omitempty"`
	RiskFlag     RiskFlag `json:"risk_flag,omitempty"`
}

// AssistantRunOptions parameterize a single assistant run.
type AssistantRunOptions struct {
	AssistantID         string
	Temperature         float32
	MaxCompletionTokens int
	// ToolName restricts the run to a single named function tool.
	ToolName string
}

// AssistantToolCall is a function call emitted by an assistant run.
type AssistantToolCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// AssistantRunResult is the outcome of a completed assistant run.
type AssistantRunResult struct {
	Reply     string              `json:"reply"`
	ToolCalls []AssistantToolCall `json:"tool_calls,omitempty"`
}
