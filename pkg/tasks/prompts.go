package tasks

const summaryPromptTemplate = `
Review the Current Summary, if there is one, and the New Lines of the provided
conversation between a user and a mental-health intake assistant. Create a
concise summary of the conversation, adding from the New Lines to the Current
Summary. Preserve reported symptoms, their duration and severity, triggers,
current medication, and any risk indicators. Respond in the language the
conversation is held in.

Current summary:
{{.PrevSummary}}

New lines of conversation:
{{.MessagesJoined}}

New summary:
`

type SummaryPromptTemplateData struct {
	PrevSummary    string
	MessagesJoined string
}
