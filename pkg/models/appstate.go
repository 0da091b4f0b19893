package models

import (
	"github.com/confide-ai/confide/config"
)

// AppState is a struct that holds the state of the application
// Use cmd.NewAppState to create a new instance
type AppState struct {
	ChatStore     ChatStore
	Assistant     AssistantClient
	Moderator     Moderator
	SummarySink   SummarySink
	TaskRouter    TaskRouter
	TaskPublisher TaskPublisher
	Config        *config.Config
}
