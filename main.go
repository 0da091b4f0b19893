package main

import (
	cmd "github.com/confide-ai/confide/cmd/confide"
	"github.com/confide-ai/confide/internal"
)

var log = internal.GetLogger()

func main() {
	log.Info("Starting confide")
	cmd.Execute()
}
