package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oiime/logrusbun"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/confide-ai/confide/config"
	"github.com/confide-ai/confide/pkg/auth"
	"github.com/confide-ai/confide/pkg/llms"
	"github.com/confide-ai/confide/pkg/models"
	"github.com/confide-ai/confide/pkg/nocodb"
	"github.com/confide-ai/confide/pkg/server"
	"github.com/confide-ai/confide/pkg/store/postgres"
	"github.com/confide-ai/confide/pkg/tasks"
)

const ErrPostgresDSNNotSet = "store.postgres.dsn must be set"

// run is the entrypoint for the confide server
func run() {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Error configuring Confide: %s", err)
	}

	handleCLIOptions(cfg)

	log.Infof("Starting confide server version %s", config.VersionString)

	config.SetLogLevel(cfg)
	appState := NewAppState(cfg)

	srv := server.Create(appState)

	log.Infof("Listening on: %s", srv.Addr)
	err = srv.ListenAndServe()
	if err != nil {
		log.Fatal(err)
	}
}

// NewAppState creates an AppState struct from the config file / ENV,
// initializes the chat store and task router, and creates the OpenAI and
// NocoDB clients
func NewAppState(cfg *config.Config) *models.AppState {
	assistant, err := llms.NewOpenAIAssistantClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create OpenAI client: %v", err)
	}
	moderator, err := llms.NewOpenAIModerator(cfg)
	if err != nil {
		log.Fatalf("Failed to create moderation client: %v", err)
	}
	summarySink, err := nocodb.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create NocoDB client: %v", err)
	}

	appState := &models.AppState{
		Assistant:   assistant,
		Moderator:   moderator,
		SummarySink: summarySink,
		Config:      cfg,
	}

	initializeChatStore(appState)
	initializeTaskRouter(appState)
	setupSignalHandler(appState)
	setupPurgeProcessor(context.Background(), appState)

	return appState
}

// handleCLIOptions handles CLI options that don't require the server to run
func handleCLIOptions(cfg *config.Config) {
	if showVersion {
		fmt.Println(config.VersionString)
		os.Exit(0)
	}
	if generateKey {
		fmt.Println(auth.GenerateJWT(cfg))
		os.Exit(0)
	}
	if dumpConfig {
		dump, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			log.Fatalf("Failed to dump config: %v", err)
		}
		fmt.Println(string(dump))
		os.Exit(0)
	}
}

func initializeChatStore(appState *models.AppState) {
	if appState.Config.Store.Postgres.DSN == "" {
		log.Fatal(ErrPostgresDSNNotSet)
	}

	db, err := postgres.NewPostgresConn(appState)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if appState.Config.Log.Level == "debug" {
		pgDebugLogging(db)
	}

	chatStore, err := postgres.NewPostgresChatStore(appState, db)
	if err != nil {
		log.Fatal(err)
	}
	appState.ChatStore = chatStore
}

// initializeTaskRouter starts the task router over a plain database/sql
// connection. bun's isolation level is incompatible with the queue
// subscriber, so the queue gets its own connection.
func initializeTaskRouter(appState *models.AppState) {
	db := postgres.NewSQLConn(appState)
	tasks.RunTaskRouter(context.Background(), appState, db)
}

func pgDebugLogging(db *bun.DB) {
	db.AddQueryHook(logrusbun.NewQueryHook(logrusbun.QueryHookOptions{
		LogSlow:         time.Second,
		Logger:          log,
		QueryLevel:      logrus.DebugLevel,
		ErrorLevel:      logrus.ErrorLevel,
		SlowLevel:       logrus.WarnLevel,
		MessageTemplate: "{{.Operation}}[{{.Duration}}]: {{.Query}}",
		ErrorTemplate:   "{{.Operation}}[{{.Duration}}]: {{.Query}}: {{.Error}}",
	}))
}

// setupSignalHandler closes the chat store and task router on termination
func setupSignalHandler(appState *models.AppState) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signalCh
		if appState.TaskRouter != nil {
			if err := appState.TaskRouter.Close(); err != nil {
				log.Errorf("Error closing task router: %v", err)
			}
		}
		if err := appState.ChatStore.Close(); err != nil {
			log.Errorf("Error closing chat store connection: %v", err)
		}
		os.Exit(0)
	}()
}

// setupPurgeProcessor sets up a go routine to purge soft deleted records
// from the chat store at a regular interval. It's cancellable via the passed
// context. If Config.Data.PurgeEvery is 0, this function does nothing.
func setupPurgeProcessor(ctx context.Context, appState *models.AppState) {
	interval := time.Duration(appState.Config.Data.PurgeEvery) * time.Minute
	if interval == 0 {
		log.Debug("purge delete processor disabled")
		return
	}

	log.Infof("Starting purge delete processor. Purging every %v", interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info("Stopping purge delete processor")
				return
			default:
				err := appState.ChatStore.PurgeDeleted(ctx)
				if err != nil {
					log.Errorf("error purging deleted records: %v", err)
				}
			}
			time.Sleep(interval)
		}
	}()
}
