package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dbfixture"
	"github.com/uptrace/bun/extra/bundebug"
	"gopkg.in/yaml.v3"

	"github.com/confide-ai/confide/pkg/models"
)

type Row interface {
	SessionSchema | MessageStoreSchema | SummaryStoreSchema
}

type FixtureModel[T Row] struct {
	Model string `yaml:"model"`
	Rows  []T    `yaml:"rows"`
}

type Fixtures[T Row] []FixtureModel[T]

func generateTimeLastNDays(nDays int) time.Time {
	now := time.Now()
	earliest := now.Add(time.Duration(-nDays) * 24 * time.Hour)
	return gofakeit.DateRange(earliest, now)
}

// GenerateFixtureData generates fixtureCount sessions with messages and
// summaries and writes them to YAML files in outputDir.
func GenerateFixtureData(fixtureCount int, outputDir string) {
	fakerGlobal := gofakeit.NewUnlocked(0)
	gofakeit.SetGlobalFaker(fakerGlobal)

	modes := []string{
		string(models.ModeIntake),
		string(models.ModeAdvice),
		string(models.ModeEscalation),
	}

	// Generate test data for SessionSchema
	sessions := make([]SessionSchema, fixtureCount)
	for i := 0; i < fixtureCount; i++ {
		dateCreated := generateTimeLastNDays(14)
		sessions[i] = SessionSchema{
			UUID:      uuid.New(),
			SessionID: gofakeit.UUID(),
			CreatedAt: dateCreated,
			UpdatedAt: dateCreated,
			Mode:      modes[gofakeit.Number(0, len(modes)-1)],
			Metadata:  gofakeit.Map(),
		}
	}

	// Generate test data for MessageStoreSchema
	var messages []MessageStoreSchema
	var summaries []SummaryStoreSchema
	roles := []string{models.RoleUser, models.RoleAssistant}

	for _, session := range sessions {
		pairCount := gofakeit.Number(3, 15)
		wordCount := gofakeit.Number(1, 100)
		// Start from the session's creation time and increment for each message
		dateCreated := session.CreatedAt
		var sessionMessages []MessageStoreSchema
		for j := 0; j < pairCount*2; j++ {
			dateCreated = dateCreated.Add(time.Second * time.Duration(gofakeit.Number(5, 120)))
			sessionMessages = append(sessionMessages, MessageStoreSchema{
				UUID:       uuid.New(),
				CreatedAt:  dateCreated,
				UpdatedAt:  dateCreated,
				SessionID:  session.SessionID,
				Role:       roles[j%2],
				Content:    gofakeit.Paragraph(1, 3, wordCount, "."),
				Metadata:   gofakeit.Map(),
				TokenCount: gofakeit.Number(50, 500),
			})
		}
		messages = append(messages, sessionMessages...)

		// roughly half the sessions get a summary anchored at their last message
		if gofakeit.Bool() {
			lastMessage := sessionMessages[len(sessionMessages)-1]
			summaryCreated := lastMessage.CreatedAt.Add(time.Minute)
			summaries = append(summaries, SummaryStoreSchema{
				UUID:             uuid.New(),
				CreatedAt:        summaryCreated,
				UpdatedAt:        summaryCreated,
				SessionID:        session.SessionID,
				Content:          gofakeit.Paragraph(1, 3, 40, "."),
				TokenCount:       gofakeit.Number(100, 300),
				SummaryPointUUID: lastMessage.UUID,
			})
		}
	}

	sessionFixture := Fixtures[SessionSchema]{
		{
			Model: "SessionSchema",
			Rows:  sessions,
		},
	}

	messageFixture := Fixtures[MessageStoreSchema]{
		{
			Model: "MessageStoreSchema",
			Rows:  messages,
		},
	}

	summaryFixture := Fixtures[SummaryStoreSchema]{
		{
			Model: "SummaryStoreSchema",
			Rows:  summaries,
		},
	}

	if outputDir == "" {
		outputDir = "./"
	} else {
		// Create output directory if it doesn't exist
		if _, err := os.Stat(outputDir); os.IsNotExist(err) {
			err = os.Mkdir(outputDir, 0755)
			if err != nil {
				fmt.Printf("unable to create %s: %v", outputDir, err)
				return
			}
		}
	}

	// Write fixtures to YAML files
	writeFixtureToYAML(sessionFixture, outputDir, "session_fixtures.yaml")
	writeFixtureToYAML(messageFixture, outputDir, "message_fixtures.yaml")
	writeFixtureToYAML(summaryFixture, outputDir, "summary_fixtures.yaml")
}

func writeFixtureToYAML[T Row](fixtures Fixtures[T], outputDir, filename string) {
	data, err := yaml.Marshal(&fixtures)
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}

	file, err := os.Create(filepath.Join(outputDir, filename))
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			fmt.Printf("error: %v", err)
			return
		}
	}(file)

	_, err = file.Write(data)
	if err != nil {
		fmt.Printf("error: %v", err)
		return
	}

	fmt.Printf("Fixtures generated successfully in %s!\n", filename)
}

// LoadFixtures drops and recreates the schema and loads all YAML fixtures
// found in fixturePath.
func LoadFixtures(
	ctx context.Context,
	appState *models.AppState,
	db *bun.DB,
	fixturePath string,
) error {
	db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))

	dropSchemaQuery := `DROP SCHEMA public CASCADE;
CREATE SCHEMA public;
GRANT ALL ON SCHEMA public TO postgres;
GRANT ALL ON SCHEMA public TO public;`

	_, err := db.ExecContext(ctx, dropSchemaQuery)
	if err != nil {
		return fmt.Errorf("failed to drop schema: %w", err)
	}

	if appState.Config.OpenAI.Embeddings.Enabled {
		err = enablePgVectorExtension(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to enable pg_vector extension: %w", err)
		}
	}

	err = CreateSchema(ctx, appState, db)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	db.RegisterModel(
		(*SessionSchema)(nil),
		(*MessageStoreSchema)(nil),
		(*MessageVectorStoreSchema)(nil),
		(*SummaryStoreSchema)(nil),
		(*AssistantThreadSchema)(nil),
	)

	fixture := dbfixture.New(db, dbfixture.WithRecreateTables())

	files, err := os.ReadDir(fixturePath)
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, file := range files {
		if !file.IsDir() {
			switch filepath.Ext(file.Name()) {
			case ".yaml", ".yml":
				err := fixture.Load(ctx, os.DirFS(fixturePath), file.Name())
				if err != nil {
					return fmt.Errorf("failed to load fixture %s: %w", file.Name(), err)
				}
			}
		}
	}

	return nil
}
