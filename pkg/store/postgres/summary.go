package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/confide-ai/confide/pkg/models"
)

// NewSummaryDAO creates a new SummaryDAO.
func NewSummaryDAO(db *bun.DB, sessionID string) (*SummaryDAO, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if sessionID == "" {
		return nil, errors.New("sessionID cannot be empty")
	}
	return &SummaryDAO{
		db:        db,
		sessionID: sessionID,
	}, nil
}

type SummaryDAO struct {
	db        *bun.DB
	sessionID string
}

// Create stores a new summary for a session. The SummaryPointUUID is the UUID
// of the most recent message folded into the summary; summaries saved through
// the assistant tool carry none and are stored with a NULL summary point.
func (s *SummaryDAO) Create(
	ctx context.Context,
	summary *models.Summary,
) (*models.Summary, error) {
	pgSummary := &SummaryStoreSchema{
		SessionID:        s.sessionID,
		Content:          summary.Content,
		Metadata:         summary.Metadata,
		SummaryPointUUID: summary.SummaryPointUUID,
		TokenCount:       summary.TokenCount,
	}

	_, err := s.db.NewInsert().Model(pgSummary).Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create summary %w", err)
	}

	return &models.Summary{
		UUID:             pgSummary.UUID,
		CreatedAt:        pgSummary.CreatedAt,
		Content:          pgSummary.Content,
		SummaryPointUUID: pgSummary.SummaryPointUUID,
		Metadata:         pgSummary.Metadata,
		TokenCount:       pgSummary.TokenCount,
	}, nil
}

// Get returns the most recent summary for a session. If no summary exists,
// an empty Summary is returned.
func (s *SummaryDAO) Get(ctx context.Context) (*models.Summary, error) {
	summary := SummaryStoreSchema{}
	err := s.db.NewSelect().
		Model(&summary).
		Where("session_id = ?", s.sessionID).
		// Get the most recent summary
		Order("id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Summary{}, nil
		}
		return &models.Summary{}, fmt.Errorf("failed to get summary %w", err)
	}

	return &models.Summary{
		UUID:             summary.UUID,
		CreatedAt:        summary.CreatedAt,
		Content:          summary.Content,
		SummaryPointUUID: summary.SummaryPointUUID,
		Metadata:         summary.Metadata,
		TokenCount:       summary.TokenCount,
	}, nil
}

