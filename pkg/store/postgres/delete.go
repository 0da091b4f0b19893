package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// deleteSessionRecords deletes all records related to a session. This is a
// soft delete. Note: soft deletes don't trigger cascade deletes, so we need
// to delete all related records manually.
func deleteSessionRecords(ctx context.Context, db *bun.DB, sessionID string) error {
	log.Debugf("deleting records for session %s", sessionID)

	for _, schema := range []bun.BeforeCreateTableHook{
		&MessageVectorStoreSchema{},
		&SummaryStoreSchema{},
		&AssistantThreadSchema{},
		&MessageStoreSchema{},
	} {
		log.Debugf("deleting session %s from schema %T", sessionID, schema)
		_, err := db.NewDelete().
			Model(schema).
			Where("session_id = ?", sessionID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("error deleting rows from %T: %w", schema, err)
		}
	}
	log.Debugf("completed deleting session %s", sessionID)

	return nil
}

// purgeDeleted hard deletes all soft deleted records from the chat store.
func purgeDeleted(ctx context.Context, db *bun.DB) error {
	log.Debugf("purging chat store")

	for _, schema := range tableList {
		log.Debugf("purging schema %T", schema)
		_, err := db.NewDelete().
			Model(schema).
			WhereDeleted().
			ForceDelete().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("error purging rows from %T: %w", schema, err)
		}
	}
	log.Info("completed purging chat store")

	return nil
}
