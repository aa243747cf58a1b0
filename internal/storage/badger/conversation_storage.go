// -----------------------------------------------------------------------
// Conversation storage - chat session history on BadgerHold. This is the
// ambient LLM state; the batch core never reads it.
// -----------------------------------------------------------------------

package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/models"
)

// ErrNotFound is returned when a conversation does not exist
var ErrNotFound = errors.New("conversation not found")

// ConversationStorage implements interfaces.ConversationStorage on badgerhold
type ConversationStorage struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewConversationStorage opens the session store
func NewConversationStorage(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.ConversationStorage, error) {
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session store directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Options = badger.DefaultOptions(config.Path).WithLogger(nil)

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("Conversation store initialized")
	return &ConversationStorage{store: store, logger: logger}, nil
}

// Save upserts a conversation
func (s *ConversationStorage) Save(ctx context.Context, conv *models.Conversation) error {
	conv.UpdatedAt = time.Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}
	if err := s.store.Upsert(conv.ID, conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by ID
func (s *ConversationStorage) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.store.Get(id, &conv)
	if err == badgerhold.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// Delete removes a conversation
func (s *ConversationStorage) Delete(ctx context.Context, id string) error {
	err := s.store.Delete(id, &models.Conversation{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

// PruneOlderThan deletes sessions not updated since the cutoff and returns
// how many were removed.
func (s *ConversationStorage) PruneOlderThan(ctx context.Context, cutoffUnix int64) (int, error) {
	cutoff := time.Unix(cutoffUnix, 0)

	var stale []models.Conversation
	if err := s.store.Find(&stale, badgerhold.Where("UpdatedAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find stale conversations: %w", err)
	}

	for _, conv := range stale {
		if err := s.store.Delete(conv.ID, &models.Conversation{}); err != nil && err != badgerhold.ErrNotFound {
			return 0, fmt.Errorf("failed to prune conversation %s: %w", conv.ID, err)
		}
	}

	if len(stale) > 0 {
		s.logger.Info().Int("pruned", len(stale)).Msg("Stale conversations pruned")
	}
	return len(stale), nil
}

// Close closes the store
func (s *ConversationStorage) Close() error {
	return s.store.Close()
}
