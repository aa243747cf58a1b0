package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	badgerstore "github.com/matt-hans/shipagent/internal/storage/badger"
	"github.com/matt-hans/shipagent/internal/common"
	"github.com/matt-hans/shipagent/internal/interfaces"
	"github.com/matt-hans/shipagent/internal/storage/sqlite"
)

// Manager aggregates the storage backends: SQLite for job/row/audit state,
// Badger for conversation sessions.
type Manager struct {
	db            *sqlite.SQLiteDB
	stateStore    interfaces.StateStore
	conversations interfaces.ConversationStorage
	logger        arbor.ILogger
}

// NewManager opens both backends
func NewManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	db, err := sqlite.NewSQLiteDB(logger, &config.Storage.SQLite)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	conversations, err := badgerstore.NewConversationStorage(logger, &config.Storage.Badger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize conversation store: %w", err)
	}

	return &Manager{
		db:            db,
		stateStore:    sqlite.NewStore(db, logger),
		conversations: conversations,
		logger:        logger,
	}, nil
}

// StateStore returns the job/row/audit store
func (m *Manager) StateStore() interfaces.StateStore {
	return m.stateStore
}

// ConversationStorage returns the chat session store
func (m *Manager) ConversationStorage() interfaces.ConversationStorage {
	return m.conversations
}

// Close closes all backends
func (m *Manager) Close() error {
	var firstErr error
	if err := m.conversations.Close(); err != nil {
		firstErr = err
	}
	if err := m.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
