// Package testutil holds shared helpers for package tests: an in-memory
// database with the full schema and common seed data.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pollbox/pollbox/internal/models"
)

// OpenDB returns a migrated in-memory SQLite database. A single connection
// is enforced because each in-memory connection would otherwise see its own
// empty database.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying connection: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.Poll{},
		&models.PollOption{},
		&models.Response{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

// CreateUser inserts a user with a placeholder password hash.
func CreateUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         "Test User",
		PasswordHash: "not-a-real-hash",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}
	return &user
}

// CreatePoll inserts a poll with the given id (empty means random) and one
// option per text, in order.
func CreatePoll(t *testing.T, db *gorm.DB, pollID, creatorID string, optionTexts ...string) *models.Poll {
	t.Helper()

	if pollID == "" {
		pollID = uuid.NewString()
	}
	poll := models.Poll{
		ID:        pollID,
		Title:     "Test Poll",
		CreatorID: creatorID,
	}
	if err := db.Create(&poll).Error; err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}
	for i, text := range optionTexts {
		opt := models.PollOption{
			ID:       uuid.NewString(),
			PollID:   pollID,
			Text:     text,
			Position: i,
		}
		if err := db.Create(&opt).Error; err != nil {
			t.Fatalf("Failed to create test option: %v", err)
		}
		poll.Options = append(poll.Options, opt)
	}
	return &poll
}

// FakeCache records staleness signals and events, and dedups anonymous
// voters in memory. It satisfies the polls service's cache contract.
type FakeCache struct {
	mu          sync.Mutex
	Views       map[string][]byte
	Invalidated []string
	Published   [][]byte
	voters      map[string]map[string]bool
}

func NewFakeCache() *FakeCache {
	return &FakeCache{
		Views:  make(map[string][]byte),
		voters: make(map[string]map[string]bool),
	}
}

func (f *FakeCache) GetView(_ context.Context, pollID string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.Views[pollID]
	return b, ok
}

func (f *FakeCache) SetView(_ context.Context, pollID string, view []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Views[pollID] = view
}

func (f *FakeCache) Invalidate(_ context.Context, pollID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Views, pollID)
	f.Invalidated = append(f.Invalidated, pollID)
}

func (f *FakeCache) Publish(_ context.Context, pollID string, event []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = append(f.Published, event)
}

func (f *FakeCache) MarkAnonymousVoter(_ context.Context, pollID, ipHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voters[pollID] == nil {
		f.voters[pollID] = make(map[string]bool)
	}
	if f.voters[pollID][ipHash] {
		return false, nil
	}
	f.voters[pollID][ipHash] = true
	return true, nil
}
