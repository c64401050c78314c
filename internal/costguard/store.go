package costguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// LedgerStore persists reserved spend per UTC day.
type LedgerStore interface {
	Load(ctx context.Context, day string) (float64, error)
	Add(ctx context.Context, day string, amount float64) error
}

// MemoryStore keeps totals in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	totals map[string]float64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{totals: make(map[string]float64)}
}

func (s *MemoryStore) Load(_ context.Context, day string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[day], nil
}

func (s *MemoryStore) Add(_ context.Context, day string, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals[day] += amount
	return nil
}

// LedgerEntry represents the schema of the cost_ledger_entries table
type LedgerEntry struct {
	ID        uint      `gorm:"primaryKey"`             // Auto-incrementing primary key
	Day       string    `gorm:"size:10;not null;index"` // UTC calendar date, YYYY-MM-DD
	Amount    float64   `gorm:"not null"`               // Reserved estimate
	CreatedAt time.Time `gorm:"not null"`               // Reservation time
}

// TableName pins the table name.
func (LedgerEntry) TableName() string {
	return "cost_ledger_entries"
}

// GormStore records each reservation as a row.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore migrates the ledger table on db.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate cost ledger schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Load(ctx context.Context, day string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("day = ?", day).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("error loading cost ledger for %s: %w", day, err)
	}
	return total, nil
}

func (s *GormStore) Add(ctx context.Context, day string, amount float64) error {
	entry := LedgerEntry{Day: day, Amount: amount, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("error recording cost reservation: %w", err)
	}
	return nil
}
