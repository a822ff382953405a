package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned when no channel matches the requested id or number.
var ErrNotFound = errors.New("channel not found")

// Store persists the channel catalog in an embedded sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if necessary) the catalog database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog database: %w", err)
	}
	if err := db.AutoMigrate(&Channel{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing gorm DB. Used by tests.
func NewStoreWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Channel{}); err != nil {
		return nil, fmt.Errorf("migrating catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// GetByID looks up a channel by its caller-facing id.
func (s *Store) GetByID(ctx context.Context, id string) (*Channel, error) {
	var ch Channel
	err := s.db.WithContext(ctx).Where("channel_id = ?", id).First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel %q: %w", id, err)
	}
	return &ch, nil
}

// GetByNumber looks up a channel by number. The padded and raw forms are
// interchangeable keys: "05" and "5" find the same channel.
func (s *Store) GetByNumber(ctx context.Context, number string) (*Channel, error) {
	probe := Channel{Number: number}
	var ch Channel
	err := s.db.WithContext(ctx).
		Where("number IN ?", []string{number, probe.PaddedNumber(), probe.RawNumber()}).
		Order("source desc"). // guide-sourced rows win for local numbers
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel number %q: %w", number, err)
	}
	return &ch, nil
}

// List returns all channels ordered by number then id.
func (s *Store) List(ctx context.Context) ([]Channel, error) {
	var chans []Channel
	if err := s.db.WithContext(ctx).Order("number, channel_id").Find(&chans).Error; err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	return chans, nil
}

// SeedStatic inserts static-lineup channels that are not already present.
func (s *Store) SeedStatic(ctx context.Context, chans []Channel) error {
	for i := range chans {
		chans[i].Source = SourceStatic
		err := s.db.WithContext(ctx).
			Where("channel_id = ?", chans[i].ID).
			FirstOrCreate(&chans[i]).Error
		if err != nil {
			return fmt.Errorf("seeding channel %q: %w", chans[i].ID, err)
		}
	}
	return nil
}

// UpsertGuideChannels replaces all guide-sourced rows with the given set.
// Used by the guide importer after a lineup refresh.
func (s *Store) UpsertGuideChannels(ctx context.Context, chans []Channel) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source = ?", SourceGuide).Delete(&Channel{}).Error; err != nil {
			return fmt.Errorf("clearing guide channels: %w", err)
		}
		for i := range chans {
			chans[i].Source = SourceGuide
			chans[i].RecordID = ""
			if err := tx.Create(&chans[i]).Error; err != nil {
				return fmt.Errorf("inserting guide channel %q: %w", chans[i].ID, err)
			}
		}
		return nil
	})
}
