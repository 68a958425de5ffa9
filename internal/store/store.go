// Package store provides database operations using GORM.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/arriba-labs/battlebot/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

// --- Users ---

// AddUserIfAbsent creates the user unless one with the same username exists.
// Safe to call concurrently for the same username.
func (s *Store) AddUserIfAbsent(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(&model.User{Username: username}).Error
}

// GetUserID resolves the internal id of a username.
func (s *Store) GetUserID(ctx context.Context, username string) (uint, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		return 0, err
	}
	return user.ID, nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, "username = ?", username).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUserScoreAndCounts adds score to the user's total and bumps the
// ranked or non-ranked match counter by one.
func (s *Store) UpdateUserScoreAndCounts(ctx context.Context, userID uint, score int64, ranked bool) error {
	counter := "non_ranked_matches"
	if ranked {
		counter = "ranked_matches"
	}
	result := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"score": gorm.Expr("score + ?", score),
			counter: gorm.Expr(counter + " + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Matches ---

// GetCheckedMatchIDs returns the external match ids already stored for a user.
func (s *Store) GetCheckedMatchIDs(ctx context.Context, userID uint) (map[string]struct{}, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("user_id = ?", userID).
		Pluck("match_id", &ids).Error
	if err != nil {
		return nil, err
	}

	checked := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		checked[id] = struct{}{}
	}
	return checked, nil
}

// AddMatch inserts the match unless the (match_id, user_id) pair exists.
// Returns whether a row was inserted.
func (s *Store) AddMatch(ctx context.Context, match *model.Match) (bool, error) {
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).
		Create(match)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecordMatch stores the match and applies its score to the owning user in
// one transaction. Counters only move when the match row is new, so a match
// can never be counted twice.
func (s *Store) RecordMatch(ctx context.Context, match *model.Match) (bool, error) {
	var inserted bool
	err := s.Transaction(ctx, func(tx *Store) error {
		var err error
		inserted, err = tx.AddMatch(ctx, match)
		if err != nil || !inserted {
			return err
		}
		return tx.UpdateUserScoreAndCounts(ctx, match.UserID, match.GameScore, match.Ranked)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// CountMatches returns the number of stored matches for a user.
func (s *Store) CountMatches(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Match{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// --- Leaderboard ---

// GetLeaderboard returns every user ordered by score, highest first.
// Ties are broken by username so the order is stable.
func (s *Store) GetLeaderboard(ctx context.Context) ([]model.LeaderboardRow, error) {
	var rows []model.LeaderboardRow
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Select("username, score, ranked_matches, non_ranked_matches").
		Order("score DESC, username ASC").
		Scan(&rows).Error
	return rows, err
}

// --- Sync Queue ---

// EnqueueSync appends an item to the pending-sync queue.
func (s *Store) EnqueueSync(ctx context.Context, item *model.QueueItem) error {
	return s.db.WithContext(ctx).Create(item).Error
}

// GetNextQueued returns the earliest queued item.
// Returns nil, nil if the queue is empty.
func (s *Store) GetNextQueued(ctx context.Context) (*model.QueueItem, error) {
	var item model.QueueItem
	err := s.db.WithContext(ctx).Order("id ASC").Limit(1).Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// RemoveQueued deletes a queue item by id.
func (s *Store) RemoveQueued(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Delete(&model.QueueItem{}, "id = ?", id).Error
}

// HasQueuedUser reports whether a request for username is already pending.
func (s *Store) HasQueuedUser(ctx context.Context, username string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("username = ?", username).
		Count(&count).Error
	return count > 0, err
}

// CountQueued returns the number of pending queue items.
func (s *Store) CountQueued(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.QueueItem{}).Count(&count).Error
	return count, err
}

// QueuePosition returns the 1-based position of the item in the queue.
func (s *Store) QueuePosition(ctx context.Context, id uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.QueueItem{}).
		Where("id <= ?", id).
		Count(&count).Error
	return count, err
}

// --- Settings ---

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var setting model.Setting
	if err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return setting.Value, nil
}

// SetSetting creates or updates a setting (upsert).
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model.Setting{Key: key, Value: value}).Error
}
