// Package model defines the database models used throughout the bot.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"time"
)

// User is a tracked BattleBall player and their running totals.
type User struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Username         string    `gorm:"uniqueIndex;not null;type:text" json:"username"`
	Score            int64     `gorm:"not null;default:0" json:"score"`
	RankedMatches    int       `gorm:"column:ranked_matches;not null;default:0" json:"ranked_matches"`
	NonRankedMatches int       `gorm:"column:non_ranked_matches;not null;default:0" json:"non_ranked_matches"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

// Match is one external match counted for one user. The external match id
// is unique per user.
type Match struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MatchID   string    `gorm:"column:match_id;not null;type:text;uniqueIndex:idx_match_user" json:"match_id"`
	UserID    uint      `gorm:"column:user_id;not null;uniqueIndex:idx_match_user;index" json:"user_id"`
	GameScore int64     `gorm:"column:game_score;not null;default:0" json:"game_score"`
	Ranked    bool      `gorm:"not null;default:false" json:"ranked"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (Match) TableName() string { return "matches" }

// QueueItem is a pending request to synchronize one user's match history.
// Items are processed in ascending ID order.
type QueueItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Username    string    `gorm:"not null;type:text;index" json:"username"`
	RequesterID string    `gorm:"column:requester_id;type:text" json:"requester_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (QueueItem) TableName() string { return "sync_queue" }

// Setting is a small persisted key/value pair, e.g. the id of the
// published leaderboard message.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:text" json:"key"`
	Value     string    `gorm:"type:text;not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }

// Setting keys.
const (
	SettingLeaderboardMessageID = "leaderboard_message_id"
)

// LeaderboardRow is a derived, read-only view of a User.
type LeaderboardRow struct {
	Username         string `json:"username"`
	Score            int64  `json:"score"`
	RankedMatches    int    `json:"ranked_matches"`
	NonRankedMatches int    `json:"non_ranked_matches"`
}

// AllModels returns all model types for migration.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Match{},
		&QueueItem{},
		&Setting{},
	}
}
