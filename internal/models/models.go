package models

import (
	"time"
)

// Response kinds.
const (
	KindBallot = "ballot"
	KindEmoji  = "emoji"
)

// User is a registered account. The password hash is never serialized.
type User struct {
	ID           string    `gorm:"type:uuid;primarykey" json:"id"`
	Email        string    `gorm:"not null;uniqueIndex" json:"email"`
	Name         string    `gorm:"not null" json:"name"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is an opaque bearer token bound to a user with an expiry.
type Session struct {
	Token     string    `gorm:"primarykey" json:"-"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"userId"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Poll is owned by its creator; options and responses hang off it and are
// removed with it.
type Poll struct {
	ID             string       `gorm:"type:uuid;primarykey" json:"id"`
	Title          string       `gorm:"not null" json:"title"`
	CreatorID      string       `gorm:"type:uuid;not null;index" json:"creatorId"`
	AllowAnonymous bool         `gorm:"not null;default:false" json:"allowAnonymous"`
	CreatedAt      time.Time    `json:"createdAt"`
	Options        []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options,omitempty"`
	Responses      []Response   `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
}

// PollOption is one choice on a poll. Position gives a stable display order.
type PollOption struct {
	ID       string `gorm:"type:uuid;primarykey" json:"id"`
	PollID   string `gorm:"type:uuid;not null;index" json:"pollId"`
	Text     string `gorm:"not null" json:"text"`
	Position int    `gorm:"not null" json:"position"`
}

// Response is a ballot vote or an emoji reaction. Rows are immutable once
// written. UserID is null only for anonymous ballots, which SQL treats as
// distinct, so the partial unique indexes below only bind signed-in users:
// one ballot per (poll, user), one reaction per (poll, user, emoji).
type Response struct {
	ID        string    `gorm:"type:uuid;primarykey" json:"id"`
	PollID    string    `gorm:"type:uuid;not null;index;uniqueIndex:uniq_poll_ballot,where:kind = 'ballot';uniqueIndex:uniq_poll_emoji,where:kind = 'emoji'" json:"pollId"`
	UserID    *string   `gorm:"type:uuid;uniqueIndex:uniq_poll_ballot;uniqueIndex:uniq_poll_emoji" json:"userId,omitempty"`
	Content   string    `gorm:"not null;uniqueIndex:uniq_poll_emoji" json:"content"`
	Kind      string    `gorm:"not null" json:"kind"`
	CreatedAt time.Time `json:"createdAt"`
}
