// Package polls owns the poll lifecycle and the response submission flow.
// The store's unique indexes are the real duplicate guard; the service's
// read-before-write only exists to give the common non-racing case a
// friendlier message.
package polls

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pollbox/pollbox/internal/auth"
	"github.com/pollbox/pollbox/internal/models"
)

// Cache receives staleness signals and fan-out events on every mutation.
// Implementations must be safe for concurrent use and must never fail a
// request: errors are theirs to log.
type Cache interface {
	GetView(ctx context.Context, pollID string) ([]byte, bool)
	SetView(ctx context.Context, pollID string, view []byte)
	Invalidate(ctx context.Context, pollID string)
	Publish(ctx context.Context, pollID string, event []byte)
	MarkAnonymousVoter(ctx context.Context, pollID, ipHash string) (bool, error)
}

// NopCache is used when no Redis is configured. Anonymous dedup degrades to
// the store's NULL-user semantics only.
type NopCache struct{}

func (NopCache) GetView(context.Context, string) ([]byte, bool) { return nil, false }
func (NopCache) SetView(context.Context, string, []byte)        {}
func (NopCache) Invalidate(context.Context, string)             {}
func (NopCache) Publish(context.Context, string, []byte)        {}
func (NopCache) MarkAnonymousVoter(context.Context, string, string) (bool, error) {
	return true, nil
}

type Service struct {
	db     *gorm.DB
	cache  Cache
	ipSalt string
}

func NewService(db *gorm.DB, cache Cache, ipSalt string) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{db: db, cache: cache, ipSalt: ipSalt}
}

// SubmitResponseInput carries a ballot vote (Content is an option id) or an
// emoji reaction (Content is a single character), per Kind.
type SubmitResponseInput struct {
	PollID  string
	Content string
	Kind    string
}

// ResponseEvent is what gets published to the presentation layer when a
// response lands.
type ResponseEvent struct {
	PollID    string    `json:"pollId"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// SubmitResponse runs the gates strictly in order: authentication, shape
// validation, duplicate pre-check, insert. A unique-constraint violation on
// insert is re-reported as a duplicate, never as a storage failure: two
// racing submissions are decided by the index, not by the pre-check.
func (s *Service) SubmitResponse(ctx context.Context, userID string, in SubmitResponseInput) (*models.Response, error) {
	if userID == "" {
		return nil, unauthenticated("You must be logged in to respond.")
	}

	if err := validatePollID(in.PollID); err != nil {
		return nil, err
	}
	switch in.Kind {
	case models.KindEmoji:
		if err := validateEmoji(in.Content); err != nil {
			return nil, err
		}
	case models.KindBallot:
		if err := validateOptionID(in.Content); err != nil {
			return nil, err
		}
	default:
		return nil, invalidInput("Response kind must be ballot or emoji.")
	}

	poll, err := s.loadPoll(ctx, in.PollID)
	if err != nil {
		return nil, err
	}
	if in.Kind == models.KindBallot && !pollHasOption(poll, in.Content) {
		return nil, invalidInput("Selection must reference one of the poll's options.")
	}

	if err := s.checkDuplicate(ctx, userID, in); err != nil {
		return nil, err
	}

	response := models.Response{
		ID:      uuid.NewString(),
		PollID:  in.PollID,
		UserID:  &userID,
		Content: in.Content,
		Kind:    in.Kind,
	}
	if err := s.db.WithContext(ctx).Create(&response).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, duplicate(duplicateMessage(in.Kind))
		}
		log.Errorf("failed to insert response: %v", err)
		return nil, storage()
	}

	s.announce(ctx, &response)
	return &response, nil
}

// SubmitAnonymousBallot accepts a ballot without a session on polls that
// allow it. Dedup is by salted IP hash; the Redis set add is the atomic
// first-vote check.
func (s *Service) SubmitAnonymousBallot(ctx context.Context, pollID, optionID, clientIP string) (*models.Response, error) {
	if err := validatePollID(pollID); err != nil {
		return nil, err
	}
	if err := validateOptionID(optionID); err != nil {
		return nil, err
	}

	poll, err := s.loadPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if !poll.AllowAnonymous {
		return nil, forbidden("This poll does not accept anonymous ballots.")
	}
	if !pollHasOption(poll, optionID) {
		return nil, invalidInput("Selection must reference one of the poll's options.")
	}

	first, err := s.cache.MarkAnonymousVoter(ctx, pollID, auth.HashIP(clientIP, s.ipSalt))
	if err != nil {
		log.Errorf("anonymous voter check failed: %v", err)
		return nil, storage()
	}
	if !first {
		return nil, duplicate("You have already voted on this poll.")
	}

	response := models.Response{
		ID:      uuid.NewString(),
		PollID:  pollID,
		Content: optionID,
		Kind:    models.KindBallot,
	}
	if err := s.db.WithContext(ctx).Create(&response).Error; err != nil {
		log.Errorf("failed to insert anonymous ballot: %v", err)
		return nil, storage()
	}

	s.announce(ctx, &response)
	return &response, nil
}

func (s *Service) checkDuplicate(ctx context.Context, userID string, in SubmitResponseInput) error {
	q := s.db.WithContext(ctx).
		Where("poll_id = ? AND user_id = ? AND kind = ?", in.PollID, userID, in.Kind)
	if in.Kind == models.KindEmoji {
		q = q.Where("content = ?", in.Content)
	}

	var existing models.Response
	err := q.First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		log.Errorf("failed to query existing response: %v", err)
		return storage()
	}
	return duplicate(duplicateMessage(in.Kind))
}

func duplicateMessage(kind string) string {
	if kind == models.KindEmoji {
		return "You have already responded with this emoji."
	}
	return "You have already voted on this poll."
}

func (s *Service) announce(ctx context.Context, r *models.Response) {
	s.cache.Invalidate(ctx, r.PollID)
	event, err := json.Marshal(ResponseEvent{
		PollID:    r.PollID,
		Kind:      r.Kind,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	})
	if err != nil {
		log.Errorf("failed to encode response event: %v", err)
		return
	}
	s.cache.Publish(ctx, r.PollID, event)
}

func (s *Service) loadPoll(ctx context.Context, pollID string) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&poll, "id = ?", pollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("Poll not found.")
	}
	if err != nil {
		log.Errorf("failed to load poll: %v", err)
		return nil, storage()
	}
	return &poll, nil
}

func pollHasOption(poll *models.Poll, optionID string) bool {
	for _, o := range poll.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// CreatePollInput is the creation payload. Options are positional.
type CreatePollInput struct {
	Title          string
	Options        []string
	AllowAnonymous bool
}

// CreatePoll inserts the poll and its options inside one transaction, so a
// failed option insert never leaves an orphaned poll behind.
func (s *Service) CreatePoll(ctx context.Context, userID string, in CreatePollInput) (*models.Poll, error) {
	if userID == "" {
		return nil, unauthenticated("You must be logged in.")
	}
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	if err := validateOptionTexts(in.Options); err != nil {
		return nil, err
	}

	poll := models.Poll{
		ID:             uuid.NewString(),
		Title:          strings.TrimSpace(in.Title),
		CreatorID:      userID,
		AllowAnonymous: in.AllowAnonymous,
	}
	for i, text := range in.Options {
		poll.Options = append(poll.Options, models.PollOption{
			ID:       uuid.NewString(),
			PollID:   poll.ID,
			Text:     strings.TrimSpace(text),
			Position: i,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Options").Create(&poll).Error; err != nil {
			return err
		}
		return tx.Create(&poll.Options).Error
	})
	if err != nil {
		log.Errorf("failed to create poll: %v", err)
		return nil, storage()
	}
	return &poll, nil
}

// OptionTally is the ballot count for one option.
type OptionTally struct {
	OptionID string `json:"optionId"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Votes    int64  `json:"votes"`
}

// PollView is the full display state of a poll. It is what gets cached and
// invalidated by poll id.
type PollView struct {
	Poll         models.Poll      `json:"poll"`
	Tally        []OptionTally    `json:"tally"`
	EmojiCounts  map[string]int64 `json:"emojiCounts"`
	TotalBallots int64            `json:"totalBallots"`
}

// GetPoll returns the poll view, read through the cache. The store stays
// authoritative: a cache miss re-queries everything.
func (s *Service) GetPoll(ctx context.Context, pollID string) (*PollView, error) {
	if err := validatePollID(pollID); err != nil {
		return nil, err
	}

	if b, ok := s.cache.GetView(ctx, pollID); ok {
		var view PollView
		if err := json.Unmarshal(b, &view); err == nil {
			return &view, nil
		}
	}

	poll, err := s.loadPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	type countRow struct {
		Content string
		Kind    string
		N       int64
	}
	var rows []countRow
	err = s.db.WithContext(ctx).Model(&models.Response{}).
		Select("content, kind, count(*) as n").
		Where("poll_id = ?", pollID).
		Group("content, kind").
		Scan(&rows).Error
	if err != nil {
		log.Errorf("failed to tally responses: %v", err)
		return nil, storage()
	}

	ballots := make(map[string]int64)
	view := PollView{Poll: *poll, EmojiCounts: make(map[string]int64)}
	for _, row := range rows {
		switch row.Kind {
		case models.KindBallot:
			ballots[row.Content] = row.N
			view.TotalBallots += row.N
		case models.KindEmoji:
			view.EmojiCounts[row.Content] = row.N
		}
	}
	for _, o := range poll.Options {
		view.Tally = append(view.Tally, OptionTally{
			OptionID: o.ID,
			Text:     o.Text,
			Position: o.Position,
			Votes:    ballots[o.ID],
		})
	}

	if b, err := json.Marshal(&view); err == nil {
		s.cache.SetView(ctx, pollID, b)
	}
	return &view, nil
}

// OptionInput is one desired option in an update. A nil ID means create;
// a known ID means edit; existing options absent from the list are removed
// together with the ballots that reference them.
type OptionInput struct {
	ID   *string `json:"id"`
	Text string  `json:"text"`
}

type UpdatePollInput struct {
	Title   string
	Options []OptionInput
}

// UpdatePoll applies the option diff atomically. Only the creator may call
// it.
func (s *Service) UpdatePoll(ctx context.Context, userID, pollID string, in UpdatePollInput) (*models.Poll, error) {
	if userID == "" {
		return nil, unauthenticated("You must be logged in.")
	}
	if err := validatePollID(pollID); err != nil {
		return nil, err
	}
	if err := validateTitle(in.Title); err != nil {
		return nil, err
	}
	texts := make([]string, len(in.Options))
	for i, o := range in.Options {
		texts[i] = o.Text
	}
	if err := validateOptionTexts(texts); err != nil {
		return nil, err
	}

	var updated *models.Poll
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.Preload("Options").First(&poll, "id = ?", pollID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("Poll not found.")
			}
			return err
		}
		if poll.CreatorID != userID {
			return forbidden("Only the poll's creator can change it.")
		}

		existing := make(map[string]models.PollOption, len(poll.Options))
		for _, o := range poll.Options {
			existing[o.ID] = o
		}

		seen := make(map[string]bool, len(in.Options))
		for i, o := range in.Options {
			if o.ID != nil {
				prev, ok := existing[*o.ID]
				if !ok {
					return invalidInput("Option does not belong to this poll.")
				}
				seen[prev.ID] = true
				err := tx.Model(&models.PollOption{}).Where("id = ?", prev.ID).
					Updates(map[string]interface{}{"text": strings.TrimSpace(o.Text), "position": i}).Error
				if err != nil {
					return err
				}
				continue
			}
			opt := models.PollOption{
				ID:       uuid.NewString(),
				PollID:   poll.ID,
				Text:     strings.TrimSpace(o.Text),
				Position: i,
			}
			if err := tx.Create(&opt).Error; err != nil {
				return err
			}
		}

		for id := range existing {
			if seen[id] {
				continue
			}
			// Removing an option orphans its ballots, so they go with it.
			err := tx.Where("poll_id = ? AND kind = ? AND content = ?", poll.ID, models.KindBallot, id).
				Delete(&models.Response{}).Error
			if err != nil {
				return err
			}
			if err := tx.Delete(&models.PollOption{}, "id = ?", id).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&poll).Update("title", strings.TrimSpace(in.Title)).Error; err != nil {
			return err
		}

		var fresh models.Poll
		if err := tx.Preload("Options", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).First(&fresh, "id = ?", poll.ID).Error; err != nil {
			return err
		}
		updated = &fresh
		return nil
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, e
		}
		log.Errorf("failed to update poll: %v", err)
		return nil, storage()
	}

	s.cache.Invalidate(ctx, pollID)
	return updated, nil
}

// DeletePoll removes a poll with everything hanging off it. Only the
// creator may call it.
func (s *Service) DeletePoll(ctx context.Context, userID, pollID string) error {
	if userID == "" {
		return unauthenticated("You must be logged in.")
	}
	if err := validatePollID(pollID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.First(&poll, "id = ?", pollID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return notFound("Poll not found.")
			}
			return err
		}
		if poll.CreatorID != userID {
			return forbidden("Only the poll's creator can delete it.")
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.Response{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.PollOption{}).Error; err != nil {
			return err
		}
		return tx.Delete(&poll).Error
	})
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			return e
		}
		log.Errorf("failed to delete poll: %v", err)
		return storage()
	}

	s.cache.Invalidate(ctx, pollID)
	return nil
}

// DashboardPoll is a creator's poll plus its response counts.
type DashboardPoll struct {
	models.Poll
	BallotCount   int64 `json:"ballotCount"`
	ReactionCount int64 `json:"reactionCount"`
}

// ListByCreator backs the dashboard: the user's polls, newest first, with
// per-poll counts.
func (s *Service) ListByCreator(ctx context.Context, userID string) ([]DashboardPoll, error) {
	if userID == "" {
		return nil, unauthenticated("You must be logged in.")
	}

	var pollRows []models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("creator_id = ?", userID).
		Order("created_at desc").
		Find(&pollRows).Error
	if err != nil {
		log.Errorf("failed to list polls: %v", err)
		return nil, storage()
	}

	type countRow struct {
		PollID string
		Kind   string
		N      int64
	}
	var counts []countRow
	err = s.db.WithContext(ctx).Model(&models.Response{}).
		Select("poll_id, kind, count(*) as n").
		Where("poll_id IN (SELECT id FROM polls WHERE creator_id = ?)", userID).
		Group("poll_id, kind").
		Scan(&counts).Error
	if err != nil {
		log.Errorf("failed to count responses: %v", err)
		return nil, storage()
	}

	ballots := make(map[string]int64)
	reactions := make(map[string]int64)
	for _, row := range counts {
		if row.Kind == models.KindBallot {
			ballots[row.PollID] = row.N
		} else {
			reactions[row.PollID] = row.N
		}
	}

	out := make([]DashboardPoll, 0, len(pollRows))
	for _, p := range pollRows {
		out = append(out, DashboardPoll{
			Poll:          p,
			BallotCount:   ballots[p.ID],
			ReactionCount: reactions[p.ID],
		})
	}
	return out, nil
}
