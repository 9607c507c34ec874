package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pollbox/pollbox/internal/models"
)

var (
	ErrEmailTaken         = errors.New("an account with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidSession     = errors.New("session is missing or expired")
	ErrBadRegistration    = errors.New("invalid registration input")
)

const minPasswordLen = 8

// Service owns users and sessions.
type Service struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewService(db *gorm.DB, sessionTTL time.Duration) *Service {
	return &Service{db: db, ttl: sessionTTL}
}

// Register creates a user with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, email, name, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)
	if email == "" || !strings.Contains(email, "@") || name == "" {
		return nil, ErrBadRegistration
	}
	if len(password) < minPasswordLen {
		return nil, ErrBadRegistration
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		log.Errorf("failed to create user: %v", err)
		return nil, err
	}
	return &user, nil
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Session, *models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		log.Errorf("failed to look up user: %v", err)
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, nil, err
	}
	session := models.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		log.Errorf("failed to create session: %v", err)
		return nil, nil, err
	}
	return &session, &user, nil
}

// Logout removes a session. Unknown tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Delete(&models.Session{}, "token = ?", token).Error
}

// UserForToken resolves a session token to its user. Expired sessions are
// deleted on sight.
func (s *Service) UserForToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(session.ExpiresAt) {
		_ = s.db.WithContext(ctx).Delete(&session).Error
		return nil, ErrInvalidSession
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", session.UserID).Error; err != nil {
		return nil, ErrInvalidSession
	}
	return &user, nil
}
