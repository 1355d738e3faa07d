// internal/auth/service.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"school-quiz/internal/models"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrLastAdmin          = errors.New("cannot remove the last admin")
	ErrUserInput          = errors.New("invalid user")
	ErrUsernameTaken      = errors.New("username already exists")
)

// UserUpdate carries the editable account fields. Nil pointers and an
// empty Password leave the stored value unchanged.
type UserUpdate struct {
	Username *string
	Password string
	IsAdmin  *bool
}

type Service struct {
	repo      *Repository
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewService(repo *Repository, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		repo:      repo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
	}
}

func (s *Service) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	claims := jwt.MapClaims{
		"user_id":  user.ID,
		"is_admin": user.IsAdmin,
		"exp":      time.Now().Add(s.tokenTTL).Unix(),
	}
	if user.ClassID != nil {
		claims["class_id"] = *user.ClassID
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", nil, err
	}
	return tokenString, user, nil
}

// CreateUser hashes password and stores the user.
func (s *Service) CreateUser(ctx context.Context, username, password string, classID *uint, isAdmin bool) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrUserInput)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Username:     username,
		PasswordHash: string(hashedPassword),
		ClassID:      classID,
		IsAdmin:      isAdmin,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser edits username, password and admin flag. Usernames stay unique
// regardless of case, and the last admin cannot be demoted.
func (s *Service) UpdateUser(ctx context.Context, id uint, upd UserUpdate) (*models.User, error) {
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name == "" {
			return nil, fmt.Errorf("%w: username is required", ErrUserInput)
		}
		upd.Username = &name
	}

	var hash string
	if upd.Password = strings.TrimSpace(upd.Password); upd.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(upd.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		hash = string(hashed)
	}
	return s.repo.UpdateUser(ctx, id, upd.Username, hash, upd.IsAdmin)
}

func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) DeleteUser(ctx context.Context, id uint) error {
	return s.repo.DeleteUser(ctx, id)
}

// SeedAdmin creates the default admin account when no admin exists yet.
func (s *Service) SeedAdmin(ctx context.Context, username, password string) error {
	n, err := s.repo.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.CreateUser(ctx, username, password, nil, true); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	log.Printf("Seeded admin account %q", username)
	return nil
}
