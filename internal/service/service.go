package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/rongwang/timebank-server/internal/event"
	"github.com/rongwang/timebank-server/internal/models"
	"github.com/rongwang/timebank-server/internal/repository"
	"github.com/rongwang/timebank-server/internal/utils"
)

// Service defines all the business logic operations
type Service interface {
	// Authentication
	SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error)
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)

	// Listing operations
	CreateListing(ctx context.Context, userID string, req models.CreateListingRequest) (*models.ListingResponse, error)
	GetListing(ctx context.Context, listingID string) (*models.ListingResponse, error)
	GetUserListings(ctx context.Context, userID string) (*models.ListingsResponse, error)
	CancelListing(ctx context.Context, userID, listingID string) (*models.ListingResponse, error)
	ListParticipants(ctx context.Context, userID, listingID string) (*models.ParticipantsResponse, error)

	// Handshake operations
	Apply(ctx context.Context, userID, listingID string, req models.ApplyRequest) (*models.ParticipantResponse, error)
	Accept(ctx context.Context, userID, participantID string, req models.AcceptRequest) (*models.ParticipantResponse, error)
	Decline(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error)
	ConfirmCompletion(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error)
	Cancel(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error)

	// Ledger operations
	GetBalance(ctx context.Context, userID string) (*models.BalanceResponse, error)
	GetLedgerHistory(ctx context.Context, userID string, skip, limit int) (*models.LedgerHistoryResponse, error)
}

// DefaultService implements the Service interface
type DefaultService struct {
	repo          repository.Repository
	events        event.Publisher
	logger        *utils.Logger
	jwtSecret     []byte
	tokenDuration time.Duration
	maxAttempts   int
}

// NewDefaultService creates a new DefaultService
func NewDefaultService(repo repository.Repository, events event.Publisher, jwtSecret string, maxAttempts int) Service {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &DefaultService{
		repo:          repo,
		events:        events,
		logger:        utils.NewLogger(),
		jwtSecret:     []byte(jwtSecret),
		tokenDuration: 24 * time.Hour, // 24 hours token validity
		maxAttempts:   maxAttempts,
	}
}

// Authentication methods
func (s *DefaultService) SignUp(ctx context.Context, req models.SignUpRequest) (*models.AuthResponse, error) {
	// Check if user already exists
	existingUser, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error checking user existence: %w", err)
	}

	if existingUser != nil {
		return nil, models.ErrEmailTaken
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	// Create the user
	user := &models.User{
		ID:       uuid.New().String(),
		Email:    req.Email,
		Name:     req.Name,
		Password: string(hashedPassword),
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	return &models.AuthResponse{
		Status: "success",
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}

func (s *DefaultService) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	// Get the user
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}

	if user == nil {
		return nil, models.ErrInvalidCredentials
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	// Generate JWT token
	token, err := s.generateJWT(user)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	return &models.AuthResponse{
		Status:    "success",
		UserID:    user.ID,
		Token:     token,
		ExpiresIn: int(s.tokenDuration.Seconds()),
	}, nil
}

// Helper methods
func (s *DefaultService) generateJWT(user *models.User) (string, error) {
	expirationTime := time.Now().Add(s.tokenDuration)

	claims := jwt.MapClaims{
		"sub": user.ID, // subject
		"exp": expirationTime.Unix(),
		"iat": time.Now().Unix(), // issued at
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// emit delivers one domain event to the notification sink. Publishing runs
// after the repository call has committed; failures are logged and dropped,
// never surfaced to the caller.
func (s *DefaultService) emit(ctx context.Context, t event.Type, userID string, related map[string]string) {
	if s.events == nil {
		return
	}
	e := event.Event{Type: t, UserID: userID, RelatedIDs: related}
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Error("failed to publish %s event for user %s: %v", t, userID, err)
	}
}

// retry runs op up to maxAttempts times, backing off between transient
// persistence failures. A transient error that survives every attempt is
// reported as ErrUnavailable.
func (s *DefaultService) retry(op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if attempt >= s.maxAttempts {
			break
		}
		time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
}
