package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rongwang/timebank-server/internal/models"
)

// Repository interface defines the methods that any repository implementation
// must satisfy. Handshake methods are atomic: each validates the transition,
// adjusts the listing slot counter and writes ledger rows inside a single
// transaction, returning domain errors from internal/models on violations.
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Listing operations
	CreateListing(ctx context.Context, listing *models.Listing) error
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
	GetUserListings(ctx context.Context, userID string) ([]models.Listing, error)
	CancelListing(ctx context.Context, listingID string) (*models.Listing, error)
	GetListingParticipants(ctx context.Context, listingID string) ([]models.Participant, error)

	// Handshake operations
	CreateParticipant(ctx context.Context, participant *models.Participant) error
	GetParticipant(ctx context.Context, participantID string) (*models.Participant, error)
	AcceptParticipant(ctx context.Context, participantID string, hours decimal.Decimal) (*models.Participant, error)
	DeclineParticipant(ctx context.Context, participantID string) (*models.Participant, error)
	ConfirmParticipant(ctx context.Context, participantID string, role models.ParticipantRole) (*models.Participant, *models.Transfer, error)
	CancelParticipant(ctx context.Context, participantID string) (*models.Participant, error)

	// Ledger operations
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, userID string, skip, limit int) ([]models.LedgerEntry, error)
	GetTransferByParticipant(ctx context.Context, participantID string) (*models.Transfer, error)
}
