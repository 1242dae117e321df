package models

import "github.com/shopspring/decimal"

// Request models
type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type CreateListingRequest struct {
	Kind        ListingKind `json:"kind" binding:"required,oneof=offer need"`
	Title       string      `json:"title" binding:"required"`
	Description string      `json:"description"`
	Capacity    int         `json:"capacity" binding:"required,min=1"`
}

type ApplyRequest struct {
	Message       string `json:"message"`
	PreferredSlot string `json:"preferredSlot"`
}

type AcceptRequest struct {
	Hours decimal.Decimal `json:"hours" binding:"required"`
}

// Response models
type AuthResponse struct {
	Status    string `json:"status"`
	UserID    string `json:"userId,omitempty"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	Token     string `json:"token,omitempty"`
	ExpiresIn int    `json:"expiresIn,omitempty"`
}

type ListingResponse struct {
	Status  string   `json:"status"`
	Listing *Listing `json:"listing,omitempty"`
}

type ListingsResponse struct {
	Status   string    `json:"status"`
	Listings []Listing `json:"listings"`
}

// ParticipantResponse is returned by every handshake operation. Transfer and
// Warning are set only when a confirmation completed the exchange.
type ParticipantResponse struct {
	Status      string       `json:"status"`
	Participant *Participant `json:"participant,omitempty"`
	Transfer    *Transfer    `json:"transfer,omitempty"`
	Warning     string       `json:"warning,omitempty"`
}

type ParticipantsResponse struct {
	Status       string        `json:"status"`
	ListingID    string        `json:"listingId"`
	Participants []Participant `json:"participants"`
}

type BalanceResponse struct {
	Status  string          `json:"status"`
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

type LedgerHistoryResponse struct {
	Status  string        `json:"status"`
	UserID  string        `json:"userId"`
	Entries []LedgerEntry `json:"entries"`
	Skip    int           `json:"skip"`
	Limit   int           `json:"limit"`
}

type ErrorResponse struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
