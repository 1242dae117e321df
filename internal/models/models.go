package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents a user in the system. Balances are never stored on the
// user row; they are derived from the ledger entry history.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Password  string    `db:"password" json:"-"` // Password hash, not returned in JSON
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// ListingKind discriminates the two variants of an exchange target.
type ListingKind string

const (
	ListingKindOffer ListingKind = "offer" // owner supplies a service
	ListingKindNeed  ListingKind = "need"  // owner requests a service
)

// ListingStatus is the lifecycle status of a listing.
type ListingStatus string

const (
	ListingStatusActive    ListingStatus = "active"
	ListingStatusFull      ListingStatus = "full"
	ListingStatusExpired   ListingStatus = "expired"
	ListingStatusCompleted ListingStatus = "completed"
	ListingStatusCancelled ListingStatus = "cancelled"
)

// Terminal reports whether the listing can no longer change status.
func (s ListingStatus) Terminal() bool {
	return s == ListingStatusExpired || s == ListingStatusCompleted || s == ListingStatusCancelled
}

// Listing represents an Offer or a Need posted by a user.
// Invariant: 0 <= AcceptedCount <= Capacity; Status is "full" exactly while
// AcceptedCount == Capacity and the listing is not terminal.
type Listing struct {
	ID            string        `db:"id" json:"id"`
	Kind          ListingKind   `db:"kind" json:"kind"`
	OwnerID       string        `db:"owner_id" json:"ownerId"`
	Title         string        `db:"title" json:"title"`
	Description   string        `db:"description" json:"description"`
	Capacity      int           `db:"capacity" json:"capacity"`
	AcceptedCount int           `db:"accepted_count" json:"acceptedCount"`
	Status        ListingStatus `db:"status" json:"status"`
	CreatedAt     time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updatedAt"`
}

// ParticipantRole identifies which side of the exchange a participant is on.
type ParticipantRole string

const (
	RoleProvider  ParticipantRole = "provider"
	RoleRequester ParticipantRole = "requester"
)

// Opposite returns the other side of the exchange.
func (r ParticipantRole) Opposite() ParticipantRole {
	if r == RoleProvider {
		return RoleRequester
	}
	return RoleProvider
}

// RoleForApplicant infers the applicant's role from the listing kind:
// applying to a Need means offering help (provider), applying to an Offer
// means requesting it (requester).
func RoleForApplicant(kind ListingKind) ParticipantRole {
	if kind == ListingKindNeed {
		return RoleProvider
	}
	return RoleRequester
}

// ParticipantStatus is the handshake state of one applicant on one listing.
type ParticipantStatus string

const (
	ParticipantPending   ParticipantStatus = "pending"
	ParticipantAccepted  ParticipantStatus = "accepted"
	ParticipantDeclined  ParticipantStatus = "declined"
	ParticipantCompleted ParticipantStatus = "completed"
	ParticipantCancelled ParticipantStatus = "cancelled"
)

// Terminal reports whether the handshake has reached a final state.
func (s ParticipantStatus) Terminal() bool {
	return s == ParticipantDeclined || s == ParticipantCompleted || s == ParticipantCancelled
}

// Participant represents one applicant's relationship to one listing.
// Terminal participants are retained for history, never deleted.
type Participant struct {
	ID                 string            `db:"id" json:"id"`
	ListingID          string            `db:"listing_id" json:"listingId"`
	UserID             string            `db:"user_id" json:"userId"`
	Role               ParticipantRole   `db:"role" json:"role"`
	Status             ParticipantStatus `db:"status" json:"status"`
	HoursContributed   decimal.Decimal   `db:"hours_contributed" json:"hoursContributed"`
	Message            string            `db:"message" json:"message"`
	PreferredSlot      string            `db:"preferred_slot" json:"preferredSlot"` // opaque, passed through
	ProviderConfirmed  bool              `db:"provider_confirmed" json:"providerConfirmed"`
	RequesterConfirmed bool              `db:"requester_confirmed" json:"requesterConfirmed"`
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// Confirmed reports whether the given role has already confirmed completion.
func (p *Participant) Confirmed(role ParticipantRole) bool {
	if role == RoleProvider {
		return p.ProviderConfirmed
	}
	return p.RequesterConfirmed
}

// LedgerEntry is one immutable balance movement. Exactly one of Debit and
// Credit is non-zero. Balance is the account balance after this entry is
// applied. Entries are never updated or deleted.
type LedgerEntry struct {
	ID              string          `db:"id" json:"id"`
	Seq             int64           `db:"seq" json:"seq"`
	UserID          string          `db:"user_id" json:"userId"`
	Debit           decimal.Decimal `db:"debit" json:"debit"`
	Credit          decimal.Decimal `db:"credit" json:"credit"`
	Balance         decimal.Decimal `db:"balance" json:"balance"`
	TransactionType string          `db:"transaction_type" json:"transactionType"`
	ParticipantID   *string         `db:"participant_id" json:"participantId,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
}

// Transaction types recorded on ledger entries.
const (
	TransactionExchangeDebit  = "exchange_debit"
	TransactionExchangeCredit = "exchange_credit"
)

// Transfer is the paired debit/credit produced by one completed exchange.
// At most one Transfer ever exists per participant, enforced by a unique
// constraint on ParticipantID.
type Transfer struct {
	ID            string          `db:"id" json:"id"`
	ParticipantID string          `db:"participant_id" json:"participantId"`
	ProviderID    string          `db:"provider_id" json:"providerId"`
	RequesterID   string          `db:"requester_id" json:"requesterId"`
	Hours         decimal.Decimal `db:"hours" json:"hours"`
	DebitEntryID  string          `db:"debit_entry_id" json:"debitEntryId"`
	CreditEntryID string          `db:"credit_entry_id" json:"creditEntryId"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
}
