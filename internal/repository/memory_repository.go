package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rongwang/timebank-server/internal/models"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It mirrors the
// transactional semantics of PostgresRepository (each handshake method runs
// under one lock, so concurrent callers serialize the same way row locks
// serialize them) and backs the service and API tests without a database.
type MemoryRepository struct {
	mu           sync.Mutex
	users        map[string]*models.User
	usersByEmail map[string]string
	listings     map[string]*models.Listing
	participants map[string]*models.Participant
	entries      []*models.LedgerEntry
	transfers    map[string]*models.Transfer // keyed by participant ID
	nextSeq      int64
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:        make(map[string]*models.User),
		usersByEmail: make(map[string]string),
		listings:     make(map[string]*models.Listing),
		participants: make(map[string]*models.Participant),
		transfers:    make(map[string]*models.Transfer),
	}
}

// User repository methods
func (r *MemoryRepository) CreateUser(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.usersByEmail[user.Email]; exists {
		return models.ErrEmailTaken
	}

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	u := *user
	r.users[u.ID] = &u
	r.usersByEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.usersByEmail[email]
	if !ok {
		return nil, nil
	}
	u := *r.users[id]
	return &u, nil
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	u := *user
	return &u, nil
}

// Listing repository methods
func (r *MemoryRepository) CreateListing(ctx context.Context, listing *models.Listing) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	listing.CreatedAt = now
	listing.UpdatedAt = now
	listing.AcceptedCount = 0
	listing.Status = models.ListingStatusActive

	l := *listing
	r.listings[l.ID] = &l
	return nil
}

func (r *MemoryRepository) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[listingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	l := *listing
	return &l, nil
}

func (r *MemoryRepository) GetUserListings(ctx context.Context, userID string) ([]models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listings := []models.Listing{}
	for _, l := range r.listings {
		if l.OwnerID == userID {
			listings = append(listings, *l)
		}
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].CreatedAt.After(listings[j].CreatedAt)
	})
	return listings, nil
}

func (r *MemoryRepository) CancelListing(ctx context.Context, listingID string) (*models.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	listing, ok := r.listings[listingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if listing.Status.Terminal() {
		return nil, models.ErrInvalidStateTransition
	}
	for _, p := range r.participants {
		if p.ListingID == listingID && p.Status == models.ParticipantAccepted {
			return nil, models.ErrInvalidStateTransition
		}
	}

	listing.Status = models.ListingStatusCancelled
	listing.UpdatedAt = time.Now().UTC()
	l := *listing
	return &l, nil
}

func (r *MemoryRepository) GetListingParticipants(ctx context.Context, listingID string) ([]models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participants := []models.Participant{}
	for _, p := range r.participants {
		if p.ListingID == listingID {
			participants = append(participants, *p)
		}
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].CreatedAt.Before(participants[j].CreatedAt)
	})
	return participants, nil
}

// Handshake repository methods
func (r *MemoryRepository) CreateParticipant(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.listings[participant.ListingID]; !ok {
		return models.ErrNotFound
	}
	for _, p := range r.participants {
		if p.ListingID == participant.ListingID && p.UserID == participant.UserID && !p.Status.Terminal() {
			return models.ErrAlreadyApplied
		}
	}

	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	participant.CreatedAt = now
	participant.UpdatedAt = now
	participant.Status = models.ParticipantPending
	participant.HoursContributed = decimal.Zero

	p := *participant
	r.participants[p.ID] = &p
	return nil
}

func (r *MemoryRepository) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	p := *participant
	return &p, nil
}

func (r *MemoryRepository) AcceptParticipant(ctx context.Context, participantID string, hours decimal.Decimal) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if participant.Status != models.ParticipantPending {
		return nil, models.ErrInvalidStateTransition
	}

	listing, ok := r.listings[participant.ListingID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if listing.Status == models.ListingStatusFull {
		return nil, models.ErrCapacityExceeded
	}
	if listing.Status != models.ListingStatusActive || listing.AcceptedCount >= listing.Capacity {
		return nil, models.ErrInvalidStateTransition
	}

	now := time.Now().UTC()
	listing.AcceptedCount++
	if listing.AcceptedCount >= listing.Capacity {
		listing.Status = models.ListingStatusFull
	}
	listing.UpdatedAt = now

	participant.Status = models.ParticipantAccepted
	participant.HoursContributed = hours
	participant.UpdatedAt = now
	p := *participant
	return &p, nil
}

func (r *MemoryRepository) DeclineParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if participant.Status != models.ParticipantPending {
		return nil, models.ErrInvalidStateTransition
	}

	participant.Status = models.ParticipantDeclined
	participant.UpdatedAt = time.Now().UTC()
	p := *participant
	return &p, nil
}

func (r *MemoryRepository) ConfirmParticipant(ctx context.Context, participantID string, role models.ParticipantRole) (*models.Participant, *models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, nil, models.ErrNotFound
	}

	if participant.Status == models.ParticipantCompleted {
		p := *participant
		if transfer, ok := r.transfers[participantID]; ok {
			t := *transfer
			return &p, &t, models.ErrDuplicateTransfer
		}
		return &p, nil, models.ErrDuplicateTransfer
	}

	if participant.Status != models.ParticipantAccepted {
		return nil, nil, models.ErrInvalidStateTransition
	}

	if participant.Confirmed(role) {
		p := *participant
		return &p, nil, nil
	}

	if role == models.RoleProvider {
		participant.ProviderConfirmed = true
	} else {
		participant.RequesterConfirmed = true
	}
	participant.UpdatedAt = time.Now().UTC()

	if !(participant.ProviderConfirmed && participant.RequesterConfirmed) {
		p := *participant
		return &p, nil, nil
	}

	listing := r.listings[participant.ListingID]
	providerID, requesterID := participant.UserID, listing.OwnerID
	if participant.Role == models.RoleRequester {
		providerID, requesterID = listing.OwnerID, participant.UserID
	}

	transfer, err := r.transferLocked(providerID, requesterID, participant.HoursContributed, participantID)
	if err != nil {
		return nil, nil, err
	}

	participant.Status = models.ParticipantCompleted
	p := *participant
	t := *transfer
	return &p, &t, nil
}

func (r *MemoryRepository) CancelParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.participants[participantID]
	if !ok {
		return nil, models.ErrNotFound
	}

	now := time.Now().UTC()

	switch participant.Status {
	case models.ParticipantPending:
	case models.ParticipantAccepted:
		listing := r.listings[participant.ListingID]
		if listing.AcceptedCount > 0 {
			listing.AcceptedCount--
		}
		if listing.Status == models.ListingStatusFull {
			listing.Status = models.ListingStatusActive
		}
		listing.UpdatedAt = now
	default:
		return nil, models.ErrInvalidStateTransition
	}

	participant.Status = models.ParticipantCancelled
	participant.UpdatedAt = now
	p := *participant
	return &p, nil
}

// Ledger repository methods
func (r *MemoryRepository) transferLocked(providerID, requesterID string, hours decimal.Decimal, participantID string) (*models.Transfer, error) {
	if !hours.IsPositive() {
		return nil, models.ErrInvalidHours
	}
	if providerID == requesterID {
		return nil, models.ErrInvalidStateTransition
	}
	if _, exists := r.transfers[participantID]; exists {
		return nil, models.ErrDuplicateTransfer
	}

	now := time.Now().UTC()
	pid := participantID

	debitEntry := &models.LedgerEntry{
		ID:              uuid.New().String(),
		UserID:          requesterID,
		Debit:           hours,
		Credit:          decimal.Zero,
		Balance:         r.balanceLocked(requesterID).Sub(hours),
		TransactionType: models.TransactionExchangeDebit,
		ParticipantID:   &pid,
		CreatedAt:       now,
	}
	r.appendEntryLocked(debitEntry)

	creditEntry := &models.LedgerEntry{
		ID:              uuid.New().String(),
		UserID:          providerID,
		Debit:           decimal.Zero,
		Credit:          hours,
		Balance:         r.balanceLocked(providerID).Add(hours),
		TransactionType: models.TransactionExchangeCredit,
		ParticipantID:   &pid,
		CreatedAt:       now,
	}
	r.appendEntryLocked(creditEntry)

	transfer := &models.Transfer{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		ProviderID:    providerID,
		RequesterID:   requesterID,
		Hours:         hours,
		DebitEntryID:  debitEntry.ID,
		CreditEntryID: creditEntry.ID,
		CreatedAt:     now,
	}
	r.transfers[participantID] = transfer
	return transfer, nil
}

func (r *MemoryRepository) appendEntryLocked(entry *models.LedgerEntry) {
	r.nextSeq++
	entry.Seq = r.nextSeq
	r.entries = append(r.entries, entry)
}

func (r *MemoryRepository) balanceLocked(userID string) decimal.Decimal {
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			return r.entries[i].Balance
		}
	}
	return decimal.Zero
}

func (r *MemoryRepository) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.balanceLocked(userID), nil
}

func (r *MemoryRepository) GetLedgerEntries(ctx context.Context, userID string, skip, limit int) ([]models.LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Newest first, matching the Postgres query
	entries := []models.LedgerEntry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].UserID == userID {
			entries = append(entries, *r.entries[i])
		}
	}
	if skip >= len(entries) {
		return []models.LedgerEntry{}, nil
	}
	entries = entries[skip:]
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (r *MemoryRepository) GetTransferByParticipant(ctx context.Context, participantID string) (*models.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	transfer, ok := r.transfers[participantID]
	if !ok {
		return nil, nil
	}
	t := *transfer
	return &t, nil
}
