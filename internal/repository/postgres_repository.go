package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rongwang/timebank-server/internal/models"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// GetDB returns the underlying database connection
func (r *PostgresRepository) GetDB() *sqlx.DB {
	return r.db
}

// User repository methods
func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	// Generate a new UUID if not provided
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Name, user.Password, user.CreatedAt, user.UpdatedAt)
	if isUniqueViolation(err) {
		return models.ErrEmailTaken
	}

	return err
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT * FROM users WHERE email = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT * FROM users WHERE id = $1`

	var user models.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, err
	}

	return &user, nil
}

// Listing repository methods
func (r *PostgresRepository) CreateListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (id, kind, owner_id, title, description, capacity,
			accepted_count, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	// Generate a new UUID if not provided
	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	listing.CreatedAt = now
	listing.UpdatedAt = now
	listing.AcceptedCount = 0
	listing.Status = models.ListingStatusActive

	_, err := r.db.ExecContext(ctx, query,
		listing.ID, listing.Kind, listing.OwnerID, listing.Title, listing.Description,
		listing.Capacity, listing.AcceptedCount, listing.Status,
		listing.CreatedAt, listing.UpdatedAt)

	return err
}

func (r *PostgresRepository) GetListing(ctx context.Context, listingID string) (*models.Listing, error) {
	query := `SELECT * FROM listings WHERE id = $1`

	var listing models.Listing
	err := r.db.GetContext(ctx, &listing, query, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return &listing, nil
}

func (r *PostgresRepository) GetUserListings(ctx context.Context, userID string) ([]models.Listing, error) {
	query := `SELECT * FROM listings WHERE owner_id = $1 ORDER BY created_at DESC`

	listings := []models.Listing{}
	err := r.db.SelectContext(ctx, &listings, query, userID)
	if err != nil {
		return nil, err
	}

	return listings, nil
}

// CancelListing moves an active or full listing to cancelled. Listings with
// accepted participants outstanding cannot be cancelled; those handshakes
// must be cancelled or completed first.
func (r *PostgresRepository) CancelListing(ctx context.Context, listingID string) (listing *models.Listing, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	listing = &models.Listing{}
	err = tx.GetContext(ctx, listing, `SELECT * FROM listings WHERE id = $1 FOR UPDATE`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	if listing.Status.Terminal() {
		return nil, models.ErrInvalidStateTransition
	}

	var acceptedCount int
	err = tx.GetContext(ctx, &acceptedCount,
		`SELECT COUNT(*) FROM participants WHERE listing_id = $1 AND status = 'accepted'`,
		listingID)
	if err != nil {
		return nil, err
	}
	if acceptedCount > 0 {
		err = models.ErrInvalidStateTransition
		return nil, err
	}

	listing.Status = models.ListingStatusCancelled
	listing.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE listings SET status = $1, updated_at = $2 WHERE id = $3`,
		listing.Status, listing.UpdatedAt, listingID)
	if err != nil {
		return nil, err
	}

	return listing, tx.Commit()
}

func (r *PostgresRepository) GetListingParticipants(ctx context.Context, listingID string) ([]models.Participant, error) {
	query := `SELECT * FROM participants WHERE listing_id = $1 ORDER BY created_at ASC`

	participants := []models.Participant{}
	err := r.db.SelectContext(ctx, &participants, query, listingID)
	if err != nil {
		return nil, err
	}

	return participants, nil
}

// Handshake repository methods
func (r *PostgresRepository) CreateParticipant(ctx context.Context, participant *models.Participant) error {
	query := `
		INSERT INTO participants (id, listing_id, user_id, role, status,
			hours_contributed, message, preferred_slot,
			provider_confirmed, requester_confirmed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	// Generate a new UUID if not provided
	if participant.ID == "" {
		participant.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	participant.CreatedAt = now
	participant.UpdatedAt = now
	participant.Status = models.ParticipantPending
	participant.HoursContributed = decimal.Zero

	_, err := r.db.ExecContext(ctx, query,
		participant.ID, participant.ListingID, participant.UserID,
		participant.Role, participant.Status, participant.HoursContributed,
		participant.Message, participant.PreferredSlot,
		participant.ProviderConfirmed, participant.RequesterConfirmed,
		participant.CreatedAt, participant.UpdatedAt)
	if isUniqueViolation(err) {
		// Partial unique index on live (listing, applicant) pairs
		return models.ErrAlreadyApplied
	}

	return err
}

func (r *PostgresRepository) GetParticipant(ctx context.Context, participantID string) (*models.Participant, error) {
	query := `SELECT * FROM participants WHERE id = $1`

	var participant models.Participant
	err := r.db.GetContext(ctx, &participant, query, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return &participant, nil
}

// AcceptParticipant reserves a listing slot and moves the participant from
// pending to accepted in one transaction. If no slot is free the participant
// is left pending and ErrCapacityExceeded is returned.
func (r *PostgresRepository) AcceptParticipant(ctx context.Context, participantID string, hours decimal.Decimal) (participant *models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	participant, err = r.lockParticipantTx(ctx, tx, participantID)
	if err != nil {
		return nil, err
	}

	if participant.Status != models.ParticipantPending {
		err = models.ErrInvalidStateTransition
		return nil, err
	}

	now := time.Now().UTC()

	// Reserve a slot: conditional increment so two concurrent accepts can
	// never both take the last one. Flips status to full when the counter
	// reaches capacity.
	var count int
	var status models.ListingStatus
	err = tx.QueryRowContext(ctx, `
		UPDATE listings
		SET accepted_count = accepted_count + 1,
			status = CASE WHEN accepted_count + 1 >= capacity THEN 'full' ELSE status END,
			updated_at = $2
		WHERE id = $1 AND status = 'active' AND accepted_count < capacity
		RETURNING accepted_count, status`,
		participant.ListingID, now).Scan(&count, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = r.reserveFailureTx(ctx, tx, participant.ListingID)
		}
		return nil, err
	}

	participant.Status = models.ParticipantAccepted
	participant.HoursContributed = hours
	participant.UpdatedAt = now
	_, err = tx.ExecContext(ctx, `
		UPDATE participants
		SET status = $1, hours_contributed = $2, updated_at = $3
		WHERE id = $4`,
		participant.Status, participant.HoursContributed, participant.UpdatedAt, participantID)
	if err != nil {
		return nil, err
	}

	return participant, tx.Commit()
}

// reserveFailureTx classifies why the slot reservation matched no row.
func (r *PostgresRepository) reserveFailureTx(ctx context.Context, tx *sqlx.Tx, listingID string) error {
	var status models.ListingStatus
	err := tx.GetContext(ctx, &status, `SELECT status FROM listings WHERE id = $1`, listingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		return err
	}

	if status == models.ListingStatusFull {
		return models.ErrCapacityExceeded
	}
	return models.ErrInvalidStateTransition
}

func (r *PostgresRepository) DeclineParticipant(ctx context.Context, participantID string) (participant *models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	participant, err = r.lockParticipantTx(ctx, tx, participantID)
	if err != nil {
		return nil, err
	}

	if participant.Status != models.ParticipantPending {
		err = models.ErrInvalidStateTransition
		return nil, err
	}

	// No slot was ever reserved for a pending participant
	participant.Status = models.ParticipantDeclined
	participant.UpdatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE participants SET status = $1, updated_at = $2 WHERE id = $3`,
		participant.Status, participant.UpdatedAt, participantID)
	if err != nil {
		return nil, err
	}

	return participant, tx.Commit()
}

// ConfirmParticipant records one side's completion confirmation. Confirming
// twice by the same role is a no-op. When both sides have confirmed, the
// participant moves to completed and the ledger transfer is written in the
// same transaction, so a completed participant always has its transfer.
// A participant that is already completed returns its existing transfer
// together with ErrDuplicateTransfer.
func (r *PostgresRepository) ConfirmParticipant(ctx context.Context, participantID string, role models.ParticipantRole) (participant *models.Participant, transfer *models.Transfer, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	participant, err = r.lockParticipantTx(ctx, tx, participantID)
	if err != nil {
		return nil, nil, err
	}

	if participant.Status == models.ParticipantCompleted {
		transfer, terr := r.GetTransferByParticipant(ctx, participantID)
		if terr != nil {
			return nil, nil, terr
		}
		err = models.ErrDuplicateTransfer
		return participant, transfer, err
	}

	if participant.Status != models.ParticipantAccepted {
		err = models.ErrInvalidStateTransition
		return nil, nil, err
	}

	if participant.Confirmed(role) {
		// Idempotent: same role confirming again changes nothing
		err = tx.Commit()
		return participant, nil, err
	}

	if role == models.RoleProvider {
		participant.ProviderConfirmed = true
	} else {
		participant.RequesterConfirmed = true
	}
	participant.UpdatedAt = time.Now().UTC()

	if !(participant.ProviderConfirmed && participant.RequesterConfirmed) {
		_, err = tx.ExecContext(ctx, `
			UPDATE participants
			SET provider_confirmed = $1, requester_confirmed = $2, updated_at = $3
			WHERE id = $4`,
			participant.ProviderConfirmed, participant.RequesterConfirmed,
			participant.UpdatedAt, participantID)
		if err != nil {
			return nil, nil, err
		}
		return participant, nil, tx.Commit()
	}

	// Both sides confirmed: complete the handshake and move the hours
	var ownerID string
	err = tx.GetContext(ctx, &ownerID, `SELECT owner_id FROM listings WHERE id = $1`, participant.ListingID)
	if err != nil {
		return nil, nil, err
	}

	providerID, requesterID := participant.UserID, ownerID
	if participant.Role == models.RoleRequester {
		providerID, requesterID = ownerID, participant.UserID
	}

	transfer, err = r.transferTx(ctx, tx, providerID, requesterID, participant.HoursContributed, participantID)
	if err != nil {
		return nil, nil, err
	}

	participant.Status = models.ParticipantCompleted
	_, err = tx.ExecContext(ctx, `
		UPDATE participants
		SET status = $1, provider_confirmed = TRUE, requester_confirmed = TRUE, updated_at = $2
		WHERE id = $3`,
		participant.Status, participant.UpdatedAt, participantID)
	if err != nil {
		return nil, nil, err
	}

	return participant, transfer, tx.Commit()
}

func (r *PostgresRepository) CancelParticipant(ctx context.Context, participantID string) (participant *models.Participant, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
			return
		}
	}()

	participant, err = r.lockParticipantTx(ctx, tx, participantID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	switch participant.Status {
	case models.ParticipantPending:
		// Nothing was reserved; only the handshake state changes
	case models.ParticipantAccepted:
		// Release the slot. A full listing reopens; terminal listings keep
		// their status.
		_, err = tx.ExecContext(ctx, `
			UPDATE listings
			SET accepted_count = GREATEST(accepted_count - 1, 0),
				status = CASE WHEN status = 'full' THEN 'active' ELSE status END,
				updated_at = $2
			WHERE id = $1`,
			participant.ListingID, now)
		if err != nil {
			return nil, err
		}
	default:
		err = models.ErrInvalidStateTransition
		return nil, err
	}

	participant.Status = models.ParticipantCancelled
	participant.UpdatedAt = now
	_, err = tx.ExecContext(ctx,
		`UPDATE participants SET status = $1, updated_at = $2 WHERE id = $3`,
		participant.Status, participant.UpdatedAt, participantID)
	if err != nil {
		return nil, err
	}

	return participant, tx.Commit()
}

// Ledger repository methods

// transferTx writes the debit/credit entry pair and the transfer record.
// Both user rows are locked in id order so concurrent transfers touching the
// same accounts serialize without deadlocking.
func (r *PostgresRepository) transferTx(ctx context.Context, tx *sqlx.Tx, providerID, requesterID string, hours decimal.Decimal, participantID string) (*models.Transfer, error) {
	if !hours.IsPositive() {
		return nil, models.ErrInvalidHours
	}
	if providerID == requesterID {
		return nil, models.ErrInvalidStateTransition
	}

	first, second := providerID, requesterID
	if second < first {
		first, second = second, first
	}
	for _, id := range []string{first, second} {
		if _, err := tx.ExecContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()

	requesterBalance, err := r.latestBalanceTx(ctx, tx, requesterID)
	if err != nil {
		return nil, err
	}
	debitEntry := &models.LedgerEntry{
		ID:              uuid.New().String(),
		UserID:          requesterID,
		Debit:           hours,
		Credit:          decimal.Zero,
		Balance:         requesterBalance.Sub(hours),
		TransactionType: models.TransactionExchangeDebit,
		ParticipantID:   &participantID,
		CreatedAt:       now,
	}
	if err := r.insertEntryTx(ctx, tx, debitEntry); err != nil {
		return nil, err
	}

	providerBalance, err := r.latestBalanceTx(ctx, tx, providerID)
	if err != nil {
		return nil, err
	}
	creditEntry := &models.LedgerEntry{
		ID:              uuid.New().String(),
		UserID:          providerID,
		Debit:           decimal.Zero,
		Credit:          hours,
		Balance:         providerBalance.Add(hours),
		TransactionType: models.TransactionExchangeCredit,
		ParticipantID:   &participantID,
		CreatedAt:       now,
	}
	if err := r.insertEntryTx(ctx, tx, creditEntry); err != nil {
		return nil, err
	}

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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transfers (id, participant_id, provider_id, requester_id,
			hours, debit_entry_id, credit_entry_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		transfer.ID, transfer.ParticipantID, transfer.ProviderID, transfer.RequesterID,
		transfer.Hours, transfer.DebitEntryID, transfer.CreditEntryID, transfer.CreatedAt)
	if isUniqueViolation(err) {
		return nil, models.ErrDuplicateTransfer
	}
	if err != nil {
		return nil, err
	}

	return transfer, nil
}

func (r *PostgresRepository) insertEntryTx(ctx context.Context, tx *sqlx.Tx, entry *models.LedgerEntry) error {
	return tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, debit, credit, balance,
			transaction_type, participant_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		entry.ID, entry.UserID, entry.Debit, entry.Credit, entry.Balance,
		entry.TransactionType, entry.ParticipantID, entry.CreatedAt).Scan(&entry.Seq)
}

func (r *PostgresRepository) latestBalanceTx(ctx context.Context, tx *sqlx.Tx, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, `
		SELECT balance FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil // No entries yet
		}
		return decimal.Zero, err
	}

	return balance, nil
}

func (r *PostgresRepository) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.GetContext(ctx, &balance, `
		SELECT balance FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT 1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil // No entries yet
		}
		return decimal.Zero, err
	}

	return balance, nil
}

func (r *PostgresRepository) GetLedgerEntries(ctx context.Context, userID string, skip, limit int) ([]models.LedgerEntry, error) {
	query := `
		SELECT * FROM ledger_entries
		WHERE user_id = $1
		ORDER BY seq DESC
		OFFSET $2 LIMIT $3
	`

	entries := []models.LedgerEntry{}
	err := r.db.SelectContext(ctx, &entries, query, userID, skip, limit)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *PostgresRepository) GetTransferByParticipant(ctx context.Context, participantID string) (*models.Transfer, error) {
	query := `SELECT * FROM transfers WHERE participant_id = $1`

	var transfer models.Transfer
	err := r.db.GetContext(ctx, &transfer, query, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // No transfer yet
		}
		return nil, err
	}

	return &transfer, nil
}

// Helpers
func (r *PostgresRepository) lockParticipantTx(ctx context.Context, tx *sqlx.Tx, participantID string) (*models.Participant, error) {
	var participant models.Participant
	err := tx.GetContext(ctx, &participant,
		`SELECT * FROM participants WHERE id = $1 FOR UPDATE`, participantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}

	return &participant, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// IsTransient reports whether err is a retryable persistence failure
// (serialization failure or deadlock).
func IsTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
