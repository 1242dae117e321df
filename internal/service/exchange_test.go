package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rongwang/timebank-server/internal/event"
	"github.com/rongwang/timebank-server/internal/models"
	"github.com/rongwang/timebank-server/internal/repository"
	"github.com/rongwang/timebank-server/internal/service"
	"github.com/rongwang/timebank-server/internal/utils"
)

func newTestService(t *testing.T) (service.Service, *repository.MemoryRepository) {
	repo := repository.NewMemoryRepository()
	svc := service.NewDefaultService(repo, event.NewLogPublisher(utils.NewLogger()), "test-secret", 3)
	return svc, repo
}

func newTestUser(t *testing.T, repo repository.Repository, email string) string {
	user := &models.User{Email: email, Name: email, Password: "hash"}
	err := repo.CreateUser(context.Background(), user)
	assert.NoError(t, err)
	return user.ID
}

func newTestListing(t *testing.T, svc service.Service, ownerID string, kind models.ListingKind, capacity int) *models.Listing {
	resp, err := svc.CreateListing(context.Background(), ownerID, models.CreateListingRequest{
		Kind:     kind,
		Title:    "test listing",
		Capacity: capacity,
	})
	assert.NoError(t, err)
	return resp.Listing
}

func TestApplyInfersRole(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	applicant := newTestUser(t, repo, "applicant@example.com")

	need := newTestListing(t, svc, owner, models.ListingKindNeed, 1)
	offer := newTestListing(t, svc, owner, models.ListingKindOffer, 1)

	// Applying to a Need makes the applicant the provider
	resp, err := svc.Apply(ctx, applicant, need.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	assert.Equal(t, models.RoleProvider, resp.Participant.Role)
	assert.Equal(t, models.ParticipantPending, resp.Participant.Status)

	// Applying to an Offer makes the applicant the requester
	resp, err = svc.Apply(ctx, applicant, offer.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	assert.Equal(t, models.RoleRequester, resp.Participant.Role)
}

func TestApplyRejections(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	applicant := newTestUser(t, repo, "applicant@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindOffer, 1)

	// Owner applying to their own listing
	_, err := svc.Apply(ctx, owner, listing.ID, models.ApplyRequest{})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Duplicate live application
	_, err = svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	_, err = svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
	assert.ErrorIs(t, err, models.ErrAlreadyApplied)

	// Unknown listing
	_, err = svc.Apply(ctx, applicant, "missing-listing", models.ApplyRequest{})
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Terminal listing takes no applications
	cancelled := newTestListing(t, svc, owner, models.ListingKindOffer, 1)
	_, err = svc.CancelListing(ctx, owner, cancelled.ID)
	assert.NoError(t, err)
	_, err = svc.Apply(ctx, applicant, cancelled.ID, models.ApplyRequest{})
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestAcceptValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	applicant := newTestUser(t, repo, "applicant@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindNeed, 1)

	applied, err := svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	pid := applied.Participant.ID

	// Only the owner may accept
	_, err = svc.Accept(ctx, applicant, pid, models.AcceptRequest{Hours: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Hours must be positive
	_, err = svc.Accept(ctx, owner, pid, models.AcceptRequest{Hours: decimal.Zero})
	assert.ErrorIs(t, err, models.ErrInvalidHours)
	_, err = svc.Accept(ctx, owner, pid, models.AcceptRequest{Hours: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, models.ErrInvalidHours)

	// Valid accept records the agreed hours
	resp, err := svc.Accept(ctx, owner, pid, models.AcceptRequest{Hours: decimal.NewFromFloat(1.5)})
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantAccepted, resp.Participant.Status)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(resp.Participant.HoursContributed))

	// Accepting an already accepted participant is an invalid transition
	_, err = svc.Accept(ctx, owner, pid, models.AcceptRequest{Hours: decimal.NewFromInt(2)})
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestCapacityInvariant(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindNeed, 2)

	pids := make([]string, 3)
	for i := range pids {
		applicant := newTestUser(t, repo, fmt.Sprintf("applicant%d@example.com", i))
		resp, err := svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
		assert.NoError(t, err)
		pids[i] = resp.Participant.ID
	}

	hours := models.AcceptRequest{Hours: decimal.NewFromInt(1)}

	_, err := svc.Accept(ctx, owner, pids[0], hours)
	assert.NoError(t, err)
	_, err = svc.Accept(ctx, owner, pids[1], hours)
	assert.NoError(t, err)

	// Third accept exceeds capacity and leaves the applicant pending
	_, err = svc.Accept(ctx, owner, pids[2], hours)
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)
	third, err := repo.GetParticipant(ctx, pids[2])
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantPending, third.Status)

	// Stored counter matches the live count of accepted participants
	current, err := repo.GetListing(ctx, listing.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.ListingStatusFull, current.Status)
	assert.Equal(t, 2, current.AcceptedCount)
	assert.LessOrEqual(t, current.AcceptedCount, current.Capacity)

	participants, err := repo.GetListingParticipants(ctx, listing.ID)
	assert.NoError(t, err)
	var accepted int
	for _, p := range participants {
		if p.Status == models.ParticipantAccepted {
			accepted++
		}
	}
	assert.Equal(t, current.AcceptedCount, accepted)

	// Releasing one slot reopens the listing and lets the third accept land
	_, err = svc.Cancel(ctx, owner, pids[0])
	assert.NoError(t, err)
	current, err = repo.GetListing(ctx, listing.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, current.AcceptedCount)
	assert.Equal(t, models.ListingStatusActive, current.Status)

	_, err = svc.Accept(ctx, owner, pids[2], hours)
	assert.NoError(t, err)
}

func TestConfirmCompletion(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	provider := newTestUser(t, repo, "provider@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindNeed, 1)

	applied, err := svc.Apply(ctx, provider, listing.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	pid := applied.Participant.ID

	// Confirming before acceptance is an invalid transition
	_, err = svc.ConfirmCompletion(ctx, provider, pid)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	_, err = svc.Accept(ctx, owner, pid, models.AcceptRequest{Hours: decimal.NewFromInt(3)})
	assert.NoError(t, err)

	// A stranger cannot confirm
	stranger := newTestUser(t, repo, "stranger@example.com")
	_, err = svc.ConfirmCompletion(ctx, stranger, pid)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Provider confirms; no transfer yet
	resp, err := svc.ConfirmCompletion(ctx, provider, pid)
	assert.NoError(t, err)
	assert.Nil(t, resp.Transfer)
	assert.True(t, resp.Participant.ProviderConfirmed)
	assert.False(t, resp.Participant.RequesterConfirmed)

	// Same side again: idempotent, still no transfer
	resp, err = svc.ConfirmCompletion(ctx, provider, pid)
	assert.NoError(t, err)
	assert.Nil(t, resp.Transfer)

	// Owner (requester on a Need) completes the exchange
	resp, err = svc.ConfirmCompletion(ctx, owner, pid)
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, resp.Participant.Status)
	assert.NotNil(t, resp.Transfer)
	assert.Equal(t, provider, resp.Transfer.ProviderID)
	assert.Equal(t, owner, resp.Transfer.RequesterID)

	// Completion and transfer are a bijection: exactly one transfer exists
	transfer, err := repo.GetTransferByParticipant(ctx, pid)
	assert.NoError(t, err)
	assert.NotNil(t, transfer)
	assert.Equal(t, resp.Transfer.ID, transfer.ID)

	// Confirming after completion is answered with the recorded transfer
	resp, err = svc.ConfirmCompletion(ctx, owner, pid)
	assert.NoError(t, err)
	assert.NotNil(t, resp.Transfer)
	assert.Equal(t, transfer.ID, resp.Transfer.ID)

	// Completed exchanges are final
	_, err = svc.Cancel(ctx, provider, pid)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestCancelAuthorization(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	applicant := newTestUser(t, repo, "applicant@example.com")
	stranger := newTestUser(t, repo, "stranger@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindOffer, 1)

	applied, err := svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
	assert.NoError(t, err)
	pid := applied.Participant.ID

	_, err = svc.Cancel(ctx, stranger, pid)
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Either party may cancel; here the owner withdraws the application
	resp, err := svc.Cancel(ctx, owner, pid)
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantCancelled, resp.Participant.Status)

	// Terminal states reject further transitions
	_, err = svc.Decline(ctx, owner, pid)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)
}

func TestCancelListingWithAcceptedParticipant(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	owner := newTestUser(t, repo, "owner@example.com")
	applicant := newTestUser(t, repo, "applicant@example.com")
	listing := newTestListing(t, svc, owner, models.ListingKindNeed, 1)

	applied, err := svc.Apply(ctx, applicant, listing.ID, models.ApplyRequest{})
	assert.NoError(t, err)

	_, err = svc.Accept(ctx, owner, applied.Participant.ID, models.AcceptRequest{Hours: decimal.NewFromInt(1)})
	assert.NoError(t, err)

	// An accepted handshake blocks listing cancellation
	_, err = svc.CancelListing(ctx, owner, listing.ID)
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	_, err = svc.Cancel(ctx, applicant, applied.Participant.ID)
	assert.NoError(t, err)

	resp, err := svc.CancelListing(ctx, owner, listing.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.ListingStatusCancelled, resp.Listing.Status)
}
