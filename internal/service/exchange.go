package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rongwang/timebank-server/internal/event"
	"github.com/rongwang/timebank-server/internal/models"
)

// Listing operations
func (s *DefaultService) CreateListing(
	ctx context.Context,
	userID string,
	req models.CreateListingRequest,
) (*models.ListingResponse, error) {
	listing := &models.Listing{
		Kind:        req.Kind,
		OwnerID:     userID,
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
	}

	if err := s.repo.CreateListing(ctx, listing); err != nil {
		return nil, fmt.Errorf("error creating listing: %w", err)
	}

	return &models.ListingResponse{Status: "success", Listing: listing}, nil
}

func (s *DefaultService) GetListing(ctx context.Context, listingID string) (*models.ListingResponse, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	return &models.ListingResponse{Status: "success", Listing: listing}, nil
}

func (s *DefaultService) GetUserListings(ctx context.Context, userID string) (*models.ListingsResponse, error) {
	listings, err := s.repo.GetUserListings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting listings: %w", err)
	}

	return &models.ListingsResponse{Status: "success", Listings: listings}, nil
}

func (s *DefaultService) CancelListing(ctx context.Context, userID, listingID string) (*models.ListingResponse, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != userID {
		return nil, models.ErrUnauthorized
	}

	var cancelled *models.Listing
	err = s.retry(func() error {
		var opErr error
		cancelled, opErr = s.repo.CancelListing(ctx, listingID)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	return &models.ListingResponse{Status: "success", Listing: cancelled}, nil
}

func (s *DefaultService) ListParticipants(ctx context.Context, userID, listingID string) (*models.ParticipantsResponse, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != userID {
		return nil, models.ErrUnauthorized
	}

	participants, err := s.repo.GetListingParticipants(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("error getting participants: %w", err)
	}

	return &models.ParticipantsResponse{
		Status:       "success",
		ListingID:    listingID,
		Participants: participants,
	}, nil
}

// Handshake operations

// Apply creates a pending participant for the caller on the listing. The
// caller's role follows from the listing kind: offering help on a Need makes
// them the provider, taking up an Offer makes them the requester.
func (s *DefaultService) Apply(
	ctx context.Context,
	userID string,
	listingID string,
	req models.ApplyRequest,
) (*models.ParticipantResponse, error) {
	listing, err := s.repo.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}

	if listing.OwnerID == userID {
		// Owners cannot apply to their own listings
		return nil, models.ErrUnauthorized
	}

	// Applications are queued even while the listing is full; a slot is only
	// reserved at accept-time. Terminal listings take no applications.
	if listing.Status.Terminal() {
		return nil, models.ErrInvalidStateTransition
	}

	participant := &models.Participant{
		ListingID:     listingID,
		UserID:        userID,
		Role:          models.RoleForApplicant(listing.Kind),
		Message:       req.Message,
		PreferredSlot: req.PreferredSlot,
	}

	err = s.retry(func() error {
		return s.repo.CreateParticipant(ctx, participant)
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.TypeApplicationReceived, listing.OwnerID, map[string]string{
		"listingId":     listingID,
		"participantId": participant.ID,
	})

	return &models.ParticipantResponse{Status: "success", Participant: participant}, nil
}

// Accept moves a pending participant to accepted, reserving one listing
// slot. Only the listing owner may accept, and hours must be positive.
func (s *DefaultService) Accept(
	ctx context.Context,
	userID string,
	participantID string,
	req models.AcceptRequest,
) (*models.ParticipantResponse, error) {
	participant, listing, err := s.loadHandshake(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != userID {
		return nil, models.ErrUnauthorized
	}
	if !req.Hours.IsPositive() {
		return nil, models.ErrInvalidHours
	}

	var accepted *models.Participant
	err = s.retry(func() error {
		var opErr error
		accepted, opErr = s.repo.AcceptParticipant(ctx, participantID, req.Hours)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.TypeApplicationAccepted, participant.UserID, map[string]string{
		"listingId":     listing.ID,
		"participantId": participantID,
	})

	return &models.ParticipantResponse{Status: "success", Participant: accepted}, nil
}

// Decline rejects a pending participant. Only the listing owner may decline;
// no slot is released because none was reserved.
func (s *DefaultService) Decline(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error) {
	participant, listing, err := s.loadHandshake(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if listing.OwnerID != userID {
		return nil, models.ErrUnauthorized
	}

	var declined *models.Participant
	err = s.retry(func() error {
		var opErr error
		declined, opErr = s.repo.DeclineParticipant(ctx, participantID)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, event.TypeApplicationDeclined, participant.UserID, map[string]string{
		"listingId":     listing.ID,
		"participantId": participantID,
	})

	return &models.ParticipantResponse{Status: "success", Participant: declined}, nil
}

// ConfirmCompletion records the caller's side of the completion handshake.
// When the second side confirms, the exchange completes and the hours move;
// a confirmation retried after the exchange already completed is answered
// with the existing transfer rather than an error.
func (s *DefaultService) ConfirmCompletion(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error) {
	participant, listing, err := s.loadHandshake(ctx, participantID)
	if err != nil {
		return nil, err
	}

	var role models.ParticipantRole
	switch userID {
	case participant.UserID:
		role = participant.Role
	case listing.OwnerID:
		role = participant.Role.Opposite()
	default:
		return nil, models.ErrUnauthorized
	}

	var confirmed *models.Participant
	var transfer *models.Transfer
	err = s.retry(func() error {
		var opErr error
		confirmed, transfer, opErr = s.repo.ConfirmParticipant(ctx, participantID, role)
		return opErr
	})
	if errors.Is(err, models.ErrDuplicateTransfer) {
		// The exchange already completed (e.g. a confirmation retried after
		// a crash); answer with the recorded outcome.
		return &models.ParticipantResponse{
			Status:      "success",
			Participant: confirmed,
			Transfer:    transfer,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &models.ParticipantResponse{Status: "success", Participant: confirmed, Transfer: transfer}

	related := map[string]string{
		"listingId":     listing.ID,
		"participantId": participantID,
	}

	if transfer == nil {
		// One side has confirmed; nudge the other
		other := participant.UserID
		if userID == participant.UserID {
			other = listing.OwnerID
		}
		s.emit(ctx, event.TypeExchangeAwaitingConfirmation, other, related)
		return resp, nil
	}

	related["transferId"] = transfer.ID
	s.emit(ctx, event.TypeExchangeCompleted, transfer.ProviderID, related)
	s.emit(ctx, event.TypeExchangeCompleted, transfer.RequesterID, related)

	// Borrowing hours is allowed; a negative balance is advisory only
	balance, err := s.repo.GetBalance(ctx, transfer.RequesterID)
	if err != nil {
		s.logger.Error("failed to read requester balance after transfer %s: %v", transfer.ID, err)
		return resp, nil
	}
	if balance.IsNegative() {
		resp.Warning = fmt.Sprintf("requester balance is negative (%s hours)", balance.String())
	}

	return resp, nil
}

// Cancel withdraws a pending or accepted participant. Either party may
// cancel; an accepted participant's slot is released and a full listing
// reopens. Completed exchanges are final.
func (s *DefaultService) Cancel(ctx context.Context, userID, participantID string) (*models.ParticipantResponse, error) {
	participant, listing, err := s.loadHandshake(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if userID != participant.UserID && userID != listing.OwnerID {
		return nil, models.ErrUnauthorized
	}

	var cancelled *models.Participant
	err = s.retry(func() error {
		var opErr error
		cancelled, opErr = s.repo.CancelParticipant(ctx, participantID)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	// Notify the party that did not initiate the cancellation
	other := participant.UserID
	if userID == participant.UserID {
		other = listing.OwnerID
	}
	s.emit(ctx, event.TypeParticipantCancelled, other, map[string]string{
		"listingId":     listing.ID,
		"participantId": participantID,
	})

	return &models.ParticipantResponse{Status: "success", Participant: cancelled}, nil
}

// loadHandshake resolves a participant together with its parent listing.
func (s *DefaultService) loadHandshake(ctx context.Context, participantID string) (*models.Participant, *models.Listing, error) {
	participant, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, nil, err
	}

	listing, err := s.repo.GetListing(ctx, participant.ListingID)
	if err != nil {
		return nil, nil, err
	}

	return participant, listing, nil
}
