package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/rongwang/timebank-server/internal/api/testutils"
	"github.com/rongwang/timebank-server/internal/models"
)

func createListing(t *testing.T, testCtx *testutils.TestContext, token string, kind models.ListingKind, capacity int) string {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings",
		models.CreateListingRequest{Kind: kind, Title: "Test listing", Capacity: capacity},
		testutils.AuthHeaders(token),
	)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp models.ListingResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp.Listing.ID
}

func applyToListing(t *testing.T, testCtx *testutils.TestContext, token, listingID string) *models.Participant {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/apply",
		models.ApplyRequest{Message: "happy to help", PreferredSlot: "saturday-am"},
		testutils.AuthHeaders(token),
	)
	assert.Equal(t, http.StatusCreated, w.Code)

	var resp models.ParticipantResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.NotNil(t, resp.Participant)
	return resp.Participant
}

func getListing(t *testing.T, testCtx *testutils.TestContext, token, listingID string) *models.Listing {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/listings/"+listingID,
		nil,
		testutils.AuthHeaders(token),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ListingResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp.Listing
}

func getBalance(t *testing.T, testCtx *testutils.TestContext, token string) decimal.Decimal {
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/balance",
		nil,
		testutils.AuthHeaders(token),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.BalanceResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	return resp.Balance
}

// Full handshake: a Need with capacity 2, two applicants accepted, one
// exchange confirmed by both sides and settled in the ledger.
func TestExchangeFlow(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	ownerJWT := testCtx.TestUserJWT

	_, aJWT := testutils.CreateTestUser(t, testCtx.Repository, "applicant.a@example.com", "Applicant A")
	_, bJWT := testutils.CreateTestUser(t, testCtx.Repository, "applicant.b@example.com", "Applicant B")

	listingID := createListing(t, testCtx, ownerJWT, models.ListingKindNeed, 2)

	// Both applicants apply; applying to a Need makes them providers
	pa := applyToListing(t, testCtx, aJWT, listingID)
	pb := applyToListing(t, testCtx, bJWT, listingID)
	assert.Equal(t, models.RoleProvider, pa.Role)
	assert.Equal(t, models.ParticipantPending, pa.Status)

	// Applying twice is rejected
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/apply",
		models.ApplyRequest{},
		testutils.AuthHeaders(aJWT),
	)
	assert.Equal(t, http.StatusConflict, w.Code)

	// The owner cannot apply to their own listing
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/apply",
		models.ApplyRequest{},
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Only the owner accepts; an applicant accepting another applicant is forbidden
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pb.ID+"/accept",
		models.AcceptRequest{Hours: decimal.NewFromInt(3)},
		testutils.AuthHeaders(aJWT),
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Owner accepts both with 3 hours each; listing fills up
	for _, pid := range []string{pa.ID, pb.ID} {
		w = testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/api/participants/"+pid+"/accept",
			models.AcceptRequest{Hours: decimal.NewFromInt(3)},
			testutils.AuthHeaders(ownerJWT),
		)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	listing := getListing(t, testCtx, ownerJWT, listingID)
	assert.Equal(t, 2, listing.AcceptedCount)
	assert.Equal(t, models.ListingStatusFull, listing.Status)

	// A confirms; exchange waits for the owner
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pa.ID+"/confirm",
		nil,
		testutils.AuthHeaders(aJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var confirmResp models.ParticipantResponse
	err := json.Unmarshal(w.Body.Bytes(), &confirmResp)
	assert.NoError(t, err)
	assert.Nil(t, confirmResp.Transfer)
	assert.Equal(t, models.ParticipantAccepted, confirmResp.Participant.Status)
	assert.True(t, confirmResp.Participant.ProviderConfirmed)

	// A confirming again is a no-op, not an error
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pa.ID+"/confirm",
		nil,
		testutils.AuthHeaders(aJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	err = json.Unmarshal(w.Body.Bytes(), &confirmResp)
	assert.NoError(t, err)
	assert.Nil(t, confirmResp.Transfer)

	// Owner confirms; the exchange completes and 3 hours move from the
	// owner (requester on a Need) to applicant A
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pa.ID+"/confirm",
		nil,
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	err = json.Unmarshal(w.Body.Bytes(), &confirmResp)
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantCompleted, confirmResp.Participant.Status)
	assert.NotNil(t, confirmResp.Transfer)
	assert.True(t, decimal.NewFromInt(3).Equal(confirmResp.Transfer.Hours))
	// Requester started at zero, so borrowing 3 hours raises the advisory
	assert.NotEmpty(t, confirmResp.Warning)

	assert.True(t, decimal.NewFromInt(3).Equal(getBalance(t, testCtx, aJWT)))
	assert.True(t, decimal.NewFromInt(-3).Equal(getBalance(t, testCtx, ownerJWT)))

	// Confirming a completed exchange returns the recorded transfer, and the
	// ledger is untouched
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pa.ID+"/confirm",
		nil,
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	err = json.Unmarshal(w.Body.Bytes(), &confirmResp)
	assert.NoError(t, err)
	assert.NotNil(t, confirmResp.Transfer)
	assert.True(t, decimal.NewFromInt(3).Equal(getBalance(t, testCtx, aJWT)))

	// Cancelling a completed exchange is rejected
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pa.ID+"/cancel",
		nil,
		testutils.AuthHeaders(aJWT),
	)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// B (accepted, unconfirmed) cancels; the slot frees and the listing reopens
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+pb.ID+"/cancel",
		nil,
		testutils.AuthHeaders(bJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	listing = getListing(t, testCtx, ownerJWT, listingID)
	assert.Equal(t, 1, listing.AcceptedCount)
	assert.Equal(t, models.ListingStatusActive, listing.Status)
}

func TestCancelPendingApplication(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	ownerJWT := testCtx.TestUserJWT

	_, applicantJWT := testutils.CreateTestUser(t, testCtx.Repository, "applicant@example.com", "Applicant")

	listingID := createListing(t, testCtx, ownerJWT, models.ListingKindOffer, 1)
	p := applyToListing(t, testCtx, applicantJWT, listingID)
	assert.Equal(t, models.RoleRequester, p.Role)

	// Cancelling a pending application leaves the slot counter untouched
	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+p.ID+"/cancel",
		nil,
		testutils.AuthHeaders(applicantJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ParticipantResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, models.ParticipantCancelled, resp.Participant.Status)

	listing := getListing(t, testCtx, ownerJWT, listingID)
	assert.Equal(t, 0, listing.AcceptedCount)
	assert.Equal(t, models.ListingStatusActive, listing.Status)

	// A declined applicant is terminal too
	p2 := applyToListing(t, testCtx, applicantJWT, listingID)
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+p2.ID+"/decline",
		nil,
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+p2.ID+"/accept",
		models.AcceptRequest{Hours: decimal.NewFromInt(1)},
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestLedgerHistory(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)
	ownerJWT := testCtx.TestUserJWT

	_, providerJWT := testutils.CreateTestUser(t, testCtx.Repository, "provider@example.com", "Provider")

	listingID := createListing(t, testCtx, ownerJWT, models.ListingKindNeed, 1)
	p := applyToListing(t, testCtx, providerJWT, listingID)

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/participants/"+p.ID+"/accept",
		models.AcceptRequest{Hours: decimal.NewFromInt(2)},
		testutils.AuthHeaders(ownerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	for _, token := range []string{providerJWT, ownerJWT} {
		w = testutils.PerformRequest(
			testCtx.Router,
			http.MethodPost,
			"/api/participants/"+p.ID+"/confirm",
			nil,
			testutils.AuthHeaders(token),
		)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Provider history holds exactly one credit entry with the snapshot
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/ledger?skip=0&limit=10",
		nil,
		testutils.AuthHeaders(providerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)

	var historyResp models.LedgerHistoryResponse
	err := json.Unmarshal(w.Body.Bytes(), &historyResp)
	assert.NoError(t, err)
	assert.Len(t, historyResp.Entries, 1)
	assert.Equal(t, models.TransactionExchangeCredit, historyResp.Entries[0].TransactionType)
	assert.True(t, decimal.NewFromInt(2).Equal(historyResp.Entries[0].Credit))
	assert.True(t, decimal.NewFromInt(2).Equal(historyResp.Entries[0].Balance))

	// Skipping past the only entry yields an empty page
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodGet,
		"/api/ledger?skip=1&limit=10",
		nil,
		testutils.AuthHeaders(providerJWT),
	)
	assert.Equal(t, http.StatusOK, w.Code)
	err = json.Unmarshal(w.Body.Bytes(), &historyResp)
	assert.NoError(t, err)
	assert.Len(t, historyResp.Entries, 0)
}
