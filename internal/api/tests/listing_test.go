package api_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rongwang/timebank-server/internal/api/testutils"
	"github.com/rongwang/timebank-server/internal/models"
)

func TestCreateListing(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	// Test case 1: Successful listing creation
	createReq := models.CreateListingRequest{
		Kind:        models.ListingKindOffer,
		Title:       "Guitar lessons",
		Description: "One-on-one beginner guitar lessons",
		Capacity:    2,
	}

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings",
		createReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response models.ListingResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.NotNil(t, response.Listing)
	assert.NotEmpty(t, response.Listing.ID)
	assert.Equal(t, models.ListingStatusActive, response.Listing.Status)
	assert.Equal(t, 0, response.Listing.AcceptedCount)

	// Test case 2: Invalid request (bad kind, no capacity)
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings",
		map[string]interface{}{"kind": "barter", "title": "Broken"},
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Test case 3: Unauthorized request (no token)
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings",
		createReq,
		nil,
	)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCancelListing(t *testing.T) {
	testCtx := testutils.SetupTestContext(t)

	createReq := models.CreateListingRequest{
		Kind:     models.ListingKindNeed,
		Title:    "Help moving apartments",
		Capacity: 1,
	}

	w := testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings",
		createReq,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	var response models.ListingResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	listingID := response.Listing.ID

	// Test case 1: Non-owner cannot cancel
	_, otherJWT := testutils.CreateTestUser(t, testCtx.Repository, "other@example.com", "Other User")

	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/cancel",
		nil,
		testutils.AuthHeaders(otherJWT),
	)

	assert.Equal(t, http.StatusForbidden, w.Code)

	// Test case 2: Owner cancels successfully
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/cancel",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusOK, w.Code)

	err = json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, models.ListingStatusCancelled, response.Listing.Status)

	// Test case 3: Cancelling again is an invalid transition
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/"+listingID+"/cancel",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	// Test case 4: Cancel non-existent listing
	w = testutils.PerformRequest(
		testCtx.Router,
		http.MethodPost,
		"/api/listings/non-existent-id/cancel",
		nil,
		testutils.AuthHeaders(testCtx.TestUserJWT),
	)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
