package httpgin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/raffleworks/raffle-go/internal/clock"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	"github.com/raffleworks/raffle-go/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*gin.Engine, *clock.Fake) {
	t.Helper()

	gin.SetMode(gin.TestMode)

	clk := clock.NewFake(testStart)
	arena := ledger.NewArena(ledger.Config{}, clk)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svcs := service.NewServices(arena, nil, nil, nil, nil, clk, logger, service.Config{})

	return NewRouter(svcs, nil, logger), clk
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	return w
}

func openCompetition(t *testing.T, r http.Handler, id int64, total, perOrder int) {
	t.Helper()

	w := doJSON(t, r, http.MethodPost, "/admin/competitions", OpenCompetitionRequest{
		CompetitionID:   id,
		TotalTickets:    total,
		NumbersPerOrder: perOrder,
	})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestHoldLifecycleOverHTTP(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	// create
	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{3, 7},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var hold HoldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))
	assert.Equal(t, []int{3, 7}, hold.Numbers)
	assert.NotEmpty(t, hold.HoldID)

	// conflicting request reports exactly the clash
	w = doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 200,
		Numbers:  []int{7, 9},
	})
	require.Equal(t, http.StatusConflict, w.Code)

	var conflict ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &conflict))
	assert.Equal(t, []int{7}, conflict.Conflicting)

	// renew
	w = doJSON(t, r, http.MethodPost, "/competitions/1/holds/"+hold.HoldID+"/renew", RenewHoldRequest{
		HolderID: 100,
		TTLSec:   120,
	})
	require.Equal(t, http.StatusOK, w.Code)

	// finalize
	w = doJSON(t, r, http.MethodPost, "/competitions/1/purchases", FinalizePurchaseRequest{
		HoldID:   hold.HoldID,
		HolderID: 100,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var purchase PurchaseResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &purchase))
	assert.Equal(t, []int{3, 7}, purchase.Numbers)

	// holder's owned numbers
	w = doJSON(t, r, http.MethodGet, "/competitions/1/holders/100/numbers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var owned PurchasedNumbersResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &owned))
	assert.Equal(t, []int{3, 7}, owned.Numbers)
}

func TestCreateHoldLuckyDip(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{HolderID: 100})
	require.Equal(t, http.StatusCreated, w.Code)

	var hold HoldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))
	assert.Len(t, hold.Numbers, 2)
}

func TestCancelHold(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{1, 2},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var hold HoldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))

	path := fmt.Sprintf("/competitions/1/holds/%s?holder_id=100", hold.HoldID)
	w = doJSON(t, r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// someone else's delete is forbidden
	w = doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 300,
		Numbers:  []int{5, 6},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))

	path = fmt.Sprintf("/competitions/1/holds/%s?holder_id=400", hold.HoldID)
	w = doJSON(t, r, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestExpiredHoldOverHTTP(t *testing.T) {
	t.Parallel()

	r, clk := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{3, 7},
		TTLSec:   30,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var hold HoldResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hold))

	clk.Advance(10 * time.Minute)

	w = doJSON(t, r, http.MethodPost, "/competitions/1/purchases", FinalizePurchaseRequest{
		HoldID:   hold.HoldID,
		HolderID: 100,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAvailabilityEndpoint(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{3, 7},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/competitions/1/availability", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("ETag"))

	var av domain.Availability
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &av))
	assert.Equal(t, 8, av.FreeCount)
	assert.Equal(t, []int{3, 7}, av.HeldNumbers)

	w = doJSON(t, r, http.MethodGet, "/competitions/99/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNumberStatusesEndpoint(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{3, 7},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodGet, "/competitions/1/numbers?only=free", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var statuses []domain.NumberStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	assert.Len(t, statuses, 8)

	w = doJSON(t, r, http.MethodGet, "/competitions/1/numbers?limit=3&offset=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 3)
	assert.Equal(t, 4, statuses[0].Number)
}

func TestBadRequests(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	// wrong selection size
	w := doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{3},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// out-of-range numbers
	w = doJSON(t, r, http.MethodPost, "/competitions/1/holds", CreateHoldRequest{
		HolderID: 100,
		Numbers:  []int{0, 11},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// non-numeric competition id
	w = doJSON(t, r, http.MethodGet, "/competitions/abc/availability", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)
	openCompetition(t, r, 1, 10, 2)

	// duplicate open
	w := doJSON(t, r, http.MethodPost, "/admin/competitions", OpenCompetitionRequest{
		CompetitionID:   1,
		TotalTickets:    10,
		NumbersPerOrder: 2,
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// archive
	w = doJSON(t, r, http.MethodDelete, "/admin/competitions/1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, r, http.MethodGet, "/competitions/1/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	r, _ := newTestServer(t)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
