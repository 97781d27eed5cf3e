package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raffleworks/raffle-go/internal/domain"
	"github.com/raffleworks/raffle-go/internal/ledger"
	redisrepo "github.com/raffleworks/raffle-go/internal/repository/redis"
	"github.com/raffleworks/raffle-go/internal/service"
	"github.com/raffleworks/raffle-go/internal/service/admin"
	"github.com/raffleworks/raffle-go/internal/service/allocation"
	"github.com/raffleworks/raffle-go/internal/service/reservation"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	r.GET("/competitions/:id/availability", handleAvailability(svcs))
	r.GET("/competitions/:id/numbers", handleNumberStatuses(svcs))
	r.GET("/competitions/:id/holders/:holderID/numbers", handlePurchasedNumbers(svcs))

	r.POST("/competitions/:id/holds", handleCreateHold(svcs, idem))
	r.POST("/competitions/:id/holds/:holdID/renew", handleRenewHold(svcs))
	r.DELETE("/competitions/:id/holds/:holdID", handleCancelHold(svcs))

	// Payment collaborator callback, fired only on confirmed capture.
	r.POST("/competitions/:id/purchases", handleFinalizePurchase(svcs))

	// Catalog collaborator events
	// TODO: add admin middleware
	adminGroup := r.Group("/admin")
	{
		adminGroup.POST("/competitions", handleOpenCompetition(svcs))
		adminGroup.DELETE("/competitions/:id", handleArchiveCompetition(svcs))
	}

	return r
}

func handleAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		av, err := svcs.Query.Availability(c.Request.Context(), competitionID)
		if err != nil {
			respondErr(c, err)
			return
		}
		// ETag + Cache-Control 5s: display data, not reservation input
		writeJSONWithCache(c, http.StatusOK, av, "public, max-age=5", true)
	}
}

func handleNumberStatuses(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		onlyFree := c.Query("only") == "free" || c.Query("only_free") == "true"
		limit := parseIntDefault(c.Query("limit"), 100)
		offset := parseIntDefault(c.Query("offset"), 0)

		statuses, err := svcs.Query.NumberStatuses(
			c.Request.Context(),
			competitionID,
			onlyFree,
			limit,
			offset,
		)
		if err != nil {
			respondErr(c, err)
			return
		}
		if statuses == nil {
			statuses = []domain.NumberStatus{}
		}
		writeJSONWithCache(c, http.StatusOK, statuses, "public, max-age=5", true)
	}
}

func handlePurchasedNumbers(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		holderID, ok := parseInt64Param(c, "holderID")
		if !ok {
			return
		}
		numbers, err := svcs.Query.PurchasedNumbers(c.Request.Context(), competitionID, holderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		if numbers == nil {
			numbers = []int{}
		}
		c.JSON(http.StatusOK, PurchasedNumbersResponse{HolderID: holderID, Numbers: numbers})
	}
}

func handleCreateHold(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req CreateHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemHold(competitionID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		ttl := time.Duration(req.TTLSec) * time.Second
		rlKey := "ip:" + c.ClientIP()

		hold, err := svcs.Reservation.RequestHold(
			c.Request.Context(),
			competitionID,
			req.HolderID,
			req.Numbers,
			ttl,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := HoldResponse{
			HoldID:    hold.ID.String(),
			Numbers:   hold.Numbers,
			ExpiresAt: formatRFC3339(hold.ExpiresAt),
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func handleRenewHold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		holdID, ok := parseUUIDParam(c, "holdID")
		if !ok {
			return
		}
		var req RenewHoldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		hold, err := svcs.Reservation.RenewHold(
			c.Request.Context(),
			competitionID,
			req.HolderID,
			holdID,
			time.Duration(req.TTLSec)*time.Second,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, HoldResponse{
			HoldID:    hold.ID.String(),
			Numbers:   hold.Numbers,
			ExpiresAt: formatRFC3339(hold.ExpiresAt),
		})
	}
}

func handleCancelHold(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		holdID, ok := parseUUIDParam(c, "holdID")
		if !ok {
			return
		}
		holderID, err := strconv.ParseInt(c.Query("holder_id"), 10, 64)
		if err != nil {
			badRequest(c, "invalid holder_id")
			return
		}

		if err := svcs.Reservation.Cancel(
			c.Request.Context(),
			competitionID,
			holderID,
			holdID,
		); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func handleFinalizePurchase(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		var req FinalizePurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		holdID, err := uuid.Parse(req.HoldID)
		if err != nil {
			badRequest(c, "invalid hold_id")
			return
		}

		hold, err := svcs.Reservation.FinalizePurchase(
			c.Request.Context(),
			competitionID,
			req.HolderID,
			holdID,
		)
		if err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, PurchaseResponse{
			CompetitionID: hold.CompetitionID,
			Numbers:       hold.Numbers,
		})
	}
}

func handleOpenCompetition(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenCompetitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		if err := svcs.Admin.OpenForSale(c.Request.Context(), domain.NumberSpace{
			CompetitionID:   req.CompetitionID,
			TotalTickets:    req.TotalTickets,
			NumbersPerOrder: req.NumbersPerOrder,
		}); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"competition_id": req.CompetitionID})
	}
}

func handleArchiveCompetition(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		competitionID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		if err := svcs.Admin.Archive(c.Request.Context(), competitionID); err != nil {
			respondErr(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	var unavailable *ledger.NumbersUnavailableError
	if errors.As(err, &unavailable) {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:       "numbers unavailable",
			Conflicting: unavailable.Conflicting,
		})
		return
	}

	var badSelection *reservation.SelectionSizeError
	if errors.As(err, &badSelection) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: badSelection.Error()})
		return
	}

	var invalid *ledger.InvalidNumbersError
	if errors.As(err, &invalid) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: invalid.Error()})
		return
	}

	switch {
	case errors.Is(err, reservation.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
	case errors.Is(err, allocation.ErrInsufficientAvailability):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "insufficient availability"})
	case errors.Is(err, ledger.ErrTooManyActiveHolds):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "too many active holds"})
	case errors.Is(err, ledger.ErrHoldNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "hold not found"})
	case errors.Is(err, ledger.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not the hold owner"})
	case errors.Is(err, ledger.ErrBusy):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "busy, retry"})
	case errors.Is(err, ledger.ErrCompetitionNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "competition not found"})
	case errors.Is(err, ledger.ErrCompetitionClosed):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "competition closed"})
	case errors.Is(err, admin.ErrCompetitionConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "competition conflict"})
	case errors.Is(err, admin.ErrInvalidNumberSpace):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid number space"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
