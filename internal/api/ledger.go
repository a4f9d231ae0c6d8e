package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"recurring-billing-service/internal/ledger"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
)

type entryBody struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description"`
	CategoryID  string `json:"category_id"`
	OccurredOn  string `json:"occurred_on"`
}

type batchBody struct {
	Start        string `json:"start" binding:"required"`
	End          string `json:"end" binding:"required"`
	Date         string `json:"date"`
	Installments bool   `json:"installments"`
}

func (s *Server) listLedger(c *gin.Context) {
	filter := store.LedgerFilter{
		OwnerID:         ownerOf(c),
		Kind:            models.EntryKind(c.Query("kind")),
		RecurringItemID: c.Query("item_id"),
	}
	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(name)
		d, err := optionalDate(name, raw)
		if err != nil {
			s.fail(c, err)
			return
		}
		*dst = d
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.fail(c, errors.ValidationError(errors.CodeOutOfRange, "limit", raw, err))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.services.Ledger.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "totals": ledger.Sum(entries)})
}

func (s *Server) deposit(c *gin.Context) {
	s.recordEntry(c, s.services.Ledger.Deposit)
}

func (s *Server) spend(c *gin.Context) {
	s.recordEntry(c, s.services.Ledger.Spend)
}

func (s *Server) recordEntry(c *gin.Context, record func(ctx context.Context, req ledger.EntryRequest) (*models.LedgerEntry, error)) {
	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	occurred, err := optionalDate("occurred_on", body.OccurredOn)
	if err != nil {
		s.fail(c, err)
		return
	}

	req := ledger.EntryRequest{
		OwnerID:     ownerOf(c),
		Amount:      amount,
		Description: body.Description,
		CategoryID:  body.CategoryID,
	}
	if occurred != nil {
		req.OccurredOn = *occurred
	}

	entry, err := record(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (s *Server) balance(c *gin.Context) {
	balance, err := s.services.Ledger.Balance(c.Request.Context(), ownerOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": ownerOf(c), "balance": balance.StringFixed(2)})
}

func (s *Server) payBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}
	start, err := models.ParseDate(body.Start)
	if err != nil {
		s.fail(c, errors.ValidationError(errors.CodeInvalidDate, "start", body.Start, err))
		return
	}
	end, err := models.ParseDate(body.End)
	if err != nil {
		s.fail(c, errors.ValidationError(errors.CodeInvalidDate, "end", body.End, err))
		return
	}
	date, err := optionalDate("date", body.Date)
	if err != nil {
		s.fail(c, err)
		return
	}
	now := schedule.Day(s.now())
	if date != nil {
		now = *date
	}

	var result *reconciler.BatchResult
	if body.Installments {
		result, err = s.services.Batch.PayInstallmentsDueInPeriod(c.Request.Context(), ownerOf(c), start, end, now)
	} else {
		result, err = s.services.Batch.PayAllDueForOwner(c.Request.Context(), ownerOf(c), start, end, now)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
