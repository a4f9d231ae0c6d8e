package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"recurring-billing-service/internal/installment"
	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
)

type createInstallmentBody struct {
	PurchaseName     string `json:"purchase_name" binding:"required"`
	Total            string `json:"total"`
	PerLine          string `json:"per_line"`
	Count            int    `json:"count" binding:"required"`
	FirstPaymentDate string `json:"first_payment_date" binding:"required"`
	CategoryID       string `json:"category_id"`
	AlreadyPaid      int    `json:"already_paid"`
}

type lineAmountBody struct {
	Amount string `json:"amount" binding:"required"`
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.ValidationError(errors.CodeInvalidAmount, field, raw, err)
	}
	return d, nil
}

func (s *Server) createInstallment(c *gin.Context) {
	var body createInstallmentBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}

	total, err := parseAmount("total", body.Total)
	if err != nil {
		s.fail(c, err)
		return
	}
	perLine, err := parseAmount("per_line", body.PerLine)
	if err != nil {
		s.fail(c, err)
		return
	}
	first, err := models.ParseDate(body.FirstPaymentDate)
	if err != nil {
		s.fail(c, errors.ValidationError(errors.CodeInvalidDate, "first_payment_date", body.FirstPaymentDate, err))
		return
	}

	purchase, err := s.services.Installments.Create(c.Request.Context(), installment.CreateRequest{
		OwnerID:          ownerOf(c),
		PurchaseName:     body.PurchaseName,
		Total:            total,
		PerLine:          perLine,
		Count:            body.Count,
		FirstPaymentDate: first,
		CategoryID:       body.CategoryID,
		AlreadyPaid:      body.AlreadyPaid,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, purchase)
}

func (s *Server) listInstallments(c *gin.Context) {
	purchases, err := s.services.Installments.List(c.Request.Context(), ownerOf(c), c.Query("open") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	if purchases == nil {
		purchases = []*models.InstallmentPurchase{}
	}
	c.JSON(http.StatusOK, gin.H{"purchases": purchases})
}

func (s *Server) getInstallment(c *gin.Context) {
	purchase, err := s.services.Installments.Get(c.Request.Context(), ownerOf(c), c.Param("purchase"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func (s *Server) deleteInstallment(c *gin.Context) {
	if err := s.services.Installments.Delete(c.Request.Context(), ownerOf(c), c.Param("purchase")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelInstallment(c *gin.Context) {
	result, err := s.services.Installments.Cancel(c.Request.Context(), ownerOf(c), c.Param("purchase"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) payNextInstallment(c *gin.Context) {
	date, ok := s.paymentDate(c)
	if !ok {
		return
	}
	effect, err := s.services.Installments.PayNext(c.Request.Context(), ownerOf(c), c.Param("purchase"), date)
	s.respondPayment(c, effect, err)
}

func (s *Server) payInstallmentLine(c *gin.Context) {
	date, ok := s.paymentDate(c)
	if !ok {
		return
	}
	effect, err := s.services.Installments.Pay(c.Request.Context(), ownerOf(c), c.Param("id"), date)
	s.respondPayment(c, effect, err)
}

func (s *Server) updateInstallmentLine(c *gin.Context) {
	var body lineAmountBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}
	amount, err := parseAmount("amount", body.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	if !amount.IsPositive() {
		s.fail(c, errors.ValidationError(errors.CodeInvalidAmount, "amount", body.Amount, nil))
		return
	}

	line, err := s.services.Installments.OverrideLineAmount(c.Request.Context(), ownerOf(c), c.Param("id"), amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}
