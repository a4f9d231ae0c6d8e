package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/internal/recurring"
	"recurring-billing-service/internal/schedule"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/errors"
)

const defaultUpcomingDays = 30

type createItemBody struct {
	Name        string `json:"name"`
	Amount      string `json:"amount"`
	Frequency   string `json:"frequency"`
	AnchorDay   int    `json:"anchor_day"`
	FirstCharge string `json:"first_charge"`
	LastCharged string `json:"last_charged"`
	CategoryID  string `json:"category_id"`
	Icon        string `json:"icon"`
}

type updateItemBody struct {
	Name       *string `json:"name"`
	Amount     *string `json:"amount"`
	Frequency  *string `json:"frequency"`
	AnchorDay  *int    `json:"anchor_day"`
	CategoryID *string `json:"category_id"`
	Icon       *string `json:"icon"`
	Active     *bool   `json:"active"`
}

type payBody struct {
	Date string `json:"date"`
}

// payOutcome is the answer of a pay request. A cycle that was already
// settled is a normal outcome, not an error.
type payOutcome struct {
	Status string         `json:"status"`
	Effect *models.Effect `json:"effect,omitempty"`
	Reason string         `json:"reason,omitempty"`
	Detail errors.Context `json:"detail,omitempty"`
}

func (s *Server) createItem(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable_body"})
		return
	}

	res, err := s.itemSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}
	if !res.Valid() {
		details := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			details = append(details, e.String())
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "schema_invalid", "details": details})
		return
	}

	var body createItemBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}

	req, err := body.toRequest(ownerOf(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	item, err := s.services.Items.Create(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (b createItemBody) toRequest(owner string) (recurring.CreateRequest, error) {
	amount, err := decimal.NewFromString(b.Amount)
	if err != nil {
		return recurring.CreateRequest{}, errors.ValidationError(errors.CodeInvalidAmount, "amount", b.Amount, err)
	}
	freq, err := models.ParseFrequency(b.Frequency)
	if err != nil {
		return recurring.CreateRequest{}, errors.ScheduleError("frequency", b.Frequency, err)
	}
	first, err := optionalDate("first_charge", b.FirstCharge)
	if err != nil {
		return recurring.CreateRequest{}, err
	}
	last, err := optionalDate("last_charged", b.LastCharged)
	if err != nil {
		return recurring.CreateRequest{}, err
	}
	return recurring.CreateRequest{
		OwnerID:     owner,
		Name:        b.Name,
		Amount:      amount,
		Frequency:   freq,
		AnchorDay:   b.AnchorDay,
		FirstCharge: first,
		LastCharged: last,
		CategoryID:  b.CategoryID,
		Icon:        b.Icon,
	}, nil
}

func (s *Server) listItems(c *gin.Context) {
	items, err := s.services.Items.List(c.Request.Context(), ownerOf(c), c.Query("active") == "true")
	if err != nil {
		s.fail(c, err)
		return
	}
	if items == nil {
		items = []*models.RecurringItem{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) getItem(c *gin.Context) {
	item, err := s.services.Items.Get(c.Request.Context(), ownerOf(c), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) updateItem(c *gin.Context) {
	var body updateItemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
		return
	}

	patch := store.ItemPatch{
		Name:       body.Name,
		AnchorDay:  body.AnchorDay,
		CategoryID: body.CategoryID,
		Icon:       body.Icon,
		Active:     body.Active,
	}
	if body.Amount != nil {
		amount, err := decimal.NewFromString(*body.Amount)
		if err != nil || !amount.IsPositive() {
			s.fail(c, errors.ValidationError(errors.CodeInvalidAmount, "amount", *body.Amount, err))
			return
		}
		patch.Amount = &amount
	}
	if body.Frequency != nil {
		freq, err := models.ParseFrequency(*body.Frequency)
		if err != nil {
			s.fail(c, errors.ScheduleError("frequency", *body.Frequency, err))
			return
		}
		patch.Frequency = &freq
	}

	item, err := s.services.Items.Update(c.Request.Context(), ownerOf(c), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (s *Server) deleteItem(c *gin.Context) {
	if err := s.services.Items.Delete(c.Request.Context(), ownerOf(c), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) payItem(c *gin.Context) {
	date, ok := s.paymentDate(c)
	if !ok {
		return
	}
	effect, err := s.services.Items.Pay(c.Request.Context(), ownerOf(c), c.Param("id"), date)
	s.respondPayment(c, effect, err)
}

// paymentDate reads the optional {"date": "YYYY-MM-DD"} body, defaulting
// to today
func (s *Server) paymentDate(c *gin.Context) (date time.Time, ok bool) {
	var body payBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil && err != io.EOF {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_json", "message": err.Error()})
			return time.Time{}, false
		}
	}
	parsed, err := optionalDate("date", body.Date)
	if err != nil {
		s.fail(c, err)
		return time.Time{}, false
	}
	if parsed == nil {
		return schedule.Day(s.now()), true
	}
	return *parsed, true
}

func (s *Server) respondPayment(c *gin.Context, effect *models.Effect, err error) {
	if err == nil {
		c.JSON(http.StatusOK, payOutcome{Status: "paid", Effect: effect})
		return
	}
	if errors.IsCode(err, errors.CodeAlreadyProcessing) {
		outcome := payOutcome{Status: "already_paid", Reason: string(errors.CodeAlreadyProcessing)}
		if billingErr, ok := errors.AsBillingError(err); ok {
			outcome.Detail = billingErr.Context
		}
		c.JSON(http.StatusOK, outcome)
		return
	}
	s.fail(c, err)
}

func (s *Server) dueItems(c *gin.Context) {
	now, err := dateQuery(c, "date", s.now())
	if err != nil {
		s.fail(c, err)
		return
	}
	rows, err := s.services.Items.DueList(c.Request.Context(), ownerOf(c), now)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": schedule.Day(now).Format(models.DateLayout), "items": rows})
}

func (s *Server) upcomingItems(c *gin.Context) {
	today := schedule.Day(s.now())
	from, err := dateQuery(c, "from", today)
	if err != nil {
		s.fail(c, err)
		return
	}
	to, err := dateQuery(c, "to", from.AddDate(0, 0, defaultUpcomingDays))
	if err != nil {
		s.fail(c, err)
		return
	}

	occurrences, err := s.services.Items.Upcoming(c.Request.Context(), ownerOf(c), from, to)
	if err != nil {
		s.fail(c, err)
		return
	}
	if occurrences == nil {
		occurrences = []recurring.Occurrence{}
	}
	c.JSON(http.StatusOK, gin.H{
		"from":        from.Format(models.DateLayout),
		"to":          to.Format(models.DateLayout),
		"occurrences": occurrences,
	})
}
