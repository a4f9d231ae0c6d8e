package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"recurring-billing-service/internal/models"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

const ownerKey = "owner_id"

func (s *Server) logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"owner_id": c.GetString(ownerKey),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}

func (s *Server) owner() gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.GetHeader(OwnerHeader))
		if owner == "" {
			owner = s.config.DefaultOwner
		}
		if owner == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "owner_missing"})
			return
		}
		c.Set(ownerKey, owner)
		c.Next()
	}
}

func ownerOf(c *gin.Context) string {
	return c.GetString(ownerKey)
}

// statusFor maps an application error to an HTTP status
func statusFor(err error) int {
	billingErr, ok := errors.AsBillingError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch billingErr.Category {
	case errors.CategoryValidation, errors.CategorySchedule:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryPayment:
		if billingErr.Code == errors.CodeInsufficientBalance {
			return http.StatusUnprocessableEntity
		}
		return http.StatusConflict
	case errors.CategoryConfiguration, errors.CategoryStorage, errors.CategoryInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": string(errors.CodeOf(err))}

	if billingErr, ok := errors.AsBillingError(err); ok {
		body["message"] = billingErr.Message
		if billingErr.Suggestion != "" {
			body["suggestion"] = billingErr.Suggestion
		}
		if status < http.StatusInternalServerError && len(billingErr.Context) > 0 {
			body["context"] = billingErr.Context
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.FullPath()).Error("Request error")
		body["message"] = "internal error"
	}
	c.JSON(status, body)
}

// dateQuery reads an optional YYYY-MM-DD query parameter
func dateQuery(c *gin.Context, name string, fallback time.Time) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := models.ParseDate(raw)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, name, raw, err)
	}
	return t, nil
}

// optionalDate parses a date body field that may be absent
func optionalDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := models.ParseDate(raw)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidDate, field, raw, err)
	}
	return &t, nil
}
