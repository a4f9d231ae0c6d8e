// Package api exposes the billing services over HTTP.
//
// Every route under /v1 is scoped to the owner named by the X-Owner-ID
// header. Authentication is left to the proxy in front of the service.
package api

import (
	"context"
	"embed"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xeipuuv/gojsonschema"

	"recurring-billing-service/internal/installment"
	"recurring-billing-service/internal/ledger"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/recurring"
	"recurring-billing-service/pkg/errors"
	"recurring-billing-service/pkg/logger"
)

// OwnerHeader carries the owner id of a request.
const OwnerHeader = "X-Owner-ID"

//go:embed schemas/*.json
var schemaFS embed.FS

// Config holds HTTP server settings
type Config struct {
	Addr            string        `mapstructure:"addr"`
	DefaultOwner    string        `mapstructure:"default_owner"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		DefaultOwner:    "default",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks the server configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "server.addr", c.Addr, nil)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.timeouts", nil, nil).
			WithSuggestion("timeouts cannot be negative")
	}
	return nil
}

// Services bundles what the handlers call into
type Services struct {
	Items        *recurring.Service
	Installments *installment.Service
	Ledger       *ledger.Service
	Batch        *reconciler.BatchPaymentOrchestrator
}

// Server is the HTTP front of the billing services
type Server struct {
	config     *Config
	services   Services
	itemSchema *gojsonschema.Schema
	engine     *gin.Engine
	logger     logger.Logger
	now        func() time.Time
}

// NewServer builds the router
func NewServer(config *Config, services Services) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if services.Items == nil || services.Installments == nil || services.Ledger == nil || services.Batch == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "services", nil, nil).
			WithSuggestion("wire every service before starting the server")
	}

	raw, err := schemaFS.ReadFile("schemas/item_create.schema.json")
	if err != nil {
		return nil, errors.InternalError("load item schema", err)
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.InternalError("compile item schema", err)
	}

	s := &Server{
		config:     config,
		services:   services,
		itemSchema: schema,
		logger:     logger.GetGlobalLogger().WithComponent("api"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.engine = s.routes()
	return s, nil
}

// Handler returns the http.Handler serving the API
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logging())

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	v1 := r.Group("/v1")
	v1.Use(s.owner())
	{
		v1.POST("/items", s.createItem)
		v1.GET("/items", s.listItems)
		v1.GET("/items/due", s.dueItems)
		v1.GET("/items/upcoming", s.upcomingItems)
		v1.GET("/items/:id", s.getItem)
		v1.PATCH("/items/:id", s.updateItem)
		v1.DELETE("/items/:id", s.deleteItem)
		v1.POST("/items/:id/pay", s.payItem)

		v1.POST("/payments/batch", s.payBatch)

		v1.POST("/installments", s.createInstallment)
		v1.GET("/installments", s.listInstallments)
		v1.GET("/installments/:purchase", s.getInstallment)
		v1.DELETE("/installments/:purchase", s.deleteInstallment)
		v1.POST("/installments/:purchase/cancel", s.cancelInstallment)
		v1.POST("/installments/:purchase/pay-next", s.payNextInstallment)
		v1.POST("/installment-lines/:id/pay", s.payInstallmentLine)
		v1.PATCH("/installment-lines/:id", s.updateInstallmentLine)

		v1.GET("/ledger", s.listLedger)
		v1.POST("/ledger/deposits", s.deposit)
		v1.POST("/ledger/expenses", s.spend)
		v1.GET("/ledger/balance", s.balance)
	}
	return r
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for at most the shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.InternalError("http server", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError("http shutdown", err)
	}
	return nil
}
