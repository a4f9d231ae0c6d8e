package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recurring-billing-service/cmd/billing/config"
	"recurring-billing-service/internal/api"
	"recurring-billing-service/internal/catalog"
	"recurring-billing-service/internal/installment"
	"recurring-billing-service/internal/ledger"
	"recurring-billing-service/internal/notify"
	"recurring-billing-service/internal/reconciler"
	"recurring-billing-service/internal/recurring"
	"recurring-billing-service/internal/reporter"
	"recurring-billing-service/internal/store"
	"recurring-billing-service/pkg/logger"
)

// app holds the services one command invocation works with
type app struct {
	config       *config.Config
	store        *store.SQLStore
	items        *recurring.Service
	installments *installment.Service
	ledger       *ledger.Service
	batch        *reconciler.BatchPaymentOrchestrator
	logger       logger.Logger
}

// openApp connects to the database and wires every service
func openApp(ctx context.Context, c *config.Config) (*app, error) {
	log := logger.GetGlobalLogger().WithComponent("cli").WithField("owner", c.Owner)

	cat, err := catalog.Load(c.Catalog.File)
	if err != nil {
		return nil, err
	}
	notifier, err := c.Notifier()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, &c.Database)
	if err != nil {
		return nil, err
	}

	a := &app{config: c, store: st, logger: log}
	if err := a.wire(cat, notifier); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Debug("Services ready")
	return a, nil
}

func (a *app) wire(cat *catalog.Catalog, notifier notify.Notifier) error {
	rec, err := reconciler.NewPaymentReconciler(a.store, &a.config.Payments)
	if err != nil {
		return err
	}
	if a.items, err = recurring.NewService(a.store, rec, cat, notifier); err != nil {
		return err
	}
	if a.installments, err = installment.NewService(a.store, rec, notifier); err != nil {
		return err
	}
	if a.ledger, err = ledger.NewService(a.store); err != nil {
		return err
	}
	a.batch, err = reconciler.NewBatchPaymentOrchestrator(rec, notifier)
	return err
}

// Close releases the database connection
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}

// services returns the bundle the HTTP server needs
func (a *app) services() api.Services {
	return api.Services{
		Items:        a.items,
		Installments: a.installments,
		Ledger:       a.ledger,
		Batch:        a.batch,
	}
}

// now is the CLI's notion of today
func (a *app) now() time.Time {
	return time.Now().UTC()
}

// withApp opens the app for the duration of fn
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// render writes report to the --output file or to the command's stdout
func (a *app) render(cmd *cobra.Command, report *reporter.Report) error {
	rc, err := a.config.ReportConfig(formatFlag)
	if err != nil {
		return err
	}
	gen, err := reporter.NewSafeReportGenerator(rc, a.logger)
	if err != nil {
		return err
	}

	if outputFlag != "" {
		path, err := gen.WriteFile(report, outputFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", path)
		return nil
	}
	return gen.WriteSafely(report, cmd.OutOrStdout())
}
