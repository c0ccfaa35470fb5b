package main

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OverdueReporter periodically scans active loans and logs overdue ones.
type OverdueReporter struct {
	logger   *zap.Logger
	service  CatalogServiceProvider
	schedule string
	cron     *cron.Cron
}

// NewOverdueReporter provides a reporter running on a standard five fields cron schedule.
func NewOverdueReporter(logger *zap.Logger, service CatalogServiceProvider, schedule string, clock Clocker) *OverdueReporter {
	return &OverdueReporter{
		logger:   logger,
		service:  service,
		schedule: schedule,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
			cron.WithLocation(clock.Now().Location()),
		),
	}
}

// Scan logs every overdue loan and returns how many were found.
func (rp *OverdueReporter) Scan(ctx context.Context) (int, error) {
	loans, err := rp.service.FilterLoans(ctx, "", true)
	if err != nil {
		return 0, err
	}
	for _, loan := range loans {
		rp.logger.Warn("scheduler: overdue loan",
			zap.String("catalog.transaction", loan.TransactionID),
			zap.String("catalog.user", loan.User),
			zap.String("catalog.book", loan.Book),
			zap.String("catalog.due", loan.DueDate),
			zap.Int("catalog.days_overdue", -loan.DaysRemaining),
		)
	}
	return len(loans), nil
}

// Run schedules the scan and blocks until ctx is done. Pending scans are
// allowed to finish before it returns.
func (rp *OverdueReporter) Run(ctx context.Context) error {
	_, err := rp.cron.AddFunc(rp.schedule, func() {
		n, err := rp.Scan(ctx)
		if err != nil {
			rp.logger.Error("scheduler: overdue scan failed", zap.Error(err))
			return
		}
		rp.logger.Info("scheduler: overdue scan done", zap.Int("catalog.overdue", n))
	})
	if err != nil {
		return fmt.Errorf("invalid overdue scan schedule %q: %w", rp.schedule, err)
	}

	rp.cron.Start()
	rp.logger.Info("scheduler: overdue reporter started", zap.String("schedule", rp.schedule))
	<-ctx.Done()
	<-rp.cron.Stop().Done()
	rp.logger.Info("scheduler: overdue reporter stopped")
	return nil
}
