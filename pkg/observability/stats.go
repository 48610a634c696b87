package observability

import (
	"context"
	"database/sql"
	"time"

	"github.com/robfig/cron/v3"
)

// StatsCollector periodically refreshes business and connection-pool gauges
// from the database. Counts are cheap aggregate queries; they never run on the
// request path.
type StatsCollector struct {
	db      *sql.DB
	metrics *Metrics
	logger  *Logger
	cron    *cron.Cron
}

// NewStatsCollector creates a collector bound to the given metrics set
func NewStatsCollector(db *sql.DB, metrics *Metrics, logger *Logger) *StatsCollector {
	return &StatsCollector{
		db:      db,
		metrics: metrics,
		logger:  logger.WithComponent("stats"),
		cron:    cron.New(),
	}
}

// Start schedules collection on the given cron spec (e.g. "@every 1m") and
// runs one collection immediately.
func (c *StatsCollector) Start(spec string) error {
	if _, err := c.cron.AddFunc(spec, c.collect); err != nil {
		return err
	}
	c.cron.Start()
	go c.collect()
	return nil
}

// Stop halts the schedule and waits for a running collection to finish
func (c *StatsCollector) Stop(ctx context.Context) error {
	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *StatsCollector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.metrics.UpdateDBStats(c.db.Stats())

	counts := []struct {
		query string
		gauge interface{ Set(float64) }
	}{
		{`SELECT COUNT(*) FROM tenants`, c.metrics.TenantsTotal},
		{`SELECT COUNT(*) FROM tenant_users`, c.metrics.TenantUsersTotal},
		{`SELECT COUNT(*) FROM groups`, c.metrics.GroupsTotal},
		{`SELECT COUNT(*) FROM shared_services WHERE is_active`, c.metrics.SharedServicesTotal},
		{`SELECT COUNT(*) FROM tenant_requests WHERE status = 'NEW'`, c.metrics.PendingTenantRequests},
	}

	for _, count := range counts {
		var n int64
		if err := c.db.QueryRowContext(ctx, count.query).Scan(&n); err != nil {
			c.logger.WithError(err).Warn("Failed to collect stat")
			continue
		}
		count.gauge.Set(float64(n))
	}
}
