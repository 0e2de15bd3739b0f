package dispatch

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsejobs/db"
	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
)

// TickerConfig contains configuration for the polling substrate
type TickerConfig struct {
	Interval  time.Duration // How often to look for due wake-ups (default: 1 second)
	BatchSize int           // Max wake-ups claimed per tick
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:  1 * time.Second,
		BatchSize: 100,
	}
}

// Ticker keeps wake-ups in the pulse_wakeups table and polls for due rows.
// Wake-ups survive restarts, and several daemons may share one database:
// a row is delivered by whichever poller deletes it first.
type Ticker struct {
	db       *sql.DB
	cfg      TickerConfig
	now      func() time.Time
	deliver  Deliver
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	pulseLog *zap.SugaredLogger

	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	delivered       int64
}

// NewTicker creates a polling substrate
func NewTicker(database *sql.DB, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithClock(database, cfg, time.Now, log)
}

// NewTickerWithClock creates a polling substrate with a custom clock
func NewTickerWithClock(database *sql.DB, cfg TickerConfig, now func() time.Time, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultTickerConfig().BatchSize
	}
	return &Ticker{
		db:       database,
		cfg:      cfg,
		now:      now,
		pulseLog: logger.AddPulseSymbol(log),
	}
}

// Arm implements Substrate
func (t *Ticker) Arm(ctx context.Context, jobID string, at time.Time) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO pulse_wakeups (job_id, fire_at, armed_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET fire_at = excluded.fire_at, armed_at = excluded.armed_at
	`, jobID, db.FormatTime(at), db.FormatTime(t.now()))
	if err != nil {
		return errors.Wrapf(err, "failed to arm wake-up for %s", jobID)
	}
	return nil
}

// Disarm implements Substrate
func (t *Ticker) Disarm(ctx context.Context, jobID string) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM pulse_wakeups WHERE job_id = ?`, jobID); err != nil {
		return errors.Wrapf(err, "failed to disarm wake-up for %s", jobID)
	}
	return nil
}

// ArmedAt implements Inspector
func (t *Ticker) ArmedAt(ctx context.Context, jobID string) (time.Time, bool, error) {
	var fireAt string
	err := t.db.QueryRowContext(ctx, `SELECT fire_at FROM pulse_wakeups WHERE job_id = ?`, jobID).Scan(&fireAt)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "failed to read wake-up for %s", jobID)
	}
	at, err := db.ParseTime(fireAt)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Start implements Substrate
func (t *Ticker) Start(deliver Deliver) error {
	t.deliver = deliver
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "interval", t.cfg.Interval)
	return nil
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped", "delivered", t.Delivered())
}

// run is the main ticker loop
func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			t.lastTickAt = t.now()
			t.ticksSinceStart++
			ticks := t.ticksSinceStart
			t.mu.Unlock()

			if _, err := t.Tick(t.ctx); err != nil && t.ctx.Err() == nil && !db.IsDatabaseClosed(err) {
				// Don't spam logs - log errors at warn level
				t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", ticks)
			}
		}
	}
}

// Tick claims and delivers every due wake-up once. Returns the number delivered.
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	now := db.FormatTime(t.now())

	rows, err := t.db.QueryContext(ctx, `
		SELECT job_id, fire_at FROM pulse_wakeups
		WHERE fire_at <= ?
		ORDER BY fire_at ASC
		LIMIT ?
	`, now, t.cfg.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list due wake-ups")
	}

	type wakeup struct{ jobID, fireAt string }
	var due []wakeup
	for rows.Next() {
		var w wakeup
		if err := rows.Scan(&w.jobID, &w.fireAt); err != nil {
			rows.Close()
			return 0, errors.Wrap(err, "failed to scan wake-up")
		}
		due = append(due, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to list due wake-ups")
	}

	delivered := 0
	for _, w := range due {
		jobID := w.jobID
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		default:
		}

		// The delete is the claim; a re-arm to a later time makes it miss
		res, err := t.db.ExecContext(ctx, `DELETE FROM pulse_wakeups WHERE job_id = ? AND fire_at <= ?`, jobID, now)
		if err != nil {
			return delivered, errors.Wrapf(err, "failed to claim wake-up for %s", jobID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		t.pulseLog.Debugw("Wake-up fired", logger.FieldJobID, jobID, logger.FieldFireAt, w.fireAt)
		if t.deliver != nil {
			t.deliver(jobID)
		}
		delivered++
	}

	if delivered > 0 {
		t.mu.Lock()
		t.delivered += int64(delivered)
		t.mu.Unlock()
	}
	return delivered, nil
}

// Delivered returns the number of wake-ups delivered since creation
func (t *Ticker) Delivered() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delivered
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"interval":          t.cfg.Interval,
		"delivered":         t.delivered,
	}
}
