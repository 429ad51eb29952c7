// Package notify delivers parent notifications by email. Delivery is best
// effort: it runs in the background, is guarded by a circuit breaker, and
// never reports failure to the caller.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dukerupert/chorebank/internal/metrics"
	"github.com/dukerupert/chorebank/internal/store"
)

// Sender is an outbound email transport. *email.Client satisfies it.
type Sender interface {
	Configured() bool
	Send(ctx context.Context, to, subject, text string) error
}

type Config struct {
	Timeout time.Duration
	// Failures is the number of consecutive send failures that opens the
	// breaker.
	Failures uint32
	// Cooldown is how long the breaker stays open.
	Cooldown time.Duration
}

type Dispatcher struct {
	db      *sql.DB
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(db *sql.DB, sender Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}

	d := &Dispatcher{db: db, sender: sender, timeout: cfg.Timeout, logger: logger}
	d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "email",
		Timeout: cfg.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notification breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return d
}

// Notify queues a message for the family's parent and returns immediately.
func (d *Dispatcher) Notify(familyID int64, subject, body string) {
	if d.sender == nil || !d.sender.Configured() {
		metrics.RecordNotification("skipped")
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.Send(ctx, familyID, subject, body); err != nil {
			d.logger.Warn("notification not delivered", "family_id", familyID, "subject", subject, "error", err)
		}
	}()
}

// Send delivers synchronously and records the outcome.
func (d *Dispatcher) Send(ctx context.Context, familyID int64, subject, body string) error {
	f, err := store.NewFamilyStore(d.db).GetByID(ctx, familyID)
	if err != nil {
		metrics.RecordNotification("failed")
		return err
	}
	if f == nil || f.ParentEmail == "" {
		metrics.RecordNotification("skipped")
		return nil
	}

	_, err = d.breaker.Execute(func() (interface{}, error) {
		return nil, d.sender.Send(ctx, f.ParentEmail, subject, fmt.Sprintf("%s\n\n%s", body, f.Name))
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordNotification("rejected")
		return err
	case err != nil:
		metrics.RecordNotification("failed")
		return err
	}
	metrics.RecordNotification("sent")
	return nil
}

// Wait blocks until queued notifications have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
