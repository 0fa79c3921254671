package notify

import (
	"context"
	"log/slog"
	"time"
)

// Sender delivers one message to the outside world: a mail gateway, the RFP
// creation service, a webhook. Implementations are expected to be idempotent
// per message id since a crash between send and mark can replay a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher drains the outbox after commits. Delivery failures follow a
// log-and-continue policy: the attempt counter advances, the message stays
// pending for the next poll, and aggregate state is never touched. Messages
// are parked as dead after maxAttempts.
type Dispatcher struct {
	store       Store
	sender      Sender
	log         *slog.Logger
	interval    time.Duration
	sendTimeout time.Duration
	batchSize   int
	maxAttempts int
}

func NewDispatcher(store Store, sender Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:       store,
		sender:      sender,
		log:         log,
		interval:    2 * time.Second,
		sendTimeout: 10 * time.Second,
		batchSize:   50,
		maxAttempts: 10,
	}
}

// Run polls until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.log.Error("outbox poll failed", slog.Any("err", err))
			}
		}
	}
}

// DispatchOnce fetches one batch and attempts delivery, returning how many
// messages were sent.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	batch, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, msg := range batch {
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		err := d.sender.Send(sendCtx, msg)
		cancel()

		if err != nil {
			dead := msg.Attempts+1 >= d.maxAttempts
			d.log.Warn("outbox delivery failed",
				slog.String("id", msg.ID),
				slog.String("topic", msg.Topic),
				slog.Int("attempts", msg.Attempts+1),
				slog.Bool("dead", dead),
				slog.Any("err", err))
			if markErr := d.store.MarkFailed(ctx, msg.ID, dead); markErr != nil {
				return sent, markErr
			}
			continue
		}

		if err := d.store.MarkSent(ctx, msg.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}
