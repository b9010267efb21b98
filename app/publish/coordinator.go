package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/trend-comb/app/content"
	"github.com/lysyi3m/trend-comb/app/ledger"
	"github.com/lysyi3m/trend-comb/app/metrics"
)

type State string

const (
	StateIdle       State = "idle"
	StateReserved   State = "reserved"
	StatePublished  State = "published"
	StateRolledBack State = "rolled_back"
)

const DefaultCost = 1

var (
	ErrNeedsTopUp    = errors.New("insufficient credits, top up required")
	ErrPublishFailed = errors.New("publish failed, no credits consumed")
	ErrCommitFailed  = errors.New("published but credits could not be committed")

	// ErrRollbackFailed leaves the credits held until the reservation sweep
	// releases them.
	ErrRollbackFailed = errors.New("publish failed, credits held until the reservation expires")
)

// Ledger is the part of the balance ledger a publish needs.
type Ledger interface {
	Reserve(ctx context.Context, account string, amount int64) (string, error)
	Commit(ctx context.Context, reservationID string) error
	Rollback(ctx context.Context, reservationID string) error
}

type Request struct {
	Account     string
	Destination string // defaults to Account
	Item        content.Item
	Caption     string // defaults to the item's first caption suggestion
}

type Receipt struct {
	ReservationID string    `json:"reservation_id,omitempty"`
	State         State     `json:"state"`
	Account       string    `json:"account"`
	ItemID        string    `json:"item_id"`
	Caption       string    `json:"caption"`
	Cost          int64     `json:"cost"`
	Reason        string    `json:"reason,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Coordinator gates a publish behind a credit reservation: credits are
// held before the transport call and committed only once it succeeds.
type Coordinator struct {
	ledger    Ledger
	transport Transport
	cost      int64
	now       func() time.Time
}

func NewCoordinator(l Ledger, t Transport, cost int64) *Coordinator {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Coordinator{
		ledger:    l,
		transport: t,
		cost:      cost,
		now:       time.Now,
	}
}

func (c *Coordinator) Cost() int64 {
	return c.cost
}

// Publish runs Idle → Reserved → Published | RolledBack. The receipt is
// returned alongside any error that happens after the reservation.
func (c *Coordinator) Publish(ctx context.Context, req Request) (*Receipt, error) {
	caption := req.Caption
	if caption == "" && len(req.Item.CaptionSuggestions) > 0 {
		caption = req.Item.CaptionSuggestions[0]
	}
	destination := req.Destination
	if destination == "" {
		destination = req.Account
	}

	receipt := &Receipt{
		State:   StateIdle,
		Account: req.Account,
		ItemID:  req.Item.ID,
		Caption: caption,
		Cost:    c.cost,
	}

	if req.Item.MediaURL == "" {
		return nil, fmt.Errorf("item %s has no media to publish", req.Item.ID)
	}

	reservationID, err := c.ledger.Reserve(ctx, req.Account, c.cost)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.ObservePublish("needs_top_up")
			return nil, fmt.Errorf("%w: %w", ErrNeedsTopUp, err)
		}
		return nil, fmt.Errorf("failed to reserve credits: %w", err)
	}
	receipt.ReservationID = reservationID
	receipt.State = StateReserved

	log := slog.With("account", req.Account, "item_id", req.Item.ID, "reservation_id", reservationID)

	payload := Payload{
		Text: caption,
		Embeds: []Embed{{
			URL:   req.Item.MediaURL,
			Title: fmt.Sprintf("Trending on %s", req.Item.SourceProvider),
		}},
	}

	// resolution must happen even if the caller has gone away
	resolveCtx := context.WithoutCancel(ctx)

	if err := c.transport.Publish(ctx, destination, payload); err != nil {
		receipt.Reason = reasonOf(err)
		receipt.CompletedAt = c.now().UTC()

		if rbErr := c.ledger.Rollback(resolveCtx, reservationID); rbErr != nil {
			metrics.ObservePublish("rollback_failed")
			log.Error("Failed to roll back reservation after publish failure", "reason", receipt.Reason, "error", rbErr)
			return receipt, fmt.Errorf("%w: %w (rollback: %w)", ErrRollbackFailed, err, rbErr)
		}

		receipt.State = StateRolledBack
		metrics.ObservePublish(string(receipt.State))

		log.Warn("Publish failed, reservation rolled back", "reason", receipt.Reason, "error", err)

		return receipt, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	receipt.State = StatePublished
	receipt.CompletedAt = c.now().UTC()

	if err := c.ledger.Commit(resolveCtx, reservationID); err != nil {
		metrics.ObservePublish("commit_failed")
		log.Error("Published but failed to commit reservation", "error", err)
		return receipt, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	metrics.ObservePublish(string(receipt.State))
	log.Info("Item published", "destination", destination, "cost", c.cost)

	return receipt, nil
}

func reasonOf(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ReasonNetwork
}
