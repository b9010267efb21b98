package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/trend-comb/app/metrics"
	"github.com/lysyi3m/trend-comb/app/store"
)

const (
	accountPrefix     = "ledger:account:"
	reservationPrefix = "ledger:reservation:"
	accountsSet       = "ledger:accounts"

	DefaultBalance = 5

	// resolved reservation ids remembered per account
	maxResolved = 256
	// how long a resolved reservation can still be told apart from an unknown one
	resolvedRetention = 7 * 24 * time.Hour
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrUnknownReservation  = errors.New("unknown reservation")
	ErrReservationResolved = errors.New("reservation already resolved")
	ErrInvariantViolation  = errors.New("ledger invariant violation")
	ErrLedgerUnavailable   = errors.New("ledger unavailable")
)

const (
	statusCommitted  = "committed"
	statusRolledBack = "rolled_back"
)

type Reservation struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a read-only view of an account.
type Snapshot struct {
	Account      string        `json:"account"`
	Balance      int64         `json:"balance"`
	Held         int64         `json:"held"`
	Spendable    int64         `json:"spendable"`
	Reservations []Reservation `json:"reservations"`
}

// account is the stored record. Open reservations and recently resolved
// ids live inside it so that every mutation is a single write.
type account struct {
	ID            string                 `json:"id"`
	Balance       int64                  `json:"balance"`
	Reservations  map[string]Reservation `json:"reservations"`
	Resolved      map[string]string      `json:"resolved"`
	ResolvedOrder []string               `json:"resolved_order"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func (a *account) held() int64 {
	var held int64
	for _, r := range a.Reservations {
		held += r.Amount
	}
	return held
}

func (a *account) resolve(id, status string) {
	a.Resolved[id] = status
	a.ResolvedOrder = append(a.ResolvedOrder, id)
	for len(a.ResolvedOrder) > maxResolved {
		delete(a.Resolved, a.ResolvedOrder[0])
		a.ResolvedOrder = a.ResolvedOrder[1:]
	}
}

type reservationIndex struct {
	Account   string    `json:"account"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger keeps per-account credit balances in the store. Mutations on one
// account are serialized in process; different accounts never block each
// other. One process is expected to own a given store.
type Ledger struct {
	store          store.Store
	locks          *keyedMutex
	defaultBalance int64
	now            func() time.Time
	newID          func() string
}

func New(s store.Store) *Ledger {
	return NewWithClock(s, time.Now)
}

func NewWithClock(s store.Store, now func() time.Time) *Ledger {
	return &Ledger{
		store:          s,
		locks:          newKeyedMutex(),
		defaultBalance: DefaultBalance,
		now:            now,
		newID:          uuid.NewString,
	}
}

// GetBalance returns the committed balance, creating the account with the
// free-tier balance on first access.
func (l *Ledger) GetBalance(ctx context.Context, accountID string) (int64, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	a, err := l.loadOrCreate(ctx, accountID)
	metrics.ObserveLedgerOp("balance", err)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

func (l *Ledger) Snapshot(ctx context.Context, accountID string) (*Snapshot, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	a, err := l.loadOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Account:      a.ID,
		Balance:      a.Balance,
		Held:         a.held(),
		Reservations: make([]Reservation, 0, len(a.Reservations)),
	}
	snap.Spendable = snap.Balance - snap.Held
	for _, r := range a.Reservations {
		snap.Reservations = append(snap.Reservations, r)
	}
	sort.Slice(snap.Reservations, func(i, j int) bool {
		return snap.Reservations[i].CreatedAt.Before(snap.Reservations[j].CreatedAt)
	})
	return snap, nil
}

// Reserve holds amount against the account's spendable balance and returns
// the reservation id. Nothing changes on failure.
func (l *Ledger) Reserve(ctx context.Context, accountID string, amount int64) (string, error) {
	id, err := l.reserve(ctx, accountID, amount)
	metrics.ObserveLedgerOp("reserve", err)
	return id, err
}

func (l *Ledger) reserve(ctx context.Context, accountID string, amount int64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: reserve amount must be positive, got %d", ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	a, err := l.loadOrCreate(ctx, accountID)
	if err != nil {
		return "", err
	}

	spendable := a.Balance - a.held()
	if spendable < amount {
		return "", fmt.Errorf("%w: spendable %d, requested %d", ErrInsufficientBalance, spendable, amount)
	}

	// the sweep only visits registered accounts
	if err := l.register(ctx, accountID); err != nil {
		return "", err
	}

	r := Reservation{
		ID:        l.newID(),
		Account:   accountID,
		Amount:    amount,
		CreatedAt: l.now().UTC(),
	}

	// the index goes first so a stored reservation is always resolvable
	idx := reservationIndex{Account: accountID, CreatedAt: r.CreatedAt}
	if err := store.SetJSON(ctx, l.store, reservationPrefix+r.ID, idx, 0); err != nil {
		return "", fmt.Errorf("%w: failed to index reservation: %w", ErrLedgerUnavailable, err)
	}

	a.Reservations[r.ID] = r
	if err := l.save(ctx, a); err != nil {
		if delErr := l.store.Delete(ctx, reservationPrefix+r.ID); delErr != nil {
			slog.Warn("Failed to drop orphaned reservation index", "reservation_id", r.ID, "error", delErr)
		}
		return "", err
	}

	slog.Debug("Credits reserved", "account", accountID, "reservation_id", r.ID, "amount", amount)

	return r.ID, nil
}

// Commit turns the reservation into a debit.
func (l *Ledger) Commit(ctx context.Context, reservationID string) error {
	err := l.resolve(ctx, reservationID, statusCommitted)
	metrics.ObserveLedgerOp("commit", err)
	return err
}

// Rollback discards the reservation without touching the balance.
func (l *Ledger) Rollback(ctx context.Context, reservationID string) error {
	err := l.resolve(ctx, reservationID, statusRolledBack)
	metrics.ObserveLedgerOp("rollback", err)
	return err
}

func (l *Ledger) resolve(ctx context.Context, reservationID, status string) error {
	var idx reservationIndex
	if err := store.GetJSON(ctx, l.store, reservationPrefix+reservationID, &idx); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
		}
		return fmt.Errorf("%w: failed to look up reservation: %w", ErrLedgerUnavailable, err)
	}

	unlock := l.locks.Lock(idx.Account)
	defer unlock()

	a, err := l.load(ctx, idx.Account)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
		}
		return err
	}

	r, ok := a.Reservations[reservationID]
	if !ok {
		if prior, resolved := a.Resolved[reservationID]; resolved {
			return fmt.Errorf("%w: %s was %s", ErrReservationResolved, reservationID, prior)
		}
		return fmt.Errorf("%w: %s", ErrUnknownReservation, reservationID)
	}

	if status == statusCommitted {
		if a.Balance-r.Amount < 0 {
			slog.Error("Commit would make balance negative",
				"account", a.ID,
				"reservation_id", reservationID,
				"balance", a.Balance,
				"amount", r.Amount)
			return fmt.Errorf("%w: commit of %d against balance %d", ErrInvariantViolation, r.Amount, a.Balance)
		}
		a.Balance -= r.Amount
	}

	delete(a.Reservations, reservationID)
	a.resolve(reservationID, status)

	if err := l.save(ctx, a); err != nil {
		return err
	}

	if err := store.SetJSON(ctx, l.store, reservationPrefix+reservationID, idx, resolvedRetention); err != nil {
		slog.Warn("Failed to age out reservation index", "reservation_id", reservationID, "error", err)
	}

	slog.Debug("Reservation resolved",
		"account", a.ID,
		"reservation_id", reservationID,
		"status", status,
		"balance", a.Balance)

	return nil
}

// Credit adds amount to the balance and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64) (int64, error) {
	balance, err := l.credit(ctx, accountID, amount)
	metrics.ObserveLedgerOp("credit", err)
	return balance, err
}

func (l *Ledger) credit(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: credit amount must not be negative, got %d", ErrInvalidAmount, amount)
	}

	unlock := l.locks.Lock(accountID)
	defer unlock()

	a, err := l.loadOrCreate(ctx, accountID)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return a.Balance, nil
	}

	a.Balance += amount
	if err := l.save(ctx, a); err != nil {
		return 0, err
	}

	slog.Info("Account credited", "account", accountID, "amount", amount, "balance", a.Balance)

	return a.Balance, nil
}

// ExpireReservations rolls back reservations created more than olderThan
// ago. These are left behind when a process dies between reserve and
// commit. Returns the number of reservations rolled back.
func (l *Ledger) ExpireReservations(ctx context.Context, olderThan time.Duration) (int, error) {
	accounts, err := l.store.MembersOf(ctx, accountsSet)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to list accounts: %w", ErrLedgerUnavailable, err)
	}

	cutoff := l.now().Add(-olderThan)
	expired := 0
	for _, accountID := range accounts {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		n, err := l.expireAccount(ctx, accountID, cutoff)
		expired += n
		if err != nil {
			return expired, err
		}
	}

	metrics.ObserveLedgerOp("expire", nil)
	return expired, nil
}

func (l *Ledger) expireAccount(ctx context.Context, accountID string, cutoff time.Time) (int, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	a, err := l.load(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var stale []Reservation
	for _, r := range a.Reservations {
		if r.CreatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	for _, r := range stale {
		delete(a.Reservations, r.ID)
		a.resolve(r.ID, statusRolledBack)
	}
	if err := l.save(ctx, a); err != nil {
		return 0, err
	}

	for _, r := range stale {
		idx := reservationIndex{Account: accountID, CreatedAt: r.CreatedAt}
		if err := store.SetJSON(ctx, l.store, reservationPrefix+r.ID, idx, resolvedRetention); err != nil {
			slog.Warn("Failed to age out reservation index", "reservation_id", r.ID, "error", err)
		}
	}

	slog.Warn("Expired abandoned reservations", "account", accountID, "count", len(stale))

	return len(stale), nil
}

// load returns store.ErrNotFound for unknown accounts and wraps every
// other store failure in ErrLedgerUnavailable.
func (l *Ledger) load(ctx context.Context, accountID string) (*account, error) {
	var a account
	if err := store.GetJSON(ctx, l.store, accountPrefix+accountID, &a); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to load account %s: %w", ErrLedgerUnavailable, accountID, err)
	}
	if a.Reservations == nil {
		a.Reservations = make(map[string]Reservation)
	}
	if a.Resolved == nil {
		a.Resolved = make(map[string]string)
	}
	return &a, nil
}

func (l *Ledger) loadOrCreate(ctx context.Context, accountID string) (*account, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required")
	}

	a, err := l.load(ctx, accountID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	a = &account{
		ID:           accountID,
		Balance:      l.defaultBalance,
		Reservations: make(map[string]Reservation),
		Resolved:     make(map[string]string),
	}
	if err := l.register(ctx, accountID); err != nil {
		return nil, err
	}
	if err := l.save(ctx, a); err != nil {
		return nil, err
	}

	slog.Info("Account created", "account", accountID, "balance", a.Balance)

	return a, nil
}

// register adds the account to the accounts set. Adding an existing
// member is a no-op.
func (l *Ledger) register(ctx context.Context, accountID string) error {
	if err := l.store.AddToSet(ctx, accountsSet, accountID); err != nil {
		return fmt.Errorf("%w: failed to register account: %w", ErrLedgerUnavailable, err)
	}
	return nil
}

func (l *Ledger) save(ctx context.Context, a *account) error {
	a.UpdatedAt = l.now().UTC()
	if err := store.SetJSON(ctx, l.store, accountPrefix+a.ID, a, 0); err != nil {
		return fmt.Errorf("%w: failed to save account %s: %w", ErrLedgerUnavailable, a.ID, err)
	}
	return nil
}
