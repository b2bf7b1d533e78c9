// Package ledger implements the custodial per-(user, asset) free/locked
// balance accounting that all trading operations settle through.
//
// Mutating operations either fully apply or have no effect; none are
// retried internally. lock/unlock/transfer_locked are restricted to a
// capability set of authorised executors (Books, via the Factory).
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"clob/internal/clock"
	"clob/internal/events"
)

var (
	ErrZeroAmount            = errors.New("ledger: amount must be greater than zero")
	ErrAssetNotSupported     = errors.New("ledger: asset not supported")
	ErrInsufficientFree      = errors.New("ledger: insufficient free balance")
	ErrInsufficientLocked    = errors.New("ledger: insufficient locked balance")
	ErrNotAuthorized         = errors.New("ledger: caller not an authorised executor")
	ErrPaused                = errors.New("ledger: ledger is paused")
	ErrUnknownProposal       = errors.New("ledger: unknown admin proposal")
	ErrTimelockNotElapsed    = errors.New("ledger: timelock delay has not elapsed")
	ErrProposalAlreadyExecuted = errors.New("ledger: proposal already executed")
)

// Balance is one user's holdings of one asset.
type Balance struct {
	Free   *uint256.Int
	Locked *uint256.Int
}

// Total returns free + locked.
func (b Balance) Total() *uint256.Int {
	return new(uint256.Int).Add(b.Free, b.Locked)
}

type accountKey struct {
	user  string
	asset string
}

// proposalKind enumerates the timelocked admin actions.
type proposalKind int

const (
	proposeAuthorizeExecutor proposalKind = iota
	proposeAddSupportedAsset
	proposeRemoveSupportedAsset
	proposePause
	proposeUnpause
)

type proposal struct {
	kind      proposalKind
	target    string // executor id or asset symbol; unused for pause/unpause
	proposeAt time.Time
	executed  bool
}

// Ledger is the custodial balance store shared across all Books.
type Ledger struct {
	mu sync.Mutex

	clock clock.Clock
	bus   *events.Bus

	balances  map[accountKey]*Balance
	supported map[string]bool
	executors map[string]bool
	paused    bool

	timelockDelay time.Duration
	nextProposal  uint64
	proposals     map[uint64]*proposal
}

// New creates an empty Ledger with no supported assets or authorised
// executors; admins must add both before trading can begin.
func New(clk clock.Clock, bus *events.Bus, timelockDelay time.Duration) *Ledger {
	return &Ledger{
		clock:         clk,
		bus:           bus,
		balances:      make(map[accountKey]*Balance),
		supported:     make(map[string]bool),
		executors:     make(map[string]bool),
		timelockDelay: timelockDelay,
		proposals:     make(map[uint64]*proposal),
	}
}

func (l *Ledger) balanceOf(user, asset string) *Balance {
	key := accountKey{user, asset}
	b, ok := l.balances[key]
	if !ok {
		b = &Balance{Free: new(uint256.Int), Locked: new(uint256.Int)}
		l.balances[key] = b
	}
	return b
}

func validateAmount(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

// Deposit credits free balance; the external asset transfer into the
// custodial account is assumed to have already completed.
func (l *Ledger) Deposit(user, asset string, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}
	if !l.supported[asset] {
		return ErrAssetNotSupported
	}

	bal := l.balanceOf(user, asset)
	bal.Free.Add(bal.Free, amount)

	l.bus.Publish(events.Event{Kind: events.Deposited, At: l.clock.Now(), User: user, Asset: asset, Amount: amount})
	log.Debug().Str("user", user).Str("asset", asset).Str("amount", amount.String()).Msg("ledger deposit")
	return nil
}

// Withdraw debits free balance.
func (l *Ledger) Withdraw(user, asset string, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}
	bal := l.balanceOf(user, asset)
	if bal.Free.Cmp(amount) < 0 {
		return ErrInsufficientFree
	}
	bal.Free.Sub(bal.Free, amount)

	l.bus.Publish(events.Event{Kind: events.Withdrawn, At: l.clock.Now(), User: user, Asset: asset, Amount: amount})
	return nil
}

// BatchDeposit applies each deposit independently, collecting
// per-item errors without aborting the batch.
func (l *Ledger) BatchDeposit(user string, amounts map[string]*uint256.Int) map[string]error {
	results := make(map[string]error, len(amounts))
	for asset, amount := range amounts {
		results[asset] = l.Deposit(user, asset, amount)
	}
	return results
}

// BatchWithdraw mirrors BatchDeposit for withdrawals.
func (l *Ledger) BatchWithdraw(user string, amounts map[string]*uint256.Int) map[string]error {
	results := make(map[string]error, len(amounts))
	for asset, amount := range amounts {
		results[asset] = l.Withdraw(user, asset, amount)
	}
	return results
}

func (l *Ledger) requireExecutor(executor string) error {
	if !l.executors[executor] {
		return ErrNotAuthorized
	}
	return nil
}

// Lock moves amount from free to locked on behalf of an authorised
// executor (a Book), reserving funds for a resting or in-flight order.
func (l *Ledger) Lock(executor, user, asset string, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}
	if err := l.requireExecutor(executor); err != nil {
		return err
	}
	bal := l.balanceOf(user, asset)
	if bal.Free.Cmp(amount) < 0 {
		return ErrInsufficientFree
	}
	bal.Free.Sub(bal.Free, amount)
	bal.Locked.Add(bal.Locked, amount)

	l.bus.Publish(events.Event{Kind: events.BalanceLocked, At: l.clock.Now(), User: user, Asset: asset, Amount: amount})
	return nil
}

// Unlock moves amount from locked back to free, e.g. on cancel,
// expiry, or buy-side over-lock refund.
func (l *Ledger) Unlock(executor, user, asset string, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}
	if err := l.requireExecutor(executor); err != nil {
		return err
	}
	bal := l.balanceOf(user, asset)
	if bal.Locked.Cmp(amount) < 0 {
		return ErrInsufficientLocked
	}
	bal.Locked.Sub(bal.Locked, amount)
	bal.Free.Add(bal.Free, amount)

	l.bus.Publish(events.Event{Kind: events.BalanceUnlocked, At: l.clock.Now(), User: user, Asset: asset, Amount: amount})
	return nil
}

// TransferLocked is the settlement primitive: it debits from's locked
// balance and credits to's free balance, atomically from the caller's
// perspective.
func (l *Ledger) TransferLocked(executor, from, to, asset string, amount *uint256.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.paused {
		return ErrPaused
	}
	if err := l.requireExecutor(executor); err != nil {
		return err
	}
	fromBal := l.balanceOf(from, asset)
	if fromBal.Locked.Cmp(amount) < 0 {
		return ErrInsufficientLocked
	}
	toBal := l.balanceOf(to, asset)

	fromBal.Locked.Sub(fromBal.Locked, amount)
	toBal.Free.Add(toBal.Free, amount)

	l.bus.Publish(events.Event{Kind: events.TransferExecuted, At: l.clock.Now(), From: from, To: to, Asset: asset, Amount: amount})
	return nil
}

// GetTotalBalance returns free + locked for (user, asset).
func (l *Ledger) GetTotalBalance(user, asset string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceOf(user, asset).Total()
}

// GetAvailableBalance returns the free balance for (user, asset).
func (l *Ledger) GetAvailableBalance(user, asset string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.balanceOf(user, asset).Free)
}

// GetLockedBalance returns the locked balance for (user, asset).
func (l *Ledger) GetLockedBalance(user, asset string) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(uint256.Int).Set(l.balanceOf(user, asset).Locked)
}

// AuthorizeExecutorNow grants executor capability immediately; used in
// tests and by the Factory when it registers a freshly created Book,
// which is not itself a sensitive admin action. Sensitive re-grants of
// an existing capability (e.g. by a human admin) should instead go
// through ProposeAuthorizeExecutor.
func (l *Ledger) AuthorizeExecutorNow(executor string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executors[executor] = true
}

// IsSupportedAsset reports whether asset may be deposited/traded.
func (l *Ledger) IsSupportedAsset(asset string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.supported[asset]
}

// AddSupportedAssetNow marks an asset tradable immediately; exposed for
// bootstrap/test setup outside the timelock, mirroring
// AuthorizeExecutorNow.
func (l *Ledger) AddSupportedAssetNow(asset string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.supported[asset] = true
}

// ---- Timelocked admin surface -----------------------------------------
//
// Sensitive admin operations follow propose -> wait(delta) -> execute,
// per spec.md §6.

func (l *Ledger) propose(kind proposalKind, target string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextProposal
	l.nextProposal++
	l.proposals[id] = &proposal{kind: kind, target: target, proposeAt: l.clock.Now()}
	return id
}

func (l *Ledger) ProposeAuthorizeExecutor(executor string) uint64 {
	return l.propose(proposeAuthorizeExecutor, executor)
}

func (l *Ledger) ProposeAddSupportedAsset(asset string) uint64 {
	return l.propose(proposeAddSupportedAsset, asset)
}

func (l *Ledger) ProposeRemoveSupportedAsset(asset string) uint64 {
	return l.propose(proposeRemoveSupportedAsset, asset)
}

func (l *Ledger) ProposePause() uint64 {
	return l.propose(proposePause, "")
}

func (l *Ledger) ProposeUnpause() uint64 {
	return l.propose(proposeUnpause, "")
}

// Execute applies a previously proposed admin action once the
// timelock delay has elapsed.
func (l *Ledger) Execute(proposalID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, ok := l.proposals[proposalID]
	if !ok {
		return ErrUnknownProposal
	}
	if p.executed {
		return ErrProposalAlreadyExecuted
	}
	if l.clock.Now().Before(p.proposeAt.Add(l.timelockDelay)) {
		return ErrTimelockNotElapsed
	}

	switch p.kind {
	case proposeAuthorizeExecutor:
		l.executors[p.target] = true
	case proposeAddSupportedAsset:
		l.supported[p.target] = true
	case proposeRemoveSupportedAsset:
		delete(l.supported, p.target)
	case proposePause:
		l.paused = true
	case proposeUnpause:
		l.paused = false
	}
	p.executed = true
	log.Info().Uint64("proposalID", proposalID).Int("kind", int(p.kind)).Msg("admin proposal executed")
	return nil
}

// Paused reports whether mutating operations are currently blocked.
func (l *Ledger) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}
