// Package flow runs the Permit2 actions against the connected wallet: check
// allowance, approve Permit2, sign and submit a permit, and transferFrom.
// Every action returns a Result; no action panics or leaks an error path.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Mohsinsiddi/permitflow/internal/config"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/providers"
	"github.com/Mohsinsiddi/permitflow/internal/session"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

// Errors.
var (
	ErrSignerMismatch    = errors.New("signature does not recover to the owner")
	ErrDeadlinePassed    = errors.New("permit signature deadline passed before submission")
	ErrAmountTooLarge    = errors.New("amount does not fit uint160")
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrUnknownAction     = errors.New("unknown action")
	ErrNonceExhausted    = errors.New("permit2 nonce space exhausted")
)

// Settings are the fixed addresses and amounts the flow operates on.
type Settings struct {
	Token          common.Address
	Permit2        common.Address
	TransferAmount *big.Int
	ConfirmTimeout time.Duration
	// Now is the clock used for deadlines and timestamps; nil means time.Now.
	Now func() time.Time
}

// Controller runs flow actions against the session's provider.
type Controller struct {
	sessions *session.Manager
	settings Settings
	log      *slog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest *AllowanceSnapshot
}

// NewController creates a Controller. Zero settings fall back to the
// canonical Permit2 address, the default transfer amount and the standard
// confirmation timeout.
func NewController(sessions *session.Manager, settings Settings, log *slog.Logger) *Controller {
	if settings.Permit2 == (common.Address{}) {
		settings.Permit2 = permit2.Address
	}
	if settings.TransferAmount == nil {
		settings.TransferAmount, _ = new(big.Int).SetString(config.DefaultTransferAmount, 10)
	}
	if settings.ConfirmTimeout <= 0 {
		settings.ConfirmTimeout = config.TxConfirmTimeout
	}
	now := settings.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{sessions: sessions, settings: settings, log: log, now: now}
}

// Settings returns the controller's effective settings.
func (c *Controller) Settings() Settings { return c.settings }

// Sessions returns the session manager the controller reads from.
func (c *Controller) Sessions() *session.Manager { return c.sessions }

// Latest returns the most recent allowance snapshot, or nil.
func (c *Controller) Latest() *AllowanceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.latest == nil {
		return nil
	}
	cp := *c.latest
	return &cp
}

// Connect connects the session to p.
func (c *Controller) Connect(ctx context.Context, p providers.Provider) Result {
	r := c.begin(ActionConnect)
	if _, err := c.sessions.Connect(ctx, p); err != nil {
		return c.fail(r, KindConnection, err)
	}
	return c.succeed(r)
}

// CheckAllowance reads Permit2's allowance for (token, primary, secondary)
// and stores it as the latest snapshot.
func (c *Controller) CheckAllowance(ctx context.Context) Result {
	r := c.begin(ActionCheckAllowance)
	sess, err := c.sessions.Active()
	if err != nil {
		return c.fail(r, KindNoSession, err)
	}

	snap, err := c.fetchAllowance(ctx, sess)
	if err != nil {
		return c.fail(r, KindQuery, err)
	}
	r.Snapshot = snap
	return c.succeed(r)
}

// Approve sends token.approve(Permit2, MaxAllowanceTransferAmount) from the
// primary account and waits for it to be mined.
func (c *Controller) Approve(ctx context.Context) Result {
	r := c.begin(ActionApprove)
	sess, err := c.sessions.Active()
	if err != nil {
		return c.fail(r, KindNoSession, err)
	}

	r.Amount = new(big.Int).Set(permit2.MaxAllowanceTransferAmount)
	data, err := permit2.PackApprove(c.settings.Permit2, r.Amount)
	if err != nil {
		return c.fail(r, KindInvalidInput, err)
	}

	return c.send(ctx, r, sess, providers.TxRequest{
		From:     sess.Primary,
		To:       c.settings.Token,
		Data:     data,
		GasLimit: config.GasLimitApprove,
	})
}

// Permit reads the current nonce, builds a PermitSingle for the secondary
// account, asks the wallet to sign it, and submits it to Permit2.
func (c *Controller) Permit(ctx context.Context) Result {
	r := c.begin(ActionPermit)
	sess, err := c.sessions.Active()
	if err != nil {
		return c.fail(r, KindNoSession, err)
	}

	snap, err := c.fetchAllowance(ctx, sess)
	if err != nil {
		return c.fail(r, KindQuery, err)
	}
	r.Snapshot = snap
	if new(big.Int).SetUint64(snap.Nonce).Cmp(permit2.MaxOrderedNonce) >= 0 {
		return c.fail(r, KindInvalidInput, fmt.Errorf("%w: nonce %d", ErrNonceExhausted, snap.Nonce))
	}

	permit := permit2.NewPermitSingle(c.settings.Token, sess.Secondary, snap.Nonce, c.now())
	r.Permit = &permit
	typed := permit2.TypedData(permit, c.settings.Permit2, sess.ChainID)

	sig, err := sess.Provider.SignTypedData(ctx, sess.Primary, typed)
	if err != nil {
		return c.fail(r, KindSignatureRejected, fmt.Errorf("signing permit: %w", err))
	}
	signer, err := wallet.RecoverTypedData(typed, sig)
	if err != nil {
		return c.fail(r, KindSignatureRejected, err)
	}
	if signer != sess.Primary {
		return c.fail(r, KindSignatureRejected, fmt.Errorf("%w: got %s, want %s", ErrSignerMismatch, signer.Hex(), sess.Primary.Hex()))
	}
	r.Signature = sig

	if permit.Expired(c.now()) {
		return c.fail(r, KindSignatureRejected, ErrDeadlinePassed)
	}

	data, err := permit2.PackPermit(sess.Primary, permit, sig)
	if err != nil {
		return c.fail(r, KindInvalidInput, err)
	}

	return c.send(ctx, r, sess, providers.TxRequest{
		From:     sess.Primary,
		To:       c.settings.Permit2,
		Data:     data,
		GasLimit: config.GasLimitPermit,
	})
}

// Transfer calls Permit2.transferFrom(primary, secondary, amount, token) from
// the secondary account, which is the permitted spender. A nil amount uses
// the configured transfer amount.
func (c *Controller) Transfer(ctx context.Context, amount *big.Int) Result {
	r := c.begin(ActionTransfer)
	sess, err := c.sessions.Active()
	if err != nil {
		return c.fail(r, KindNoSession, err)
	}

	if amount == nil {
		amount = c.settings.TransferAmount
	}
	r.Amount = new(big.Int).Set(amount)
	switch {
	case amount.Sign() <= 0:
		return c.fail(r, KindInvalidInput, fmt.Errorf("%w: %s", ErrAmountNotPositive, amount))
	case !permit2.FitsUint160(amount):
		return c.fail(r, KindInvalidInput, fmt.Errorf("%w: %s", ErrAmountTooLarge, amount))
	}

	data, err := permit2.PackTransferFrom(sess.Primary, sess.Secondary, amount, c.settings.Token)
	if err != nil {
		return c.fail(r, KindInvalidInput, err)
	}

	return c.send(ctx, r, sess, providers.TxRequest{
		From:     sess.Secondary,
		To:       c.settings.Permit2,
		Data:     data,
		GasLimit: config.GasLimitTransferFrom,
	})
}

// Do runs a single named action. Transfer uses the configured amount.
func (c *Controller) Do(ctx context.Context, a Action) Result {
	switch a {
	case ActionCheckAllowance:
		return c.CheckAllowance(ctx)
	case ActionApprove:
		return c.Approve(ctx)
	case ActionPermit:
		return c.Permit(ctx)
	case ActionTransfer:
		return c.Transfer(ctx, nil)
	default:
		r := c.begin(a)
		return c.fail(r, KindInvalidInput, fmt.Errorf("%w: %q", ErrUnknownAction, a))
	}
}

// Run executes actions in order and stops after the first failure. The
// returned slice holds one Result per action attempted.
func (c *Controller) Run(ctx context.Context, actions ...Action) []Result {
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		r := c.Do(ctx, a)
		results = append(results, r)
		if !r.OK() {
			break
		}
	}
	return results
}

// --- internal ---

func (c *Controller) fetchAllowance(ctx context.Context, sess *session.Snapshot) (*AllowanceSnapshot, error) {
	data, err := permit2.NewAllowanceProvider(sess.Provider, c.settings.Permit2).
		GetAllowanceData(ctx, c.settings.Token, sess.Primary, sess.Secondary)
	if err != nil {
		return nil, err
	}

	snap := &AllowanceSnapshot{
		Token:      c.settings.Token,
		Owner:      sess.Primary,
		Spender:    sess.Secondary,
		Amount:     data.Amount,
		Expiration: data.Expiration,
		Nonce:      data.Nonce,
		FetchedAt:  c.now(),
	}

	c.mu.Lock()
	c.latest = snap
	c.mu.Unlock()

	cp := *snap
	return &cp, nil
}

func (c *Controller) send(ctx context.Context, r Result, sess *session.Snapshot, tx providers.TxRequest) Result {
	hash, err := sess.Provider.SendTransaction(ctx, tx)
	if err != nil {
		return c.fail(r, KindTransaction, fmt.Errorf("sending %s: %w", permit2.MethodName(tx.Data), err))
	}
	r.TxHash = hash
	c.log.Info("transaction sent",
		"action", r.Action, "run_id", r.ID, "hash", hash.Hex(),
		"from", tx.From.Hex(), "method", permit2.MethodName(tx.Data))

	waitCtx, cancel := context.WithTimeout(ctx, c.settings.ConfirmTimeout)
	defer cancel()
	receipt, err := sess.Provider.WaitMined(waitCtx, hash)
	r.Receipt = receipt
	if err != nil {
		return c.fail(r, KindTransaction, err)
	}
	return c.succeed(r)
}

func (c *Controller) begin(a Action) Result {
	return Result{ID: uuid.New(), Action: a, Started: c.now()}
}

func (c *Controller) succeed(r Result) Result {
	r.Finished = c.now()
	c.log.Info("action succeeded", "action", r.Action, "run_id", r.ID, "duration", r.Duration())
	return r
}

func (c *Controller) fail(r Result, kind ErrorKind, err error) Result {
	r.Kind = kind
	r.Err = err
	r.Finished = c.now()
	c.log.Error("action failed", "action", r.Action, "kind", kind.String(), "run_id", r.ID, "err", err)
	return r
}
