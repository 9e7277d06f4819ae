package flow_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/flow"
	"github.com/Mohsinsiddi/permitflow/internal/logging"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/providers"
	"github.com/Mohsinsiddi/permitflow/internal/session"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

const (
	ownerKey   = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	spenderKey = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	owner   = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	spender = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	token   = common.HexToAddress("0x4f34BF3352A701AEc924CE34d6CfC373eABb186c")
)

var testABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"type":"function","name":"allowance","inputs":[{"name":"user","type":"address"},{"name":"token","type":"address"},{"name":"spender","type":"address"}],
		 "outputs":[{"name":"amount","type":"uint160"},{"name":"expiration","type":"uint48"},{"name":"nonce","type":"uint48"}]},
		{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint160"},{"name":"token","type":"address"}],"outputs":[]}
	]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

func decodeArgs(t *testing.T, method string, data []byte) []interface{} {
	t.Helper()
	m := testABI.Methods[method]
	require.Equal(t, m.ID, data[:4], "selector for %s", method)
	args, err := m.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args
}

// ---------------------------------------------------------------------------
// fake wallet provider
// ---------------------------------------------------------------------------

type fakeWallet struct {
	mu sync.Mutex

	accounts     []common.Address
	allowance    [3]int64
	allowanceErr error
	sign         func(common.Address, apitypes.TypedData) ([]byte, error)
	sendErr      error
	receipt      *chain.TxReceipt
	waitErr      error

	allowanceCalls [][]interface{}
	signed         []apitypes.TypedData
	sent           []providers.TxRequest
}

func newFakeWallet(t *testing.T) *fakeWallet {
	t.Helper()
	mgr := wallet.NewManager(wallet.WithInMemoryStore())
	require.NoError(t, mgr.AddWithKey("owner", ownerKey))
	require.NoError(t, mgr.AddWithKey("spender", spenderKey))
	w, err := mgr.Get("owner")
	require.NoError(t, err)
	signer := wallet.NewSigner(w, mgr.Keystore())

	return &fakeWallet{
		accounts:  []common.Address{owner, spender},
		allowance: [3]int64{5, 100, 2},
		sign: func(_ common.Address, td apitypes.TypedData) ([]byte, error) {
			return signer.SignTypedData(td)
		},
		receipt: &chain.TxReceipt{Status: 1, BlockNumber: 7},
	}
}

func (f *fakeWallet) Name() string { return "fake" }

func (f *fakeWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	return f.accounts, nil
}

func (f *fakeWallet) ChainID(context.Context) (*big.Int, error) { return big.NewInt(31337), nil }

func (f *fakeWallet) SignTypedData(_ context.Context, account common.Address, td apitypes.TypedData) ([]byte, error) {
	f.mu.Lock()
	f.signed = append(f.signed, td)
	f.mu.Unlock()
	return f.sign(account, td)
}

func (f *fakeWallet) SendTransaction(_ context.Context, tx providers.TxRequest) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeWallet) WaitMined(_ context.Context, hash common.Hash) (*chain.TxReceipt, error) {
	if f.waitErr != nil {
		return f.receipt, f.waitErr
	}
	r := *f.receipt
	r.Hash = hash
	return &r, nil
}

func (f *fakeWallet) CallContract(_ context.Context, msg chain.CallMsg) ([]byte, error) {
	if f.allowanceErr != nil {
		return nil, f.allowanceErr
	}
	m := testABI.Methods["allowance"]
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.allowanceCalls = append(f.allowanceCalls, args)
	f.mu.Unlock()
	return m.Outputs.Pack(big.NewInt(f.allowance[0]), big.NewInt(f.allowance[1]), big.NewInt(f.allowance[2]))
}

func newController(t *testing.T, fw *fakeWallet) *flow.Controller {
	t.Helper()
	sessions := session.New(logging.Discard())
	if fw != nil {
		_, err := sessions.Connect(context.Background(), fw)
		require.NoError(t, err)
	}
	return flow.NewController(sessions, flow.Settings{Token: token}, logging.Discard())
}

// ---------------------------------------------------------------------------
// session gating
// ---------------------------------------------------------------------------

func TestActionsRequireSession(t *testing.T) {
	c := newController(t, nil)
	ctx := context.Background()

	for _, r := range []flow.Result{
		c.CheckAllowance(ctx),
		c.Approve(ctx),
		c.Permit(ctx),
		c.Transfer(ctx, nil),
	} {
		assert.Equal(t, flow.KindNoSession, r.Kind, r.Action)
		assert.ErrorIs(t, r.Err, session.ErrNoSession)
		assert.False(t, r.OK())
	}
	assert.Nil(t, c.Latest())
}

func TestConnectFailureKind(t *testing.T) {
	c := newController(t, nil)
	fw := newFakeWallet(t)
	fw.accounts = nil

	r := c.Connect(context.Background(), fw)
	assert.Equal(t, flow.KindConnection, r.Kind)
	assert.ErrorIs(t, r.Err, session.ErrNoAccounts)
	assert.False(t, c.Sessions().Connected())
}

func TestConnectSuccess(t *testing.T) {
	c := newController(t, nil)
	r := c.Connect(context.Background(), newFakeWallet(t))
	require.True(t, r.OK())
	assert.True(t, c.Sessions().Connected())
}

// ---------------------------------------------------------------------------
// check allowance
// ---------------------------------------------------------------------------

func TestCheckAllowanceStoresExactValues(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	r := c.CheckAllowance(context.Background())
	require.True(t, r.OK(), r.Err)
	require.NotNil(t, r.Snapshot)
	assert.Equal(t, int64(5), r.Snapshot.Amount.Int64())
	assert.Equal(t, uint64(100), r.Snapshot.Expiration)
	assert.Equal(t, uint64(2), r.Snapshot.Nonce)

	latest := c.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, int64(5), latest.Amount.Int64())
	assert.Equal(t, uint64(100), latest.Expiration)
	assert.Equal(t, uint64(2), latest.Nonce)
	assert.Equal(t, owner, latest.Owner)
	assert.Equal(t, spender, latest.Spender)

	require.Len(t, fw.allowanceCalls, 1)
	assert.Equal(t, []interface{}{owner, token, spender}, fw.allowanceCalls[0])
}

func TestCheckAllowanceQueryFailure(t *testing.T) {
	fw := newFakeWallet(t)
	fw.allowanceErr = errors.New("connection reset")
	c := newController(t, fw)

	r := c.CheckAllowance(context.Background())
	assert.Equal(t, flow.KindQuery, r.Kind)
	assert.ErrorContains(t, r.Err, "connection reset")
	assert.Nil(t, c.Latest())
}

// ---------------------------------------------------------------------------
// approve
// ---------------------------------------------------------------------------

func TestApproveAlwaysRequestsMax(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	r := c.Approve(context.Background())
	require.True(t, r.OK(), r.Err)
	assert.Equal(t, uint64(7), r.Receipt.BlockNumber)

	require.Len(t, fw.sent, 1)
	tx := fw.sent[0]
	assert.Equal(t, owner, tx.From)
	assert.Equal(t, token, tx.To)

	args := decodeArgs(t, "approve", tx.Data)
	assert.Equal(t, permit2.Address, args[0])
	assert.Equal(t, 0, args[1].(*big.Int).Cmp(permit2.MaxAllowanceTransferAmount))
	assert.Equal(t, 0, r.Amount.Cmp(permit2.MaxAllowanceTransferAmount))
}

func TestApproveRevertedIsTransactionFailure(t *testing.T) {
	fw := newFakeWallet(t)
	fw.receipt = &chain.TxReceipt{Status: 0}
	fw.waitErr = chain.ErrReverted
	c := newController(t, fw)

	r := c.Approve(context.Background())
	assert.Equal(t, flow.KindTransaction, r.Kind)
	assert.ErrorIs(t, r.Err, chain.ErrReverted)
	assert.NotEqual(t, common.Hash{}, r.TxHash)
}

func TestApproveSendFailure(t *testing.T) {
	fw := newFakeWallet(t)
	fw.sendErr = providers.ErrUserRejected
	c := newController(t, fw)

	r := c.Approve(context.Background())
	assert.Equal(t, flow.KindTransaction, r.Kind)
	assert.ErrorIs(t, r.Err, providers.ErrUserRejected)
}

// ---------------------------------------------------------------------------
// permit
// ---------------------------------------------------------------------------

func TestPermitSignsAndSubmits(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	signedAt := time.Now()
	r := c.Permit(context.Background())
	require.True(t, r.OK(), r.Err)

	require.NotNil(t, r.Permit)
	p := r.Permit
	assert.Equal(t, token, p.Details.Token)
	assert.Equal(t, spender, p.Spender)
	assert.Equal(t, uint64(2), p.Details.Nonce.Uint64())
	assert.Equal(t, 0, p.Details.Amount.Cmp(permit2.MaxAllowanceTransferAmount))
	assert.InDelta(t, signedAt.Add(30*24*time.Hour).Unix(), p.Details.Expiration.Int64(), 1)
	assert.InDelta(t, signedAt.Add(30*time.Minute).Unix(), p.SigDeadline.Int64(), 1)

	require.Len(t, fw.signed, 1)
	assert.Equal(t, "Permit2", fw.signed[0].Domain.Name)
	assert.Len(t, r.Signature, 65)

	require.Len(t, fw.sent, 1)
	assert.Equal(t, owner, fw.sent[0].From)
	assert.Equal(t, permit2.Address, fw.sent[0].To)
	assert.Equal(t, "permit(address,((address,uint160,uint48,uint48),address,uint256),bytes)", permit2.MethodName(fw.sent[0].Data))
}

func TestPermitSignatureRejected(t *testing.T) {
	fw := newFakeWallet(t)
	fw.sign = func(common.Address, apitypes.TypedData) ([]byte, error) {
		return nil, providers.ErrUserRejected
	}
	c := newController(t, fw)

	r := c.Permit(context.Background())
	assert.Equal(t, flow.KindSignatureRejected, r.Kind)
	assert.ErrorIs(t, r.Err, providers.ErrUserRejected)
	assert.Empty(t, fw.sent, "no permit transaction may be sent after a rejection")
}

func TestPermitWrongSigner(t *testing.T) {
	fw := newFakeWallet(t)
	mgr := wallet.NewManager(wallet.WithInMemoryStore())
	require.NoError(t, mgr.AddWithKey("other", spenderKey))
	other, err := mgr.Get("other")
	require.NoError(t, err)
	fw.sign = func(_ common.Address, td apitypes.TypedData) ([]byte, error) {
		return wallet.NewSigner(other, mgr.Keystore()).SignTypedData(td)
	}
	c := newController(t, fw)

	r := c.Permit(context.Background())
	assert.Equal(t, flow.KindSignatureRejected, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrSignerMismatch)
	assert.Empty(t, fw.sent)
}

func TestPermitDeadlinePassedWhileSigning(t *testing.T) {
	fw := newFakeWallet(t)
	clock := time.Unix(1_700_000_000, 0)
	sign := fw.sign
	fw.sign = func(account common.Address, td apitypes.TypedData) ([]byte, error) {
		clock = clock.Add(permit2.PermitSigDeadline + time.Minute)
		return sign(account, td)
	}

	sessions := session.New(logging.Discard())
	_, err := sessions.Connect(context.Background(), fw)
	require.NoError(t, err)
	c := flow.NewController(sessions, flow.Settings{
		Token: token,
		Now:   func() time.Time { return clock },
	}, logging.Discard())

	r := c.Permit(context.Background())
	assert.Equal(t, flow.KindSignatureRejected, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrDeadlinePassed)
	require.NotNil(t, r.Permit)
	assert.Equal(t, int64(1_700_000_000+30*60), r.Permit.SigDeadline.Int64())
	assert.Len(t, fw.signed, 1)
	assert.Empty(t, fw.sent)
}

func TestPermitNonceExhausted(t *testing.T) {
	fw := newFakeWallet(t)
	fw.allowance[2] = permit2.MaxOrderedNonce.Int64()
	c := newController(t, fw)

	r := c.Permit(context.Background())
	assert.Equal(t, flow.KindInvalidInput, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrNonceExhausted)
	assert.Empty(t, fw.signed)
	assert.Empty(t, fw.sent)
}

func TestPermitNonceQueryFailure(t *testing.T) {
	fw := newFakeWallet(t)
	fw.allowanceErr = errors.New("timeout")
	c := newController(t, fw)

	r := c.Permit(context.Background())
	assert.Equal(t, flow.KindQuery, r.Kind)
	assert.Empty(t, fw.signed)
}

// ---------------------------------------------------------------------------
// transfer
// ---------------------------------------------------------------------------

func TestTransferFromSpender(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	r := c.Transfer(context.Background(), nil)
	require.True(t, r.OK(), r.Err)

	require.Len(t, fw.sent, 1)
	tx := fw.sent[0]
	assert.Equal(t, spender, tx.From)
	assert.Equal(t, permit2.Address, tx.To)

	args := decodeArgs(t, "transferFrom", tx.Data)
	assert.Equal(t, owner, args[0])
	assert.Equal(t, spender, args[1])
	assert.Equal(t, "10000000000000000000", args[2].(*big.Int).String())
	assert.Equal(t, token, args[3])
}

func TestTransferCustomAmount(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	r := c.Transfer(context.Background(), big.NewInt(1234))
	require.True(t, r.OK(), r.Err)
	args := decodeArgs(t, "transferFrom", fw.sent[0].Data)
	assert.Equal(t, int64(1234), args[2].(*big.Int).Int64())
}

func TestTransferInvalidAmounts(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 160)
	r := c.Transfer(context.Background(), tooBig)
	assert.Equal(t, flow.KindInvalidInput, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrAmountTooLarge)

	r = c.Transfer(context.Background(), big.NewInt(0))
	assert.Equal(t, flow.KindInvalidInput, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrAmountNotPositive)

	assert.Empty(t, fw.sent)
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func TestRunAllSteps(t *testing.T) {
	fw := newFakeWallet(t)
	c := newController(t, fw)

	results := c.Run(context.Background(), flow.Steps...)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.True(t, r.OK(), "step %d (%s): %v", i, r.Action, r.Err)
		assert.Equal(t, flow.Steps[i], r.Action)
	}
	assert.Len(t, fw.sent, 3)
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	fw := newFakeWallet(t)
	fw.sign = func(common.Address, apitypes.TypedData) ([]byte, error) {
		return nil, providers.ErrUserRejected
	}
	c := newController(t, fw)

	results := c.Run(context.Background(), flow.Steps...)
	require.Len(t, results, 3)
	assert.Equal(t, flow.ActionPermit, results[2].Action)
	assert.Equal(t, flow.KindSignatureRejected, results[2].Kind)
	assert.Len(t, fw.sent, 1)
}

func TestDoUnknownAction(t *testing.T) {
	c := newController(t, newFakeWallet(t))
	r := c.Do(context.Background(), flow.Action("teleport"))
	assert.Equal(t, flow.KindInvalidInput, r.Kind)
	assert.ErrorIs(t, r.Err, flow.ErrUnknownAction)
}

func TestResultsHaveDistinctIDs(t *testing.T) {
	c := newController(t, newFakeWallet(t))
	a := c.CheckAllowance(context.Background())
	b := c.CheckAllowance(context.Background())
	assert.NotEqual(t, a.ID, b.ID)
	assert.False(t, a.Finished.Before(a.Started))
}

func TestFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	sessions := session.New(logging.Discard())
	c := flow.NewController(sessions, flow.Settings{Token: token}, logging.NewWithWriter(logging.ParseLevel("debug"), "text", &buf))

	r := c.Approve(context.Background())
	require.Equal(t, flow.KindNoSession, r.Kind)
	out := buf.String()
	assert.Contains(t, out, "action failed")
	assert.Contains(t, out, "action=approve")
	assert.Contains(t, out, "kind=no-session")
	assert.Contains(t, out, "run_id="+r.ID.String())
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "none", flow.KindNone.String())
	assert.Equal(t, "signature-rejected", flow.KindSignatureRejected.String())
	assert.Equal(t, "unknown", flow.ErrorKind(99).String())
}

func TestSnapshotHelpers(t *testing.T) {
	s := &flow.AllowanceSnapshot{Amount: new(big.Int).Set(permit2.MaxAllowanceTransferAmount), Expiration: 100}
	assert.True(t, s.Unlimited())
	assert.Equal(t, int64(100), s.ExpiresAt().Unix())

	s = &flow.AllowanceSnapshot{Amount: big.NewInt(5)}
	assert.False(t, s.Unlimited())
	assert.True(t, s.ExpiresAt().IsZero())
}
