package cmd

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mohsinsiddi/permitflow/internal/chain"
	"github.com/Mohsinsiddi/permitflow/internal/permit2"
	"github.com/Mohsinsiddi/permitflow/internal/wallet"
)

// ---------------------------------------------------------------------------
// fake wallet node
// ---------------------------------------------------------------------------

const (
	ownerKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	spenderKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var fakeOutputs = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(`[
	  {"type":"function","name":"permit2Allowance","inputs":[],"outputs":[{"type":"uint160"},{"type":"uint48"},{"type":"uint48"}]},
	  {"type":"function","name":"decimals","inputs":[],"outputs":[{"type":"uint8"}]},
	  {"type":"function","name":"symbol","inputs":[],"outputs":[{"type":"string"}]},
	  {"type":"function","name":"uint256","inputs":[],"outputs":[{"type":"uint256"}]}
	]`))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// fakeChain is an anvil-like node: it manages the owner and spender accounts,
// signs typed data, and keeps just enough Permit2 state to run the flow.
type fakeChain struct {
	t       *testing.T
	owner   *ecdsa.PrivateKey
	spender *ecdsa.PrivateKey

	mu         sync.Mutex
	approved   bool
	amount     *big.Int
	expiration uint64
	nonce      uint64
	balance    *big.Int
	sent       []string
	rejectSign bool
}

func newFakeChain(t *testing.T) (*fakeChain, *httptest.Server) {
	t.Helper()
	owner, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)
	spender, err := crypto.HexToECDSA(spenderKeyHex)
	require.NoError(t, err)

	balance, _ := new(big.Int).SetString("100000000000000000000", 10)
	fc := &fakeChain{t: t, owner: owner, spender: spender, amount: new(big.Int), balance: balance}
	srv := httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(srv.Close)
	return fc, srv
}

func (fc *fakeChain) ownerAddr() common.Address { return crypto.PubkeyToAddress(fc.owner.PublicKey) }
func (fc *fakeChain) spenderAddr() common.Address {
	return crypto.PubkeyToAddress(fc.spender.PublicKey)
}

func (fc *fakeChain) methods() []string {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]string(nil), fc.sent...)
}

func (fc *fakeChain) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	result, rpcErr := fc.handle(req.Method, req.Params)

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp) //nolint:errcheck
}

func (fc *fakeChain) handle(method string, params []json.RawMessage) (any, map[string]any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	switch method {
	case "eth_requestAccounts":
		return []common.Address{fc.ownerAddr(), fc.spenderAddr()}, nil
	case "eth_chainId":
		return "0x7a69", nil
	case "eth_estimateGas":
		return "0x1d4c0", nil
	case "eth_getTransactionReceipt":
		return map[string]string{"status": "0x1", "blockNumber": "0x10", "gasUsed": "0x5208"}, nil
	case "eth_call":
		var msg chain.CallMsg
		assert.NoError(fc.t, json.Unmarshal(params[0], &msg))
		return fc.call(msg), nil
	case "eth_signTypedData_v4":
		if fc.rejectSign {
			return nil, map[string]any{"code": 4001, "message": "User rejected the request."}
		}
		var typed apitypes.TypedData
		assert.NoError(fc.t, json.Unmarshal(params[1], &typed))
		digest, err := wallet.TypedDataDigest(typed)
		assert.NoError(fc.t, err)
		sig, err := crypto.Sign(digest, fc.owner)
		assert.NoError(fc.t, err)
		sig[64] += 27
		return hexutil.Bytes(sig), nil
	case "eth_sendTransaction":
		var msg chain.CallMsg
		assert.NoError(fc.t, json.Unmarshal(params[0], &msg))
		return fc.send(msg)
	}
	return nil, map[string]any{"code": -32601, "message": "method not found"}
}

func (fc *fakeChain) call(msg chain.CallMsg) hexutil.Bytes {
	var (
		out []byte
		err error
	)
	switch name := methodOf(msg.Data); {
	case name == "allowance" && *msg.To == permit2.Address:
		out, err = fakeOutputs.Methods["permit2Allowance"].Outputs.Pack(
			new(big.Int).Set(fc.amount), new(big.Int).SetUint64(fc.expiration), new(big.Int).SetUint64(fc.nonce))
	case name == "decimals":
		out, err = fakeOutputs.Methods["decimals"].Outputs.Pack(uint8(18))
	case name == "symbol":
		out, err = fakeOutputs.Methods["symbol"].Outputs.Pack("TST")
	case name == "balanceOf":
		out, err = fakeOutputs.Methods["uint256"].Outputs.Pack(fc.balance)
	default:
		fc.t.Errorf("unexpected eth_call %q", name)
	}
	assert.NoError(fc.t, err)
	return out
}

func (fc *fakeChain) send(msg chain.CallMsg) (any, map[string]any) {
	name := methodOf(msg.Data)
	switch name {
	case "approve":
		assert.Equal(fc.t, fc.ownerAddr(), *msg.From)
		fc.approved = true
	case "permit":
		assert.Equal(fc.t, fc.ownerAddr(), *msg.From)
		assert.Equal(fc.t, permit2.Address, *msg.To)
		fc.amount = new(big.Int).Set(permit2.MaxAllowanceTransferAmount)
		fc.expiration = uint64(time.Now().Add(permit2.PermitExpiration).Unix())
		fc.nonce++
	case "transferFrom":
		assert.Equal(fc.t, fc.spenderAddr(), *msg.From)
		if !fc.approved || fc.amount.Sign() == 0 {
			return nil, map[string]any{"code": 3, "message": "execution reverted: InsufficientAllowance(0)"}
		}
	default:
		fc.t.Errorf("unexpected eth_sendTransaction %q", name)
	}
	fc.sent = append(fc.sent, name)
	return crypto.Keccak256Hash(msg.Data, []byte{byte(len(fc.sent))}), nil
}

// methodOf returns the bare method name, e.g. "permit".
func methodOf(data []byte) string {
	name, _, _ := strings.Cut(permit2.MethodName(data), "(")
	return name
}

// ---------------------------------------------------------------------------
// CLI harness
// ---------------------------------------------------------------------------

// resetFlags clears values and Changed marks left by a previous Execute.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil) //nolint:errcheck
		} else {
			f.Value.Set(f.DefValue) //nolint:errcheck
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PERMITFLOW_PROVIDER_URL", "")
	t.Setenv("PERMITFLOW_LOG_LEVEL", "")
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func flowArgs(t *testing.T, srv *httptest.Server, args ...string) []string {
	return append([]string{"--config", t.TempDir(), "--provider", "rpc", "--provider-url", srv.URL, "--yes"}, args...)
}

// ---------------------------------------------------------------------------
// commands against the fake node
// ---------------------------------------------------------------------------

func TestConnectCommand(t *testing.T) {
	fc, srv := newFakeChain(t)
	out, err := runCLI(t, flowArgs(t, srv, "connect")...)
	require.NoError(t, err)
	assert.Contains(t, out, "wallet connected")
	assert.Contains(t, out, fc.ownerAddr().Hex())
	assert.Contains(t, out, fc.spenderAddr().Hex())
	assert.Contains(t, out, "Local Node (31337)")
	assert.Contains(t, out, "TST")
}

func TestAllowanceCommand(t *testing.T) {
	_, srv := newFakeChain(t)
	out, err := runCLI(t, flowArgs(t, srv, "allowance")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Nonce")
	assert.Contains(t, out, "Owner balance:")
	assert.Contains(t, out, "100")
}

func TestFlowCommandRunsEveryStep(t *testing.T) {
	fc, srv := newFakeChain(t)
	out, err := runCLI(t, flowArgs(t, srv, "flow")...)
	require.NoError(t, err, out)

	assert.Equal(t, []string{"approve", "permit", "transferFrom"}, fc.methods())
	fc.mu.Lock()
	assert.Equal(t, uint64(1), fc.nonce)
	fc.mu.Unlock()
	for _, label := range []string{"Check Allowance ok", "Approve ok", "Permit ok", "Transfer ok"} {
		assert.Contains(t, out, label)
	}
	assert.Contains(t, out, "Nonce", "allowance snapshot is rendered after the check step")
}

func TestFlowCommandSubset(t *testing.T) {
	fc, srv := newFakeChain(t)
	_, err := runCLI(t, flowArgs(t, srv, "flow", "--steps", "approve,permit")...)
	require.NoError(t, err)
	assert.Equal(t, []string{"approve", "permit"}, fc.methods())
}

func TestFlowCommandStopsOnRejectedSignature(t *testing.T) {
	fc, srv := newFakeChain(t)
	fc.rejectSign = true

	out, err := runCLI(t, flowArgs(t, srv, "flow")...)
	require.ErrorIs(t, err, errActionFailed)
	assert.Contains(t, out, "signature-rejected")
	assert.Equal(t, []string{"approve"}, fc.methods())
}

func TestTransferWithoutPermitFails(t *testing.T) {
	fc, srv := newFakeChain(t)
	out, err := runCLI(t, flowArgs(t, srv, "transfer", "--tokens", "1.5")...)
	require.ErrorIs(t, err, errActionFailed)
	assert.Contains(t, out, "InsufficientAllowance")
	assert.Empty(t, fc.methods())
}

func TestApproveCancelledWithoutYes(t *testing.T) {
	fc, srv := newFakeChain(t)
	out, err := runCLI(t, "--config", t.TempDir(), "--provider-url", srv.URL, "approve")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.Empty(t, fc.methods())
}

func TestConnectFailsWithoutNode(t *testing.T) {
	out, err := runCLI(t, "--config", t.TempDir(), "--provider-url", "http://127.0.0.1:1", "connect")
	require.ErrorIs(t, err, errActionFailed)
	assert.Contains(t, out, "failed")
}

// ---------------------------------------------------------------------------
// config and wallets
// ---------------------------------------------------------------------------

func TestConfigSetAndShow(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--config", dir, "config", "set", "transfer_amount", "5e18")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"transfer_amount": "5e18"`)

	_, err = runCLI(t, "--config", dir, "config", "set", "nope", "1")
	assert.ErrorContains(t, err, "unknown config key")
}

func TestConfigSetDefaultWallet(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--config", dir, "wallet", "add", "alice", "0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", dir, "wallet", "add", "bob", "0x3c44cdddb6a900fa2b585dd299e03d12fa4293bc")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", dir, "wallet", "use", "alice")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", dir, "config", "set", "default_wallet", "bob")
	require.NoError(t, err)

	wallets, err := newWalletManager().List()
	require.NoError(t, err)
	require.Len(t, wallets, 2)
	assert.Equal(t, "bob", wallets[0].Name)
	assert.True(t, wallets[0].IsDefault)
	assert.False(t, wallets[1].IsDefault)

	out, err := runCLI(t, "--config", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `"default_wallet": "bob"`)

	_, err = runCLI(t, "--config", dir, "config", "set", "default_wallet", "carol")
	assert.ErrorIs(t, err, wallet.ErrWalletNotFound)
}

func TestPermitCommandShowsDomain(t *testing.T) {
	_, srv := newFakeChain(t)
	_, err := runCLI(t, flowArgs(t, srv, "approve")...)
	require.NoError(t, err)

	out, err := runCLI(t, flowArgs(t, srv, "permit")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Sig deadline")
	assert.Contains(t, out, "Domain")
	assert.Contains(t, out, "Permit ok")
}

func TestWalletCommands(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLI(t, "--config", dir, "wallet", "add", "watch", "0x70997970c51812dc3a010c7d01b50e0d17dc79c8")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", dir, "wallet", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	assert.Contains(t, out, "1 wallet(s)")

	_, err = runCLI(t, "--config", dir, "wallet", "use", "watch")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", dir, "--yes", "wallet", "remove", "watch")
	require.NoError(t, err)

	out, err = runCLI(t, "--config", dir, "wallet", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No wallets configured")
}
