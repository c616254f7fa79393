package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clawmarket/internal/crypto"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const (
	testKey    = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	escrowAddr = "0x00000000000000000000000000000000000e5c20"
	tokenAddr  = "0x0000000000000000000000000000000000070ce2"
	holderAddr = "0x00000000000000000000000000000000000a11ce"
)

// fakeChain answers escrow and ERC-20 calls at the ABI level.
type fakeChain struct {
	mu          sync.Mutex
	pools       map[string]*PoolInfo
	receipts    map[common.Hash]*types.Receipt
	sent        int
	block       int64
	estimateErr error
	balance     *big.Int
	decimals    uint8
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		pools:    map[string]*PoolInfo{},
		receipts: map[common.Hash]*types.Receipt{},
		block:    100,
		balance:  new(big.Int),
		decimals: 18,
	}
}

func (f *fakeChain) method(data []byte) (*abi.Method, []any, error) {
	for _, a := range []abi.ABI{parsedEscrowABI, parsedERC20ABI} {
		m, err := a.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := m.Inputs.Unpack(data[4:])
		return m, args, err
	}
	return nil, nil, errors.New("unknown selector")
}

func (f *fakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, args, err := f.method(call.Data)
	if err != nil {
		return nil, err
	}
	switch m.Name {
	case "pools":
		p, ok := f.pools[args[0].(string)]
		if !ok {
			return m.Outputs.Pack("", false, false, false, common.Address{}, new(big.Int))
		}
		return m.Outputs.Pack(p.DebateID, p.Exists, p.Resolved, p.Cancelled, p.Winner, p.TotalPool)
	case "isPoolResolved":
		p, ok := f.pools[args[0].(string)]
		return m.Outputs.Pack(ok && p.Resolved)
	case "balanceOf":
		return m.Outputs.Pack(f.balance)
	case "decimals":
		return m.Outputs.Pack(f.decimals)
	}
	return nil, errors.New("not a view method")
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(f.sent), nil
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 90_000, nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, args, err := f.method(tx.Data())
	if err != nil {
		return err
	}
	id := args[0].(string)
	switch m.Name {
	case "createPool":
		f.pools[id] = &PoolInfo{DebateID: id, Exists: true, TotalPool: new(big.Int)}
	case "resolvePool":
		p, ok := f.pools[id]
		if !ok {
			return errors.New("execution reverted: pool does not exist")
		}
		if p.Resolved {
			return errors.New("execution reverted: Pool already resolved")
		}
		p.Resolved = true
		p.Winner = args[1].(common.Address)
	default:
		return errors.New("not a transaction method")
	}
	f.sent++
	f.block++
	f.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(f.block),
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[h]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func newTestEscrow(t *testing.T, f *fakeChain, withKey bool) *Escrow {
	t.Helper()
	var signer *crypto.Signer
	if withKey {
		var err error
		signer, err = crypto.NewSigner(testKey)
		require.NoError(t, err)
	}
	e, err := NewEscrow(f, signer, EscrowConfig{
		Address:     escrowAddr,
		ChainID:     84532,
		ReceiptPoll: 5 * time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return e
}

func TestEscrow_Settle(t *testing.T) {
	f := newFakeChain()
	f.pools["ai-wars"] = &PoolInfo{DebateID: "ai-wars", Exists: true, TotalPool: big.NewInt(5)}
	e := newTestEscrow(t, f, true)

	r, err := e.Settle(context.Background(), "ai-wars", domain.ProSettlementAddress)
	require.NoError(t, err)
	assert.True(t, r.Onchain)
	assert.False(t, r.AlreadySettled)
	assert.NotEmpty(t, r.TxHash)
	assert.Equal(t, uint64(101), r.BlockNumber)

	info, err := e.Pool(context.Background(), "ai-wars")
	require.NoError(t, err)
	assert.True(t, info.Resolved)
	assert.Equal(t, common.HexToAddress(domain.ProSettlementAddress), info.Winner)

	resolved, err := e.IsResolved(context.Background(), "ai-wars")
	require.NoError(t, err)
	assert.True(t, resolved)
}

func TestEscrow_SettleAlreadyResolved(t *testing.T) {
	f := newFakeChain()
	f.pools["ai-wars"] = &PoolInfo{DebateID: "ai-wars", Exists: true, Resolved: true, TotalPool: new(big.Int)}
	e := newTestEscrow(t, f, true)

	r, err := e.Settle(context.Background(), "ai-wars", domain.ConSettlementAddress)
	require.NoError(t, err)
	assert.True(t, r.AlreadySettled)
	assert.Zero(t, f.sent)
}

func TestEscrow_SettleRevertAlreadyResolved(t *testing.T) {
	f := newFakeChain()
	f.pools["ai-wars"] = &PoolInfo{DebateID: "ai-wars", Exists: true, TotalPool: new(big.Int)}
	f.estimateErr = errors.New("execution reverted: Pool already resolved")
	e := newTestEscrow(t, f, true)

	r, err := e.Settle(context.Background(), "ai-wars", domain.ConSettlementAddress)
	require.NoError(t, err)
	assert.True(t, r.AlreadySettled)
}

func TestEscrow_SettleMissingPool(t *testing.T) {
	e := newTestEscrow(t, newFakeChain(), true)

	_, err := e.Settle(context.Background(), "nope", domain.ProSettlementAddress)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}

func TestEscrow_SettleWithoutKey(t *testing.T) {
	f := newFakeChain()
	f.pools["ai-wars"] = &PoolInfo{DebateID: "ai-wars", Exists: true, TotalPool: new(big.Int)}
	e := newTestEscrow(t, f, false)

	_, err := e.Settle(context.Background(), "ai-wars", domain.ProSettlementAddress)
	assert.Error(t, err)
	assert.Zero(t, f.sent)
}

func TestEscrow_CreatePool(t *testing.T) {
	f := newFakeChain()
	e := newTestEscrow(t, f, true)

	require.NoError(t, e.CreatePool(context.Background(), "tech-bets"))
	assert.Equal(t, 1, f.sent)
	require.NoError(t, e.CreatePool(context.Background(), "tech-bets"))
	assert.Equal(t, 1, f.sent, "existing pool must not be recreated")

	info, err := e.Pool(context.Background(), "tech-bets")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.False(t, info.Resolved)
}

func TestTokenGate_Balance(t *testing.T) {
	f := newFakeChain()
	f.balance = new(big.Int).Mul(big.NewInt(6969), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	g, err := NewTokenGate(f, tokenAddr)
	require.NoError(t, err)

	bal, err := g.Balance(context.Background(), holderAddr)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(6969)), bal.String())

	_, err = g.Balance(context.Background(), "not-an-address")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLedgerSettler(t *testing.T) {
	r, err := LedgerSettler{}.Settle(context.Background(), "ai-wars", domain.ProSettlementAddress)
	require.NoError(t, err)
	assert.False(t, r.Onchain)
	assert.Contains(t, r.Reference, "ai-wars")
}
