package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/clawmarket/internal/crypto"
	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const escrowABI = `[
  {"type":"function","name":"createPool","stateMutability":"nonpayable",
   "inputs":[{"name":"debateId","type":"string"}],"outputs":[]},
  {"type":"function","name":"resolvePool","stateMutability":"nonpayable",
   "inputs":[{"name":"debateId","type":"string"},{"name":"winnerAgent","type":"address"}],"outputs":[]},
  {"type":"function","name":"isPoolResolved","stateMutability":"view",
   "inputs":[{"name":"debateId","type":"string"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"pools","stateMutability":"view",
   "inputs":[{"name":"","type":"string"}],
   "outputs":[
     {"name":"debateId","type":"string"},
     {"name":"exists","type":"bool"},
     {"name":"resolved","type":"bool"},
     {"name":"cancelled","type":"bool"},
     {"name":"winner","type":"address"},
     {"name":"totalPool","type":"uint256"}]}
]`

var parsedEscrowABI = mustParseABI(escrowABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return a
}

// PoolInfo mirrors the escrow contract's pools(string) getter.
type PoolInfo struct {
	DebateID  string
	Exists    bool
	Resolved  bool
	Cancelled bool
	Winner    common.Address
	TotalPool *big.Int
}

// EscrowConfig configures an Escrow.
type EscrowConfig struct {
	Address        string
	ChainID        int64
	GasLimit       uint64
	ReceiptPoll    time.Duration
	ReceiptTimeout time.Duration
}

// Escrow settles debate pools on the escrow contract. It implements
// domain.Settler and domain.PoolCreator.
type Escrow struct {
	backend Backend
	signer  *crypto.Signer
	address common.Address
	chainID *big.Int
	cfg     EscrowConfig
	logger  *slog.Logger
}

var (
	_ domain.Settler     = (*Escrow)(nil)
	_ domain.PoolCreator = (*Escrow)(nil)
)

// NewEscrow returns an escrow client that signs with signer.
func NewEscrow(backend Backend, signer *crypto.Signer, cfg EscrowConfig, logger *slog.Logger) (*Escrow, error) {
	if !common.IsHexAddress(cfg.Address) {
		return nil, fmt.Errorf("chain: invalid escrow address %q", cfg.Address)
	}
	if cfg.ReceiptPoll <= 0 {
		cfg.ReceiptPoll = 2 * time.Second
	}
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 2 * time.Minute
	}
	return &Escrow{
		backend: backend,
		signer:  signer,
		address: common.HexToAddress(cfg.Address),
		chainID: big.NewInt(cfg.ChainID),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Pool reads the on-chain pool for debateID.
func (e *Escrow) Pool(ctx context.Context, debateID string) (PoolInfo, error) {
	out, err := e.call(ctx, "pools", debateID)
	if err != nil {
		return PoolInfo{}, err
	}
	if len(out) != 6 {
		return PoolInfo{}, fmt.Errorf("chain: pools: unexpected %d outputs", len(out))
	}
	info := PoolInfo{}
	var ok bool
	if info.DebateID, ok = out[0].(string); !ok {
		return PoolInfo{}, errors.New("chain: pools: bad debateId")
	}
	info.Exists, _ = out[1].(bool)
	info.Resolved, _ = out[2].(bool)
	info.Cancelled, _ = out[3].(bool)
	info.Winner, _ = out[4].(common.Address)
	info.TotalPool, _ = out[5].(*big.Int)
	return info, nil
}

// IsResolved reports whether the contract has already resolved debateID.
func (e *Escrow) IsResolved(ctx context.Context, debateID string) (bool, error) {
	out, err := e.call(ctx, "isPoolResolved", debateID)
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("chain: isPoolResolved: unexpected %d outputs", len(out))
	}
	resolved, _ := out[0].(bool)
	return resolved, nil
}

// Settle resolves the pool for debateID in favour of target. A pool that
// the contract already resolved is reported as settled, not as an error.
func (e *Escrow) Settle(ctx context.Context, debateID, target string) (domain.SettlementReceipt, error) {
	if !common.IsHexAddress(target) {
		return domain.SettlementReceipt{}, fmt.Errorf("chain: invalid settlement target %q", target)
	}
	info, err := e.Pool(ctx, debateID)
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	if !info.Exists {
		return domain.SettlementReceipt{}, fmt.Errorf("chain: pool %q does not exist on-chain: %w", debateID, domain.ErrUpstream)
	}
	if info.Resolved {
		e.logger.InfoContext(ctx, "chain: pool already resolved on-chain", slog.String("debate_id", debateID))
		return domain.SettlementReceipt{Onchain: true, AlreadySettled: true}, nil
	}

	receipt, err := e.transact(ctx, "resolvePool", debateID, common.HexToAddress(target))
	if err != nil {
		if isAlreadyResolved(err) {
			return domain.SettlementReceipt{Onchain: true, AlreadySettled: true}, nil
		}
		return domain.SettlementReceipt{}, err
	}
	return domain.SettlementReceipt{
		Onchain:     true,
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// CreatePool opens the escrow pool for debateID unless it already exists.
func (e *Escrow) CreatePool(ctx context.Context, debateID string) error {
	info, err := e.Pool(ctx, debateID)
	if err != nil {
		return err
	}
	if info.Exists {
		return nil
	}
	receipt, err := e.transact(ctx, "createPool", debateID)
	if err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "chain: escrow pool created",
		slog.String("debate_id", debateID),
		slog.String("tx_hash", receipt.TxHash.Hex()),
	)
	return nil
}

func (e *Escrow) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := parsedEscrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	res, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err := parsedEscrowABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return out, nil
}

func (e *Escrow) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	if e.signer == nil {
		return nil, fmt.Errorf("chain: %s: no oracle key configured", method)
	}
	data, err := parsedEscrowABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	from := e.signer.Address()

	nonce, err := e.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("chain: nonce: %w", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: gas price: %w", err)
	}
	gas := e.cfg.GasLimit
	if gas == 0 {
		gas, err = e.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &e.address, Data: data})
		if err != nil {
			return nil, fmt.Errorf("chain: estimate %s: %w", method, err)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.address,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := e.signer.SignTx(tx, e.chainID)
	if err != nil {
		return nil, err
	}
	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("chain: send %s: %w", method, err)
	}
	e.logger.InfoContext(ctx, "chain: transaction sent",
		slog.String("method", method),
		slog.String("tx_hash", signed.Hash().Hex()),
	)
	return e.waitReceipt(ctx, method, signed.Hash())
}

func (e *Escrow) waitReceipt(ctx context.Context, method string, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("chain: %s reverted in tx %s", method, hash.Hex())
			}
			return receipt, nil
		case !errors.Is(err, ethereum.NotFound):
			return nil, fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("chain: waiting for %s receipt: %w", method, ctx.Err())
		case <-ticker.C:
		}
	}
}

func isAlreadyResolved(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already resolved")
}
