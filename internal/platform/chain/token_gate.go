package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/clawmarket/internal/domain"
)

const erc20ABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var parsedERC20ABI = mustParseABI(erc20ABI)

// TokenGate reads ERC-20 balances scaled by the token's decimals.
type TokenGate struct {
	backend Backend
	token   common.Address
}

var _ domain.TokenGate = (*TokenGate)(nil)

// NewTokenGate returns a gate for the token at address.
func NewTokenGate(backend Backend, address string) (*TokenGate, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: invalid token address %q", address)
	}
	return &TokenGate{backend: backend, token: common.HexToAddress(address)}, nil
}

// Balance returns the whole-token balance of owner.
func (g *TokenGate) Balance(ctx context.Context, owner string) (decimal.Decimal, error) {
	if !common.IsHexAddress(owner) {
		return decimal.Zero, domain.Reject(domain.ErrValidation, "invalid_wallet",
			fmt.Sprintf("%q is not a wallet address", owner))
	}

	raw, err := g.call(ctx, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return decimal.Zero, err
	}
	bal, ok := raw.(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("chain: balanceOf: unexpected %T", raw)
	}

	raw, err = g.call(ctx, "decimals")
	if err != nil {
		return decimal.Zero, err
	}
	dec, ok := raw.(uint8)
	if !ok {
		return decimal.Zero, fmt.Errorf("chain: decimals: unexpected %T", raw)
	}
	return decimal.NewFromBigInt(bal, -int32(dec)), nil
}

func (g *TokenGate) call(ctx context.Context, method string, args ...any) (any, error) {
	data, err := parsedERC20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	res, err := g.backend.CallContract(ctx, ethereum.CallMsg{To: &g.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	out, err := parsedERC20ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("chain: %s: unexpected %d outputs", method, len(out))
	}
	return out[0], nil
}

// StaticGate reports the same balance for every address. It backs the
// development bypass when no token is configured.
type StaticGate struct {
	Amount decimal.Decimal
}

// Balance returns the fixed amount.
func (s StaticGate) Balance(_ context.Context, owner string) (decimal.Decimal, error) {
	if strings.TrimSpace(owner) == "" {
		return decimal.Zero, domain.Reject(domain.ErrValidation, "invalid_wallet", "wallet address is required")
	}
	return s.Amount, nil
}
