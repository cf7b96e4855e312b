// Package cardano plans on-chain actions as structured, unsigned
// transaction stubs. Nothing here touches keys or submits anything;
// the stubs document what a wallet integration would have to sign.
package cardano

import (
	"fmt"

	"yieldpilot/internal/domain"
)

// Fee model in lovelace. Script-bound transactions pay an execution
// surcharge on top of the base network fee.
const (
	baseFeeLovelace    = 170_000
	scriptFeeLovelace  = 500_000
	lendingFeeLovelace = 300_000
)

// Builder constructs unsigned transaction stubs for a network.
type Builder struct {
	Network string
}

// NewBuilder returns a Builder for "preprod" or "mainnet".
func NewBuilder(network string) *Builder {
	if network == "" {
		network = "preprod"
	}
	return &Builder{Network: network}
}

// Transfer plans a plain ADA transfer.
func (b *Builder) Transfer(fromAddress, toAddress string, amountLovelace int64) domain.UnsignedTx {
	return domain.UnsignedTx{
		Type:        "transfer",
		Status:      "unsigned",
		Description: fmt.Sprintf("Transfer %.2f ADA", float64(amountLovelace)/1_000_000),
		Params: map[string]any{
			"from_address":    fromAddress,
			"to_address":      toAddress,
			"amount_lovelace": amountLovelace,
			"network":         b.Network,
		},
	}
}

// Swap plans a DEX swap with slippage protection.
func (b *Builder) Swap(protocol, poolID, fromToken, toToken string, amountIn, minAmountOut float64, userAddress string) domain.UnsignedTx {
	return domain.UnsignedTx{
		Type:        "dex_swap",
		Protocol:    protocol,
		Status:      "unsigned",
		Description: fmt.Sprintf("Swap %g %s for %s on %s", amountIn, fromToken, toToken, protocol),
		Params: map[string]any{
			"pool_id":        poolID,
			"from_token":     fromToken,
			"to_token":       toToken,
			"amount_in":      amountIn,
			"expected_out":   minAmountOut,
			"user_address":   userAddress,
			"network":        b.Network,
		},
	}
}

// AddLiquidity plans a two-sided liquidity deposit.
func (b *Builder) AddLiquidity(protocol, poolID, tokenA, tokenB string, amountA, amountB float64, userAddress string) domain.UnsignedTx {
	return domain.UnsignedTx{
		Type:        "add_liquidity",
		Protocol:    protocol,
		Status:      "unsigned",
		Description: fmt.Sprintf("Add %g %s + %g %s to %s", amountA, tokenA, amountB, tokenB, protocol),
		Params: map[string]any{
			"pool_id":      poolID,
			"token_a":      tokenA,
			"token_b":      tokenB,
			"amount_a":     amountA,
			"amount_b":     amountB,
			"user_address": userAddress,
			"network":      b.Network,
		},
	}
}

// RemoveLiquidity plans burning LP tokens back into the pool assets.
func (b *Builder) RemoveLiquidity(protocol, poolID string, lpTokenAmount float64, userAddress string) domain.UnsignedTx {
	return domain.UnsignedTx{
		Type:        "remove_liquidity",
		Protocol:    protocol,
		Status:      "unsigned",
		Description: fmt.Sprintf("Remove %g LP tokens from %s", lpTokenAmount, protocol),
		Params: map[string]any{
			"pool_id":         poolID,
			"lp_token_amount": lpTokenAmount,
			"user_address":    userAddress,
			"network":         b.Network,
		},
	}
}

// LendingSupply plans supplying an asset to a lending protocol.
func (b *Builder) LendingSupply(protocol, asset string, amount float64, userAddress string) domain.UnsignedTx {
	return domain.UnsignedTx{
		Type:        "lending_supply",
		Protocol:    protocol,
		Status:      "unsigned",
		Description: fmt.Sprintf("Supply %g %s to %s", amount, asset, protocol),
		Params: map[string]any{
			"asset":        asset,
			"amount":       amount,
			"user_address": userAddress,
			"network":      b.Network,
		},
	}
}

// EstimateFees returns the estimated fee in lovelace for a planned
// transaction.
func (b *Builder) EstimateFees(tx domain.UnsignedTx) int64 {
	fee := int64(baseFeeLovelace)
	switch tx.Type {
	case "dex_swap", "add_liquidity", "remove_liquidity":
		fee += scriptFeeLovelace
	case "lending_supply":
		fee += lendingFeeLovelace
	}
	return fee
}
