package cardano

import "testing"

func TestBuilderStubsStayUnsigned(t *testing.T) {
	b := NewBuilder("preprod")

	tx := b.Swap("minswap", "pool1", "ADA", "DJED", 1000, 980, "addr_test1xyz")
	if tx.Status != "unsigned" || tx.CBOR != nil || tx.TxHash != nil {
		t.Fatalf("swap stub must stay unsigned: %+v", tx)
	}
	if tx.Params["pool_id"] != "pool1" || tx.Params["network"] != "preprod" {
		t.Fatalf("params: %v", tx.Params)
	}

	transfer := b.Transfer("addr_from", "addr_to", 2_500_000)
	if transfer.Description != "Transfer 2.50 ADA" {
		t.Fatalf("description: %q", transfer.Description)
	}
}

func TestEstimateFees(t *testing.T) {
	b := NewBuilder("")
	if b.Network != "preprod" {
		t.Fatalf("default network: %q", b.Network)
	}

	cases := []struct {
		txType string
		want   int64
	}{
		{"transfer", 170_000},
		{"dex_swap", 670_000},
		{"add_liquidity", 670_000},
		{"remove_liquidity", 670_000},
		{"lending_supply", 470_000},
	}
	for _, tc := range cases {
		tx := b.Transfer("a", "b", 1)
		tx.Type = tc.txType
		if got := b.EstimateFees(tx); got != tc.want {
			t.Errorf("%s: got %d, want %d", tc.txType, got, tc.want)
		}
	}
}
