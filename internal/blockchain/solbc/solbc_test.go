package solbc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestParseTokenAccount(t *testing.T) {
	raw := []byte(`{
		"program": "spl-token",
		"parsed": {
			"type": "account",
			"info": {
				"isNative": false,
				"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"owner": "11111111111111111111111111111111",
				"state": "initialized",
				"tokenAmount": {"amount": "12500000", "decimals": 6, "uiAmount": 12.5, "uiAmountString": "12.5"}
			}
		},
		"space": 165
	}`)

	bal, err := ParseTokenAccount(raw)
	require.NoError(t, err)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", bal.Mint.String())
	assert.Equal(t, uint64(12_500_000), bal.Amount)
	assert.Equal(t, uint8(6), bal.Decimals)
	assert.InDelta(t, 12.5, bal.UIAmount(), 1e-9)
}

func TestParseTokenAccountRejectsGarbage(t *testing.T) {
	tests := map[string]string{
		"not json":   `nope`,
		"bad mint":   `{"parsed":{"info":{"mint":"xyz","tokenAmount":{"amount":"1","decimals":0}}}}`,
		"bad amount": `{"parsed":{"info":{"mint":"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v","tokenAmount":{"amount":"-1","decimals":0}}}}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTokenAccount([]byte(raw))
			assert.Error(t, err)
		})
	}
}

// Пакет не должен падать при инициализации, а Token-2022 обязан совпадать с реальным ID.
func TestTokenProgramsAreCanonical(t *testing.T) {
	require.Len(t, tokenPrograms, 2)
	assert.Equal(t, "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA", tokenPrograms[0].String())
	assert.Equal(t, "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb", tokenPrograms[1].String())
}

func TestCollectTokenBalancesSkipsEmptyAccounts(t *testing.T) {
	raw := []byte(`[
		{"pubkey": "So11111111111111111111111111111111111111112", "account": {
			"lamports": 2039280, "owner": "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb", "executable": false,
			"data": {"program": "spl-token-2022", "parsed": {"type": "account", "info": {
				"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"tokenAmount": {"amount": "42", "decimals": 6}}}, "space": 165}}},
		{"pubkey": "11111111111111111111111111111111", "account": {
			"lamports": 0, "owner": "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb", "executable": false, "data": null}},
		{"pubkey": "SysvarRent111111111111111111111111111111111", "account": {
			"lamports": 0, "owner": "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb", "executable": false,
			"data": {"parsed": {"info": {"mint": "xyz"}}}}}
	]`)
	var accounts []*solanarpc.TokenAccount
	require.NoError(t, json.Unmarshal(raw, &accounts))
	accounts = append(accounts, nil)

	c := &Client{logger: zaptest.NewLogger(t)}
	got := c.collectTokenBalances(nil, accounts, solana.Token2022ProgramID)

	require.Len(t, got, 1)
	assert.Equal(t, uint64(42), got[0].Amount)
	assert.Equal(t, solana.Token2022ProgramID, got[0].Program)
	assert.Equal(t, "So11111111111111111111111111111111111111112", got[0].Account.String())
}

func TestDecodeMintDecimals(t *testing.T) {
	data := make([]byte, 82)
	data[44] = 9
	d, err := DecodeMintDecimals(data)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), d)

	_, err = DecodeMintDecimals(data[:10])
	assert.Error(t, err)
}

func TestParseAnchorErrorLog(t *testing.T) {
	got := parseAnchorErrorLog("Program log: AnchorError occurred. Error Code: ExceededBinSlippageTolerance. Error Number: 6004. Error Message: Exceeded bin slippage tolerance.")
	assert.Equal(t, 6004, got.Code)
	assert.Equal(t, "ExceededBinSlippageTolerance", got.Name)
	assert.Equal(t, "Exceeded bin slippage tolerance", got.Msg)
}

func TestExplain(t *testing.T) {
	ea := NewErrorAnalyzer(zaptest.NewLogger(t))

	sim := &SimulationError{Err: "custom", Logs: []string{
		"Program LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo invoke [1]",
		"Program log: AnchorError thrown in programs/lb_clmm/src/instructions/add_liquidity.rs:123. Error Code: InvalidPosition. Error Number: 6010. Error Message: Invalid position.",
	}}
	var anchor *AnchorError
	require.ErrorAs(t, ea.Explain(sim), &anchor)
	assert.Equal(t, 6010, anchor.Code)
	assert.ErrorIs(t, anchor, sim)

	rpcErr := &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: map[string]interface{}{
			"logs": []interface{}{"Program log: AnchorError occurred. Error Code: PositionNotEmpty. Error Number: 6030. Error Message: Position is not empty."},
		},
	}
	require.ErrorAs(t, ea.Explain(rpcErr), &anchor)
	assert.Equal(t, "PositionNotEmpty", anchor.Name)

	plain := errors.New("insufficient lamports")
	assert.Equal(t, plain, ea.Explain(plain))
	assert.NoError(t, ea.Explain(nil))
}

func TestPriorityInstructions(t *testing.T) {
	assert.Empty(t, PriorityConfig{}.Instructions())
	assert.Len(t, PriorityConfig{ComputeUnits: 400_000}.Instructions(), 1)

	ixs := PriorityConfig{ComputeUnits: 400_000, PriorityFee: 50_000}.Instructions()
	require.Len(t, ixs, 2)
	for _, ix := range ixs {
		assert.Equal(t, computebudget.ProgramID, ix.ProgramID())
	}
}

func TestParseTxMode(t *testing.T) {
	m, err := ParseTxMode("DEGEN")
	require.NoError(t, err)
	assert.Equal(t, ModeDegen, m)

	m, err = ParseTxMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeSafe, m)

	_, err = ParseTxMode("yolo")
	assert.Error(t, err)
}

func TestSignWith(t *testing.T) {
	payer := solana.NewWallet().PrivateKey
	extra := solana.NewWallet().PrivateKey
	stranger := solana.NewWallet().PrivateKey

	ix := solana.NewInstruction(solana.SystemProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).SIGNER().WRITE(),
		solana.Meta(extra.PublicKey()).SIGNER().WRITE(),
	}, []byte{0})
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	assert.Error(t, SignWith(tx, payer), "missing signer must fail")
	require.NoError(t, SignWith(tx, stranger, extra, payer))
	assert.Len(t, tx.Signatures, 2)
}

type countingReader struct {
	calls int
}

func (r *countingReader) GetMintDecimals(context.Context, solana.PublicKey) (uint8, error) {
	r.calls++
	return 6, nil
}

func TestTokenMetadataCache(t *testing.T) {
	reader := &countingReader{}
	cache := NewTokenMetadataCache(reader, zaptest.NewLogger(t))
	now := time.Now()
	cache.now = func() time.Time { return now }
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	md, err := cache.Get(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, "USDC", md.Symbol)
	_, err = cache.Decimals(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, 1, reader.calls)

	now = now.Add(metadataTTL)
	_, err = cache.Get(context.Background(), usdc)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.calls)
}
