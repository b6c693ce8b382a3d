package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeJupiter struct {
	t       *testing.T
	user    solana.PublicKey
	mu      sync.Mutex
	quotes  []map[string]string
	apiKey  string
	noRoute bool
}

func (f *fakeJupiter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.apiKey = r.Header.Get("x-api-key")
	f.mu.Unlock()

	switch r.URL.Path {
	case "/quote":
		q := r.URL.Query()
		f.mu.Lock()
		f.quotes = append(f.quotes, map[string]string{
			"inputMint":   q.Get("inputMint"),
			"outputMint":  q.Get("outputMint"),
			"amount":      q.Get("amount"),
			"slippageBps": q.Get("slippageBps"),
		})
		f.mu.Unlock()
		out := "12345"
		if f.noRoute {
			out = "0"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"inputMint":  q.Get("inputMint"),
			"outputMint": q.Get("outputMint"),
			"inAmount":   q.Get("amount"),
			"outAmount":  out,
			"routePlan":  []any{map[string]any{"swapInfo": map[string]any{"label": "Meteora DLMM"}}},
		})
	case "/swap":
		var req map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// the quote must come back untouched, including fields the bot does not read
		assert.Contains(f.t, string(req["quoteResponse"]), "routePlan")
		assert.Equal(f.t, `"`+f.user.String()+`"`, string(req["userPublicKey"]))
		assert.Equal(f.t, "true", string(req["wrapAndUnwrapSol"]))

		tx, err := solana.NewTransaction(
			[]solana.Instruction{system.NewTransferInstruction(1, f.user, solana.NewWallet().PublicKey()).Build()},
			solana.Hash{},
			solana.TransactionPayer(f.user),
		)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		b64, err := tx.ToBase64()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"swapTransaction": b64, "lastValidBlockHeight": 1})
	default:
		http.NotFound(w, r)
	}
}

type scriptedSubmitter struct {
	mu    sync.Mutex
	txs   []*solana.Transaction
	fails int
}

func (s *scriptedSubmitter) SubmitSigned(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	if s.fails > 0 {
		s.fails--
		return solana.Signature{}, domain.Transient("send", errors.New("blockhash not found"))
	}
	return tx.Signatures[0], nil
}

type staticChain struct {
	balances []domain.TokenBalance
}

func (c staticChain) GetTokenBalances(context.Context, solana.PublicKey) ([]domain.TokenBalance, error) {
	return c.balances, nil
}

func setup(t *testing.T, balances []domain.TokenBalance, apiKey string) (*Gateway, *fakeJupiter, *scriptedSubmitter, domain.Account) {
	t.Helper()
	w := solana.NewWallet()
	acc := domain.Account{ID: "7", PublicKey: w.PublicKey(), PrivateKey: w.PrivateKey}

	fake := &fakeJupiter{t: t, user: acc.PublicKey}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := zaptest.NewLogger(t)
	httpCfg := httpx.DefaultConfig()
	httpCfg.MaxTries = 1
	api := NewAPI(httpx.New(httpCfg, logger), srv.URL, apiKey)

	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	sub := &scriptedSubmitter{}
	return NewGateway(api, staticChain{balances: balances}, sub, cfg, logger), fake, sub, acc
}

func TestSellAllFiltersHoldings(t *testing.T) {
	keep := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	balances := []domain.TokenBalance{
		{Mint: keep, Amount: 10_000_000, Decimals: 6},
		{Mint: other, Amount: 6_000, Decimals: 3},
		{Mint: solana.NewWallet().PublicKey(), Amount: 4_999_999, Decimals: 6}, // dust
		{Mint: domain.NativeMint, Amount: 50 * domain.LamportsPerSOL, Decimals: 9},
	}

	t.Run("all", func(t *testing.T) {
		gw, fake, sub, acc := setup(t, balances, "")
		require.NoError(t, gw.SellAll(context.Background(), acc, nil))

		require.Len(t, fake.quotes, 2)
		mints := []string{fake.quotes[0]["inputMint"], fake.quotes[1]["inputMint"]}
		assert.ElementsMatch(t, []string{keep.String(), other.String()}, mints)
		for _, q := range fake.quotes {
			assert.Equal(t, domain.NativeMint.String(), q["outputMint"])
			assert.Equal(t, "500", q["slippageBps"])
		}

		require.Len(t, sub.txs, 2)
		for _, tx := range sub.txs {
			assert.NoError(t, tx.VerifySignatures(), "signed with the account key")
		}
	})

	t.Run("one mint", func(t *testing.T) {
		gw, fake, sub, acc := setup(t, balances, "")
		require.NoError(t, gw.SellAll(context.Background(), acc, &other))
		require.Len(t, fake.quotes, 1)
		assert.Equal(t, "6000", fake.quotes[0]["amount"])
		assert.Len(t, sub.txs, 1)
	})

	t.Run("nothing sellable", func(t *testing.T) {
		gw, fake, _, acc := setup(t, balances[2:], "")
		require.NoError(t, gw.SellAll(context.Background(), acc, nil))
		assert.Empty(t, fake.quotes)
	})
}

func TestSellRetries(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	balances := []domain.TokenBalance{{Mint: mint, Amount: 100, Decimals: 0}}

	tests := []struct {
		name      string
		fails     int
		wantErr   bool
		wantSends int
	}{
		{name: "recovers", fails: 2, wantSends: 3},
		{name: "gives up", fails: 5, wantErr: true, wantSends: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, fake, sub, acc := setup(t, balances, "")
			sub.fails = tt.fails

			err := gw.SellAll(context.Background(), acc, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsTransient(err))
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, sub.txs, tt.wantSends)
			assert.Len(t, fake.quotes, tt.wantSends, "every attempt re-quotes")
		})
	}
}

func TestBuy(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	gw, fake, sub, acc := setup(t, nil, "secret")

	err := gw.Buy(context.Background(), acc, mint, 0)
	assert.True(t, domain.IsValidation(err))

	require.NoError(t, gw.Buy(context.Background(), acc, mint, domain.SOLToLamports(0.25)))
	require.Len(t, fake.quotes, 1)
	assert.Equal(t, domain.NativeMint.String(), fake.quotes[0]["inputMint"])
	assert.Equal(t, mint.String(), fake.quotes[0]["outputMint"])
	assert.Equal(t, "250000000", fake.quotes[0]["amount"])
	assert.Equal(t, "secret", fake.apiKey)
	assert.Len(t, sub.txs, 1)
}

func TestQuoteWithoutRoute(t *testing.T) {
	gw, fake, sub, acc := setup(t, nil, "")
	fake.noRoute = true
	gw.cfg.MaxTries = 1

	err := gw.Buy(context.Background(), acc, solana.NewWallet().PublicKey(), 1000)
	assert.ErrorContains(t, err, "no route")
	assert.Empty(t, sub.txs)
}

func TestNewAPIBaseURL(t *testing.T) {
	assert.Equal(t, defaultLiteURL, NewAPI(nil, "", "").baseURL)
	assert.Equal(t, defaultProURL, NewAPI(nil, "", " key ").baseURL)
	assert.Equal(t, "http://x", NewAPI(nil, "http://x/", "key").baseURL)
}

func TestNativeUSDPrice(t *testing.T) {
	gw, fake, _, _ := setup(t, nil, "")

	price, err := gw.api.NativeUSDPrice(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.012345, price, 1e-9)
	require.Len(t, fake.quotes, 1)
	assert.Equal(t, USDCMint.String(), fake.quotes[0]["outputMint"])
	assert.Equal(t, "1000000000", fake.quotes[0]["amount"])
}
