// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/meteora-bot/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
)

// Программы токенов, по которым собираются балансы: классический SPL и Token-2022.
// Аккаунты Token-2022 разделяют первые 165 байт раскладки SPL.
var tokenPrograms = []solana.PublicKey{solana.TokenProgramID, solana.Token2022ProgramID}

// Определение ошибок
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrTxFailed        = errors.New("transaction failed on chain")
)

// IsAccountNotFoundError проверяет, является ли ошибка "not found"
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, solanarpc.ErrNotFound)
}

// Client – тонкий адаптер над пулом RPC узлов.
type Client struct {
	pool   *rpc.Pool
	logger *zap.Logger
}

// NewClient создаёт клиент поверх пула узлов.
func NewClient(pool *rpc.Pool, logger *zap.Logger) *Client {
	return &Client{
		pool:   pool,
		logger: logger.Named("solbc-client"),
	}
}

// Pool exposes node metrics.
func (c *Client) Pool() *rpc.Pool {
	return c.pool
}

// GetRecentBlockhash получает последний blockhash.
func (c *Client) GetRecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.pool.Do(ctx, "getLatestBlockhash", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.GetLatestBlockhash(ctx, solanarpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		hash = res.Value.Blockhash
		return nil
	})
	return hash, err
}

// GetAccountInfo получает информацию об аккаунте. Отсутствующий аккаунт даёт ErrAccountNotFound.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	var out *solanarpc.GetAccountInfoResult
	err := c.pool.Do(ctx, "getAccountInfo", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.GetAccountInfoWithOpts(ctx, pubkey, &solanarpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: solanarpc.CommitmentConfirmed,
		})
		if errors.Is(err, solanarpc.ErrNotFound) {
			return nil
		}
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, fmt.Errorf("%s: %w", pubkey, ErrAccountNotFound)
	}
	return out, nil
}

// GetAccountData returns the raw data of an account.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	res, err := c.GetAccountInfo(ctx, pubkey)
	if err != nil {
		return nil, err
	}
	return res.Value.Data.GetBinary(), nil
}

// GetMultipleAccounts получает данные нескольких аккаунтов за один запрос.
// Отсутствующим аккаунтам соответствует nil.
func (c *Client) GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) ([][]byte, error) {
	out := make([][]byte, len(pubkeys))
	if len(pubkeys) == 0 {
		return out, nil
	}
	err := c.pool.Do(ctx, "getMultipleAccounts", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.GetMultipleAccountsWithOpts(ctx, pubkeys, &solanarpc.GetMultipleAccountsOpts{
			Commitment: solanarpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
		if err != nil {
			return err
		}
		for i, acc := range res.Value {
			if i < len(out) && acc != nil {
				out[i] = acc.Data.GetBinary()
			}
		}
		return nil
	})
	return out, err
}

// GetProgramAccountsWithOpts получает все аккаунты программы с опциями фильтрации
func (c *Client) GetProgramAccountsWithOpts(
	ctx context.Context,
	programID solana.PublicKey,
	opts *solanarpc.GetProgramAccountsOpts,
) (solanarpc.GetProgramAccountsResult, error) {
	var out solanarpc.GetProgramAccountsResult
	err := c.pool.Do(ctx, "getProgramAccounts", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.GetProgramAccountsWithOpts(ctx, programID, opts)
		out = res
		return err
	})
	if err != nil {
		c.logger.Debug("GetProgramAccountsWithOpts error",
			zap.String("program_id", programID.String()),
			zap.Error(err))
	}
	return out, err
}

// RawAccount is a program account returned by FindProgramAccounts.
type RawAccount struct {
	Pubkey solana.PublicKey
	Data   []byte
}

// FindProgramAccounts returns the accounts of programID matching every filter.
func (c *Client) FindProgramAccounts(
	ctx context.Context,
	programID solana.PublicKey,
	filters ...solanarpc.RPCFilter,
) ([]RawAccount, error) {
	res, err := c.GetProgramAccountsWithOpts(ctx, programID, &solanarpc.GetProgramAccountsOpts{
		Commitment: solanarpc.CommitmentConfirmed,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, err
	}
	out := make([]RawAccount, 0, len(res))
	for _, acc := range res {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			continue
		}
		out = append(out, RawAccount{Pubkey: acc.Pubkey, Data: acc.Account.Data.GetBinary()})
	}
	return out, nil
}

// GetBalance получает баланс аккаунта в лампортах.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var balance uint64
	err := c.pool.Do(ctx, "getBalance", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.GetBalance(ctx, pubkey, solanarpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		balance = res.Value
		return nil
	})
	return balance, err
}

// GetTokenBalances returns every SPL and Token-2022 balance of owner, zero balances included.
func (c *Client) GetTokenBalances(ctx context.Context, owner solana.PublicKey) ([]domain.TokenBalance, error) {
	var out []domain.TokenBalance
	for _, program := range tokenPrograms {
		program := program
		err := c.pool.Do(ctx, "getTokenAccountsByOwner", func(ctx context.Context, rc *solanarpc.Client) error {
			res, err := rc.GetTokenAccountsByOwner(ctx, owner,
				&solanarpc.GetTokenAccountsConfig{ProgramId: &program},
				&solanarpc.GetTokenAccountsOpts{
					Commitment: solanarpc.CommitmentConfirmed,
					Encoding:   solana.EncodingJSONParsed,
				})
			if err != nil {
				return err
			}
			out = c.collectTokenBalances(out, res.Value, program)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// collectTokenBalances декодирует jsonParsed-аккаунты; пустые и нечитаемые пропускаются.
func (c *Client) collectTokenBalances(out []domain.TokenBalance, accounts []*solanarpc.TokenAccount, program solana.PublicKey) []domain.TokenBalance {
	for _, acc := range accounts {
		if acc == nil || acc.Account.Data == nil {
			continue
		}
		bal, err := ParseTokenAccount(acc.Account.Data.GetRawJSON())
		if err != nil {
			c.logger.Debug("Skipping undecodable token account",
				zap.String("account", acc.Pubkey.String()),
				zap.Error(err))
			continue
		}
		bal.Account = acc.Pubkey
		bal.Program = program
		out = append(out, bal)
	}
	return out
}

type parsedTokenAccount struct {
	Parsed struct {
		Info struct {
			Mint        string `json:"mint"`
			TokenAmount struct {
				Amount   string `json:"amount"`
				Decimals uint8  `json:"decimals"`
			} `json:"tokenAmount"`
		} `json:"info"`
	} `json:"parsed"`
}

// ParseTokenAccount decodes a jsonParsed token account.
func ParseTokenAccount(raw []byte) (domain.TokenBalance, error) {
	var p parsedTokenAccount
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.TokenBalance{}, fmt.Errorf("decode token account: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(p.Parsed.Info.Mint)
	if err != nil {
		return domain.TokenBalance{}, fmt.Errorf("invalid mint %q: %w", p.Parsed.Info.Mint, err)
	}
	amount, err := strconv.ParseUint(p.Parsed.Info.TokenAmount.Amount, 10, 64)
	if err != nil {
		return domain.TokenBalance{}, fmt.Errorf("invalid amount %q: %w", p.Parsed.Info.TokenAmount.Amount, err)
	}
	return domain.TokenBalance{
		Mint:     mint,
		Amount:   amount,
		Decimals: p.Parsed.Info.TokenAmount.Decimals,
	}, nil
}

// GetMintDecimals reads the decimals byte of an SPL mint.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	data, err := c.GetAccountData(ctx, mint)
	if err != nil {
		return 0, err
	}
	return DecodeMintDecimals(data)
}

// DecodeMintDecimals reads byte 44 of a mint account.
func DecodeMintDecimals(data []byte) (uint8, error) {
	if len(data) < 45 {
		return 0, fmt.Errorf("invalid mint data length: %d", len(data))
	}
	return data[44], nil
}

// SimulateTransaction симулирует транзакцию и возвращает логи программы.
// Blockhash подменяется свежим, поэтому подходит и для уже отправленных транзакций.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) ([]string, error) {
	var logs []string
	err := c.pool.Do(ctx, "simulateTransaction", func(ctx context.Context, rc *solanarpc.Client) error {
		res, err := rc.SimulateTransactionWithOpts(ctx, tx, &solanarpc.SimulateTransactionOpts{
			Commitment:             solanarpc.CommitmentConfirmed,
			ReplaceRecentBlockhash: true,
		})
		if err != nil {
			return err
		}
		logs = res.Value.Logs
		if res.Value.Err != nil {
			return &SimulationError{Err: res.Value.Err, Logs: res.Value.Logs}
		}
		return nil
	})
	return logs, err
}

// SendTransaction отправляет подписанную транзакцию.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction, skipPreflight bool) (solana.Signature, error) {
	var sig solana.Signature
	err := c.pool.Do(ctx, "sendTransaction", func(ctx context.Context, rc *solanarpc.Client) error {
		var err error
		sig, err = rc.SendTransactionWithOpts(ctx, tx, solanarpc.TransactionOpts{
			SkipPreflight:       skipPreflight,
			PreflightCommitment: solanarpc.CommitmentConfirmed,
		})
		return err
	})
	return sig, err
}

// WaitForConfirmation ожидает подтверждения транзакции (polling каждые 500мс).
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return domain.Transient("confirm "+sig.String(), errors.New("confirmation timeout"))
		case <-ticker.C:
			var status *solanarpc.SignatureStatusesResult
			err := c.pool.Do(ctx, "getSignatureStatuses", func(ctx context.Context, rc *solanarpc.Client) error {
				res, err := rc.GetSignatureStatuses(ctx, false, sig)
				if err != nil {
					return err
				}
				if len(res.Value) > 0 {
					status = res.Value[0]
				}
				return nil
			})
			if err != nil {
				c.logger.Debug("Error getting signature statuses", zap.Error(err))
				continue
			}
			if status == nil {
				continue
			}
			if status.Err != nil {
				return fmt.Errorf("%w: %v", ErrTxFailed, status.Err)
			}
			if status.ConfirmationStatus == solanarpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == solanarpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

// SimulationError carries the program logs of a failed simulation.
type SimulationError struct {
	Err  interface{}
	Logs []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation failed: %v", e.Err)
}

// LastLogs returns up to n trailing log lines, used when reporting failures.
func (e *SimulationError) LastLogs(n int) string {
	logs := e.Logs
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	return strings.Join(logs, "\n")
}
