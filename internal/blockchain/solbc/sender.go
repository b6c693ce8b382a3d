// internal/blockchain/solbc/sender.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"go.uber.org/zap"
)

// SenderConfig bounds submission retries.
type SenderConfig struct {
	ConfirmTimeout time.Duration
	MaxElapsed     time.Duration
	Mode           TxMode
}

// DefaultSenderConfig confirms within a minute and retries submission for 30s.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		ConfirmTimeout: time.Minute,
		MaxElapsed:     30 * time.Second,
		Mode:           ModeSafe,
	}
}

// TxObserver is told about every finished submission. kind is "build" for
// transactions assembled here and "presigned" for SubmitSigned.
type TxObserver interface {
	ObserveTransaction(kind string, d time.Duration, err error)
}

// Sender builds, signs, submits and confirms transactions.
type Sender struct {
	client   *Client
	analyzer *ErrorAnalyzer
	cfg      SenderConfig
	observer TxObserver
	logger   *zap.Logger
}

// NewSender creates a Sender over client.
func NewSender(client *Client, cfg SenderConfig, logger *zap.Logger) *Sender {
	if cfg.Mode == "" {
		cfg.Mode = ModeSafe
	}
	return &Sender{
		client:   client,
		analyzer: NewErrorAnalyzer(logger),
		cfg:      cfg,
		logger:   logger.Named("tx-sender"),
	}
}

// WithObserver sets the submission observer.
func (s *Sender) WithObserver(o TxObserver) *Sender {
	s.observer = o
	return s
}

func (s *Sender) observe(kind string, start time.Time, err error) {
	if s.observer != nil {
		s.observer.ObserveTransaction(kind, time.Since(start), err)
	}
}

// Client returns the underlying RPC client.
func (s *Sender) Client() *Client {
	return s.client
}

// Send prepends the priority instructions, signs with payer and the extra
// signers, and submits. A fresh blockhash is fetched on every attempt.
func (s *Sender) Send(
	ctx context.Context,
	payer solana.PrivateKey,
	instructions []solana.Instruction,
	priority PriorityConfig,
	signers ...solana.PrivateKey,
) (solana.Signature, error) {
	all := append(priority.Instructions(), instructions...)
	keys := append([]solana.PrivateKey{payer}, signers...)

	op := func() (solana.Signature, error) {
		tx, err := s.build(ctx, payer.PublicKey(), all, keys)
		if err != nil {
			return solana.Signature{}, err
		}
		return s.submit(ctx, tx)
	}

	start := time.Now()
	sig, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("Retrying transaction",
				zap.String("payer", domain.ShortAddress(payer.PublicKey())),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	s.observe("build", start, err)
	return sig, err
}

// SubmitSigned submits a transaction that is already signed, such as a
// swap transaction returned by an aggregator.
func (s *Sender) SubmitSigned(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := backoff.Retry(ctx, func() (solana.Signature, error) {
		return s.submit(ctx, tx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	s.observe("presigned", start, err)
	return sig, err
}

// SignWith signs tx with whichever of keys match its required signers.
func SignWith(tx *solana.Transaction, keys ...solana.PrivateKey) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	})
	return err
}

func (s *Sender) build(
	ctx context.Context,
	payer solana.PublicKey,
	instructions []solana.Instruction,
	keys []solana.PrivateKey,
) (*solana.Transaction, error) {
	blockhash, err := s.client.GetRecentBlockhash(ctx)
	if err != nil {
		if domain.IsTransient(err) {
			return nil, err
		}
		return nil, backoff.Permanent(fmt.Errorf("failed to get recent blockhash: %w", err))
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create transaction: %w", err))
	}
	if err := SignWith(tx, keys...); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to sign transaction: %w", err))
	}
	return tx, nil
}

func (s *Sender) submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	degen := s.cfg.Mode == ModeDegen

	sig, err := s.client.SendTransaction(ctx, tx, degen)
	if err != nil {
		if domain.IsTransient(err) {
			return solana.Signature{}, err
		}
		return solana.Signature{}, backoff.Permanent(fmt.Errorf("transaction failed: %w", s.analyzer.Explain(err)))
	}

	if degen {
		s.logger.Debug("Transaction sent without confirmation", zap.String("signature", sig.String()))
		return sig, nil
	}

	if err := s.client.WaitForConfirmation(ctx, sig, s.cfg.ConfirmTimeout); err != nil {
		// the transaction may still land; callers verify chain state themselves
		if errors.Is(err, ErrTxFailed) {
			return sig, backoff.Permanent(s.diagnose(ctx, tx, err))
		}
		return sig, backoff.Permanent(fmt.Errorf("confirm %s: %w", sig, err))
	}

	s.logger.Debug("Transaction confirmed", zap.String("signature", sig.String()))
	return sig, nil
}

// diagnose re-simulates a transaction that failed on chain to recover the
// program error from its logs.
func (s *Sender) diagnose(ctx context.Context, tx *solana.Transaction, failed error) error {
	_, simErr := s.client.SimulateTransaction(ctx, tx)
	if simErr == nil {
		return failed
	}
	var anchor *AnchorError
	if errors.As(s.analyzer.Explain(simErr), &anchor) {
		return fmt.Errorf("%w: %w", failed, anchor)
	}
	return failed
}
