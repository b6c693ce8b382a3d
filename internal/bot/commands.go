// internal/bot/commands.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rovshanmuradov/meteora-bot/internal/config"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/export"
	"github.com/rovshanmuradov/meteora-bot/internal/monitor"
	"github.com/rovshanmuradov/meteora-bot/internal/storage"
	"github.com/rovshanmuradov/meteora-bot/internal/task"
	"github.com/rovshanmuradov/meteora-bot/internal/ui/report"
	"github.com/rovshanmuradov/meteora-bot/internal/ui/style"
	"github.com/rovshanmuradov/meteora-bot/internal/utils/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Коды выхода процесса.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitCloseFailed = 2
)

// ErrUnresolved возвращается, если сценарий завершился с нерешенными аккаунтами.
var ErrUnresolved = errors.New("workflow finished with unresolved accounts")

// exitError несет нестандартный код выхода.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitError
}

// AppFactory собирает App, когда конфиг и логгер готовы.
type AppFactory func(cfg *config.Config, logger *zap.Logger) (*App, error)

// CLI is the command line front end.
type CLI struct {
	stdout io.Writer
	stderr io.Writer
	newApp AppFactory
	// logger, если задан, заменяет логгер из конфига.
	logger *zap.Logger
}

func NewCLI() *CLI {
	return NewCLIWithWriters(os.Stdout, os.Stderr)
}

func NewCLIWithWriters(stdout, stderr io.Writer) *CLI {
	return &CLI{stdout: stdout, stderr: stderr, newApp: NewApp}
}

type cliState struct {
	cli        *CLI
	configPath string
	cfg        *config.Config
	app        *App
	log        *logger.Logger
	logger     *zap.Logger
	track      func()
}

// Run выполняет args и возвращает код выхода процесса.
func (c *CLI) Run(ctx context.Context, args []string) int {
	s := &cliState{cli: c}
	root := s.newRootCommand()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.ExecuteContext(ctx)
	s.close()
	if err != nil {
		styles := style.NewStyles(style.DefaultPalette())
		fmt.Fprintln(c.stderr, styles.Bad.Render("Error: "+err.Error()))
	}
	return exitCode(err)
}

func (s *cliState) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "meteora-bot",
		Short: "Batch lifecycle of Meteora DLMM positions across many wallets",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || !cmd.Runnable() {
				return nil
			}
			return s.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&s.configPath, "config", "", "Path to config file (default configs/config.yaml)")
	pf.StringSlice("rpc", nil, "RPC endpoints, comma-separated")
	pf.String("wallets", "", "Wallets file")
	pf.String("main", "", "Main wallet name")
	pf.Bool("debug", false, "Debug logging")
	pf.Int("concurrency", 0, "Max accounts processed at once (0 = unlimited)")
	pf.String("retry-mode", "", "Retry policy: auto|skip|poll")
	pf.String("tx-mode", "", "Transaction mode: safe|degen")
	pf.String("journal", "", "History journal path")
	pf.String("metrics", "", "Serve Prometheus metrics on this address, e.g. :9090")

	root.AddCommand(
		s.newOpenCommand("open", domain.FundingNative),
		s.newOpenCommand("open-token", domain.FundingToken),
		s.newRemoveCommand(),
		s.newReopenCommand(),
		s.newClaimCommand(),
		s.newMonitorCommand(),
		s.newPoolsCommand(),
		s.newPositionsCommand(),
		s.newBalancesCommand(),
		s.newConsolidateCommand(),
		s.newDistributeCommand(),
		s.newSwapCommand(),
		s.newRunCommand(),
		s.newHistoryCommand(),
	)
	return root
}

func (s *cliState) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(s.configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	s.cfg = cfg

	if s.cli.logger != nil {
		s.logger = s.cli.logger
	} else {
		l, err := logger.New(logger.ForCommand(cfg.LogFile, cfg.DebugLogging, s.cli.stderr))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		s.log = l
		s.logger = l.WithOperation(cmd.Name())
		s.track = l.TrackPerformance(cmd.CommandPath())
	}

	app, err := s.cli.newApp(cfg, s.logger)
	if err != nil {
		return err
	}
	s.app = app
	return nil
}

func (s *cliState) close() {
	if s.app != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.app.Close(ctx); err != nil {
			s.logger.Warn("Shutdown incomplete", zap.Error(err))
		}
	}
	if s.track != nil {
		s.track()
	}
	if s.log != nil {
		_ = s.log.Sync()
		_ = s.log.Close()
	}
}

// printSummary выводит итог и превращает нерешенные аккаунты в ошибку.
func (s *cliState) printSummary(cmd *cobra.Command, summary domain.Summary, start time.Time) error {
	fmt.Fprintln(cmd.OutOrStdout(), report.Summary(summary, time.Since(start)))
	if !summary.OK() {
		return ErrUnresolved
	}
	return nil
}

type openFlags struct {
	accounts []string
	pool     string
	amount   float64
	shape    string
	width    int32
}

func (f *openFlags) bind(cmd *cobra.Command, withAmount bool) {
	cmd.Flags().StringSliceVarP(&f.accounts, "accounts", "a", nil, "Wallet names (default all)")
	cmd.Flags().StringVarP(&f.pool, "pool", "p", "", "DLMM pool address")
	cmd.Flags().StringVar(&f.shape, "shape", "spot", "Liquidity shape: spot|bid-ask")
	cmd.Flags().Int32Var(&f.width, "width", 0, "Range width in bins (default range_interval)")
	if withAmount {
		cmd.Flags().Float64Var(&f.amount, "amount", 0, "SOL per account")
	}
	_ = cmd.MarkFlagRequired("pool")
}

func (f *openFlags) request(funding domain.Funding) (OpenRequest, error) {
	shape, err := domain.ParseShape(f.shape)
	if err != nil {
		return OpenRequest{}, err
	}
	return OpenRequest{
		Wallets:    f.accounts,
		Pool:       f.pool,
		AmountSOL:  f.amount,
		Shape:      shape,
		RangeWidth: f.width,
		Funding:    funding,
	}, nil
}

func (s *cliState) newOpenCommand(name string, funding domain.Funding) *cobra.Command {
	var f openFlags
	short := "Open SOL-funded positions"
	if funding == domain.FundingToken {
		short = "Open token-funded positions above the active bin"
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request(funding)
			if err != nil {
				return err
			}
			start := time.Now()
			summary, err := s.app.Open(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	f.bind(cmd, funding == domain.FundingNative)
	return cmd
}

func (s *cliState) newReopenCommand() *cobra.Command {
	var f openFlags
	cmd := &cobra.Command{
		Use:   "reopen",
		Short: "Close and reopen positions on the same accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request(domain.FundingNative)
			if err != nil {
				return err
			}
			start := time.Now()
			summary, err := s.app.Reopen(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	f.bind(cmd, true)
	return cmd
}

// poolCommand строит команды, которым нужны только аккаунты и пул.
func (s *cliState) poolCommand(use, short string, run func(ctx context.Context, accounts []string, pool string) (domain.Summary, error)) *cobra.Command {
	var (
		accounts []string
		pool     string
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			summary, err := run(cmd.Context(), accounts, pool)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	cmd.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
	cmd.Flags().StringVarP(&pool, "pool", "p", "", "DLMM pool address")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

func (s *cliState) newRemoveCommand() *cobra.Command {
	return s.poolCommand("remove", "Close positions and withdraw liquidity", func(ctx context.Context, accounts []string, pool string) (domain.Summary, error) {
		return s.app.Remove(ctx, accounts, pool)
	})
}

func (s *cliState) newClaimCommand() *cobra.Command {
	return s.poolCommand("claim", "Claim accrued swap fees", func(ctx context.Context, accounts []string, pool string) (domain.Summary, error) {
		return s.app.Claim(ctx, accounts, pool)
	})
}

func (s *cliState) newMonitorCommand() *cobra.Command {
	var (
		accounts []string
		pool     string
		strategy string
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Watch positions and react when they leave their range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			term, err := s.app.Monitor(cmd.Context(), accounts, pool, strategy)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Termination(term))
			if term.Reason == monitor.TerminationCloseFailed {
				return &exitError{code: ExitCloseFailed, err: fmt.Errorf("positions left open: %v", term.Accounts)}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
	cmd.Flags().StringVarP(&pool, "pool", "p", "", "DLMM pool address")
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "liquidate", "Exit strategy: liquidate|rotate")
	_ = cmd.MarkFlagRequired("pool")
	return cmd
}

// newPoolsCommand - проверка пулов токена перед открытием позиции.
func (s *cliState) newPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pools <mint>",
		Short: "Find Meteora SOL pools of a token worth providing liquidity to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint, err := solana.PublicKeyFromBase58(args[0])
			if err != nil {
				return &domain.ValidationError{Field: "mint", Reason: fmt.Sprintf("%q is not a valid address", args[0])}
			}
			pools, err := s.app.Pools(cmd.Context(), mint)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Pools(pools))
			return nil
		},
	}
}

func (s *cliState) newPositionsCommand() *cobra.Command {
	var accounts []string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List DLMM positions of every account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := s.app.Positions(cmd.Context(), accounts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Positions(rows))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
	return cmd
}

func (s *cliState) newBalancesCommand() *cobra.Command {
	var accounts []string
	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Show SOL and token balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := s.app.Balances(cmd.Context(), accounts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Balances(rows))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
	return cmd
}

func (s *cliState) newConsolidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Move funds of the selected accounts to the main wallet",
	}
	for _, sub := range []struct {
		use, short string
		run        func(context.Context, []string) (domain.Summary, error)
	}{
		{"tokens", "Send every token balance to the main wallet", func(ctx context.Context, a []string) (domain.Summary, error) {
			return s.app.ConsolidateTokens(ctx, a)
		}},
		{"sol", "Send SOL to the main wallet", func(ctx context.Context, a []string) (domain.Summary, error) {
			return s.app.ConsolidateSOL(ctx, a)
		}},
	} {
		var accounts []string
		run := sub.run
		c := &cobra.Command{
			Use:   sub.use,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				start := time.Now()
				summary, err := run(cmd.Context(), accounts)
				if err != nil {
					return err
				}
				return s.printSummary(cmd, summary, start)
			},
		}
		c.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
		cmd.AddCommand(c)
	}
	return cmd
}

func (s *cliState) newDistributeCommand() *cobra.Command {
	var (
		accounts []string
		amount   float64
	)
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Split SOL from the main wallet evenly over the selected accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			summary, err := s.app.Distribute(cmd.Context(), accounts, amount)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	cmd.Flags().StringSliceVarP(&accounts, "accounts", "a", nil, "Wallet names (default all)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Total SOL to distribute (0 = fast distribution of the main balance)")
	return cmd
}

func (s *cliState) newSwapCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Buy or sell tokens through Jupiter",
	}

	var (
		buyAccounts []string
		buyMint     string
		buyAmount   float64
	)
	buy := &cobra.Command{
		Use:   "buy",
		Short: "Buy a token with SOL on every selected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mint, err := solana.PublicKeyFromBase58(buyMint)
			if err != nil {
				return &domain.ValidationError{Field: "mint", Reason: fmt.Sprintf("%q is not a valid address", buyMint)}
			}
			start := time.Now()
			summary, err := s.app.SwapBuy(cmd.Context(), buyAccounts, mint, buyAmount)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	buy.Flags().StringSliceVarP(&buyAccounts, "accounts", "a", nil, "Wallet names (default all)")
	buy.Flags().StringVarP(&buyMint, "mint", "m", "", "Token mint")
	buy.Flags().Float64Var(&buyAmount, "amount", 0, "SOL per account")
	_ = buy.MarkFlagRequired("mint")

	var (
		sellAccounts []string
		sellMint     string
	)
	sell := &cobra.Command{
		Use:   "sell",
		Short: "Sell token holdings back to SOL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var mint *solana.PublicKey
			if sellMint != "" {
				pk, err := solana.PublicKeyFromBase58(sellMint)
				if err != nil {
					return &domain.ValidationError{Field: "mint", Reason: fmt.Sprintf("%q is not a valid address", sellMint)}
				}
				mint = &pk
			}
			start := time.Now()
			summary, err := s.app.SwapSell(cmd.Context(), sellAccounts, mint)
			if err != nil {
				return err
			}
			return s.printSummary(cmd, summary, start)
		},
	}
	sell.Flags().StringSliceVarP(&sellAccounts, "accounts", "a", nil, "Wallet names (default all)")
	sell.Flags().StringVarP(&sellMint, "mint", "m", "", "Only sell this mint (default every token)")

	cmd.AddCommand(buy, sell)
	return cmd
}

func (s *cliState) newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a YAML plan of workflows in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := task.NewManager(s.logger).LoadTasks(args[0], s.cfg.RangeInterval)
			if err != nil {
				return err
			}
			results, runErr := NewRunner(s.app, s.logger).Run(cmd.Context(), tasks)
			for _, r := range results {
				if r.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %v\n", r.Task.TaskName, r.Err)
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Summary(r.Summary, 0))
			}
			return runErr
		},
	}
}

func (s *cliState) newHistoryCommand() *cobra.Command {
	var (
		monitorLog bool
		pool       string
		unresolved bool
		limit      int
		since      time.Duration
		format     string
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded workflow summaries and monitor reactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			journal := s.app.Journal()
			if journal == nil {
				return errors.New("journal is disabled, set journal_path")
			}
			filter := storage.Filter{Pool: pool, OnlyUnresolved: unresolved, Limit: limit}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			var exportFormat export.ExportFormat
			if format != "" {
				f, err := export.ParseFormat(format)
				if err != nil {
					return err
				}
				exportFormat = f
			}
			exporter := export.NewHistoryExporter(s.logger)

			if monitorLog {
				records, err := journal.ListMonitor(cmd.Context(), filter)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.MonitorHistory(records))
				if format == "" {
					return nil
				}
				path, err := exporter.ExportMonitor(records, exportFormat, outDir)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Exported to "+path)
				return nil
			}

			records, err := journal.ListWorkflows(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.WorkflowHistory(records))
			if format == "" {
				return nil
			}
			path, err := exporter.ExportWorkflows(records, exportFormat, outDir)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Exported to "+path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&monitorLog, "monitor", false, "Show monitor reactions instead of workflows")
	cmd.Flags().StringVarP(&pool, "pool", "p", "", "Only this pool")
	cmd.Flags().BoolVar(&unresolved, "unresolved", false, "Only workflows that left accounts unresolved")
	cmd.Flags().IntVar(&limit, "limit", 20, "Newest n records (0 = all)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this, e.g. 24h")
	cmd.Flags().StringVar(&format, "export", "", "Also export to a file: csv|json")
	cmd.Flags().StringVar(&outDir, "out", "exports", "Export directory")
	return cmd
}
