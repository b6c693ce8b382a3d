// Package report renders workflow results and overviews for the terminal.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rovshanmuradov/meteora-bot/internal/domain"
	"github.com/rovshanmuradov/meteora-bot/internal/monitor"
	"github.com/rovshanmuradov/meteora-bot/internal/storage"
	"github.com/rovshanmuradov/meteora-bot/internal/ui/style"
)

var styles = style.NewStyles(style.DefaultPalette())

// PositionRow - одна позиция одного аккаунта.
type PositionRow struct {
	Account  string
	Position domain.Position
	// ValueSOL is the whole position including fees, priced at the active bin.
	ValueSOL float64
	// ValueUSD равен нулю, если цена SOL неизвестна.
	ValueUSD float64
}

// BalanceRow holds the balances of one account.
type BalanceRow struct {
	Account string
	Address string
	SOL     float64
	Tokens  []domain.TokenBalance
	Err     error
}

func kv(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, styles.Label.Render(label), styles.Value.Render(value))
}

// Summary renders the terminal block of a workflow.
func Summary(s domain.Summary, elapsed time.Duration) string {
	status := styles.Good.Render("✅ all accounts converged")
	if !s.OK() {
		status = styles.Bad.Render(fmt.Sprintf("⚠️ %d account(s) unresolved", len(s.Unresolved)))
	}

	lines := []string{
		styles.Title.Render(strings.ToUpper(s.Workflow) + " summary"),
		kv("Pool", orDash(s.Pool)),
		kv("Total", strconv.Itoa(s.Total)),
		kv("Succeeded", strconv.Itoa(s.Succeeded)),
		kv("Unresolved", listOrDash(s.Unresolved)),
	}
	if len(s.CloseFailures) > 0 {
		lines = append(lines, kv("Close failures", styles.Warn.Render(strings.Join(s.CloseFailures, ", "))))
	}
	if s.Rounds > 0 {
		lines = append(lines, kv("Rounds", strconv.Itoa(s.Rounds)))
	}
	if elapsed > 0 {
		lines = append(lines, kv("Elapsed", elapsed.Round(time.Millisecond).String()))
	}
	lines = append(lines, "", status)
	return styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// Termination показывает, почему остановился мониторинг.
func Termination(t monitor.Termination) string {
	var line string
	switch t.Reason {
	case monitor.TerminationNoPositions:
		line = styles.Good.Render("🏁 no positions left, monitor finished")
	case monitor.TerminationCloseFailed:
		line = styles.Bad.Render("❌ positions could not be closed: " + strings.Join(t.Accounts, ", "))
	default:
		line = styles.Muted.Render("⏹ monitor cancelled")
	}
	return styles.Box.Render(lipgloss.JoinVertical(lipgloss.Left, styles.Title.Render("MONITOR"), line))
}

// Positions renders the positions overview table.
func Positions(rows []PositionRow) string {
	if len(rows) == 0 {
		return styles.Muted.Render("No positions found")
	}
	withUSD := false
	for _, r := range rows {
		if r.ValueUSD > 0 {
			withUSD = true
			break
		}
	}

	headers := []string{"Account", "Pool", "Bins", "Active", "Range", "Token", "SOL", "Fees (token/SOL)", "Value SOL"}
	if withUSD {
		headers = append(headers, "Value USD")
	}
	var totalSOL, totalUSD float64
	data := make([][]string, 0, len(rows)+1)
	for _, r := range rows {
		p := r.Position
		rangeCell := "in"
		if p.OutOfRange() {
			rangeCell = "OUT"
		}
		row := []string{
			r.Account,
			orDash(p.PoolName),
			fmt.Sprintf("%d..%d", p.LowerBin, p.UpperBin),
			strconv.Itoa(int(p.ActiveBin)),
			rangeCell,
			fmtAmount(domain.ToUI(p.TokenAmount, p.TokenDecimals)),
			fmtAmount(domain.LamportsToSOL(p.NativeAmount)),
			fmtAmount(domain.ToUI(p.TokenFee, p.TokenDecimals)) + " / " + fmtAmount(domain.LamportsToSOL(p.NativeFee)),
			fmtAmount(r.ValueSOL),
		}
		if withUSD {
			row = append(row, fmt.Sprintf("$%.2f", r.ValueUSD))
		}
		totalSOL += r.ValueSOL
		totalUSD += r.ValueUSD
		data = append(data, row)
	}

	total := make([]string, len(headers))
	total[0] = "TOTAL"
	total[8] = fmtAmount(totalSOL)
	if withUSD {
		total[9] = fmt.Sprintf("$%.2f", totalUSD)
	}
	data = append(data, total)

	return render(headers, data, func(row, col int) lipgloss.Style {
		if row >= 0 && row < len(rows) && col == 4 && data[row][4] == "OUT" {
			return styles.Warn.Padding(0, 1)
		}
		if row == len(data)-1 {
			return styles.Cell.Bold(true)
		}
		return styles.Cell
	})
}

// Pools рендерит найденные пулы. Ликвидность подсвечивается, когда часовой
// объём её перекрывает: такой пул быстрее набирает комиссии.
func Pools(pools []domain.Pool) string {
	if len(pools) == 0 {
		return styles.Muted.Render("No Meteora SOL pools match the filter")
	}
	headers := []string{"Pool", "Name", "Price", "Liquidity $", "Volume 1h / 24h $", "Bin step", "Fee %", "Fees 24h $"}
	data := make([][]string, 0, len(pools))
	for _, p := range pools {
		data = append(data, []string{
			p.Address.String(),
			orDash(p.Name),
			fmtAmount(p.CurrentPrice),
			fmtAmount(p.Liquidity),
			fmtAmount(p.Volume1h) + " / " + fmtAmount(p.Volume24h),
			strconv.Itoa(int(p.BinStep)),
			strconv.FormatFloat(p.BaseFeePct, 'f', -1, 64),
			fmt.Sprintf("%.0f", p.Fees24h),
		})
	}
	return render(headers, data, func(row, col int) lipgloss.Style {
		if row >= 0 && row < len(pools) && col == 3 && pools[row].Volume1h >= pools[row].Liquidity {
			return styles.Good.Padding(0, 1)
		}
		return styles.Cell
	})
}

// Balances выводит балансы SOL и токенов по аккаунтам.
func Balances(rows []BalanceRow) string {
	if len(rows) == 0 {
		return styles.Muted.Render("No accounts")
	}
	headers := []string{"Account", "Address", "SOL", "Tokens"}
	var totalSOL float64
	data := make([][]string, 0, len(rows)+1)
	for _, r := range rows {
		if r.Err != nil {
			data = append(data, []string{r.Account, shortAddr(r.Address), "error", r.Err.Error()})
			continue
		}
		tokens := make([]string, 0, len(r.Tokens))
		for _, t := range r.Tokens {
			if t.Amount == 0 {
				continue
			}
			tokens = append(tokens, fmt.Sprintf("%s %s", fmtAmount(t.UIAmount()), domain.ShortAddress(t.Mint)))
		}
		totalSOL += r.SOL
		data = append(data, []string{r.Account, shortAddr(r.Address), fmtAmount(r.SOL), listOrDash(tokens)})
	}
	data = append(data, []string{"TOTAL", "", fmtAmount(totalSOL), ""})

	return render(headers, data, func(row, col int) lipgloss.Style {
		if row >= 0 && row < len(rows) && rows[row].Err != nil {
			return styles.Bad.Padding(0, 1)
		}
		return styles.Cell
	})
}

// WorkflowHistory renders journal records in the order given.
func WorkflowHistory(records []*storage.WorkflowRecord) string {
	if len(records) == 0 {
		return styles.Muted.Render("Journal is empty")
	}
	headers := []string{"#", "Finished", "Workflow", "Pool", "OK", "Unresolved", "Rounds", "Took"}
	data := make([][]string, 0, len(records))
	for _, r := range records {
		data = append(data, []string{
			strconv.FormatUint(r.ID, 10),
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Workflow,
			shortAddr(r.Pool),
			fmt.Sprintf("%d/%d", r.Succeeded, r.Total),
			listOrDash(r.Unresolved),
			strconv.Itoa(r.Rounds),
			r.Duration.Round(time.Second).String(),
		})
	}
	return render(headers, data, func(row, col int) lipgloss.Style {
		if row >= 0 && col == 5 && data[row][5] != "-" {
			return styles.Warn.Padding(0, 1)
		}
		return styles.Cell
	})
}

// MonitorHistory renders monitor journal records in the order given.
func MonitorHistory(records []*storage.MonitorRecord) string {
	if len(records) == 0 {
		return styles.Muted.Render("No monitor records")
	}
	headers := []string{"#", "At", "Kind", "Pool", "Strategy", "Accounts", "Failed", "Reason"}
	data := make([][]string, 0, len(records))
	for _, r := range records {
		data = append(data, []string{
			strconv.FormatUint(r.ID, 10),
			r.At.Local().Format("2006-01-02 15:04:05"),
			string(r.Kind),
			shortAddr(r.Pool),
			orDash(r.Strategy),
			listOrDash(r.Accounts),
			listOrDash(r.Failed),
			orDash(r.Reason),
		})
	}
	return render(headers, data, func(int, int) lipgloss.Style { return styles.Cell })
}

func render(headers []string, rows [][]string, cell func(row, col int) lipgloss.Style) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return cell(row, col)
		}).
		String()
}

func fmtAmount(v float64) string {
	switch {
	case v == 0:
		return "0"
	case v >= 1000:
		return strconv.FormatFloat(v, 'f', 2, 64)
	default:
		return strconv.FormatFloat(v, 'f', 4, 64)
	}
}

func shortAddr(s string) string {
	if len(s) <= 8 {
		return orDash(s)
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func listOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
