package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/capmbot/internal/domain"
)

// Console implements ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole writes to stdout. With table set it prints full tables,
// otherwise a compact line per market.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter is NewConsole for tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify prints the session summary.
func (c *Console) Notify(_ context.Context, s domain.SessionSummary) error {
	if len(s.Markets) == 0 {
		fmt.Fprintf(c.out, "[%s] no markets traded\n", s.GeneratedAt.Format("15:04:05"))
		return nil
	}
	if c.table {
		c.printTables(s)
	} else {
		c.printCompact(s)
	}
	return nil
}

func (c *Console) printCompact(s domain.SessionSummary) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] cash %s (virtual %s) perf %.4f",
		s.GeneratedAt.Format("15:04:05"),
		domain.FormatCents(s.Cash),
		domain.FormatCents(s.VirtualCash),
		s.Performance)
	if s.Optimal {
		sb.WriteString(" optimal")
	}
	fmt.Fprintf(&sb, " | sent %d acc %d rej %d", s.Sent, s.Accepted, s.Rejected)
	fmt.Fprintln(c.out, sb.String())

	for _, m := range s.Markets {
		line := fmt.Sprintf("  #%d %s %d units %s", m.ID, compactName(m.Name, 20), m.Units, quote(m))
		if m.Current != "" {
			line += " | " + m.Current
		}
		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) printTables(s domain.SessionSummary) {
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  SESSION %s\n", s.SessionID)
	fmt.Fprintf(c.out, "========================================================\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("Market", "Name", "E[payoff]", "Units", "Virtual", "Bid", "Ask", "Current", "Records")
	for _, m := range s.Markets {
		current := m.Current
		if current == "" {
			current = "-"
		}
		table.Append(
			fmt.Sprintf("%d", m.ID),
			compactName(m.Name, 24),
			domain.FormatCents(int64(m.Expected)),
			fmt.Sprintf("%d", m.Units),
			fmt.Sprintf("%d", m.Virtual),
			priceLabel(m.BestBid),
			priceLabel(m.BestAsk),
			current,
			fmt.Sprintf("%d", m.Records),
		)
	}
	table.Render()

	fmt.Fprintf(c.out, "\n  --- PORTFOLIO ---\n")
	fmt.Fprintf(c.out, "  Cash:                  %s\n", domain.FormatCents(s.Cash))
	fmt.Fprintf(c.out, "  Virtual cash:          %s\n", domain.FormatCents(s.VirtualCash))
	fmt.Fprintf(c.out, "  Performance:           %.4f\n", s.Performance)
	fmt.Fprintf(c.out, "  Optimal:               %t\n", s.Optimal)

	fmt.Fprintf(c.out, "\n  --- ACTIVITY ---\n")
	fmt.Fprintf(c.out, "  Events replayed:       %d\n", s.Events)
	fmt.Fprintf(c.out, "  Orders sent:           %d\n", s.Sent)
	fmt.Fprintf(c.out, "  Accepted:              %d\n", s.Accepted)
	fmt.Fprintf(c.out, "  Rejected:              %d\n", s.Rejected)

	if len(s.Journal) > 0 {
		kinds := make([]string, 0, len(s.Journal))
		for k := range s.Journal {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)

		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Journal", "Entries")
		for _, k := range kinds {
			tbl.Append(k, fmt.Sprintf("%d", s.Journal[k]))
		}
		tbl.Render()
	}
}

func quote(m domain.MarketSummary) string {
	return priceLabel(m.BestBid) + "/" + priceLabel(m.BestAsk)
}

func priceLabel(p int64) string {
	if p == 0 {
		return "-"
	}
	return domain.FormatCents(p)
}

func compactName(name string, n int) string {
	if name == "" {
		return "?"
	}
	r := []rune(name)
	if len(r) <= n {
		return name
	}
	return string(r[:n-1]) + "…"
}
