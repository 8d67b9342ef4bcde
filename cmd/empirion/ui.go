package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	cl "empirion/internal/cli"
	"empirion/internal/drafts"
	"empirion/internal/simulation"
	"empirion/internal/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(16)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword reads without echo on a terminal and falls back to a plain
// line read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderProjection(title string, p simulation.ProjectionResult) {
	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	left := strings.Join([]string{
		row("Revenue", formatMoney(p.Revenue)),
		row("Variable cost", formatMoney(p.VariableCost)),
		row("Fixed cost", formatMoney(p.FixedCost)),
		row("Holding cost", formatMoney(p.HoldingCost)),
		row("EBITDA", colorizeMoney(p.EBITDA)),
		row("Net profit", colorizeMoney(p.NetProfit)),
		row("Unit cost", formatMoney(p.UnitCost)),
	}, "\n")
	right := strings.Join([]string{
		row("Avg price", formatMoney(p.AvgPrice)),
		row("Demand", formatUnits(p.Demand)),
		row("Capacity", formatUnits(p.Capacity)),
		row("Sales", formatUnits(p.SalesVolume)),
		row("OEE", fmt.Sprintf("%.1f%%", p.OEE)),
		row("Image", fmt.Sprintf("%.1f", p.ImageScore)),
		row("Market share", fmt.Sprintf("%.2f%%", p.MarketShare)),
	}, "\n")
	footer := fmt.Sprintf("inventory risk %s  |  credit %s  |  elasticity %.2f  holding %.2f  lead time %.2f  scale %.2f",
		colorizeRisk(p.InventoryRisk), p.CreditRating,
		p.Factors.Elasticity, p.Factors.InventoryHoldingCostRate, p.Factors.LeadTimeFactor, p.Factors.ScaleBonus)

	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, left, "    ", right),
		"",
		footer,
	)
	fmt.Println(panelStyle.Render(body))
}

func renderArenas(list []store.Championship) {
	accent.Println("\n== PUBLIC ARENAS ==")
	if len(list) == 0 {
		printInfo("No public arenas right now.")
		return
	}
	fmt.Printf("%-36s %-24s %-12s %-9s %7s %-17s\n", "ID", "NAME", "BRANCH", "STATUS", "ROUND", "DEADLINE")
	for _, c := range list {
		deadline := "-"
		if c.RoundDeadline != nil {
			deadline = c.RoundDeadline.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-36s %-24s %-12s %-9s %7s %-17s\n",
			c.ID,
			truncate(c.Name, 24),
			c.Branch,
			c.Status,
			fmt.Sprintf("%d/%d", c.CurrentRound, c.TotalRounds),
			deadline,
		)
	}
	fmt.Println()
}

func renderArena(c store.Championship, teams []store.Team) {
	deadline := "-"
	if c.RoundDeadline != nil {
		deadline = c.RoundDeadline.Local().Format("2006-01-02 15:04")
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(c.Name),
		"",
		labelStyle.Render("ID")+c.ID,
		labelStyle.Render("Branch")+string(c.Branch),
		labelStyle.Render("Status")+c.Status,
		labelStyle.Render("Round")+fmt.Sprintf("%d/%d", c.CurrentRound, c.TotalRounds),
		labelStyle.Render("Deadline")+deadline,
		labelStyle.Render("Inflation")+fmt.Sprintf("%.2f%%", c.Ecosystem.InflationRate*100),
		labelStyle.Render("Interest")+fmt.Sprintf("%.2f%%", c.Ecosystem.InterestRate*100),
	)
	fmt.Println(panelStyle.Render(body))
	if len(teams) == 0 {
		printInfo("No teams yet. Create one with `empirion team create`.")
		return
	}
	fmt.Printf("%-36s %s\n", "TEAM ID", "NAME")
	for _, t := range teams {
		fmt.Printf("%-36s %s\n", t.ID, truncate(t.Name, 30))
	}
	fmt.Println()
}

func renderDrafts(list []drafts.Draft) {
	accent.Println("\n== DRAFTS ==")
	if len(list) == 0 {
		printInfo("No drafts saved.")
		return
	}
	fmt.Printf("%-20s %-12s %-14s %-10s %6s %-17s %s\n", "NAME", "BRANCH", "ARENA", "TEAM", "ROUND", "UPDATED", "SUBMITTED")
	for _, d := range list {
		submitted := neutral.Sprint("no")
		if d.SubmittedAt != nil {
			submitted = success.Sprint(d.SubmittedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Printf("%-20s %-12s %-14s %-10s %6d %-17s %s\n",
			truncate(d.Name, 20),
			d.Branch,
			truncate(d.ChampionshipID, 14),
			truncate(d.TeamID, 10),
			d.Round,
			d.UpdatedAt.Local().Format("2006-01-02 15:04"),
			submitted,
		)
	}
	fmt.Println()
}

func renderReport(r cl.RoundReport) {
	accent.Printf("\n== ROUND %d REPORT (%s) ==\n", r.Round, r.Branch)
	fmt.Printf("Submitted: %d of %d teams\n\n", r.Submitted, r.TeamsTotal)
	if len(r.Ranking) == 0 {
		printInfo("No decisions submitted yet.")
		return
	}
	fmt.Printf("%4s %-22s %16s %16s %10s %8s %6s\n", "#", "TEAM", "REVENUE", "NET PROFIT", "SHARE", "OEE", "CREDIT")
	for _, row := range r.Ranking {
		name := row.TeamName
		if name == "" {
			name = row.TeamID
		}
		p := row.Projection
		fmt.Printf("%4d %-22s %16s %16s %9.2f%% %7.1f%% %6s\n",
			row.Rank,
			truncate(name, 22),
			formatMoney(p.Revenue),
			colorizeMoney(p.NetProfit),
			p.MarketShare,
			p.OEE,
			p.CreditRating,
		)
	}
	fmt.Println()
}

type monitorMessage struct {
	Type           string          `json:"type"`
	ChampionshipID string          `json:"championship_id"`
	Payload        json.RawMessage `json:"payload"`
}

type monitorPayload struct {
	Event  store.DecisionEvent      `json:"event"`
	Status []store.SubmissionStatus `json:"status"`
}

func renderMonitorMessage(msg monitorMessage) {
	stamp := time.Now().Format("15:04:05")
	if msg.Type != "decision_submitted" {
		var text string
		_ = json.Unmarshal(msg.Payload, &text)
		neutral.Printf("[%s] %s %s\n", stamp, msg.Type, text)
		return
	}
	var p monitorPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		printError(fmt.Sprintf("[%s] unreadable event: %v", stamp, err))
		return
	}
	success.Printf("[%s] team %s submitted round %d\n", stamp, p.Event.TeamID, p.Event.Round)
	if len(p.Status) == 0 {
		return
	}
	done := 0
	for _, st := range p.Status {
		mark := danger.Sprint("pending")
		if st.Submitted {
			done++
			mark = success.Sprint("ready")
		}
		fmt.Printf("    %-24s %s\n", truncate(st.TeamName, 24), mark)
	}
	accent.Printf("    %d/%d teams ready\n", done, len(p.Status))
}

func colorizeMoney(v float64) string {
	text := formatMoney(v)
	switch {
	case v > 0:
		return success.Sprint(text)
	case v < 0:
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func colorizeRisk(r simulation.InventoryRisk) string {
	switch r {
	case simulation.InventoryRiskLow:
		return success.Sprint(string(r))
	case simulation.InventoryRiskMedium:
		return warn.Sprint(string(r))
	default:
		return danger.Sprint(string(r))
	}
}

// formatMoney renders currency units with thousands separators and cents.
func formatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	cents := int64(math.Round(v * 100))
	return fmt.Sprintf("%s$%s.%02d", sign, comma(cents/100), cents%100)
}

func formatUnits(v float64) string {
	return comma(int64(math.Round(v)))
}

func comma(v int64) string {
	if v < 0 {
		return "-" + comma(-v)
	}
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		b.WriteByte(',')
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// truncate shortens s to n runes for table columns, marking the cut with "...".
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
