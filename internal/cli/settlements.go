package cli

import (
	"fmt"
	"time"
)

// Recent displays the latest settlement attempts from the audit log.
func Recent(limit int) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if limit <= 0 {
		limit = config.Defaults.RecentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	client := NewAPIClient(config.API.Endpoint, "")
	rows, err := client.RecentSettlements(limit)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         Recent Settlements               ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	if len(rows) == 0 {
		fmt.Println(infoStyle.Render("No settlements recorded yet."))
		fmt.Println()
		return nil
	}

	fmt.Printf("  %-8s %-10s %-14s %-7s %-14s %-9s %s\n",
		"AGE", "STATUS", "AMOUNT", "TOKEN", "NETWORK", "PROTOCOL", "DETAIL")
	for _, tx := range rows {
		fmt.Printf("  %-8s %-19s %-14s %-7s %-14s %-9s %s\n",
			formatAge(tx.CreatedAt),
			settlementStatusText(tx.Status),
			tx.Amount,
			tx.Symbol,
			tx.Network,
			tx.Protocol,
			settlementDetail(tx))
	}
	fmt.Println()
	fmt.Printf("%d settlement(s)\n", len(rows))
	fmt.Println()

	return nil
}

// Stats displays aggregate counts and volume from the audit log.
func Stats() error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	client := NewAPIClient(config.API.Endpoint, "")
	stats, err := client.SettlementStats()
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║         Settlement Stats                 ║")
	fmt.Println("╚══════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("Totals:")
	fmt.Printf("  Transactions: %d\n", stats.TotalTransactions)
	fmt.Printf("  Succeeded:    %s\n", successStyle.Render(fmt.Sprintf("%d", stats.Succeeded)))
	fmt.Printf("  Failed:       %s\n", errorStyle.Render(fmt.Sprintf("%d", stats.Failed)))
	fmt.Printf("  Pending:      %s\n", warningStyle.Render(fmt.Sprintf("%d", stats.Pending)))
	fmt.Println()

	fmt.Println("Volume (base units, settled only):")
	fmt.Printf("  Gross:        %s\n", stats.GrossVolume)
	fmt.Printf("  Fees:         %s\n", stats.FeesCollected)
	fmt.Println()

	if len(stats.VolumeBySymbol) > 0 {
		fmt.Println("By token:")
		for _, v := range stats.VolumeBySymbol {
			fmt.Printf("  %-7s %s (%d settlements)\n", v.Symbol+":", v.Amount, v.Count)
		}
		fmt.Println()
	}

	return nil
}

// settlementStatusText renders a status with color. The rendered string
// carries ANSI escapes, so callers pad to a wider column.
func settlementStatusText(status string) string {
	switch status {
	case "success":
		return successStyle.Render(status)
	case "failed":
		return errorStyle.Render(status)
	default:
		return warningStyle.Render(status)
	}
}

func settlementDetail(tx TransactionSummary) string {
	if tx.ErrorReason != nil && *tx.ErrorReason != "" {
		return *tx.ErrorReason
	}
	if tx.TxID != nil && *tx.TxID != "" {
		return shortHash(*tx.TxID)
	}
	return ""
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "…" + h[len(h)-4:]
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
