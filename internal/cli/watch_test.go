package cli

import (
	"strings"
	"testing"
	"time"
)

func TestWatchRows(t *testing.T) {
	reason := "invalid_signature"
	rows := watchRows([]TransactionSummary{
		{
			Symbol: "USDC", Amount: "10000", Status: "failed",
			Network: "eip155:84532", Protocol: "direct-auth",
			ErrorReason: &reason, CreatedAt: time.Now().Add(-time.Minute),
		},
	})

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row[1] != "failed" || row[3] != "USDC" || row[6] != "invalid_signature" {
		t.Errorf("row = %v", row)
	}
}

func TestWatchView_BeforeFirstPoll(t *testing.T) {
	model := newWatchModel(NewAPIClient("http://localhost:8402", ""), "http://localhost:8402", time.Second)

	view := model.View()
	if !strings.Contains(view, "Tollgate Settlements") {
		t.Errorf("view missing title:\n%s", view)
	}
	if !strings.Contains(view, "waiting for first poll") {
		t.Errorf("view missing waiting notice:\n%s", view)
	}
	if !strings.Contains(view, "q quit") {
		t.Errorf("view missing footer help:\n%s", view)
	}
}

func TestWatchUpdate_StoresPollResults(t *testing.T) {
	model := newWatchModel(NewAPIClient("http://localhost:8402", ""), "http://localhost:8402", time.Second)

	next, _ := model.Update(watchDataMsg{
		stats: &SettlementStats{TotalTransactions: 3, Succeeded: 3},
		rows: []TransactionSummary{
			{Symbol: "USDC", Amount: "100", Status: "success", CreatedAt: time.Now()},
		},
	})

	updated, ok := next.(watchModel)
	if !ok {
		t.Fatalf("Update returned %T, want watchModel", next)
	}
	if updated.stats == nil || updated.stats.TotalTransactions != 3 {
		t.Errorf("stats not stored: %+v", updated.stats)
	}
	if updated.lastPoll.IsZero() {
		t.Error("lastPoll not set")
	}
	if !strings.Contains(updated.View(), "USDC") {
		t.Error("table rows not rendered")
	}
}
