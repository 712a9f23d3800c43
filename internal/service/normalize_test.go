package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
)

func TestTicketTypeFromRaw(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"plain object payout", `{"_ticket_type":"PAYOUT"}`, domain.TxTypePayout},
		{"plain object bet", `{"_ticket_type":"BET"}`, domain.TxTypeBet},
		{"double encoded payout", `"{\"_ticket_type\":\"PAYOUT\"}"`, domain.TxTypePayout},
		{"missing field", `{"other":1}`, domain.TxTypeBet},
		{"unknown value", `{"_ticket_type":"REFUND"}`, domain.TxTypeBet},
		{"non string value", `{"_ticket_type":7}`, domain.TxTypeBet},
		{"garbage", `not json at all`, domain.TxTypeBet},
		{"empty", ``, domain.TxTypeBet},
		{"double encoded garbage", `"still not json"`, domain.TxTypeBet},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ticketTypeFromRaw(json.RawMessage(tc.raw))
			if got != tc.want {
				t.Fatalf("raw %q: expected %s, got %s", tc.raw, tc.want, got)
			}
		})
	}
}

func TestFromSyncTicketMachineNameFallback(t *testing.T) {
	base := domain.SyncTicket{
		ID:           "st-1",
		TerminalID:   "term-001",
		TicketNumber: "TK-1",
		Amount:       decimal.NewFromInt(100),
		CreatedAt:    time.Now().UTC(),
	}

	withJoin := base
	withJoin.TerminalName = "Banca Central"
	withJoin.MachineName = "legacy name"
	if got := FromSyncTicket(withJoin).MachineName; got != "Banca Central" {
		t.Fatalf("expected joined name to win, got %q", got)
	}

	legacyOnly := base
	legacyOnly.MachineName = "legacy name"
	if got := FromSyncTicket(legacyOnly).MachineName; got != "legacy name" {
		t.Fatalf("expected legacy fallback, got %q", got)
	}

	if got := FromSyncTicket(base).MachineName; got != domain.UnknownTerminalName {
		t.Fatalf("expected %q for nameless ticket, got %q", domain.UnknownTerminalName, got)
	}
}

func TestFromManualDefaults(t *testing.T) {
	tx := FromManual(domain.ManualTransaction{
		ID:         "tx-1",
		TerminalID: "term-001",
		Type:       domain.TxTypeBet,
		Amount:     decimal.NewFromInt(50),
		CreatedAt:  time.Now().UTC(),
	})
	if tx.Status != domain.TxStatusActive {
		t.Fatalf("expected default status active, got %q", tx.Status)
	}
	if tx.MachineName != domain.UnknownTerminalName {
		t.Fatalf("expected unknown terminal fallback, got %q", tx.MachineName)
	}
	if tx.IsCollector {
		t.Fatalf("manual transaction must not be flagged as collector")
	}
}

func TestUnifyOrderingAndLimits(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	manual := []domain.ManualTransaction{
		{ID: "m-old", CreatedAt: now.Add(-2 * time.Hour), Type: domain.TxTypeBet},
		{ID: "m-new", CreatedAt: now, Type: domain.TxTypeBet},
	}
	tickets := []domain.SyncTicket{
		{ID: "t-mid", CreatedAt: now.Add(-time.Hour)},
		{ID: "t-tied", CreatedAt: now},
	}

	unified := Unify(manual, tickets, 10)
	gotIDs := make([]string, 0, len(unified))
	for _, tx := range unified {
		gotIDs = append(gotIDs, tx.ID)
	}
	// m-new and t-tied share a timestamp: the manual row was concatenated
	// first, and the stable sort must keep it first.
	want := []string{"m-new", "t-tied", "t-mid", "m-old"}
	for i := range want {
		if gotIDs[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, gotIDs)
		}
	}

	if got := Unify(manual, tickets, 0); len(got) != 0 {
		t.Fatalf("limit 0 must yield empty, got %d rows", len(got))
	}

	if got := Unify(manual, tickets, 3); len(got) != 3 {
		t.Fatalf("expected truncation to 3, got %d", len(got))
	}
}

func TestUnifyNegativeLimitUsesDefault(t *testing.T) {
	now := time.Now().UTC()
	manual := make([]domain.ManualTransaction, 0, 30)
	for i := 0; i < 30; i++ {
		manual = append(manual, domain.ManualTransaction{
			ID:        string(rune('a' + i)),
			CreatedAt: now.Add(-time.Duration(i) * time.Minute),
		})
	}
	got := Unify(manual, nil, -1)
	if len(got) != domain.DefaultTransactionLimit {
		t.Fatalf("expected default limit %d, got %d", domain.DefaultTransactionLimit, len(got))
	}
}

func TestAggregateExcludesVoided(t *testing.T) {
	transactions := []domain.Transaction{
		{Type: domain.TxTypeBet, Amount: decimal.NewFromInt(100), Status: domain.TxStatusActive},
		{Type: domain.TxTypeBet, Amount: decimal.NewFromInt(40), Status: domain.TxStatusVoided},
		{Type: domain.TxTypePayout, Amount: decimal.NewFromInt(30), Status: domain.TxStatusActive},
		{Type: domain.TxTypePayout, Amount: decimal.NewFromInt(99), Status: domain.TxStatusVoided},
	}

	totals := Aggregate(transactions)
	if !totals.TotalBet.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected totalBet 100, got %s", totals.TotalBet)
	}
	if !totals.TotalPayout.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected totalPayout 30, got %s", totals.TotalPayout)
	}
	if !totals.NetIncome.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("expected netIncome 70, got %s", totals.NetIncome)
	}
}
