package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
)

func TestTicketDeleteByNumberIntegration(t *testing.T) {
	databaseURL := os.Getenv("MBRACES_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MBRACES_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	ticketNumber := fmt.Sprintf("TK-DEL-IT-%d", stamp)
	terminalID := fmt.Sprintf("term-del-it-%d", stamp)
	ownerID := fmt.Sprintf("user-del-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE terminal_id = $1`, terminalID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sync_tickets WHERE terminal_id = $1`, terminalID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = $1`, terminalID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, owner_id, name, status, ini_content, created_at)
		VALUES ($1, $2, 'Banca IT', 'Desconectado', '{}', now())
	`, terminalID, ownerID); err != nil {
		t.Fatalf("insert terminal: %v", err)
	}

	if _, err := s.CreateManualTransaction(ctx, domain.ManualTransaction{
		TerminalID: terminalID,
		OwnerID:    ownerID,
		Type:       domain.TxTypeBet,
		Amount:     decimal.NewFromInt(150),
		TicketID:   ticketNumber,
	}); err != nil {
		t.Fatalf("create manual transaction: %v", err)
	}

	if err := s.InsertSyncTickets(ctx, []domain.SyncTicket{{
		TerminalID:   terminalID,
		OwnerID:      ownerID,
		TicketNumber: ticketNumber,
		Amount:       decimal.NewFromInt(200),
		LocalDate:    time.Now().Format("2006-01-02"),
	}}); err != nil {
		t.Fatalf("insert sync ticket: %v", err)
	}

	manualIDs, err := s.FindManualIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		t.Fatalf("find manual ids: %v", err)
	}
	if len(manualIDs) != 1 {
		t.Fatalf("expected 1 manual match, got %d", len(manualIDs))
	}

	ticketIDs, err := s.FindSyncTicketIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		t.Fatalf("find sync ticket ids: %v", err)
	}
	if len(ticketIDs) != 1 {
		t.Fatalf("expected 1 collector match, got %d", len(ticketIDs))
	}

	deletedManual, err := s.DeleteManualTransactions(ctx, manualIDs)
	if err != nil {
		t.Fatalf("delete manual transactions: %v", err)
	}
	deletedTickets, err := s.DeleteSyncTickets(ctx, ticketIDs)
	if err != nil {
		t.Fatalf("delete sync tickets: %v", err)
	}
	if deletedManual+deletedTickets != 2 {
		t.Fatalf("expected 2 rows deleted, got %d", deletedManual+deletedTickets)
	}

	// A repeat pass finds nothing and deletes nothing.
	manualIDs, err = s.FindManualIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		t.Fatalf("find manual ids after delete: %v", err)
	}
	if len(manualIDs) != 0 {
		t.Fatalf("expected no manual matches after delete, got %d", len(manualIDs))
	}
	if n, err := s.DeleteManualTransactions(ctx, manualIDs); err != nil || n != 0 {
		t.Fatalf("expected no-op delete, got n=%d err=%v", n, err)
	}
}

func TestJackpotAccumulationIntegration(t *testing.T) {
	databaseURL := os.Getenv("MBRACES_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set MBRACES_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	before, err := s.GetJackpot(ctx)
	if err != nil {
		t.Fatalf("get jackpot: %v", err)
	}

	delta := decimal.NewFromFloat(12.50)
	after, err := s.AddToJackpot(ctx, delta)
	if err != nil {
		t.Fatalf("add to jackpot: %v", err)
	}
	if got := after.CurrentValue.Sub(before.CurrentValue); !got.Equal(delta) {
		t.Fatalf("expected jackpot to grow by %s, grew by %s", delta, got)
	}

	t.Cleanup(func() {
		_, _ = s.AddToJackpot(ctx, delta.Neg())
	})
}
