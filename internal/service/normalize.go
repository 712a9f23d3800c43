package service

import (
	"encoding/json"
	"sort"

	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
)

const displayDateLayout = "02/01/2006 15:04:05"

// FromManual maps a manually entered row to the canonical shape. Every
// optional field has a default; the mapping never fails.
func FromManual(m domain.ManualTransaction) domain.Transaction {
	status := m.Status
	if status == "" {
		status = domain.TxStatusActive
	}
	name := m.MachineName
	if name == "" {
		name = domain.UnknownTerminalName
	}
	return domain.Transaction{
		ID:          m.ID,
		Date:        m.CreatedAt.Format(displayDateLayout),
		MachineID:   m.TerminalID,
		MachineName: name,
		Type:        m.Type,
		Amount:      m.Amount,
		TicketID:    m.TicketID,
		Numbers:     m.Numbers,
		PlayType:    m.PlayType,
		Status:      status,
		IsCollector: false,
		CreatedAt:   m.CreatedAt,
	}
}

// FromSyncTicket maps a collector row to the canonical shape. The ticket
// type lives inside the raw device payload; malformed payloads default to
// BET instead of failing. The machine name prefers the joined terminal
// name and falls back to the legacy denormalized column.
func FromSyncTicket(t domain.SyncTicket) domain.Transaction {
	status := t.Status
	if status == "" {
		status = domain.TxStatusActive
	}
	name := t.TerminalName
	if name == "" {
		name = t.MachineName
	}
	if name == "" {
		name = domain.UnknownTerminalName
	}
	return domain.Transaction{
		ID:          t.ID,
		Date:        t.CreatedAt.Format(displayDateLayout),
		MachineID:   t.TerminalID,
		MachineName: name,
		Type:        ticketTypeFromRaw(t.RawData),
		Amount:      t.Amount,
		TicketID:    t.TicketNumber,
		Numbers:     t.Numbers,
		PlayType:    t.PlayType,
		Status:      status,
		IsCollector: true,
		CreatedAt:   t.CreatedAt,
	}
}

// ticketTypeFromRaw reads the "_ticket_type" discriminator out of the raw
// device payload. The collector serializes the payload as a JSON string,
// so the field may be nested one level of encoding deep. Anything
// unexpected yields BET.
func ticketTypeFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return domain.TxTypeBet
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return domain.TxTypeBet
		}
		if err := json.Unmarshal([]byte(encoded), &fields); err != nil {
			return domain.TxTypeBet
		}
	}
	ticketType, ok := fields["_ticket_type"].(string)
	if !ok || (ticketType != domain.TxTypeBet && ticketType != domain.TxTypePayout) {
		return domain.TxTypeBet
	}
	return ticketType
}

// Unify concatenates both normalized sources, orders them by creation
// time descending and caps the result. The sort is stable so records
// sharing a timestamp keep their concatenation order across refreshes.
// A negative limit means the default page size; zero yields an empty
// result.
func Unify(manual []domain.ManualTransaction, tickets []domain.SyncTicket, limit int) []domain.Transaction {
	if limit < 0 {
		limit = domain.DefaultTransactionLimit
	}
	if limit == 0 {
		return []domain.Transaction{}
	}

	unified := make([]domain.Transaction, 0, len(manual)+len(tickets))
	for _, m := range manual {
		unified = append(unified, FromManual(m))
	}
	for _, t := range tickets {
		unified = append(unified, FromSyncTicket(t))
	}

	sort.SliceStable(unified, func(i, j int) bool {
		return unified[i].CreatedAt.After(unified[j].CreatedAt)
	})

	if len(unified) > limit {
		unified = unified[:limit]
	}
	return unified
}

// Aggregate folds a transaction list into the report totals. Voided
// records stay out of every figure but remain in the itemized listing,
// so an operator can audit voids without them skewing the day's totals.
func Aggregate(transactions []domain.Transaction) domain.ReportTotals {
	totalBet := decimal.Zero
	totalPayout := decimal.Zero
	for _, tx := range transactions {
		if tx.Status == domain.TxStatusVoided {
			continue
		}
		switch tx.Type {
		case domain.TxTypeBet:
			totalBet = totalBet.Add(tx.Amount)
		case domain.TxTypePayout:
			totalPayout = totalPayout.Add(tx.Amount)
		}
	}
	return domain.ReportTotals{
		TotalBet:    totalBet,
		TotalPayout: totalPayout,
		NetIncome:   totalBet.Sub(totalPayout),
	}
}
