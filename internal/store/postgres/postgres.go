package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
	"mbraces/backend/internal/store"
	"mbraces/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// manualWhere translates the shared filter into predicates against the
// transactions table, where the date range compares the creation
// timestamp day-inclusively on both ends.
func manualWhere(filter domain.TransactionFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("terminal_owner_id = $%d", len(args)))
	}
	if filter.TerminalID != "" && filter.TerminalID != domain.TerminalFilterAll {
		args = append(args, filter.TerminalID)
		clauses = append(clauses, fmt.Sprintf("terminal_id = $%d", len(args)))
	}
	if filter.StartDate != "" {
		args = append(args, filter.StartDate+"T00:00:00")
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d::timestamp", len(args)))
	}
	if filter.EndDate != "" {
		args = append(args, filter.EndDate+"T23:59:59")
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d::timestamp", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ticketWhere translates the same logical filter against sync_tickets,
// where the date range compares the device-local date column.
func ticketWhere(filter domain.TransactionFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		clauses = append(clauses, fmt.Sprintf("st.terminal_owner_id = $%d", len(args)))
	}
	if filter.TerminalID != "" && filter.TerminalID != domain.TerminalFilterAll {
		args = append(args, filter.TerminalID)
		clauses = append(clauses, fmt.Sprintf("st.terminal_id = $%d", len(args)))
	}
	if filter.StartDate != "" {
		args = append(args, filter.StartDate)
		clauses = append(clauses, fmt.Sprintf("st.local_date >= $%d", len(args)))
	}
	if filter.EndDate != "" {
		args = append(args, filter.EndDate)
		clauses = append(clauses, fmt.Sprintf("st.local_date <= $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) ListManualTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.ManualTransaction, error) {
	where, args := manualWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, terminal_id, COALESCE(terminal_owner_id, ''), COALESCE(machine_name, ''),
		       type, amount, COALESCE(ticket_id, ''), COALESCE(numbers, ''),
		       COALESCE(play_type, ''), COALESCE(status, 'active'), created_at
		FROM transactions`+where+`
		ORDER BY created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ManualTransaction, 0, 64)
	for rows.Next() {
		var tx domain.ManualTransaction
		if err := rows.Scan(&tx.ID, &tx.TerminalID, &tx.OwnerID, &tx.MachineName,
			&tx.Type, &tx.Amount, &tx.TicketID, &tx.Numbers,
			&tx.PlayType, &tx.Status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetManualTransaction(ctx context.Context, id string) (*domain.ManualTransaction, error) {
	var tx domain.ManualTransaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, terminal_id, COALESCE(terminal_owner_id, ''), COALESCE(machine_name, ''),
		       type, amount, COALESCE(ticket_id, ''), COALESCE(numbers, ''),
		       COALESCE(play_type, ''), COALESCE(status, 'active'), created_at
		FROM transactions
		WHERE id = $1
	`, id).Scan(&tx.ID, &tx.TerminalID, &tx.OwnerID, &tx.MachineName,
		&tx.Type, &tx.Amount, &tx.TicketID, &tx.Numbers,
		&tx.PlayType, &tx.Status, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *Store) CreateManualTransaction(ctx context.Context, tx domain.ManualTransaction) (*domain.ManualTransaction, error) {
	if tx.TerminalID == "" || tx.Type == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusActive
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, terminal_id, terminal_owner_id, machine_name, type, amount, ticket_id, numbers, play_type, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, tx.ID, tx.TerminalID, nullIfEmpty(tx.OwnerID), nullIfEmpty(tx.MachineName), tx.Type, tx.Amount,
		nullIfEmpty(tx.TicketID), nullIfEmpty(tx.Numbers), nullIfEmpty(tx.PlayType), tx.Status, tx.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := tx
	return &created, nil
}

func (s *Store) SetManualTransactionStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindManualIDsByTicket(ctx context.Context, ticketNumber string, ownerID string) ([]string, error) {
	query := `SELECT id FROM transactions WHERE ticket_id = $1`
	args := []any{ticketNumber}
	if ownerID != "" {
		query += ` AND terminal_owner_id = $2`
		args = append(args, ownerID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteManualTransactions(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM transactions WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ListSyncTickets(ctx context.Context, filter domain.TransactionFilter) ([]domain.SyncTicket, error) {
	where, args := ticketWhere(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.id, st.terminal_id, COALESCE(st.terminal_owner_id, ''), COALESCE(term.name, ''),
		       COALESCE(st.machine_name, ''), st.ticket_number, st.amount, COALESCE(st.odds, 0),
		       COALESCE(st.race_number, ''), COALESCE(st.numbers, ''), COALESCE(st.play_type, ''),
		       COALESCE(st.local_date, ''), COALESCE(st.local_time, ''), st.raw_data,
		       COALESCE(st.status, 'active'), st.created_at
		FROM sync_tickets st
		LEFT JOIN terminals term ON term.id = st.terminal_id`+where+`
		ORDER BY st.created_at DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.SyncTicket, 0, 64)
	for rows.Next() {
		var t domain.SyncTicket
		var raw []byte
		if err := rows.Scan(&t.ID, &t.TerminalID, &t.OwnerID, &t.TerminalName,
			&t.MachineName, &t.TicketNumber, &t.Amount, &t.Odds,
			&t.RaceNumber, &t.Numbers, &t.PlayType,
			&t.LocalDate, &t.LocalTime, &raw,
			&t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.RawData = json.RawMessage(raw)
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetSyncTicket(ctx context.Context, id string) (*domain.SyncTicket, error) {
	var t domain.SyncTicket
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT st.id, st.terminal_id, COALESCE(st.terminal_owner_id, ''), COALESCE(term.name, ''),
		       COALESCE(st.machine_name, ''), st.ticket_number, st.amount, COALESCE(st.odds, 0),
		       COALESCE(st.race_number, ''), COALESCE(st.numbers, ''), COALESCE(st.play_type, ''),
		       COALESCE(st.local_date, ''), COALESCE(st.local_time, ''), st.raw_data,
		       COALESCE(st.status, 'active'), st.created_at
		FROM sync_tickets st
		LEFT JOIN terminals term ON term.id = st.terminal_id
		WHERE st.id = $1
	`, id).Scan(&t.ID, &t.TerminalID, &t.OwnerID, &t.TerminalName,
		&t.MachineName, &t.TicketNumber, &t.Amount, &t.Odds,
		&t.RaceNumber, &t.Numbers, &t.PlayType,
		&t.LocalDate, &t.LocalTime, &raw,
		&t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	t.RawData = json.RawMessage(raw)
	return &t, nil
}

func (s *Store) InsertSyncTickets(ctx context.Context, tickets []domain.SyncTicket) error {
	if len(tickets) == 0 {
		return nil
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	for _, t := range tickets {
		if t.TerminalID == "" || t.TicketNumber == "" {
			return store.ErrInvalidInput
		}
		if t.ID == "" {
			t.ID = xid.New("st")
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = time.Now().UTC()
		}
		if t.Status == "" {
			t.Status = domain.TxStatusActive
		}
		_, err := dbTx.ExecContext(ctx, `
			INSERT INTO sync_tickets (id, terminal_id, terminal_owner_id, machine_name, ticket_number, amount, odds, race_number, numbers, play_type, local_date, local_time, raw_data, status, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, t.ID, t.TerminalID, nullIfEmpty(t.OwnerID), nullIfEmpty(t.MachineName), t.TicketNumber, t.Amount, t.Odds,
			nullIfEmpty(t.RaceNumber), nullIfEmpty(t.Numbers), nullIfEmpty(t.PlayType),
			nullIfEmpty(t.LocalDate), nullIfEmpty(t.LocalTime), nullRaw(t.RawData), t.Status, t.CreatedAt)
		if err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

func (s *Store) SetSyncTicketStatus(ctx context.Context, id string, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_tickets SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) FindSyncTicketIDsByTicket(ctx context.Context, ticketNumber string, ownerID string) ([]string, error) {
	query := `SELECT id FROM sync_tickets WHERE ticket_number = $1`
	args := []any{ticketNumber}
	if ownerID != "" {
		query += ` AND terminal_owner_id = $2`
		args = append(args, ownerID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteSyncTickets(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_tickets WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) EnqueuePendingVoid(ctx context.Context, void domain.PendingVoid) error {
	if void.ID == "" {
		void.ID = xid.New("pv")
	}
	if void.CreatedAt.IsZero() {
		void.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_voids (id, terminal_id, ticket_number, play_type, numbers, amount, race_number, ticket_date, ticket_time, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, void.ID, void.TerminalID, void.TicketNumber, nullIfEmpty(void.PlayType), nullIfEmpty(void.Numbers),
		void.Amount, nullIfEmpty(void.RaceNumber), nullIfEmpty(void.TicketDate), nullIfEmpty(void.TicketTime), void.CreatedAt)
	return err
}

func (s *Store) ListPendingVoids(ctx context.Context, terminalID string) ([]domain.PendingVoid, error) {
	query := `
		SELECT id, terminal_id, ticket_number, COALESCE(play_type, ''), COALESCE(numbers, ''),
		       amount, COALESCE(race_number, ''), COALESCE(ticket_date, ''), COALESCE(ticket_time, ''), created_at
		FROM pending_voids`
	args := []any{}
	if terminalID != "" {
		query += ` WHERE terminal_id = $1`
		args = append(args, terminalID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.PendingVoid, 0, 16)
	for rows.Next() {
		var v domain.PendingVoid
		if err := rows.Scan(&v.ID, &v.TerminalID, &v.TicketNumber, &v.PlayType, &v.Numbers,
			&v.Amount, &v.RaceNumber, &v.TicketDate, &v.TicketTime, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *Store) InsertRaceResults(ctx context.Context, results []domain.RaceResult) error {
	if len(results) == 0 {
		return nil
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer dbTx.Rollback()

	for _, r := range results {
		if r.TerminalID == "" || r.RaceNumber == "" {
			return store.ErrInvalidInput
		}
		if r.ID == "" {
			r.ID = xid.New("race")
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
		_, err := dbTx.ExecContext(ctx, `
			INSERT INTO sync_races (id, terminal_id, race_number, winner_numbers, local_date, local_time, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, r.ID, r.TerminalID, r.RaceNumber, nullIfEmpty(r.WinnerNumbers),
			nullIfEmpty(r.LocalDate), nullIfEmpty(r.LocalTime), r.CreatedAt)
		if err != nil {
			return err
		}
	}

	return dbTx.Commit()
}

const terminalColumns = `
	id, owner_id, name, COALESCE(address, ''), COALESCE(phone, ''), COALESCE(manager, ''),
	COALESCE(type, ''), COALESCE(status, 'Desconectado'), COALESCE(software_version, ''),
	ini_content, last_sync, COALESCE(last_race_number, ''), COALESCE(last_ticket_number, ''),
	COALESCE(daily_sales, 0), COALESCE(daily_payouts, 0), created_at`

func scanTerminal(row interface{ Scan(...any) error }) (*domain.Terminal, error) {
	var t domain.Terminal
	var ini []byte
	var lastSync sql.NullTime
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Address, &t.Phone, &t.Manager,
		&t.Type, &t.Status, &t.SoftwareVersion,
		&ini, &lastSync, &t.LastRaceNumber, &t.LastTicketNumber,
		&t.DailySales, &t.DailyPayouts, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		ts := lastSync.Time
		t.LastSync = &ts
	}
	if len(ini) > 0 {
		if err := json.Unmarshal(ini, &t.IniContent); err != nil {
			return nil, fmt.Errorf("decode ini_content for terminal %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *Store) ListTerminals(ctx context.Context, ownerID string) ([]domain.Terminal, error) {
	query := `SELECT` + terminalColumns + ` FROM terminals`
	args := []any{}
	if ownerID != "" {
		query += ` WHERE owner_id = $1`
		args = append(args, ownerID)
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	terminals := make([]domain.Terminal, 0, 16)
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		terminals = append(terminals, *t)
	}
	return terminals, rows.Err()
}

func (s *Store) GetTerminal(ctx context.Context, id string) (*domain.Terminal, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+terminalColumns+` FROM terminals WHERE id = $1`, id)
	t, err := scanTerminal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) CreateTerminal(ctx context.Context, terminal domain.Terminal) (*domain.Terminal, error) {
	if strings.TrimSpace(terminal.Name) == "" || terminal.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}
	if terminal.ID == "" {
		terminal.ID = xid.New("term")
	}
	if terminal.CreatedAt.IsZero() {
		terminal.CreatedAt = time.Now().UTC()
	}
	if terminal.Status == "" {
		terminal.Status = domain.TerminalStatusOffline
	}

	ini, err := json.Marshal(terminal.IniContent)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, owner_id, name, address, phone, manager, type, status, software_version, ini_content, last_sync, daily_sales, daily_payouts, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,$11,$12,$13)
	`, terminal.ID, terminal.OwnerID, terminal.Name, nullIfEmpty(terminal.Address), nullIfEmpty(terminal.Phone),
		nullIfEmpty(terminal.Manager), nullIfEmpty(terminal.Type), terminal.Status, terminal.SoftwareVersion,
		ini, terminal.DailySales, terminal.DailyPayouts, terminal.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := terminal
	return &created, nil
}

func (s *Store) UpdateTerminalIni(ctx context.Context, id string, config domain.IniConfig) error {
	ini, err := json.Marshal(config)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE terminals SET ini_content = $2, last_sync = now() WHERE id = $1
	`, id, ini)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateTerminalHeartbeat(ctx context.Context, hb domain.HeartbeatRequest) (*domain.Terminal, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE terminals
		SET status = $2, last_sync = now(), last_race_number = $3, last_ticket_number = $4,
		    daily_sales = $5, daily_payouts = $6
		WHERE id = $1
		RETURNING`+terminalColumns+`
	`, hb.TerminalID, hb.Status, nullIfEmpty(hb.LastRaceNumber), nullIfEmpty(hb.LastTicketNumber),
		hb.DailySales, hb.DailyPayouts)

	t, err := scanTerminal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) MarkTerminalsOffline(ctx context.Context, cutoff time.Time) ([]domain.Terminal, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE terminals
		SET status = $1
		WHERE status = $2 AND (last_sync IS NULL OR last_sync <= $3)
		RETURNING`+terminalColumns+`
	`, domain.TerminalStatusOffline, domain.TerminalStatusOnline, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changed := make([]domain.Terminal, 0, 4)
	for rows.Next() {
		t, err := scanTerminal(rows)
		if err != nil {
			return nil, err
		}
		changed = append(changed, *t)
	}
	return changed, rows.Err()
}

func (s *Store) GetAppSettings(ctx context.Context) (*domain.AppSettings, error) {
	var settings domain.AppSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(app_name, ''), COALESCE(app_logo_url, ''), COALESCE(ticket_name, ''), COALESCE(ticket_logo_url, '')
		FROM app_settings
		WHERE id = 1
	`).Scan(&settings.AppName, &settings.AppLogoURL, &settings.TicketName, &settings.TicketLogoURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &settings, nil
}

func (s *Store) UpdateAppSettings(ctx context.Context, settings domain.AppSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_settings (id, app_name, app_logo_url, ticket_name, ticket_logo_url, updated_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE
		SET app_name = $1, app_logo_url = $2, ticket_name = $3, ticket_logo_url = $4, updated_at = now()
	`, settings.AppName, nullIfEmpty(settings.AppLogoURL), settings.TicketName, nullIfEmpty(settings.TicketLogoURL))
	return err
}

func (s *Store) GetJackpot(ctx context.Context) (*domain.JackpotValue, error) {
	var jackpot domain.JackpotValue
	err := s.db.QueryRowContext(ctx, `
		SELECT current_value, updated_at FROM jackpot_values WHERE id = 1
	`).Scan(&jackpot.CurrentValue, &jackpot.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.JackpotValue{CurrentValue: decimal.Zero}, nil
		}
		return nil, err
	}
	return &jackpot, nil
}

func (s *Store) AddToJackpot(ctx context.Context, delta decimal.Decimal) (*domain.JackpotValue, error) {
	var jackpot domain.JackpotValue
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jackpot_values (id, current_value, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE
		SET current_value = jackpot_values.current_value + $1, updated_at = now()
		RETURNING current_value, updated_at
	`, delta).Scan(&jackpot.CurrentValue, &jackpot.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &jackpot, nil
}

func (s *Store) CreateNotification(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = xid.New("notif")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, terminal_id, terminal_name, kind, message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, n.ID, n.TerminalID, n.TerminalName, n.Kind, n.Message, n.CreatedAt)
	return err
}

func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, terminal_id, COALESCE(terminal_name, ''), kind, COALESCE(message, ''), created_at
		FROM notifications
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Notification, 0, limit)
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.TerminalID, &n.TerminalName, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

const userColumns = `id, username, password_hash, role, COALESCE(consortium_name, ''), is_approved, created_at`

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM profiles WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(&user.ID, &user.Username, &user.PasswordHash,
		&user.Role, &user.Consortium, &user.IsApproved, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM profiles WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.PasswordHash,
		&user.Role, &user.Consortium, &user.IsApproved, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.Role == "" {
		user.Role = domain.RoleModerator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, username, password_hash, role, consortium_name, is_approved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Username, user.PasswordHash, user.Role, nullIfEmpty(user.Consortium), user.IsApproved, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM profiles ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 16)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash,
			&user.Role, &user.Consortium, &user.IsApproved, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) SetUserApproval(ctx context.Context, id string, approved bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET is_approved = $2 WHERE id = $1
	`, id, approved)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM profiles WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
