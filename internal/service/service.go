package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mbraces/backend/internal/cache"
	"mbraces/backend/internal/domain"
	"mbraces/backend/internal/store"
	"mbraces/backend/internal/xid"
	"mbraces/backend/pkg/log"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrPendingApproval = errors.New("account pending approval")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Broadcaster pushes events to connected dashboard clients. Delivery is
// best-effort; a slow or absent subscriber never blocks a mutation.
type Broadcaster interface {
	BroadcastJackpot(value domain.JackpotValue)
	BroadcastNotification(n domain.Notification)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastJackpot(domain.JackpotValue)      {}
func (noopBroadcaster) BroadcastNotification(domain.Notification) {}

type Service struct {
	repo      store.Repository
	stats     cache.StatsCache
	broadcast Broadcaster
	statsTTL  time.Duration
	log       zerolog.Logger
}

func New(repo store.Repository, stats cache.StatsCache, broadcast Broadcaster, statsTTL time.Duration) *Service {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if broadcast == nil {
		broadcast = noopBroadcaster{}
	}
	if statsTTL <= 0 {
		statsTTL = 10 * time.Second
	}
	return &Service{
		repo:      repo,
		stats:     stats,
		broadcast: broadcast,
		statsTTL:  statsTTL,
		log:       log.Logger().With().Str("component", "service").Logger(),
	}
}

// requireActor returns the calling actor, rejecting unauthenticated and
// unapproved callers. Approval gates every data operation: a fresh account
// can obtain a token but sees nothing until an administrator approves it.
func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	if !actor.Approved {
		return domain.Actor{}, ErrPendingApproval
	}
	return actor, nil
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

// scopeFilter applies role-based visibility: administrators see the whole
// network, everyone else only terminals they own. The store applies the
// same owner filter again, so this is not the only enforcement point.
func scopeFilter(actor domain.Actor, filter domain.TransactionFilter) domain.TransactionFilter {
	if actor.Role != domain.RoleAdmin {
		filter.OwnerID = actor.ID
	}
	return filter
}

// fetchSources issues both source queries concurrently and joins the
// results. A failed source is logged and degraded to an empty list so an
// outage on one table never blanks out the other.
func (s *Service) fetchSources(ctx context.Context, filter domain.TransactionFilter) ([]domain.ManualTransaction, []domain.SyncTicket) {
	var (
		wg        sync.WaitGroup
		manual    []domain.ManualTransaction
		manualErr error
		tickets   []domain.SyncTicket
		ticketErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		manual, manualErr = s.repo.ListManualTransactions(ctx, filter)
	}()
	go func() {
		defer wg.Done()
		tickets, ticketErr = s.repo.ListSyncTickets(ctx, filter)
	}()
	wg.Wait()

	if manualErr != nil {
		s.log.Warn().Err(manualErr).Msg("manual transactions query failed, continuing with empty source")
		manual = nil
	}
	if ticketErr != nil {
		s.log.Warn().Err(ticketErr).Msg("sync tickets query failed, continuing with empty source")
		tickets = nil
	}
	return manual, tickets
}

func (s *Service) ListTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	filter = scopeFilter(actor, filter)

	manual, tickets := s.fetchSources(ctx, filter)
	return Unify(manual, tickets, filter.Limit), nil
}

// Report returns the full itemized result for the filter plus the folded
// totals. Unlike listings, reports are never truncated.
func (s *Service) Report(ctx context.Context, filter domain.TransactionFilter) (domain.Report, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	filter = scopeFilter(actor, filter)

	manual, tickets := s.fetchSources(ctx, filter)
	transactions := Unify(manual, tickets, len(manual)+len(tickets))
	return domain.Report{
		Transactions: transactions,
		Totals:       Aggregate(transactions),
	}, nil
}

func (s *Service) CreateTransaction(ctx context.Context, req domain.TransactionCreateRequest) (domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	req.TicketID = strings.TrimSpace(req.TicketID)
	if req.TerminalID == "" || req.TicketID == "" {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	if req.Type != domain.TxTypeBet && req.Type != domain.TxTypePayout {
		return domain.Transaction{}, store.ErrInvalidInput
	}
	if req.Amount.IsNegative() {
		return domain.Transaction{}, store.ErrInvalidInput
	}

	terminal, err := s.repo.GetTerminal(ctx, req.TerminalID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if actor.Role != domain.RoleAdmin && terminal.OwnerID != actor.ID {
		return domain.Transaction{}, ErrForbidden
	}

	created, err := s.repo.CreateManualTransaction(ctx, domain.ManualTransaction{
		ID:          xid.New("tx"),
		TerminalID:  terminal.ID,
		OwnerID:     terminal.OwnerID,
		MachineName: terminal.Name,
		Type:        req.Type,
		Amount:      req.Amount,
		TicketID:    req.TicketID,
		Numbers:     strings.TrimSpace(req.Numbers),
		PlayType:    strings.TrimSpace(req.PlayType),
		Status:      domain.TxStatusActive,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	return FromManual(*created), nil
}

// VoidTransaction flips a record to voided on the table its provenance
// flag points at. The transition is one-way; there is no un-void. For
// collector tickets a denormalized pending-void record is also enqueued
// so the device can apply the void locally on its next sync. That insert
// is best-effort: the status flag is the source of truth, and a failed
// enqueue never rolls the void back.
func (s *Service) VoidTransaction(ctx context.Context, id string, req domain.VoidRequest) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return store.ErrInvalidInput
	}

	if !req.IsCollector {
		tx, err := s.repo.GetManualTransaction(ctx, id)
		if err != nil {
			return err
		}
		if actor.Role != domain.RoleAdmin && tx.OwnerID != actor.ID {
			return store.ErrNotFound
		}
		return s.repo.SetManualTransactionStatus(ctx, id, domain.TxStatusVoided)
	}

	ticket, err := s.repo.GetSyncTicket(ctx, id)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleAdmin && ticket.OwnerID != actor.ID {
		return store.ErrNotFound
	}
	if err := s.repo.SetSyncTicketStatus(ctx, id, domain.TxStatusVoided); err != nil {
		return err
	}

	if err := s.repo.EnqueuePendingVoid(ctx, domain.PendingVoid{
		ID:           xid.New("pv"),
		TerminalID:   ticket.TerminalID,
		TicketNumber: ticket.TicketNumber,
		PlayType:     ticket.PlayType,
		Numbers:      ticket.Numbers,
		Amount:       ticket.Amount,
		RaceNumber:   ticket.RaceNumber,
		TicketDate:   ticket.LocalDate,
		TicketTime:   ticket.LocalTime,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Str("ticket", ticket.TicketNumber).Msg("pending void enqueue failed, void already committed")
	}
	return nil
}

// SearchTickets is the count phase of the two-phase hard delete: it
// reports how many rows match the ticket number without touching them,
// so the operator confirms against an exact count.
func (s *Service) SearchTickets(ctx context.Context, req domain.TicketSearchRequest) (domain.TicketSearchResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TicketSearchResponse{}, err
	}
	ticketNumber := strings.TrimSpace(req.TicketNumber)
	if ticketNumber == "" {
		return domain.TicketSearchResponse{}, store.ErrInvalidInput
	}

	ownerID := ""
	if actor.Role != domain.RoleAdmin {
		ownerID = actor.ID
	}

	manualIDs, err := s.repo.FindManualIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		return domain.TicketSearchResponse{}, err
	}
	syncIDs, err := s.repo.FindSyncTicketIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		return domain.TicketSearchResponse{}, err
	}

	return domain.TicketSearchResponse{
		TicketNumber:   ticketNumber,
		ManualCount:    len(manualIDs),
		CollectorCount: len(syncIDs),
		Total:          len(manualIDs) + len(syncIDs),
	}, nil
}

// DeleteTickets is the confirm phase: matching ids are re-resolved and
// bulk-deleted per table. A table with no matches is skipped outright
// rather than issued an empty delete. Retrying after success finds no
// rows and reports zero, not an error. The two deletes are not atomic
// with each other; the first failure aborts and surfaces.
func (s *Service) DeleteTickets(ctx context.Context, req domain.TicketSearchRequest) (domain.TicketDeleteResponse, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.TicketDeleteResponse{}, err
	}
	ticketNumber := strings.TrimSpace(req.TicketNumber)
	if ticketNumber == "" {
		return domain.TicketDeleteResponse{}, store.ErrInvalidInput
	}

	ownerID := ""
	if actor.Role != domain.RoleAdmin {
		ownerID = actor.ID
	}

	manualIDs, err := s.repo.FindManualIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		return domain.TicketDeleteResponse{}, err
	}
	syncIDs, err := s.repo.FindSyncTicketIDsByTicket(ctx, ticketNumber, ownerID)
	if err != nil {
		return domain.TicketDeleteResponse{}, err
	}

	deleted := 0
	if len(manualIDs) > 0 {
		n, err := s.repo.DeleteManualTransactions(ctx, manualIDs)
		if err != nil {
			return domain.TicketDeleteResponse{}, fmt.Errorf("delete manual transactions: %w", err)
		}
		deleted += n
	}
	if len(syncIDs) > 0 {
		n, err := s.repo.DeleteSyncTickets(ctx, syncIDs)
		if err != nil {
			return domain.TicketDeleteResponse{}, fmt.Errorf("delete sync tickets: %w", err)
		}
		deleted += n
	}

	return domain.TicketDeleteResponse{
		TicketNumber: ticketNumber,
		Deleted:      deleted,
	}, nil
}

// DashboardStats serves the ~10s polling dashboard. Results are cached
// per visibility scope for the poll interval; a cache outage degrades to
// recomputation.
func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	cacheKey := "stats:" + actor.ID
	if actor.Role == domain.RoleAdmin {
		cacheKey = "stats:all"
	}
	if cached, ok, err := s.stats.Get(ctx, cacheKey); err != nil {
		s.log.Warn().Err(err).Msg("stats cache read failed")
	} else if ok {
		return *cached, nil
	}

	ownerID := ""
	if actor.Role != domain.RoleAdmin {
		ownerID = actor.ID
	}
	terminals, err := s.repo.ListTerminals(ctx, ownerID)
	if err != nil {
		return domain.DashboardStats{}, err
	}

	today := time.Now().UTC().Format("2006-01-02")
	manual, tickets := s.fetchSources(ctx, scopeFilter(actor, domain.TransactionFilter{
		StartDate: today,
		EndDate:   today,
	}))
	totals := Aggregate(Unify(manual, tickets, len(manual)+len(tickets)))

	stats := domain.DashboardStats{
		TotalMachines: len(terminals),
		TotalSales:    totals.TotalBet,
		TotalPayouts:  totals.TotalPayout,
		NetIncome:     totals.NetIncome,
	}
	var lastSync time.Time
	for _, t := range terminals {
		if t.Status == domain.TerminalStatusOnline {
			stats.OnlineMachines++
		}
		if t.LastSync != nil && t.LastSync.After(lastSync) {
			lastSync = *t.LastSync
		}
	}
	if !lastSync.IsZero() {
		stats.LastSync = lastSync.Format(time.RFC3339)
	}

	if err := s.stats.Set(ctx, cacheKey, &stats, s.statsTTL); err != nil {
		s.log.Warn().Err(err).Msg("stats cache write failed")
	}
	return stats, nil
}

func (s *Service) ListTerminals(ctx context.Context) ([]domain.Terminal, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	ownerID := ""
	if actor.Role != domain.RoleAdmin {
		ownerID = actor.ID
	}
	return s.repo.ListTerminals(ctx, ownerID)
}

func (s *Service) CreateTerminal(ctx context.Context, req domain.TerminalCreateRequest) (domain.Terminal, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Terminal{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Terminal{}, store.ErrInvalidInput
	}

	user, err := s.repo.GetUser(ctx, actor.ID)
	consortium := ""
	if err == nil {
		consortium = user.Consortium
	}

	created, err := s.repo.CreateTerminal(ctx, domain.Terminal{
		ID:              xid.New("term"),
		OwnerID:         actor.ID,
		Name:            req.Name,
		Address:         strings.TrimSpace(req.Address),
		Phone:           strings.TrimSpace(req.Phone),
		Manager:         strings.TrimSpace(req.Manager),
		Type:            strings.TrimSpace(req.Type),
		Status:          domain.TerminalStatusOffline,
		SoftwareVersion: "v1.0.0",
		IniContent:      domain.DefaultIniConfig(consortium),
		DailySales:      decimal.Zero,
		DailyPayouts:    decimal.Zero,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return domain.Terminal{}, err
	}
	return *created, nil
}

func (s *Service) GetTerminalIni(ctx context.Context, terminalID string) (domain.IniConfig, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.IniConfig{}, err
	}
	terminal, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return domain.IniConfig{}, err
	}
	if actor.Role != domain.RoleAdmin && terminal.OwnerID != actor.ID {
		return domain.IniConfig{}, store.ErrNotFound
	}
	return terminal.IniContent, nil
}

func (s *Service) UpdateTerminalIni(ctx context.Context, terminalID string, req domain.IniUpdateRequest) error {
	actor, err := requireActor(ctx)
	if err != nil {
		return err
	}
	terminal, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}
	if actor.Role != domain.RoleAdmin && terminal.OwnerID != actor.ID {
		return store.ErrNotFound
	}
	return s.repo.UpdateTerminalIni(ctx, terminalID, req.IniContent)
}

func (s *Service) GetAppSettings(ctx context.Context) (domain.AppSettings, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.AppSettings{}, err
	}
	settings, err := s.repo.GetAppSettings(ctx)
	if err != nil {
		return domain.AppSettings{}, err
	}
	return *settings, nil
}

func (s *Service) UpdateAppSettings(ctx context.Context, settings domain.AppSettings) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	settings.AppName = strings.TrimSpace(settings.AppName)
	if settings.AppName == "" {
		return store.ErrInvalidInput
	}
	return s.repo.UpdateAppSettings(ctx, settings)
}

func (s *Service) GetJackpot(ctx context.Context) (domain.JackpotValue, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.JackpotValue{}, err
	}
	jackpot, err := s.repo.GetJackpot(ctx)
	if err != nil {
		return domain.JackpotValue{}, err
	}
	return *jackpot, nil
}

func (s *Service) RecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 10 {
		limit = 10
	}
	return s.repo.ListRecentNotifications(ctx, limit)
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) SetUserApproval(ctx context.Context, userID string, approved bool) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	return s.repo.SetUserApproval(ctx, userID, approved)
}

func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return err
	}
	if actor.ID == userID {
		return store.ErrInvalidInput
	}
	return s.repo.DeleteUser(ctx, userID)
}

// IngestTickets stores a collector batch. When the terminal's engine
// config enables the jackpot, the bet portion of the batch feeds the
// shared pot at the configured percentage and the new value is pushed to
// subscribers.
func (s *Service) IngestTickets(ctx context.Context, payloads []domain.SyncTicketPayload) error {
	if len(payloads) == 0 {
		return nil
	}

	terminalID := payloads[0].TerminalID
	terminal, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rows := make([]domain.SyncTicket, 0, len(payloads))
	betTotal := decimal.Zero
	for _, p := range payloads {
		if p.TicketNumber == "" {
			continue
		}
		raw := normalizeRawData(p.RawData)
		row := domain.SyncTicket{
			ID:           xid.New("st"),
			TerminalID:   p.TerminalID,
			OwnerID:      terminal.OwnerID,
			TicketNumber: p.TicketNumber,
			Amount:       p.Amount,
			Odds:         p.Odds,
			RaceNumber:   p.RaceNumber,
			Numbers:      p.Numbers,
			LocalDate:    p.LocalDate,
			LocalTime:    p.LocalTime,
			RawData:      raw,
			Status:       domain.TxStatusActive,
			CreatedAt:    now,
		}
		rows = append(rows, row)
		if ticketTypeFromRaw(raw) == domain.TxTypeBet {
			betTotal = betTotal.Add(p.Amount)
		}
	}
	if len(rows) == 0 {
		return store.ErrInvalidInput
	}

	if err := s.repo.InsertSyncTickets(ctx, rows); err != nil {
		return err
	}

	if terminal.IniContent.DOG.Jackpot == "TRUE" && betTotal.IsPositive() {
		rate := decimal.NewFromInt(int64(terminal.IniContent.DOG.Porsentaje)).Div(decimal.NewFromInt(100))
		contribution := betTotal.Mul(rate)
		jackpot, err := s.repo.AddToJackpot(ctx, contribution)
		if err != nil {
			s.log.Warn().Err(err).Str("terminal", terminalID).Msg("jackpot contribution failed")
		} else {
			s.broadcast.BroadcastJackpot(*jackpot)
		}
	}
	return nil
}

func (s *Service) IngestRaces(ctx context.Context, results []domain.RaceResult) error {
	if len(results) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.RaceResult, 0, len(results))
	for _, r := range results {
		if r.RaceNumber == "" {
			continue
		}
		r.ID = xid.New("race")
		r.CreatedAt = now
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		return nil
	}
	return s.repo.InsertRaceResults(ctx, rows)
}

// Heartbeat records the collector's liveness ping. An offline-to-online
// transition produces a connection notification pushed to dashboards.
func (s *Service) Heartbeat(ctx context.Context, hb domain.HeartbeatRequest) (domain.Terminal, error) {
	if hb.TerminalID == "" {
		return domain.Terminal{}, store.ErrInvalidInput
	}
	if hb.Status == "" {
		hb.Status = domain.TerminalStatusOnline
	}

	previous, err := s.repo.GetTerminal(ctx, hb.TerminalID)
	if err != nil {
		return domain.Terminal{}, err
	}

	updated, err := s.repo.UpdateTerminalHeartbeat(ctx, hb)
	if err != nil {
		return domain.Terminal{}, err
	}

	if previous.Status != domain.TerminalStatusOnline && updated.Status == domain.TerminalStatusOnline {
		s.notifyTerminal(ctx, *updated, domain.NotificationConnected,
			fmt.Sprintf("%s se ha conectado", updated.Name))
	}
	return *updated, nil
}

// SweepOfflineTerminals marks terminals that stopped sending heartbeats
// as offline and notifies dashboards. Called on a fixed interval from
// the server entrypoint.
func (s *Service) SweepOfflineTerminals(ctx context.Context, staleAfter time.Duration) {
	changed, err := s.repo.MarkTerminalsOffline(ctx, time.Now().UTC().Add(-staleAfter))
	if err != nil {
		s.log.Warn().Err(err).Msg("offline sweep failed")
		return
	}
	for _, terminal := range changed {
		s.notifyTerminal(ctx, terminal, domain.NotificationDisconnected,
			fmt.Sprintf("%s se ha desconectado", terminal.Name))
	}
}

func (s *Service) notifyTerminal(ctx context.Context, terminal domain.Terminal, kind string, message string) {
	n := domain.Notification{
		ID:           xid.New("notif"),
		TerminalID:   terminal.ID,
		TerminalName: terminal.Name,
		Kind:         kind,
		Message:      message,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		s.log.Warn().Err(err).Str("terminal", terminal.ID).Msg("notification insert failed")
	}
	s.broadcast.BroadcastNotification(n)
}

// IniForTerminal serves the collector's config pull. No actor: the
// caller authenticated with the machine token.
func (s *Service) IniForTerminal(ctx context.Context, terminalID string) (domain.IniConfig, error) {
	terminal, err := s.repo.GetTerminal(ctx, terminalID)
	if err != nil {
		return domain.IniConfig{}, err
	}
	return terminal.IniContent, nil
}

func (s *Service) PendingVoidsForTerminal(ctx context.Context, terminalID string) ([]domain.PendingVoid, error) {
	if terminalID == "" {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListPendingVoids(ctx, terminalID)
}

// BuildThermalReport renders the 80mm closing receipt for a date range
// as raw ESC/POS bytes plus a plain-text preview.
func (s *Service) BuildThermalReport(ctx context.Context, req domain.ThermalReportRequest) (domain.ThermalReportResponse, error) {
	report, err := s.Report(ctx, domain.TransactionFilter{
		TerminalID: req.TerminalID,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
	})
	if err != nil {
		return domain.ThermalReportResponse{}, err
	}

	settings, err := s.repo.GetAppSettings(ctx)
	bancaName := "MBRACES"
	if err == nil && settings.TicketName != "" {
		bancaName = settings.TicketName
	}

	lines := []string{
		bancaName,
		"CIERRE DE CAJA",
		"================================",
		"Periodo: " + req.StartDate + " - " + req.EndDate,
		"Impreso: " + time.Now().Format(displayDateLayout),
		"--------------------------------",
		fmt.Sprintf("TOTAL VENTAS: RD$%s", report.Totals.TotalBet.StringFixed(2)),
		fmt.Sprintf("TOTAL PAGOS:  RD$%s", report.Totals.TotalPayout.StringFixed(2)),
		"--------------------------------",
		fmt.Sprintf("GANANCIA:     RD$%s", report.Totals.NetIncome.StringFixed(2)),
		"================================",
	}
	for _, tx := range report.Transactions {
		marker := ""
		if tx.Status == domain.TxStatusVoided {
			marker = " [ANULADO]"
		}
		lines = append(lines, fmt.Sprintf("%s %s%s", tx.TicketID, tx.Type, marker))
		lines = append(lines, fmt.Sprintf("  %s RD$%s", tx.Date, tx.Amount.StringFixed(2)))
	}
	lines = append(lines, "", "")

	escpos := []byte{0x1b, 0x40}
	for _, line := range lines {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)

	return domain.ThermalReportResponse{
		EscposBase64: base64.StdEncoding.EncodeToString(escpos),
		PreviewText:  strings.Join(lines, "\n"),
		FileName:     fmt.Sprintf("cierre-%s.bin", time.Now().Format("20060102-150405")),
	}, nil
}

// normalizeRawData keeps valid JSON as-is and wraps anything else as a
// JSON string so the payload always round-trips through the database.
func normalizeRawData(raw string) json.RawMessage {
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	return json.RawMessage(encoded)
}
