package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"mbraces/backend/internal/domain"
	"mbraces/backend/internal/store"
	"mbraces/backend/internal/xid"
	"mbraces/backend/pkg/log"
)

type Store struct {
	mu              sync.RWMutex
	manualByID      map[string]*domain.ManualTransaction
	ticketsByID     map[string]*domain.SyncTicket
	manualOrder     []string
	ticketOrder     []string
	pendingVoids    []domain.PendingVoid
	raceResults     []domain.RaceResult
	terminalsByID   map[string]*domain.Terminal
	settings        domain.AppSettings
	jackpot         domain.JackpotValue
	notifications   []domain.Notification
	usersByUsername map[string]*domain.User
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_MODERATOR_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used and a
// warning is logged. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]*domain.User {
	logger := log.Logger().With().Str("component", "memory-store").Logger()
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	modPwd := envOr("SEED_MODERATOR_PASSWORD", "moderator123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MODERATOR_PASSWORD") == "" {
		logger.Warn().Msg("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_MODERATOR_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]*domain.User{}
	for _, u := range []struct {
		id       string
		username string
		password string
		role     string
	}{
		{"user-admin", "admin", adminPwd, domain.RoleAdmin},
		{"user-moderator", "moderator", modPwd, domain.RoleModerator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal().Err(err).Str("username", u.username).Msg("hashing seed password failed")
		}
		users[u.username] = &domain.User{
			ID:           u.id,
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Consortium:   "MBRACES",
			IsApproved:   true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	terminals := []*domain.Terminal{
		{
			ID:              "term-001",
			OwnerID:         "user-moderator",
			Name:            "Banca Central",
			Address:         "Av. Duarte 12",
			Status:          domain.TerminalStatusOffline,
			SoftwareVersion: "v1.0.0",
			IniContent:      domain.DefaultIniConfig("MBRACES"),
			DailySales:      decimal.Zero,
			DailyPayouts:    decimal.Zero,
			CreatedAt:       now,
		},
		{
			ID:              "term-002",
			OwnerID:         "user-moderator",
			Name:            "Banca El Millón",
			Address:         "Calle Sánchez 4",
			Status:          domain.TerminalStatusOffline,
			SoftwareVersion: "v1.0.0",
			IniContent:      domain.DefaultIniConfig("MBRACES"),
			DailySales:      decimal.Zero,
			DailyPayouts:    decimal.Zero,
			CreatedAt:       now,
		},
	}

	terminalMap := make(map[string]*domain.Terminal, len(terminals))
	for _, t := range terminals {
		terminalMap[t.ID] = t
	}

	return &Store{
		manualByID:    make(map[string]*domain.ManualTransaction),
		ticketsByID:   make(map[string]*domain.SyncTicket),
		manualOrder:   make([]string, 0, 128),
		ticketOrder:   make([]string, 0, 128),
		pendingVoids:  make([]domain.PendingVoid, 0, 32),
		raceResults:   make([]domain.RaceResult, 0, 64),
		terminalsByID: terminalMap,
		settings: domain.AppSettings{
			AppName:    "MBRACES",
			TicketName: "MBRACES",
		},
		jackpot: domain.JackpotValue{
			CurrentValue: decimal.Zero,
			UpdatedAt:    now,
		},
		notifications:   make([]domain.Notification, 0, 32),
		usersByUsername: seedUsers(),
	}
}

// matchesManual applies owner scoping, the terminal filter and the
// timestamp-based date range to a manual row.
func matchesManual(tx *domain.ManualTransaction, filter domain.TransactionFilter) bool {
	if filter.OwnerID != "" && tx.OwnerID != filter.OwnerID {
		return false
	}
	if filter.TerminalID != "" && filter.TerminalID != domain.TerminalFilterAll && tx.TerminalID != filter.TerminalID {
		return false
	}
	if filter.StartDate != "" {
		if start, err := time.Parse("2006-01-02", filter.StartDate); err == nil && tx.CreatedAt.Before(start) {
			return false
		}
	}
	if filter.EndDate != "" {
		if end, err := time.Parse("2006-01-02", filter.EndDate); err == nil {
			endOfDay := end.Add(24*time.Hour - time.Second)
			if tx.CreatedAt.After(endOfDay) {
				return false
			}
		}
	}
	return true
}

// matchesTicket applies the same logical filter against a sync ticket,
// where the date range compares the device-local date column instead of
// the server timestamp.
func matchesTicket(t *domain.SyncTicket, filter domain.TransactionFilter) bool {
	if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
		return false
	}
	if filter.TerminalID != "" && filter.TerminalID != domain.TerminalFilterAll && t.TerminalID != filter.TerminalID {
		return false
	}
	if filter.StartDate != "" && t.LocalDate != "" && t.LocalDate < filter.StartDate {
		return false
	}
	if filter.EndDate != "" && t.LocalDate != "" && t.LocalDate > filter.EndDate {
		return false
	}
	return true
}

func (s *Store) ListManualTransactions(_ context.Context, filter domain.TransactionFilter) ([]domain.ManualTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ManualTransaction, 0, len(s.manualOrder))
	for _, id := range s.manualOrder {
		tx := s.manualByID[id]
		if tx == nil || !matchesManual(tx, filter) {
			continue
		}
		result = append(result, *tx)
	}
	return result, nil
}

func (s *Store) GetManualTransaction(_ context.Context, id string) (*domain.ManualTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.manualByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := *tx
	return &dup, nil
}

func (s *Store) CreateManualTransaction(_ context.Context, tx domain.ManualTransaction) (*domain.ManualTransaction, error) {
	if tx.TerminalID == "" || tx.Type == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusActive
	}
	if terminal, ok := s.terminalsByID[tx.TerminalID]; ok {
		tx.MachineName = terminal.Name
		tx.OwnerID = terminal.OwnerID
	}

	dup := tx
	s.manualByID[tx.ID] = &dup
	s.manualOrder = append(s.manualOrder, tx.ID)
	created := tx
	return &created, nil
}

func (s *Store) SetManualTransactionStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.manualByID[id]
	if !ok {
		return store.ErrNotFound
	}
	tx.Status = status
	return nil
}

func (s *Store) FindManualIDsByTicket(_ context.Context, ticketNumber string, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, 4)
	for _, id := range s.manualOrder {
		tx := s.manualByID[id]
		if tx == nil || tx.TicketID != ticketNumber {
			continue
		}
		if ownerID != "" && tx.OwnerID != ownerID {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) DeleteManualTransactions(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.manualByID[id]; !ok {
			continue
		}
		delete(s.manualByID, id)
		deleted++
	}
	if deleted > 0 {
		s.manualOrder = slices.DeleteFunc(s.manualOrder, func(id string) bool {
			_, ok := s.manualByID[id]
			return !ok
		})
	}
	return deleted, nil
}

func (s *Store) ListSyncTickets(_ context.Context, filter domain.TransactionFilter) ([]domain.SyncTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SyncTicket, 0, len(s.ticketOrder))
	for _, id := range s.ticketOrder {
		t := s.ticketsByID[id]
		if t == nil || !matchesTicket(t, filter) {
			continue
		}
		dup := *t
		if terminal, ok := s.terminalsByID[t.TerminalID]; ok {
			dup.TerminalName = terminal.Name
		}
		result = append(result, dup)
	}
	return result, nil
}

func (s *Store) GetSyncTicket(_ context.Context, id string) (*domain.SyncTicket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.ticketsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := *t
	if terminal, ok := s.terminalsByID[t.TerminalID]; ok {
		dup.TerminalName = terminal.Name
	}
	return &dup, nil
}

func (s *Store) InsertSyncTickets(_ context.Context, tickets []domain.SyncTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		if terminal, ok := s.terminalsByID[t.TerminalID]; ok {
			t.OwnerID = terminal.OwnerID
		}
		dup := t
		s.ticketsByID[t.ID] = &dup
		s.ticketOrder = append(s.ticketOrder, t.ID)
	}
	return nil
}

func (s *Store) SetSyncTicketStatus(_ context.Context, id string, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.ticketsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *Store) FindSyncTicketIDsByTicket(_ context.Context, ticketNumber string, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, 4)
	for _, id := range s.ticketOrder {
		t := s.ticketsByID[id]
		if t == nil || t.TicketNumber != ticketNumber {
			continue
		}
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) DeleteSyncTickets(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		if _, ok := s.ticketsByID[id]; !ok {
			continue
		}
		delete(s.ticketsByID, id)
		deleted++
	}
	if deleted > 0 {
		s.ticketOrder = slices.DeleteFunc(s.ticketOrder, func(id string) bool {
			_, ok := s.ticketsByID[id]
			return !ok
		})
	}
	return deleted, nil
}

func (s *Store) EnqueuePendingVoid(_ context.Context, void domain.PendingVoid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if void.ID == "" {
		void.ID = xid.New("pv")
	}
	if void.CreatedAt.IsZero() {
		void.CreatedAt = time.Now().UTC()
	}
	s.pendingVoids = append(s.pendingVoids, void)
	return nil
}

func (s *Store) ListPendingVoids(_ context.Context, terminalID string) ([]domain.PendingVoid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PendingVoid, 0, len(s.pendingVoids))
	for _, void := range s.pendingVoids {
		if terminalID != "" && void.TerminalID != terminalID {
			continue
		}
		result = append(result, void)
	}
	return result, nil
}

func (s *Store) InsertRaceResults(_ context.Context, results []domain.RaceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		s.raceResults = append(s.raceResults, r)
	}
	return nil
}

func (s *Store) ListTerminals(_ context.Context, ownerID string) ([]domain.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terminals := make([]domain.Terminal, 0, len(s.terminalsByID))
	for _, t := range s.terminalsByID {
		if ownerID != "" && t.OwnerID != ownerID {
			continue
		}
		terminals = append(terminals, cloneTerminal(t))
	}
	slices.SortFunc(terminals, func(a, b domain.Terminal) int {
		return cmpString(a.Name, b.Name)
	})
	return terminals, nil
}

func (s *Store) GetTerminal(_ context.Context, id string) (*domain.Terminal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.terminalsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneTerminal(t)
	return &dup, nil
}

func (s *Store) CreateTerminal(_ context.Context, terminal domain.Terminal) (*domain.Terminal, error) {
	if strings.TrimSpace(terminal.Name) == "" || terminal.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if terminal.ID == "" {
		terminal.ID = xid.New("term")
	}
	if terminal.CreatedAt.IsZero() {
		terminal.CreatedAt = time.Now().UTC()
	}
	if terminal.Status == "" {
		terminal.Status = domain.TerminalStatusOffline
	}
	if terminal.SoftwareVersion == "" {
		terminal.SoftwareVersion = "v1.0.0"
	}

	dup := terminal
	s.terminalsByID[terminal.ID] = &dup
	created := cloneTerminal(&dup)
	return &created, nil
}

func (s *Store) UpdateTerminalIni(_ context.Context, id string, ini domain.IniConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.terminalsByID[id]
	if !ok {
		return store.ErrNotFound
	}
	t.IniContent = ini
	now := time.Now().UTC()
	t.LastSync = &now
	return nil
}

func (s *Store) UpdateTerminalHeartbeat(_ context.Context, hb domain.HeartbeatRequest) (*domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.terminalsByID[hb.TerminalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()
	t.LastSync = &now
	if hb.Status != "" {
		t.Status = hb.Status
	}
	t.LastRaceNumber = hb.LastRaceNumber
	t.LastTicketNumber = hb.LastTicketNumber
	t.DailySales = hb.DailySales
	t.DailyPayouts = hb.DailyPayouts

	dup := cloneTerminal(t)
	return &dup, nil
}

func (s *Store) MarkTerminalsOffline(_ context.Context, cutoff time.Time) ([]domain.Terminal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make([]domain.Terminal, 0, 4)
	for _, t := range s.terminalsByID {
		if t.Status != domain.TerminalStatusOnline {
			continue
		}
		if t.LastSync != nil && t.LastSync.After(cutoff) {
			continue
		}
		t.Status = domain.TerminalStatusOffline
		changed = append(changed, cloneTerminal(t))
	}
	slices.SortFunc(changed, func(a, b domain.Terminal) int {
		return cmpString(a.ID, b.ID)
	})
	return changed, nil
}

func (s *Store) GetAppSettings(_ context.Context) (*domain.AppSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings := s.settings
	return &settings, nil
}

func (s *Store) UpdateAppSettings(_ context.Context, settings domain.AppSettings) error {
	if strings.TrimSpace(settings.AppName) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings = settings
	return nil
}

func (s *Store) GetJackpot(_ context.Context) (*domain.JackpotValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jackpot := s.jackpot
	return &jackpot, nil
}

func (s *Store) AddToJackpot(_ context.Context, delta decimal.Decimal) (*domain.JackpotValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jackpot.CurrentValue = s.jackpot.CurrentValue.Add(delta)
	s.jackpot.UpdatedAt = time.Now().UTC()
	jackpot := s.jackpot
	return &jackpot, nil
}

func (s *Store) CreateNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = xid.New("notif")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *Store) ListRecentNotifications(_ context.Context, limit int) ([]domain.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Notification, len(s.notifications))
	copy(result, s.notifications)
	slices.SortFunc(result, func(a, b domain.Notification) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := *user
	return &dup, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.usersByUsername {
		if user.ID == id {
			dup := *user
			return &dup, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || user.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return nil, store.ErrDuplicate
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

	dup := user
	s.usersByUsername[user.Username] = &dup
	created := user
	return &created, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, *user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) SetUserApproval(_ context.Context, id string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, user := range s.usersByUsername {
		if user.ID == id {
			user.IsApproved = approved
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for username, user := range s.usersByUsername {
		if user.ID == id {
			delete(s.usersByUsername, username)
			return nil
		}
	}
	return store.ErrNotFound
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTerminal(src *domain.Terminal) domain.Terminal {
	dup := *src
	if src.LastSync != nil {
		lastSync := *src.LastSync
		dup.LastSync = &lastSync
	}
	if src.IniContent.Carrera != nil {
		carrera := make(map[string]string, len(src.IniContent.Carrera))
		for k, v := range src.IniContent.Carrera {
			carrera[k] = v
		}
		dup.IniContent.Carrera = carrera
	}
	return dup
}
