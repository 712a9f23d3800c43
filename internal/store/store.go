package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"mbraces/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("already exists")
)

type Repository interface {
	ListManualTransactions(ctx context.Context, filter domain.TransactionFilter) ([]domain.ManualTransaction, error)
	GetManualTransaction(ctx context.Context, id string) (*domain.ManualTransaction, error)
	CreateManualTransaction(ctx context.Context, tx domain.ManualTransaction) (*domain.ManualTransaction, error)
	SetManualTransactionStatus(ctx context.Context, id string, status string) error
	FindManualIDsByTicket(ctx context.Context, ticketNumber string, ownerID string) ([]string, error)
	DeleteManualTransactions(ctx context.Context, ids []string) (int, error)

	ListSyncTickets(ctx context.Context, filter domain.TransactionFilter) ([]domain.SyncTicket, error)
	GetSyncTicket(ctx context.Context, id string) (*domain.SyncTicket, error)
	InsertSyncTickets(ctx context.Context, tickets []domain.SyncTicket) error
	SetSyncTicketStatus(ctx context.Context, id string, status string) error
	FindSyncTicketIDsByTicket(ctx context.Context, ticketNumber string, ownerID string) ([]string, error)
	DeleteSyncTickets(ctx context.Context, ids []string) (int, error)

	EnqueuePendingVoid(ctx context.Context, void domain.PendingVoid) error
	ListPendingVoids(ctx context.Context, terminalID string) ([]domain.PendingVoid, error)

	InsertRaceResults(ctx context.Context, results []domain.RaceResult) error

	ListTerminals(ctx context.Context, ownerID string) ([]domain.Terminal, error)
	GetTerminal(ctx context.Context, id string) (*domain.Terminal, error)
	CreateTerminal(ctx context.Context, terminal domain.Terminal) (*domain.Terminal, error)
	UpdateTerminalIni(ctx context.Context, id string, ini domain.IniConfig) error
	UpdateTerminalHeartbeat(ctx context.Context, hb domain.HeartbeatRequest) (*domain.Terminal, error)
	MarkTerminalsOffline(ctx context.Context, cutoff time.Time) ([]domain.Terminal, error)

	GetAppSettings(ctx context.Context) (*domain.AppSettings, error)
	UpdateAppSettings(ctx context.Context, settings domain.AppSettings) error

	GetJackpot(ctx context.Context) (*domain.JackpotValue, error)
	AddToJackpot(ctx context.Context, delta decimal.Decimal) (*domain.JackpotValue, error)

	CreateNotification(ctx context.Context, n domain.Notification) error
	ListRecentNotifications(ctx context.Context, limit int) ([]domain.Notification, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetUserApproval(ctx context.Context, id string, approved bool) error
	DeleteUser(ctx context.Context, id string) error
}
