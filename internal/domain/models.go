package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the unified view-record synthesized on every read from
// either source table. It is never persisted.
type Transaction struct {
	ID          string          `json:"id"`
	Date        string          `json:"date"`
	MachineID   string          `json:"machineId"`
	MachineName string          `json:"machineName"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	TicketID    string          `json:"ticketId"`
	Numbers     string          `json:"numbers,omitempty"`
	PlayType    string          `json:"playType,omitempty"`
	Status      string          `json:"status"`
	IsCollector bool            `json:"isCollector"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ManualTransaction is a row of the manually entered transactions table,
// with the terminal name already joined in.
type ManualTransaction struct {
	ID          string          `json:"id"`
	TerminalID  string          `json:"terminal_id"`
	OwnerID     string          `json:"terminal_owner_id"`
	MachineName string          `json:"machine_name"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	TicketID    string          `json:"ticket_id"`
	Numbers     string          `json:"numbers,omitempty"`
	PlayType    string          `json:"play_type,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SyncTicket is a row pushed by a terminal's collector process. The ticket
// type is not a column; it lives inside RawData under "_ticket_type".
// TerminalName carries the joined terminals.name, MachineName the legacy
// denormalized column kept from the pre-relation schema.
type SyncTicket struct {
	ID           string          `json:"id"`
	TerminalID   string          `json:"terminal_id"`
	OwnerID      string          `json:"terminal_owner_id"`
	TerminalName string          `json:"terminal_name,omitempty"`
	MachineName  string          `json:"machine_name,omitempty"`
	TicketNumber string          `json:"ticket_number"`
	Amount       decimal.Decimal `json:"amount"`
	Odds         decimal.Decimal `json:"odds"`
	RaceNumber   string          `json:"race_number"`
	Numbers      string          `json:"numbers"`
	PlayType     string          `json:"play_type"`
	LocalDate    string          `json:"local_date"`
	LocalTime    string          `json:"local_time"`
	RawData      json.RawMessage `json:"raw_data"`
	Status       string          `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
}

// PendingVoid is the denormalized queue record a collector picks up to
// apply a void on the device side.
type PendingVoid struct {
	ID           string          `json:"id"`
	TerminalID   string          `json:"terminal_id"`
	TicketNumber string          `json:"ticket_number"`
	PlayType     string          `json:"play_type"`
	Numbers      string          `json:"numbers"`
	Amount       decimal.Decimal `json:"amount"`
	RaceNumber   string          `json:"race_number"`
	TicketDate   string          `json:"ticket_date"`
	TicketTime   string          `json:"ticket_time"`
	CreatedAt    time.Time       `json:"created_at"`
}

// TransactionFilter narrows both source queries identically. OwnerID empty
// means unscoped (admin); TerminalID empty or "ALL" means every terminal;
// StartDate/EndDate are inclusive ISO dates (YYYY-MM-DD). Limit < 0 means
// "use the default page size".
type TransactionFilter struct {
	OwnerID    string
	TerminalID string
	StartDate  string
	EndDate    string
	Limit      int
}

type TransactionCreateRequest struct {
	TerminalID string          `json:"terminal_id"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	TicketID   string          `json:"ticket_id"`
	Numbers    string          `json:"numbers,omitempty"`
	PlayType   string          `json:"play_type,omitempty"`
}

type VoidRequest struct {
	IsCollector bool `json:"is_collector"`
}

type TicketSearchRequest struct {
	TicketNumber string `json:"ticket_number"`
}

type TicketSearchResponse struct {
	TicketNumber   string `json:"ticket_number"`
	ManualCount    int    `json:"manual_count"`
	CollectorCount int    `json:"collector_count"`
	Total          int    `json:"total"`
}

type TicketDeleteResponse struct {
	TicketNumber string `json:"ticket_number"`
	Deleted      int    `json:"deleted"`
}

type ReportTotals struct {
	TotalBet    decimal.Decimal `json:"totalBet"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
	NetIncome   decimal.Decimal `json:"netIncome"`
}

type Report struct {
	Transactions []Transaction `json:"transactions"`
	Totals       ReportTotals  `json:"totals"`
}

// DashboardStats feeds the ~10s polling dashboard.
type DashboardStats struct {
	TotalMachines  int             `json:"totalMachines"`
	OnlineMachines int             `json:"onlineMachines"`
	TotalSales     decimal.Decimal `json:"totalSales"`
	TotalPayouts   decimal.Decimal `json:"totalPayouts"`
	NetIncome      decimal.Decimal `json:"netIncome"`
	LastSync       string          `json:"lastSync"`
}

// IniConfig mirrors the .INI file the dog-race engine reads on the
// terminal. Section and key casing is what the device expects verbatim.
type IniConfig struct {
	DOG      DogSection        `json:"DOG"`
	Pantalla PantallaSection   `json:"PANTALLA"`
	Carrera  map[string]string `json:"CARRERA,omitempty"`
}

type DogSection struct {
	Inicio      int             `json:"INICIO"`
	Minutos     int             `json:"MINUTOS"`
	Porsentaje  int             `json:"PORSENTAJE"`
	Jack        decimal.Decimal `json:"jack"`
	JackWeb     decimal.Decimal `json:"jackweb"`
	MaxJack     decimal.Decimal `json:"maxjack"`
	MaxJackWeb  decimal.Decimal `json:"maxjackweb"`
	Bono        int             `json:"BONO"`
	RCD         int             `json:"RCD"`
	MulA        int             `json:"MUL_A"`
	NumeroMul   int             `json:"NUMERO_MUL"`
	BonusA      int             `json:"BONUS_A"`
	NumeroBonus int             `json:"NUMERO_BONUS"`
	Jackpot     string          `json:"JACKPOT"`
	Tabla       int             `json:"TABLA"`
	RCDCarrera  int             `json:"RCD_CARRERA"`
	Play        string          `json:"play"`
	JackLocal   decimal.Decimal `json:"JACK_LOCAL"`
}

type PantallaSection struct {
	Mensaje string `json:"MENSAJE"`
}

type Terminal struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Name             string          `json:"name"`
	Address          string          `json:"address,omitempty"`
	Phone            string          `json:"phone,omitempty"`
	Manager          string          `json:"manager,omitempty"`
	Type             string          `json:"type,omitempty"`
	Status           string          `json:"status"`
	SoftwareVersion  string          `json:"software_version"`
	IniContent       IniConfig       `json:"ini_content"`
	LastSync         *time.Time      `json:"last_sync"`
	LastRaceNumber   string          `json:"last_race_number"`
	LastTicketNumber string          `json:"last_ticket_number"`
	DailySales       decimal.Decimal `json:"daily_sales"`
	DailyPayouts     decimal.Decimal `json:"daily_payouts"`
	CreatedAt        time.Time       `json:"created_at"`
}

type TerminalCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Manager string `json:"manager,omitempty"`
	Type    string `json:"type,omitempty"`
}

type IniUpdateRequest struct {
	IniContent IniConfig `json:"ini_content"`
}

// HeartbeatRequest is the collector's periodic PATCH.
type HeartbeatRequest struct {
	TerminalID       string          `json:"terminal_id"`
	Status           string          `json:"status"`
	LastRaceNumber   string          `json:"last_race_number"`
	LastTicketNumber string          `json:"last_ticket_number"`
	DailySales       decimal.Decimal `json:"daily_sales"`
	DailyPayouts     decimal.Decimal `json:"daily_payouts"`
}

// SyncTicketPayload is one element of the collector's ticket batch.
// RawData arrives as a JSON string, exactly as the device serializes it.
type SyncTicketPayload struct {
	TerminalID   string          `json:"terminal_id"`
	TicketNumber string          `json:"ticket_number"`
	Amount       decimal.Decimal `json:"amount"`
	Odds         decimal.Decimal `json:"odds"`
	RaceNumber   string          `json:"race_number"`
	Numbers      string          `json:"numbers"`
	LocalDate    string          `json:"local_date"`
	LocalTime    string          `json:"local_time"`
	RawData      string          `json:"raw_data"`
}

type RaceResult struct {
	ID            string    `json:"id"`
	TerminalID    string    `json:"terminal_id"`
	RaceNumber    string    `json:"race_number"`
	WinnerNumbers string    `json:"winner_numbers"`
	LocalDate     string    `json:"local_date"`
	LocalTime     string    `json:"local_time"`
	CreatedAt     time.Time `json:"created_at"`
}

type AppSettings struct {
	AppName       string `json:"app_name"`
	AppLogoURL    string `json:"app_logo_url"`
	TicketName    string `json:"ticket_name"`
	TicketLogoURL string `json:"ticket_logo_url"`
}

type JackpotValue struct {
	CurrentValue decimal.Decimal `json:"current_value"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Notification struct {
	ID           string    `json:"id"`
	TerminalID   string    `json:"terminal_id"`
	TerminalName string    `json:"terminal_name"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Consortium   string    `json:"consortium_name,omitempty"`
	IsApproved   bool      `json:"is_approved"`
	CreatedAt    time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	IsApproved  bool   `json:"is_approved"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Consortium string `json:"consortium_name,omitempty"`
}

type ApprovalRequest struct {
	Approved bool `json:"approved"`
}

type Actor struct {
	ID       string
	Username string
	Role     string
	Approved bool
}

type ThermalReportRequest struct {
	TerminalID string `json:"terminal_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type ThermalReportResponse struct {
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

const (
	RoleAdmin     = "SUPER_ADMIN"
	RoleModerator = "MODERATOR"
)

const (
	TxTypeBet    = "BET"
	TxTypePayout = "PAYOUT"
)

const (
	TxStatusActive = "active"
	TxStatusVoided = "voided"
)

const (
	TerminalStatusOnline  = "En Línea"
	TerminalStatusOffline = "Desconectado"
)

const (
	NotificationConnected    = "connected"
	NotificationDisconnected = "disconnected"
)

// TerminalFilterAll is the sentinel meaning "no terminal filter".
const TerminalFilterAll = "ALL"

// UnknownTerminalName is shown when a terminal join resolves to nothing.
const UnknownTerminalName = "Terminal Desconocida"

// DefaultTransactionLimit caps unified listings when no limit is given.
const DefaultTransactionLimit = 20

// DefaultIniConfig is the factory configuration a new terminal starts with.
func DefaultIniConfig(consortium string) IniConfig {
	if consortium == "" {
		consortium = "MBRACES"
	}
	return IniConfig{
		DOG: DogSection{
			Inicio:     48,
			Minutos:    5,
			Porsentaje: 25,
			Jack:       decimal.NewFromInt(2000),
			JackWeb:    decimal.NewFromInt(1000),
			MaxJack:    decimal.NewFromInt(20000),
			MaxJackWeb: decimal.NewFromInt(1000),
			Bono:       100,
			RCD:        5,
			Jackpot:    "FALSE",
			Tabla:      2,
			RCDCarrera: 4,
			Play:       "37.webm",
			JackLocal:  decimal.NewFromInt(300),
		},
		Pantalla: PantallaSection{
			Mensaje: "BIENVENIDOS A " + consortium,
		},
	}
}
