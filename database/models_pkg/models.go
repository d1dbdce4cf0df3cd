package models

import (
	"encoding/json"
	"time"
)

// Delivery mediums
const (
	MediumBroadcast = "broadcast"
	MediumChatBot   = "chatbot"
	MediumWebhook   = "webhook"
)

// SignalEvent outcomes
const (
	OutcomePending = "pending"
	OutcomeWin     = "win"
	OutcomeLoss    = "loss"
	OutcomeExpired = "expired"
)

// DeliveryLog statuses
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// CreditTransaction types
const (
	TxReservation = "reservation"
	TxUsage       = "usage"
	TxRefund      = "refund"
	TxBonus       = "bonus"
)

// Channel is a signal feed users subscribe to. Read-mostly; created at
// onboarding/seed time.
//
// Key Fields:
//   - RequiredStrategies: strategy types this channel delivers (JSON array)
//   - CadenceMinutes: minimum minutes between deliveries per subscription
//   - MaxDailyEvents: per-day delivery cap, nil = unlimited
//   - ReservationCredits: credits reserved at subscribe time
//   - SignalCredits: credits charged per delivered signal
//   - AllowedMediums: delivery mediums subscribers may pick from (JSON array)
type Channel struct {
	ID                 int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name               string    `gorm:"size:100;not null" json:"name"`
	Description        string    `gorm:"type:text" json:"description"`
	RequiredStrategies string    `gorm:"type:text;not null" json:"required_strategies"` // JSON array
	CadenceMinutes     int       `gorm:"default:15" json:"cadence_minutes"`
	MaxDailyEvents     *int      `json:"max_daily_events,omitempty"`
	ReservationCredits int64     `gorm:"not null" json:"reservation_credits"`
	SignalCredits      int64     `gorm:"not null" json:"signal_credits"`
	AllowedMediums     string    `gorm:"type:text;not null" json:"allowed_mediums"` // JSON array
	DefaultSymbols     string    `gorm:"type:text" json:"default_symbols"`          // JSON array, empty = full universe
	Timeframe          string    `gorm:"size:10" json:"timeframe"`
	IsActive           bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Channel
func (Channel) TableName() string {
	return "channels"
}

// Subscription links a user to a channel. Deactivated on unsubscribe, never
// hard-deleted; unsubscribing refunds any unconsumed reservation.
type Subscription struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64      `gorm:"index;index:idx_sub_user_channel,priority:1;not null" json:"user_id"`
	ChannelID         int64      `gorm:"index;index:idx_sub_user_channel,priority:2;not null" json:"channel_id"`
	IsActive          bool       `gorm:"default:true;index" json:"is_active"`
	PreferredMediums  string     `gorm:"type:text;not null" json:"preferred_mediums"` // JSON array, subset of channel allow-list
	Plan              string     `gorm:"size:50" json:"plan"`
	ReservedCredits   int64      `gorm:"default:0" json:"reserved_credits"`
	ReservationTxID   *int64     `json:"reservation_tx_id,omitempty"` // ledger entry that reserved the credits
	CadenceMinutes    *int       `json:"cadence_minutes,omitempty"`  // override, nil = channel cadence
	MaxDailyEvents    *int       `json:"max_daily_events,omitempty"` // override, nil = channel cap
	TimeframeOverride *string    `gorm:"size:10" json:"timeframe_override,omitempty"`
	SymbolsOverride   string     `gorm:"type:text" json:"symbols_override"` // JSON array
	WebhookURL        string     `json:"webhook_url,omitempty"`
	LastEventAt       *time.Time `gorm:"index" json:"last_event_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for Subscription
func (Subscription) TableName() string {
	return "subscriptions"
}

// SignalEvent is the persisted decision record for one evaluated signal.
// Created by the evaluator with Outcome=pending; outcome fields are set
// exactly once by the outcome tracker, never by delivery.
type SignalEvent struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ChannelID      int64      `gorm:"index;not null" json:"channel_id"`
	SubscriptionID *int64     `gorm:"index" json:"subscription_id,omitempty"`
	Summary        string     `gorm:"type:text" json:"summary"`
	Confidence     float64    `gorm:"type:decimal(5,2)" json:"confidence"`
	RiskBand       string     `gorm:"size:10" json:"risk_band"` // LOW, MEDIUM, HIGH
	Symbol         string     `gorm:"size:20;index;not null" json:"symbol"`
	Action         string     `gorm:"size:10;not null" json:"action"` // BUY, SELL
	EntryPrice     float64    `gorm:"type:decimal(20,8);not null" json:"entry_price"`
	StopLoss       *float64   `gorm:"type:decimal(20,8)" json:"stop_loss,omitempty"`
	TakeProfit     *float64   `gorm:"type:decimal(20,8)" json:"take_profit,omitempty"`
	Strategy       string     `gorm:"size:20;index" json:"strategy"`
	Timeframe      string     `gorm:"size:10" json:"timeframe"`
	IndicatorsJSON string     `gorm:"type:text" json:"indicators_json,omitempty"`
	Analysis       string     `gorm:"type:text" json:"analysis,omitempty"`
	CreatedBy      string     `gorm:"size:50" json:"created_by"`
	TriggeredAt    time.Time  `gorm:"index;not null" json:"triggered_at"`
	Outcome        string     `gorm:"size:10;default:pending;index" json:"outcome"`
	ProfitPct      *float64   `gorm:"type:decimal(10,4)" json:"profit_pct,omitempty"`
	ClosePrice     *float64   `gorm:"type:decimal(20,8)" json:"close_price,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// TableName specifies the table name for SignalEvent
func (SignalEvent) TableName() string {
	return "signal_events"
}

// DeliveryLog records one delivery attempt per (event, subscription, medium).
// Exactly one row per event+subscription pair carries the non-zero
// CreditCost; the rest are logged with zero cost.
type DeliveryLog struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EventID        int64      `gorm:"index;index:idx_delivery_event_sub,priority:1;not null" json:"event_id"`
	SubscriptionID int64      `gorm:"index;index:idx_delivery_event_sub,priority:2;not null" json:"subscription_id"`
	UserID         int64      `gorm:"index;not null" json:"user_id"`
	Medium         string     `gorm:"size:20;not null" json:"medium"`
	Status         string     `gorm:"size:10;default:pending" json:"status"` // pending, delivered, failed
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	PayloadJSON    string     `gorm:"type:text" json:"payload_json,omitempty"`
	CreditCost     int64      `gorm:"default:0" json:"credit_cost"`
	CreditTxID     *int64     `json:"credit_tx_id,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
	ExecutionRef   string     `gorm:"size:100" json:"execution_ref,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for DeliveryLog
func (DeliveryLog) TableName() string {
	return "delivery_logs"
}

// CreditAccount holds a user's spendable balance. AvailableCredits must
// never go negative; mutations happen only through ledger operations that
// also write a CreditTransaction in the same database transaction.
type CreditAccount struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	AvailableCredits int64     `gorm:"not null;default:0" json:"available_credits"`
	LifetimeUsed     int64     `gorm:"not null;default:0" json:"lifetime_used"`
	LifetimeAdded    int64     `gorm:"not null;default:0" json:"lifetime_added"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for CreditAccount
func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// CreditTransaction is an append-only ledger entry. BalanceBefore/After are
// computed from the same read as the account mutation.
type CreditTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID     int64     `gorm:"index;not null" json:"account_id"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	Type          string    `gorm:"size:20;not null" json:"type"` // reservation, usage, refund, bonus
	Amount        int64     `gorm:"not null" json:"amount"`       // signed
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Source        string    `gorm:"size:100" json:"source"`
	Metadata      string    `gorm:"type:text" json:"metadata,omitempty"`
	ReferenceID   *int64    `gorm:"index" json:"reference_id,omitempty"` // e.g. original reservation tx for refunds
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName specifies the table name for CreditTransaction
func (CreditTransaction) TableName() string {
	return "credit_transactions"
}

// BotConnection links a user to a chat bot conversation
type BotConnection struct {
	ID                   int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	ChatID               int64     `gorm:"not null" json:"chat_id"`
	NotificationsEnabled bool      `gorm:"default:true" json:"notifications_enabled"`
	IsActive             bool      `gorm:"default:true" json:"is_active"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for BotConnection
func (BotConnection) TableName() string {
	return "bot_connections"
}

// StrategyEntitlement records that a user owns access to a strategy type
type StrategyEntitlement struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     int64     `gorm:"index;index:idx_entitlement_user_strategy,priority:1;not null" json:"user_id"`
	StrategyID string    `gorm:"size:50;index:idx_entitlement_user_strategy,priority:2;not null" json:"strategy_id"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for StrategyEntitlement
func (StrategyEntitlement) TableName() string {
	return "strategy_entitlements"
}

// EncodeList serializes a string list for a JSON-array text column
func EncodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeList parses a JSON-array text column into a string list
func DecodeList(raw string) []string {
	if raw == "" || raw == "null" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil
	}
	return values
}
