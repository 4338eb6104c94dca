// Package domain holds the core types shared across the signal pipeline:
// theses, signals, positions, orders and the enums that drive their state
// machines. No package here talks to the database or the network.
package domain

import "time"

// SignalAction is the directional action a signal proposes.
type SignalAction string

const (
	ActionBuy   SignalAction = "BUY"
	ActionSell  SignalAction = "SELL"
	ActionShort SignalAction = "SHORT"
	ActionCover SignalAction = "COVER"
)

// SignalStatus is the lifecycle state of a Signal.
type SignalStatus string

const (
	SignalPending   SignalStatus = "PENDING"
	SignalApproved  SignalStatus = "APPROVED"
	SignalRejected  SignalStatus = "REJECTED"
	SignalIgnored   SignalStatus = "IGNORED"
	SignalExecuted  SignalStatus = "EXECUTED"
	SignalCancelled SignalStatus = "CANCELLED"
)

// SignalSource identifies what generated a Signal.
type SignalSource string

const (
	SourceThesisUpdate SignalSource = "THESIS_UPDATE"
	SourceNewsEvent    SignalSource = "NEWS_EVENT"
	SourceCongress     SignalSource = "CONGRESS_TRADE"
	SourcePriceTrigger SignalSource = "PRICE_TRIGGER"
	SourceManual       SignalSource = "MANUAL"
	SourceRebalance    SignalSource = "REBALANCE"
)

// ThesisStatus is the lifecycle state of a Thesis.
type ThesisStatus string

const (
	ThesisDraft        ThesisStatus = "DRAFT"
	ThesisActive       ThesisStatus = "ACTIVE"
	ThesisStrengthening ThesisStatus = "STRENGTHENING"
	ThesisConfirmed    ThesisStatus = "CONFIRMED"
	ThesisWeakening    ThesisStatus = "WEAKENING"
	ThesisInvalidated  ThesisStatus = "INVALIDATED"
	ThesisArchived     ThesisStatus = "ARCHIVED"
)

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus is the lifecycle state of a broker Order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderSubmitted       OrderStatus = "SUBMITTED"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// ActorType identifies who or what performed an audited action.
type ActorType string

const (
	ActorEngine    ActorType = "ENGINE"
	ActorUser      ActorType = "USER"
	ActorScheduler ActorType = "SCHEDULER"
	ActorBroker    ActorType = "BROKER"
)

// Account is the single brokerage account the engine tracks.
type Account struct {
	ID          int64     `db:"id"`
	Broker      string    `db:"broker"` // "mock" or "schwab"
	DisplayName string    `db:"display_name"`
	CreatedAt   time.Time `db:"created_at"`
}

// Thesis is a standing investment view on one or more symbols.
type Thesis struct {
	ID               int64        `db:"id"`
	Title            string       `db:"title"`
	Symbols          []string     `db:"-"`
	SymbolsRaw       string       `db:"symbols"` // comma-joined for storage
	Status           ThesisStatus `db:"status"`
	ConfidenceTarget float64      `db:"confidence_target"`
	Domain           string       `db:"domain"`
	UniverseKeywords []string     `db:"-"`
	Notes            string       `db:"notes"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// ThesisVersion is an immutable snapshot recorded on every status change.
type ThesisVersion struct {
	ID        int64        `db:"id"`
	ThesisID  int64        `db:"thesis_id"`
	Status    ThesisStatus `db:"status"`
	Reason    string       `db:"reason"`
	Notes     string       `db:"notes"`
	CreatedAt time.Time    `db:"created_at"`
}

// Principle is a self-learning heuristic matched against signal context.
type Principle struct {
	ID          int64     `db:"id"`
	Statement   string    `db:"statement"`
	Weight      float64   `db:"weight"`
	Validated   int       `db:"validated"`
	Invalidated int       `db:"invalidated"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// PositionSide distinguishes a long holding from a short one. A symbol may
// have at most one open row of each side at a time.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// Position is a net holding in one symbol, on one side. Shares is always
// positive magnitude; Side carries the direction.
type Position struct {
	ID        int64        `db:"id"`
	Symbol    string       `db:"symbol"`
	Side      PositionSide `db:"side"`
	Shares    float64      `db:"shares"`
	AvgCost   float64      `db:"avg_cost"`
	Sector    string       `db:"sector"`
	UpdatedAt time.Time    `db:"updated_at"`
}

// Lot is one FIFO tax lot backing a Position. A fully consumed lot keeps its
// row with Shares==0 and ClosedDate set, for tax-lot history.
type Lot struct {
	ID           int64      `db:"id"`
	PositionID   int64      `db:"position_id"`
	Symbol       string     `db:"symbol"`
	Shares       float64    `db:"shares"`
	CostBasis    float64    `db:"cost_basis"` // per share
	AcquiredDate time.Time  `db:"acquired_date"`
	ClosedDate   *time.Time `db:"closed_date"`
}

// Trade is an executed fill.
type Trade struct {
	ID          int64        `db:"id"`
	SignalID    *int64       `db:"signal_id"`
	OrderID     *int64       `db:"order_id"`
	Symbol      string       `db:"symbol"`
	Action      SignalAction `db:"action"`
	Shares      float64      `db:"shares"`
	Price       float64      `db:"price"`
	RealizedPnl float64      `db:"realized_pnl"`
	ExecutedAt  time.Time    `db:"executed_at"`
}

// Order is a broker order request/response pair.
type Order struct {
	ID          int64        `db:"id"`
	SignalID    *int64       `db:"signal_id"`
	Symbol      string       `db:"symbol"`
	Action      SignalAction `db:"action"`
	Shares      float64      `db:"shares"`
	Type        OrderType    `db:"type"`
	LimitPrice  *float64     `db:"limit_price"`
	Status      OrderStatus  `db:"status"`
	FilledPrice *float64     `db:"filled_price"`
	FilledShares *float64    `db:"filled_shares"`
	Message     string       `db:"message"`
	CreatedAt   time.Time    `db:"created_at"`
	CancelledAt *time.Time   `db:"cancelled_at"`
}

// Signal is a candidate trade awaiting risk check, approval and execution.
type Signal struct {
	ID          int64        `db:"id"`
	ThesisID    *int64       `db:"thesis_id"`
	Symbol      string       `db:"symbol"`
	Action      SignalAction `db:"action"`
	SizePct     float64      `db:"size_pct"` // fraction of NAV, 0..max_position_pct
	Confidence  float64      `db:"confidence"`
	Source      SignalSource `db:"source"`
	Status      SignalStatus `db:"status"`
	Reason      string       `db:"reason"`
	FundingPlan string       `db:"funding_plan"` // JSON blob, may carry limit_price override
	CreatedAt   time.Time    `db:"created_at"`
	DecidedAt   *time.Time   `db:"decided_at"`
	ExpiresAt   time.Time    `db:"expires_at"`
}

// WhatIf tracks the hypothetical outcome of a signal that was not executed.
type WhatIf struct {
	ID          int64      `db:"id"`
	SignalID    int64      `db:"signal_id"`
	Decision    string     `db:"decision"` // "rejected" or "ignored"
	PriceAtPass float64    `db:"price_at_pass"`
	CurrentPrice float64   `db:"current_price"`
	Pnl         float64    `db:"pnl"`
	PnlPct      float64    `db:"pnl_pct"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// PortfolioValue is a dated NAV snapshot.
type PortfolioValue struct {
	ID         int64     `db:"id"`
	Date       time.Time `db:"date"`
	Cash       float64   `db:"cash"`
	TotalValue float64   `db:"total_value"`
}

// ExposureSnapshot is a dated gross/net exposure reading.
type ExposureSnapshot struct {
	ID         int64     `db:"id"`
	Date       time.Time `db:"date"`
	LongValue  float64   `db:"long_value"`
	ShortValue float64   `db:"short_value"`
	GrossValue float64   `db:"gross_value"`
	NetValue   float64   `db:"net_value"`
}

// RiskLimit holds the configured thresholds the RiskManager enforces.
type RiskLimit struct {
	ID               int64   `db:"id"`
	MaxPositionPct   float64 `db:"max_position_pct"`
	MaxSectorPct     float64 `db:"max_sector_pct"`
	MaxGrossExposure float64 `db:"max_gross_exposure"`
	NetExposureMin   float64 `db:"net_exposure_min"`
	NetExposureMax   float64 `db:"net_exposure_max"`
	MaxDrawdown      float64 `db:"max_drawdown"`
	DailyLossLimit   float64 `db:"daily_loss_limit"`
}

// KillSwitch is the single-row emergency stop.
type KillSwitch struct {
	ID         int64      `db:"id"`
	Active     bool       `db:"active"`
	Reason     string     `db:"reason"`
	ActivatedBy string    `db:"activated_by"`
	ActivatedAt *time.Time `db:"activated_at"`
}

// DrawdownEvent records a breach of the configured max drawdown.
type DrawdownEvent struct {
	ID        int64     `db:"id"`
	Drawdown  float64   `db:"drawdown"`
	PeakValue float64   `db:"peak_value"`
	TroughValue float64 `db:"trough_value"`
	CreatedAt time.Time `db:"created_at"`
}

// TradingWindow restricts when a symbol may be traded.
type TradingWindow struct {
	ID       int64     `db:"id"`
	Symbol   string    `db:"symbol"`
	OpensAt  time.Time `db:"opens_at"`
	ClosesAt time.Time `db:"closes_at"`
	Reason   string    `db:"reason"`
}

// ScheduledTask is the persisted run-state row for one scheduler job.
type ScheduledTask struct {
	ID             int64      `db:"id"`
	Name           string     `db:"name"`
	CronExpression string     `db:"cron_expression"`
	LastRun        *time.Time `db:"last_run"`
	NextRun        *time.Time `db:"next_run"`
	Status         string     `db:"status"` // active, running, failed
	ErrorLog       string     `db:"error_log"`
}

// AuditLog is one append-only row describing a state change.
type AuditLog struct {
	ID        int64     `db:"id"`
	ActorType ActorType `db:"actor_type"`
	Actor     string    `db:"actor"`
	Action    string    `db:"action"`
	EntityType string   `db:"entity_type"`
	EntityID  *int64    `db:"entity_id"`
	Detail    string    `db:"detail"`
	CreatedAt time.Time `db:"created_at"`
}

// PriceHistory is one daily OHLCV bar, cached for baseline/return lookups.
type PriceHistory struct {
	ID     int64     `db:"id"`
	Symbol string    `db:"symbol"`
	Date   time.Time `db:"date"`
	Open   float64   `db:"open"`
	High   float64   `db:"high"`
	Low    float64   `db:"low"`
	Close  float64   `db:"close"`
	Volume int64     `db:"volume"`
}

// CongressTrade is one ingested congressional-trade disclosure row.
type CongressTrade struct {
	ID              int64     `db:"id"`
	Politician      string    `db:"politician"`
	Symbol          string    `db:"symbol"`
	TransactionType string    `db:"transaction_type"` // "buy" or "sell"
	AmountRange     string    `db:"amount_range"`
	TransactionDate time.Time `db:"transaction_date"`
	ReportedDate    time.Time `db:"reported_date"`
	SourceURL       string    `db:"source_url"`
	Processed       bool      `db:"processed"`
}

// OutcomeSnapshot is a dated realized-performance reading for a thesis.
type OutcomeSnapshot struct {
	ID               int64     `db:"id"`
	ThesisID         int64     `db:"thesis_id"`
	SnapshotDate     time.Time `db:"snapshot_date"`
	Conviction       float64   `db:"conviction"`
	AvgReturnPct     float64   `db:"avg_return_pct"`
	BestSymbol       string    `db:"best_symbol"`
	BestReturnPct    float64   `db:"best_return_pct"`
	WorstSymbol      string    `db:"worst_symbol"`
	WorstReturnPct   float64   `db:"worst_return_pct"`
	ThesisAgeDays    int       `db:"thesis_age_days"`
	CalibrationScore float64   `db:"calibration_score"`
}

// AccountBalance is the broker's view of cash and total equity.
type AccountBalance struct {
	Cash        float64
	TotalValue  float64
	BuyingPower float64
}

// OrderResult is the broker's response to PlaceOrder.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledPrice  float64
	FilledShares float64
	Message      string
}

// OrderPreview is the broker's response to PreviewOrder.
type OrderPreview struct {
	EstimatedCost  float64
	EstimatedPrice float64
	Commission     float64
	Warnings       []string
}
