package model

import (
	"gorm.io/datatypes"
)

type PositionModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	Symbol        string  `gorm:"column:symbol;index"`
	Side          string  `gorm:"column:side"`
	Quantity      float64 `gorm:"column:quantity"`
	EntryPrice    float64 `gorm:"column:entry_price"`
	CurrentPrice  float64 `gorm:"column:current_price"`
	Denomination  string  `gorm:"column:denomination;index"`
	Strategy      string  `gorm:"column:strategy"`
	Status        string  `gorm:"column:status;index"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	ExitPrice     float64 `gorm:"column:exit_price"`
	OpenedAtUnix  int64   `gorm:"column:opened_at"`
	ClosedAtUnix  int64   `gorm:"column:closed_at"`
	UpdatedAtUnix int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type DecisionLogModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	TraceID     string         `gorm:"column:trace_id;index"`
	Symbol      string         `gorm:"column:symbol;index"`
	Outcome     string         `gorm:"column:outcome"`
	Reason      string         `gorm:"column:reason"`
	SizeUSD     float64        `gorm:"column:size_usd"`
	Fraction    float64        `gorm:"column:fraction"`
	Urgency     string         `gorm:"column:urgency"`
	PositionID  string         `gorm:"column:position_id"`
	FactorsJSON datatypes.JSON `gorm:"column:factors_json;type:TEXT"`
	CreatedAt   int64          `gorm:"column:created_at;index"`
}

func (DecisionLogModel) TableName() string { return "decision_log" }
