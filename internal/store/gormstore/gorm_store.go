// Package gormstore implements position and decision-log persistence using
// Gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tiller/internal/store"
	storemodel "tiller/internal/store/model"
	"tiller/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&storemodel.PositionModel{}, &storemodel.DecisionLogModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for HTTP reads, low lock contention.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var (
	_ store.PositionStore = (*GormStore)(nil)
	_ store.DecisionLog   = (*GormStore)(nil)
)

func (s *GormStore) Create(ctx context.Context, p types.Position) error {
	rec := positionToModel(p)
	rec.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) Get(ctx context.Context, id string) (types.Position, error) {
	var rec storemodel.PositionModel
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Position{}, store.ErrNotFound
	}
	if err != nil {
		return types.Position{}, err
	}
	return modelToPosition(rec), nil
}

func (s *GormStore) ListOpen(ctx context.Context) ([]types.Position, error) {
	var recs []storemodel.PositionModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.PositionOpen)).
		Order("opened_at asc").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(recs))
	for _, rec := range recs {
		out = append(out, modelToPosition(rec))
	}
	return out, nil
}

func (s *GormStore) UpdateMark(ctx context.Context, id string, price, unrealizedPnL float64) error {
	res := s.db.WithContext(ctx).Model(&storemodel.PositionModel{}).
		Where("id = ? AND status = ?", id, string(types.PositionOpen)).
		Updates(map[string]any{
			"current_price":  price,
			"unrealized_pnl": unrealizedPnL,
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GormStore) Reduce(ctx context.Context, id string, newQuantity, realizedPnL float64) error {
	res := s.db.WithContext(ctx).Model(&storemodel.PositionModel{}).
		Where("id = ? AND status = ?", id, string(types.PositionOpen)).
		Updates(map[string]any{
			"quantity":     newQuantity,
			"realized_pnl": gorm.Expr("realized_pnl + ?", realizedPnL),
			"updated_at":   time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GormStore) MarkClosed(ctx context.Context, id string, exit store.CloseFields) error {
	closedAt := exit.ClosedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	res := s.db.WithContext(ctx).Model(&storemodel.PositionModel{}).
		Where("id = ? AND status = ?", id, string(types.PositionOpen)).
		Updates(map[string]any{
			"status":         string(types.PositionClosed),
			"exit_price":     exit.ExitPrice,
			"realized_pnl":   gorm.Expr("realized_pnl + ?", exit.RealizedPnL),
			"unrealized_pnl": 0,
			"closed_at":      closedAt.Unix(),
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *GormStore) Append(ctx context.Context, rec store.DecisionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	factors, err := json.Marshal(rec.Factors)
	if err != nil {
		return err
	}
	row := storemodel.DecisionLogModel{
		TraceID:     rec.TraceID,
		Symbol:      rec.Symbol,
		Outcome:     rec.Outcome,
		Reason:      rec.Reason,
		SizeUSD:     rec.SizeUSD,
		Fraction:    rec.Fraction,
		Urgency:     rec.Urgency,
		PositionID:  rec.PositionID,
		FactorsJSON: datatypes.JSON(factors),
		CreatedAt:   createdAt.Unix(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) ListRecent(ctx context.Context, limit int) ([]store.DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []storemodel.DecisionLogModel
	err := s.db.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]store.DecisionRecord, 0, len(rows))
	for _, row := range rows {
		rec := store.DecisionRecord{
			TraceID:    row.TraceID,
			Symbol:     row.Symbol,
			Outcome:    row.Outcome,
			Reason:     row.Reason,
			SizeUSD:    row.SizeUSD,
			Fraction:   row.Fraction,
			Urgency:    row.Urgency,
			PositionID: row.PositionID,
			CreatedAt:  time.Unix(row.CreatedAt, 0),
		}
		if len(row.FactorsJSON) > 0 {
			_ = json.Unmarshal(row.FactorsJSON, &rec.Factors)
		}
		out = append(out, rec)
	}
	return out, nil
}

func positionToModel(p types.Position) storemodel.PositionModel {
	rec := storemodel.PositionModel{
		ID:            p.ID,
		Symbol:        p.Symbol,
		Side:          string(p.Side),
		Quantity:      p.Quantity,
		EntryPrice:    p.EntryPrice,
		CurrentPrice:  p.CurrentPrice,
		Denomination:  p.Denomination,
		Strategy:      p.Strategy,
		Status:        string(p.Status),
		RealizedPnL:   p.RealizedPnL,
		UnrealizedPnL: p.UnrealizedPnL,
		OpenedAtUnix:  p.OpenedAt.Unix(),
	}
	if !p.ClosedAt.IsZero() {
		rec.ClosedAtUnix = p.ClosedAt.Unix()
	}
	return rec
}

func modelToPosition(rec storemodel.PositionModel) types.Position {
	p := types.Position{
		ID:            rec.ID,
		Symbol:        rec.Symbol,
		Side:          types.Side(rec.Side),
		Quantity:      rec.Quantity,
		EntryPrice:    rec.EntryPrice,
		CurrentPrice:  rec.CurrentPrice,
		Denomination:  rec.Denomination,
		Strategy:      rec.Strategy,
		Status:        types.PositionStatus(rec.Status),
		RealizedPnL:   rec.RealizedPnL,
		UnrealizedPnL: rec.UnrealizedPnL,
		OpenedAt:      time.Unix(rec.OpenedAtUnix, 0),
	}
	if rec.ClosedAtUnix > 0 {
		p.ClosedAt = time.Unix(rec.ClosedAtUnix, 0)
	}
	return p
}
