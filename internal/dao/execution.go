package dao

import (
	"context"
	"errors"

	"twapexecution/internal/model"

	"gorm.io/gorm"
)

// 执行记录只追加不更新，一笔成交一行，最新一行就是当前进度
type ExecutionDao struct {
	db *gorm.DB
}

func NewExecutionDao(db *gorm.DB) (*ExecutionDao, error) {
	if err := db.AutoMigrate(&model.ExecutionRecord{}); err != nil {
		return nil, err
	}
	return &ExecutionDao{db: db}, nil
}

// Append 插入一条成交记录，单条insert本身就是原子的
func (d *ExecutionDao) Append(ctx context.Context, record *model.ExecutionRecord) error {
	return d.db.WithContext(ctx).Create(record).Error
}

// LastRecord 取最新一行，没有记录时返回nil
func (d *ExecutionDao) LastRecord(ctx context.Context) (*model.ExecutionRecord, error) {
	var record model.ExecutionRecord
	err := d.db.WithContext(ctx).Model(&model.ExecutionRecord{}).
		Order("id DESC").
		Limit(1).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Restore 恢复上次执行进度
// 只有明确要求续跑、且上次记录的方向和市场一致、且没有执行完时才续跑，
// 其他情况一律从零开始，避免接上一个无关或已完成的执行
func (d *ExecutionDao) Restore(ctx context.Context, cont bool, side model.OrderSide, market string) (executedQty, avgPrice float64, resumed bool, err error) {
	last, err := d.LastRecord(ctx)
	if err != nil {
		return 0, 0, false, err
	}
	if last == nil {
		return 0, 0, false, nil
	}
	if !cont || last.Complete || last.Side != side || last.Market != market {
		return 0, 0, false, nil
	}
	return last.ExecutedQty, last.AvgPrice, true, nil
}
