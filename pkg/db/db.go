package db

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 每个执行键一个独立的sqlite文件，文件名沿用 TWAP_<交易所>_<币种>_<市场>.db 的约定
// 这样不同执行互不干扰，也不需要跨进程锁

func FileName(exchange, coin, market, account string) string {
	name := fmt.Sprintf("TWAP_%s_%s_%s", strings.ToUpper(exchange), strings.ToUpper(coin), strings.ToUpper(market))
	if account != "" {
		name += "_" + strings.ToUpper(account)
	}
	return name + ".db"
}

// Open 打开（或创建）一个执行记录数据库
func Open(dir, fileName string) (*gorm.DB, error) {
	path := filepath.Join(dir, fileName)

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// sqlite 单写者，限制连接数避免 busy
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return gdb, nil
}
