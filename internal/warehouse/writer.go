// Package warehouse 把记录幂等地写入数据仓库表（INSERT ... ON CONFLICT DO UPDATE）
package warehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/physicalrisk/apietl/internal/database"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/logger"
)

var (
	// ErrNullKey 唯一键列缺失或为空
	ErrNullKey = errors.New("unique key column is null")
	// ErrBadIdentifier 表名或列名不合法
	ErrBadIdentifier = errors.New("invalid SQL identifier")
	// ErrNoKey 未声明唯一键
	ErrNoKey = errors.New("no unique key columns")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultCachedAtColumn 每次 upsert 刷新的时间戳列
const DefaultCachedAtColumn = "cached_at"

// Writer 记录写入器，一个 Writer 对应一个数据库连接
type Writer struct {
	db       *gorm.DB
	cachedAt string
}

// Option Writer 选项
type Option func(*Writer)

// WithCachedAtColumn 设置时间戳列；空字符串表示不刷新时间戳
func WithCachedAtColumn(col string) Option {
	return func(w *Writer) { w.cachedAt = col }
}

// New 创建写入器
func New(db *gorm.DB, opts ...Option) *Writer {
	w := &Writer{db: db, cachedAt: DefaultCachedAtColumn}
	for _, o := range opts {
		o(w)
	}
	return w
}

// DB 返回底层连接
func (w *Writer) DB() *gorm.DB {
	return w.db
}

// Close 关闭底层连接
func (w *Writer) Close() error {
	return database.Close(w.db)
}

// ValidateIdentifier 校验表名/列名，允许 schema.table 形式
func ValidateIdentifier(name string) error {
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
	}
	for _, p := range parts {
		if !identRe.MatchString(p) {
			return fmt.Errorf("%w: %q", ErrBadIdentifier, name)
		}
	}
	return nil
}

// Upsert 写入单条记录；成功返回 true，失败记录日志并返回 false
func (w *Writer) Upsert(ctx context.Context, table string, rec *record.Record, keyCols []string) bool {
	if err := w.UpsertErr(ctx, table, rec, keyCols); err != nil {
		logger.WithFields(logrus.Fields{
			"table":    table,
			"key":      keyString(rec, keyCols),
			"fragment": record.Fragment(rec.Values()),
		}).Warnf("upsert failed: %v", err)
		return false
	}
	return true
}

// UpsertErr 写入单条记录并返回错误
// 非键列整体替换，时间戳列刷新为 CURRENT_TIMESTAMP
func (w *Writer) UpsertErr(ctx context.Context, table string, rec *record.Record, keyCols []string) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrNullKey)
	}
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if len(keyCols) == 0 {
		return ErrNoKey
	}
	for _, k := range keyCols {
		if err := ValidateIdentifier(k); err != nil {
			return err
		}
		if rec.IsBlank(k) {
			return fmt.Errorf("%w: %s", ErrNullKey, k)
		}
	}

	values := rec.Values()
	isKey := make(map[string]bool, len(keyCols))
	conflict := make([]clause.Column, 0, len(keyCols))
	for _, k := range keyCols {
		isKey[k] = true
		conflict = append(conflict, clause.Column{Name: k})
	}
	var updateCols []string
	for _, c := range rec.Columns() {
		if err := ValidateIdentifier(c); err != nil {
			return err
		}
		if !isKey[c] && c != w.cachedAt {
			updateCols = append(updateCols, c)
		}
	}
	// 时间戳由数据库生成
	if w.cachedAt != "" {
		delete(values, w.cachedAt)
	}

	updates := clause.AssignmentColumns(updateCols)
	if w.cachedAt != "" {
		updates = append(updates, clause.Assignment{
			Column: clause.Column{Name: w.cachedAt},
			Value:  gorm.Expr("CURRENT_TIMESTAMP"),
		})
	}
	onConflict := clause.OnConflict{Columns: conflict}
	if len(updates) == 0 {
		onConflict.DoNothing = true
	} else {
		onConflict.DoUpdates = updates
	}

	return database.WithRetry(w.db.WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Table(table).Clauses(onConflict).Create(values).Error
	}, 3, 50*time.Millisecond)
}

// UpsertMany 逐条写入；单条失败不影响其它记录，返回成功条数
// batchSize 仅控制进度日志与取消检查的粒度
func (w *Writer) UpsertMany(ctx context.Context, table string, recs []*record.Record, keyCols []string, batchSize int) int {
	if len(recs) == 0 {
		return 0
	}
	if batchSize <= 0 {
		batchSize = len(recs)
	}

	success := 0
	for start := 0; start < len(recs); start += batchSize {
		if err := ctx.Err(); err != nil {
			logger.WithField("table", table).Warnf("upsert interrupted: %v", err)
			break
		}
		end := start + batchSize
		if end > len(recs) {
			end = len(recs)
		}
		for _, rec := range recs[start:end] {
			if w.Upsert(ctx, table, rec, keyCols) {
				success++
			}
		}
		logger.WithFields(logrus.Fields{
			"table":    table,
			"progress": fmt.Sprintf("%d/%d", end, len(recs)),
			"success":  success,
		}).Debug("upsert batch done")
	}

	if success < len(recs) {
		logger.WithField("table", table).Warnf("upserted %d/%d records, %d failed", success, len(recs), len(recs)-success)
	} else {
		logger.WithField("table", table).Infof("upserted %d records", success)
	}
	return success
}

// TableCount 返回表的总行数
func (w *Writer) TableCount(ctx context.Context, table string) (int64, error) {
	if err := ValidateIdentifier(table); err != nil {
		return 0, err
	}
	var n int64
	if err := w.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func keyString(rec *record.Record, keyCols []string) string {
	if rec == nil {
		return ""
	}
	parts := make([]string, 0, len(keyCols))
	for _, k := range keyCols {
		parts = append(parts, k+"="+rec.String(k))
	}
	return strings.Join(parts, ",")
}
