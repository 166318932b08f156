package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// EnsureTable 按记录推断列类型建表（不存在时），补齐缺失列，并建立唯一键索引
func (w *Writer) EnsureTable(ctx context.Context, table string, keyCols []string, sample []*record.Record) error {
	if err := ValidateIdentifier(table); err != nil {
		return err
	}
	if len(keyCols) == 0 {
		return ErrNoKey
	}
	all, types := inferColumns(keyCols, sample)
	cols := make([]string, 0, len(all))
	for _, c := range all {
		if c == w.cachedAt {
			continue
		}
		cols = append(cols, c)
		if err := ValidateIdentifier(c); err != nil {
			return err
		}
	}

	db := w.db.WithContext(ctx)
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		defs = append(defs, fmt.Sprintf("%s %s", quote(c), types[c]))
	}
	if w.cachedAt != "" {
		defs = append(defs, fmt.Sprintf("%s TIMESTAMP DEFAULT CURRENT_TIMESTAMP", quote(w.cachedAt)))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteTable(table), strings.Join(defs, ", "))
	if err := db.Exec(create).Error; err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	for _, c := range cols {
		if db.Migrator().HasColumn(table, c) {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteTable(table), quote(c), types[c])
		if err := db.Exec(alter).Error; err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, c, err)
		}
		logger.WithField("table", table).Infof("added column %s", c)
	}

	quotedKeys := make([]string, len(keyCols))
	for i, k := range keyCols {
		quotedKeys[i] = quote(k)
	}
	index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		quote("uq_"+strings.ReplaceAll(table, ".", "_")+"_key"), quoteTable(table), strings.Join(quotedKeys, ", "))
	if err := db.Exec(index).Error; err != nil {
		return fmt.Errorf("create unique index on %s: %w", table, err)
	}
	return nil
}

// inferColumns 键列在前，其余列按首次出现顺序；类型取第一个非空值
func inferColumns(keyCols []string, sample []*record.Record) ([]string, map[string]string) {
	types := make(map[string]string)
	var cols []string
	add := func(c string) {
		if _, ok := types[c]; !ok {
			types[c] = ""
			cols = append(cols, c)
		}
	}
	for _, k := range keyCols {
		add(k)
	}
	for _, r := range sample {
		for _, c := range r.Columns() {
			add(c)
			if types[c] != "" {
				continue
			}
			if v, ok := r.Get(c); ok && v != nil {
				types[c] = sqlType(v)
			}
		}
	}
	for c, t := range types {
		if t == "" {
			types[c] = "TEXT"
		}
	}
	return cols, types
}

func sqlType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "BIGINT"
	case float32, float64:
		return "DOUBLE PRECISION"
	case bool:
		return "BOOLEAN"
	case time.Time:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}

func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quote(p)
	}
	return strings.Join(parts, ".")
}
