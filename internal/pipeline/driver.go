package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/internal/archive"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// Options 驱动参数
type Options struct {
	// MaxPages 单个分区最多抓取的页数，0 表示不限制
	MaxPages int
	// BatchSize 写入进度粒度
	BatchSize int
	// AutoMigrate 写入前按记录自动建表
	AutoMigrate bool
	RunID       string
	Archive     archive.StorageWriter
}

// Driver 单个数据源的分页驱动
type Driver struct {
	source    Source
	fetcher   Fetcher
	openStore StoreFactory
	opts      Options
}

// NewDriver 创建驱动
func NewDriver(source Source, fetcher Fetcher, openStore StoreFactory, opts Options) *Driver {
	return &Driver{source: source, fetcher: fetcher, openStore: openStore, opts: opts}
}

// Name 数据源名称
func (d *Driver) Name() string {
	return d.source.Name()
}

// Run 执行一次完整运行；sampleLimit > 0 时累计记录数达到上限即停止（跨分区）
// 配置类错误（缺少认证键、仓库不可用）以 SKIPPED 结束并返回 nil 错误；
// 其它意外错误以 FAILED 结束并返回错误
func (d *Driver) Run(ctx context.Context, sampleLimit int) (*Result, error) {
	src := d.source
	res := &Result{Name: src.Name(), Table: src.Table(), StartedAt: time.Now()}
	if ds, ok := src.(Describer); ok {
		res.Description = ds.Description()
	}
	log := logger.WithFields(logrus.Fields{"pipeline": src.Name(), "run_id": d.opts.RunID})
	defer func() { res.Duration = time.Since(res.StartedAt) }()

	if v, ok := src.(Validator); ok {
		if err := v.Validate(); err != nil {
			return d.skip(res, log, err)
		}
	}

	store, err := d.openStore(ctx)
	if err != nil {
		return d.skip(res, log, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Warnf("close warehouse connection: %v", cerr)
		}
	}()

	log.Info("pipeline started")
	records, err := d.collect(ctx, log, res, sampleLimit)
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			return d.skip(res, log, err)
		}
		return d.fail(res, log, err)
	}
	log.Infof("collected %d records from %d pages", len(records), res.Pages)

	if len(records) > 0 {
		if d.opts.AutoMigrate {
			if m, ok := store.(Migrator); ok {
				if err := m.EnsureTable(ctx, src.Table(), src.UniqueKey(), records); err != nil {
					return d.fail(res, log, fmt.Errorf("ensure table: %w", err))
				}
			}
		}
		res.Written = store.UpsertMany(ctx, src.Table(), records, src.UniqueKey(), d.opts.BatchSize)
	} else {
		log.Warn("no records collected")
	}

	count, err := store.TableCount(ctx, src.Table())
	if err != nil {
		res.CountError = err.Error()
		log.Warnf("table count failed: %v", err)
	} else {
		res.TableCount = count
		log.Infof("table %s now holds %d rows", src.Table(), count)
	}

	res.Status = StatusSuccess
	return res, nil
}

// collect 遍历分区与分页，直到短页、空解析、抓取失败或达到采样上限
func (d *Driver) collect(ctx context.Context, log *logrus.Entry, res *Result, sampleLimit int) ([]*record.Record, error) {
	src := d.source
	partitions, err := d.partitions(ctx, log)
	if err != nil {
		return nil, err
	}
	pageSize := src.PageSize()
	parser := src.Parser()

	var acc []*record.Record
	for _, partition := range partitions {
		cur := Cursor{Partition: partition, Page: 1, PageSize: pageSize}
		plog := log
		if partition != "" {
			plog = log.WithField("partition", partition)
		}

		for {
			if err := ctx.Err(); err != nil {
				return acc, err
			}
			if d.opts.MaxPages > 0 && cur.Page > d.opts.MaxPages {
				plog.Warnf("page limit %d reached; stopping", d.opts.MaxPages)
				break
			}
			cur.Accumulated = len(acc)

			req, err := src.Request(cur)
			if err != nil {
				return acc, fmt.Errorf("build request (page %d): %w", cur.Page, err)
			}

			payload, err := d.fetcher.Get(ctx, req.URL, req.Params)
			if err != nil {
				if ctx.Err() != nil {
					return acc, ctx.Err()
				}
				plog.Warnf("fetch failed at page %d, treating as no more data: %v", cur.Page, err)
				break
			}
			res.Pages++
			d.archive(ctx, plog, cur, req, payload.Body())

			recs := parser.Parse(payload)
			if len(recs) == 0 {
				plog.Debugf("page %d returned no records", cur.Page)
				break
			}
			res.Parsed += len(recs)
			acc = append(acc, recs...)
			plog.Infof("page %d: %d records (total %d)", cur.Page, len(recs), len(acc))

			if sampleLimit > 0 && len(acc) >= sampleLimit {
				log.Infof("sample limit %d reached", sampleLimit)
				return acc[:sampleLimit], nil
			}
			if pageSize <= 0 || len(recs) < pageSize {
				break
			}
			cur.Page++
		}
	}
	return acc, nil
}

// partitions 依次取 Discoverer、Partitioned 的分区；都没有时为单个空分区
func (d *Driver) partitions(ctx context.Context, log *logrus.Entry) ([]string, error) {
	if disc, ok := d.source.(Discoverer); ok {
		parts, err := disc.Discover(ctx, d.fetcher)
		if err != nil {
			return nil, fmt.Errorf("discover partitions: %w", err)
		}
		log.Infof("discovered %d partitions", len(parts))
		return parts, nil
	}
	if p, ok := d.source.(Partitioned); ok {
		if parts := p.Partitions(); len(parts) > 0 {
			return parts, nil
		}
	}
	return []string{""}, nil
}

func (d *Driver) archive(ctx context.Context, log *logrus.Entry, cur Cursor, req Request, body string) {
	if d.opts.Archive == nil || body == "" {
		return
	}
	obj, err := d.opts.Archive.Write(ctx, archive.Meta{
		Source:    d.source.Name(),
		Partition: cur.Partition,
		Page:      cur.Page,
		RunID:     d.opts.RunID,
		Date:      time.Now().Format("20060102"),
		Ext:       req.Ext,
	}, body, "")
	if err != nil {
		log.Warnf("archive raw payload failed: %v", err)
		return
	}
	log.Debugf("archived raw payload to %s", obj.URI)
}

func (d *Driver) skip(res *Result, log *logrus.Entry, err error) (*Result, error) {
	res.Status = StatusSkipped
	res.Error = err.Error()
	log.Warnf("pipeline skipped: %v", err)
	return res, nil
}

func (d *Driver) fail(res *Result, log *logrus.Entry, err error) (*Result, error) {
	res.Status = StatusFailed
	res.Error = err.Error()
	log.Errorf("pipeline failed: %v", err)
	return res, err
}
