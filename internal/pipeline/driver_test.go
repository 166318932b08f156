package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/physicalrisk/apietl/internal/archive"
	"github.com/physicalrisk/apietl/internal/record"
	"github.com/physicalrisk/apietl/pkg/apiclient"
)

// pageParser 把 Payload.JSON 中的条数转换为记录
type pageParser struct{}

func (pageParser) Parse(p *apiclient.Payload) []*record.Record {
	n, _ := p.JSON.(int)
	out := make([]*record.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, record.FromPairs("id", fmt.Sprintf("%s-%d", p.URL, i)))
	}
	return out
}

type fakeSource struct {
	pageSize   int
	partitions []string
	validate   error
	reqErr     error
	requests   []Cursor
}

func (s *fakeSource) Name() string { return "fake" }
func (s *fakeSource) Table() string { return "api_fake" }
func (s *fakeSource) UniqueKey() []string { return []string{"id"} }
func (s *fakeSource) PageSize() int { return s.pageSize }
func (s *fakeSource) Parser() record.Parser { return pageParser{} }
func (s *fakeSource) Partitions() []string { return s.partitions }
func (s *fakeSource) Description() string { return "fake source" }
func (s *fakeSource) Validate() error { return s.validate }
func (s *fakeSource) Request(c Cursor) (Request, error) {
	if s.reqErr != nil {
		return Request{}, s.reqErr
	}
	s.requests = append(s.requests, c)
	return Request{
		URL:    "http://api.test/" + c.Partition,
		Params: url.Values{"pageNo": {strconv.Itoa(c.Page)}},
		Ext:    "json",
	}, nil
}

// scriptFetcher 按分区返回预设的每页条数；负数表示抓取失败
type scriptFetcher struct {
	pages map[string][]int
	calls int
}

func (f *scriptFetcher) Get(ctx context.Context, rawURL string, params url.Values) (*apiclient.Payload, error) {
	f.calls++
	u, _ := url.Parse(rawURL)
	part := u.Path[1:]
	page, _ := strconv.Atoi(params.Get("pageNo"))
	script := f.pages[part]
	if page-1 >= len(script) {
		return &apiclient.Payload{Kind: apiclient.KindJSON, JSON: 0, URL: rawURL + "/p" + params.Get("pageNo")}, nil
	}
	n := script[page-1]
	if n < 0 {
		return nil, &apiclient.FetchError{URL: rawURL, Attempts: 3, Last: errors.New("boom")}
	}
	return &apiclient.Payload{Kind: apiclient.KindJSON, JSON: n, Text: "{}", URL: rawURL + "/p" + params.Get("pageNo")}, nil
}

type memStore struct {
	mu      sync.Mutex
	written []*record.Record
	closed  bool
	migrate int
}

func (m *memStore) UpsertMany(ctx context.Context, table string, recs []*record.Record, keyCols []string, batchSize int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = append(m.written, recs...)
	return len(recs)
}

func (m *memStore) TableCount(ctx context.Context, table string) (int64, error) {
	return int64(len(m.written)), nil
}

func (m *memStore) Close() error {
	m.closed = true
	return nil
}

func (m *memStore) EnsureTable(ctx context.Context, table string, keyCols []string, sample []*record.Record) error {
	m.migrate++
	return nil
}

func storeOf(s *memStore) StoreFactory {
	return func(ctx context.Context) (Store, error) { return s, nil }
}

// TestRunPagination [100,100,37]：3 次抓取、237 条记录
func TestRunPagination(t *testing.T) {
	src := &fakeSource{pageSize: 100}
	f := &scriptFetcher{pages: map[string][]int{"": {100, 100, 37}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 237, res.Parsed)
	assert.Equal(t, 237, res.Written)
	assert.Equal(t, int64(237), res.TableCount)
	assert.Equal(t, "fake source", res.Description)
	assert.True(t, st.closed, "运行结束应关闭连接")
}

// TestRunSampleLimit 采样上限 50：一次抓取、50 条记录
func TestRunSampleLimit(t *testing.T) {
	src := &fakeSource{pageSize: 100}
	f := &scriptFetcher{pages: map[string][]int{"": {100, 100, 37}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{}).Run(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Len(t, st.written, 50)
	assert.Equal(t, 50, res.Written)
}

// TestRunFetchFailureEndsPaging 抓取失败视为没有更多数据，已累积的记录照常写入
func TestRunFetchFailureEndsPaging(t *testing.T) {
	src := &fakeSource{pageSize: 10}
	f := &scriptFetcher{pages: map[string][]int{"": {10, -1, 10}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, f.calls)
	assert.Len(t, st.written, 10)
}

// TestRunEmptyFirstPage 首页为空：成功结束，写入 0 条
func TestRunEmptyFirstPage(t *testing.T) {
	src := &fakeSource{pageSize: 10}
	f := &scriptFetcher{pages: map[string][]int{"": {0}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{AutoMigrate: true}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 0, res.Written)
	assert.Equal(t, 0, st.migrate, "没有记录时不建表")
}

// TestRunPartitions 每个分区从第 1 页开始，采样上限跨分区生效
func TestRunPartitions(t *testing.T) {
	src := &fakeSource{pageSize: 5, partitions: []string{"seoul", "busan", "daegu"}}
	f := &scriptFetcher{pages: map[string][]int{"seoul": {5, 2}, "busan": {5, 5, 5}, "daegu": {3}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{AutoMigrate: true}).Run(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Written)
	assert.Equal(t, 1, st.migrate)

	require.Len(t, src.requests, 3)
	assert.Equal(t, Cursor{Partition: "seoul", Page: 1, PageSize: 5, Accumulated: 0}, src.requests[0])
	assert.Equal(t, Cursor{Partition: "seoul", Page: 2, PageSize: 5, Accumulated: 5}, src.requests[1])
	assert.Equal(t, Cursor{Partition: "busan", Page: 1, PageSize: 5, Accumulated: 7}, src.requests[2])
}

// TestRunSingleShot 页大小为 0 时只请求一次
func TestRunSingleShot(t *testing.T) {
	src := &fakeSource{pageSize: 0}
	f := &scriptFetcher{pages: map[string][]int{"": {500, 500}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 500, res.Written)
}

// TestRunMaxPages 页数上限防止无限翻页
func TestRunMaxPages(t *testing.T) {
	src := &fakeSource{pageSize: 1}
	f := &scriptFetcher{pages: map[string][]int{"": {1, 1, 1, 1, 1, 1}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{MaxPages: 4}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 4, f.calls)
	assert.Equal(t, 4, res.Written)
}

// TestRunSkipped 缺少认证键或仓库不可用时以 SKIPPED 结束
func TestRunSkipped(t *testing.T) {
	f := &scriptFetcher{}

	res, err := NewDriver(&fakeSource{validate: ErrMissingAPIKey}, f, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Contains(t, res.Error, "missing API key")

	down := func(ctx context.Context) (Store, error) { return nil, errors.New("connection refused") }
	res, err = NewDriver(&fakeSource{}, f, down, Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Contains(t, res.Error, "connection refused")

	res, err = NewDriver(&fakeSource{reqErr: ErrMissingAPIKey}, f, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, 0, f.calls)
}

// TestRunRequestError 构造请求的意外错误返回 FAILED
func TestRunRequestError(t *testing.T) {
	src := &fakeSource{reqErr: errors.New("bad template")}
	res, err := NewDriver(src, &scriptFetcher{}, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, res.Failed())
}

// TestRunCanceled 上下文取消返回 FAILED
func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewDriver(&fakeSource{pageSize: 10}, &scriptFetcher{}, storeOf(&memStore{}), Options{}).Run(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, res.Status)
}

type recordingArchive struct{ metas []archive.Meta }

func (r *recordingArchive) Write(ctx context.Context, meta archive.Meta, content string, contentType string) (archive.StoredObject, error) {
	r.metas = append(r.metas, meta)
	return archive.StoredObject{URI: "mem://" + meta.Source}, nil
}

func TestRunArchivesPages(t *testing.T) {
	src := &fakeSource{pageSize: 2, partitions: []string{"2015"}}
	f := &scriptFetcher{pages: map[string][]int{"2015": {2, 1}}}
	ar := &recordingArchive{}

	_, err := NewDriver(src, f, storeOf(&memStore{}), Options{RunID: "r1", Archive: ar}).Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, ar.metas, 2)
	assert.Equal(t, "2015", ar.metas[1].Partition)
	assert.Equal(t, 2, ar.metas[1].Page)
	assert.Equal(t, "r1", ar.metas[0].RunID)
	assert.Equal(t, "json", ar.metas[0].Ext)
}

// discoverSource 先通过前置请求确定分区
type discoverSource struct {
	fakeSource
	err error
}

func (s *discoverSource) Discover(ctx context.Context, f Fetcher) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, err := f.Get(ctx, "http://api.test/list", url.Values{"pageNo": {"1"}})
	if err != nil {
		return nil, err
	}
	n, _ := p.JSON.(int)
	var out []string
	for i := 1; i <= n; i++ {
		out = append(out, "typ"+strconv.Itoa(i))
	}
	return out, nil
}

// TestRunDiscoveredPartitions 前置请求得到的分区取代静态分区
func TestRunDiscoveredPartitions(t *testing.T) {
	src := &discoverSource{fakeSource: fakeSource{pageSize: 10, partitions: []string{"static"}}}
	f := &scriptFetcher{pages: map[string][]int{"list": {2}, "typ1": {3}, "typ2": {4}, "static": {100}}}
	st := &memStore{}

	res, err := NewDriver(src, f, storeOf(st), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 7, res.Written)
	require.Len(t, src.requests, 2)
	assert.Equal(t, "typ1", src.requests[0].Partition)
	assert.Equal(t, "typ2", src.requests[1].Partition)

	// 前置请求无结果：成功结束且不发起数据请求
	src = &discoverSource{fakeSource: fakeSource{pageSize: 10}}
	f = &scriptFetcher{pages: map[string][]int{"list": {0}}}
	res, err = NewDriver(src, f, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, src.requests)
	assert.Equal(t, 1, f.calls)
}

// TestRunDiscoverErrors 前置请求缺少认证键时跳过，其它错误记为失败
func TestRunDiscoverErrors(t *testing.T) {
	res, err := NewDriver(&discoverSource{err: ErrMissingAPIKey}, &scriptFetcher{}, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Status)

	res, err = NewDriver(&discoverSource{err: errors.New("list unavailable")}, &scriptFetcher{}, storeOf(&memStore{}), Options{}).Run(context.Background(), 0)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "discover partitions")
}
