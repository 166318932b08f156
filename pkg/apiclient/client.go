package apiclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/physicalrisk/apietl/internal/util"
	"github.com/physicalrisk/apietl/pkg/logger"
)

// ErrExhausted 重试次数耗尽
var ErrExhausted = errors.New("retries exhausted")

const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultUserAgent  = "SKALA-ETL/1.0"
)

// Options 请求参数
type Options struct {
	Timeout            time.Duration
	MaxRetries         int
	BaseDelay          time.Duration
	UserAgent          string
	InsecureSkipVerify bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BaseDelay < 0 {
		o.BaseDelay = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	return o
}

// Kind 响应体类型
type Kind int

const (
	KindJSON Kind = iota
	KindText
)

func (k Kind) String() string {
	if k == KindJSON {
		return "json"
	}
	return "text"
}

// Payload 一次成功请求的响应
type Payload struct {
	Kind   Kind
	JSON   any
	Text   string
	Status int
	URL    string
}

// Body 返回原始（已转为 UTF-8 的）响应文本
func (p *Payload) Body() string {
	if p == nil {
		return ""
	}
	return p.Text
}

// FetchError 请求失败（所有重试均失败）
type FetchError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("GET %s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrExhausted, e.Last}
}

// StatusError 非 2xx 响应
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Client 外部 API 客户端，同一次运行内复用连接
type Client struct {
	opts  Options
	http  *http.Client
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建客户端
func New(opts Options) *Client {
	opts = opts.withDefaults()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &Client{
		opts:  opts,
		http:  &http.Client{Timeout: opts.Timeout, Transport: transport},
		sleep: sleepContext,
	}
}

// Options 返回生效的参数
func (c *Client) Options() Options {
	return c.opts
}

// Close 释放空闲连接
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Get 以线性退避（BaseDelay * attempt）重试发起 GET 请求
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (*Payload, error) {
	target, err := buildURL(rawURL, params)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		payload, err := c.do(ctx, target)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     c.opts.MaxRetries,
			"url":     redact(target),
			"error":   err,
		}).Warn("API request failed")
		if attempt < c.opts.MaxRetries {
			if err := c.sleep(ctx, c.opts.BaseDelay*time.Duration(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	logger.WithFields(logrus.Fields{
		"url":   redact(target),
		"error": lastErr,
	}).Error("API request exhausted retries")
	return nil, &FetchError{URL: redact(target), Attempts: c.opts.MaxRetries, Last: lastErr}
}

func (c *Client) do(ctx context.Context, target string) (*Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	return decode(body, resp.Header.Get("Content-Type"), resp.StatusCode, redact(target)), nil
}

// decode 先尝试 JSON，失败则作为文本返回
func decode(body []byte, contentType string, status int, target string) *Payload {
	text := util.DecodeBody(body, contentType)
	p := &Payload{Kind: KindText, Text: text, Status: status, URL: target}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return p
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		p.Kind = KindJSON
		p.JSON = v
	}
	return p
}

func buildURL(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redact 隐藏日志中的认证参数
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	changed := false
	for k := range q {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || lk == "authkey" || lk == "servicekey" {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
