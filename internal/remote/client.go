package remote

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/internal/fault"
)

const (
	defaultBaseURL  = "https://www.sunfunkits.com/Download/SFKDriverVersion.xml"
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 5 * time.Minute
	maxFeedSize     = 4 << 20
)

// CatalogSource 定义远程版本目录应具备的能力。
type CatalogSource interface {
	FetchCatalog(ctx context.Context) (*Catalog, error)
}

// HTTPClient 描述最小化的 HTTP 客户端接口，方便测试时替换。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option 用于配置 Client。
type Option func(*Client)

// WithBaseURL 设置自定义目录地址。
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithHTTPClient 设置 HTTP 客户端。
func WithHTTPClient(h HTTPClient) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout 设置目录请求超时。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithCacheTTL 设置目录缓存时间，0 表示使用默认值。
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

// WithParser 设置显示名称解析器。
func WithParser(p *Parser) Option {
	return func(c *Client) {
		if p != nil {
			c.parser = p
		}
	}
}

// WithLogger 设置日志器。
func WithLogger(logger hclog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client 实现 CatalogSource 接口。
type Client struct {
	baseURL    string
	httpClient HTTPClient
	timeout    time.Duration
	cacheTTL   time.Duration
	parser     *Parser
	logger     hclog.Logger

	mu       sync.Mutex
	cached   *Catalog
	cachedAt time.Time
}

// NewClient 创建远程目录客户端。
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		cacheTTL:   defaultCacheTTL,
		parser:     defaultParser,
		logger:     hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCatalog 获取并解析远程目录。传输失败或非 2xx 返回 ErrCatalogUnavailable，
// 内容无法解析返回 ErrCatalogMalformed。
func (c *Client) FetchCatalog(ctx context.Context) (*Catalog, error) {
	if catalog, ok := c.getCached(); ok {
		return catalog, nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fault.New(fault.ErrCatalogUnavailable, c.baseURL, fmt.Errorf("build request: %w", err))
	}

	c.logger.Debug("fetching catalog", "url", c.baseURL)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fault.New(fault.ErrCatalogUnavailable, c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fault.Newf(fault.ErrCatalogUnavailable, c.baseURL, "unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fault.New(fault.ErrCatalogUnavailable, c.baseURL, fmt.Errorf("read body: %w", err))
	}

	records, err := parseFeed(body)
	if err != nil {
		return nil, fault.New(fault.ErrCatalogMalformed, c.baseURL, err)
	}

	catalog := BuildCatalog(records, c.parser, c.logger)
	c.logger.Debug("catalog parsed", "entries", catalog.Len(), "skipped", len(catalog.skipped))

	c.setCache(catalog)
	return catalog, nil
}

// feed 表示目录 XML，根元素名称不限，只读取直接子元素 DriverName。
type feed struct {
	XMLName xml.Name
	Drivers []string `xml:"DriverName"`
}

func parseFeed(data []byte) ([]string, error) {
	var f feed
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return f.Drivers, nil
}

func (c *Client) getCached() (*Catalog, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached == nil {
		return nil, false
	}
	if c.cacheTTL > 0 && time.Since(c.cachedAt) > c.cacheTTL {
		c.cached = nil
		return nil, false
	}
	return c.cached, true
}

func (c *Client) setCache(catalog *Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cached = catalog
	c.cachedAt = time.Now()
}
