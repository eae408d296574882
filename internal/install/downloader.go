package install

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/internal/logging"
	"github.com/liangyou/fwinstall/pkg/models"
)

const checksumFragment = "sha256="

// ProgressFunc 在下载过程中回调当前已完成的字节数以及总字节数，总数未知时为 -1。
type ProgressFunc func(downloaded, total int64)

// HTTPClient 定义 Downloader 所需的 HTTP 客户端能力。
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader 把固件压缩包下载到固定的暂存路径。
type Downloader struct {
	httpClient  HTTPClient
	objects     ObjectGetter
	s3Region    string
	stagingPath string
	timeout     time.Duration
	progress    ProgressFunc
	logger      hclog.Logger
}

// DownloaderOption 配置 Downloader。
type DownloaderOption func(*Downloader)

// WithHTTPClient 指定自定义 HTTP 客户端。
func WithHTTPClient(client HTTPClient) DownloaderOption {
	return func(d *Downloader) {
		if client != nil {
			d.httpClient = client
		}
	}
}

// WithObjectGetter 指定 s3:// 地址使用的客户端。
func WithObjectGetter(getter ObjectGetter) DownloaderOption {
	return func(d *Downloader) {
		if getter != nil {
			d.objects = getter
		}
	}
}

// WithStagingPath 覆盖暂存路径。
func WithStagingPath(path string) DownloaderOption {
	return func(d *Downloader) {
		if path != "" {
			d.stagingPath = path
		}
	}
}

// WithDownloadTimeout 设置单次下载的时限，0 表示不限。
func WithDownloadTimeout(timeout time.Duration) DownloaderOption {
	return func(d *Downloader) {
		d.timeout = timeout
	}
}

// WithProgressFunc 指定进度回调。
func WithProgressFunc(fn ProgressFunc) DownloaderOption {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// WithDownloadLogger 设置日志输出。
func WithDownloadLogger(logger hclog.Logger) DownloaderOption {
	return func(d *Downloader) {
		d.logger = logging.OrNull(logger)
	}
}

// NewDownloader 创建 Downloader。
func NewDownloader(cfg models.Config, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		httpClient:  http.DefaultClient,
		s3Region:    cfg.Catalog.S3Region,
		stagingPath: cfg.Install.StagingPath,
		timeout:     cfg.Install.DownloadTimeout,
		logger:      hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// StagingPath 返回压缩包落地的位置。
func (d *Downloader) StagingPath() string {
	return d.stagingPath
}

// Download 获取 source 指向的压缩包并写入暂存路径。source 可以是 http(s):// 或 s3://，
// 带 #sha256=<hex> 片段时校验内容。失败时暂存路径上不会留下任何文件。
func (d *Downloader) Download(ctx context.Context, source string) (string, error) {
	if d.stagingPath == "" {
		return "", fault.Newf(fault.ErrDownloadFailed, source, "staging path is not configured")
	}

	location, expected, err := splitChecksum(source)
	if err != nil {
		return "", fault.New(fault.ErrDownloadFailed, source, err)
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(filepath.Dir(d.stagingPath), 0o755); err != nil {
		return "", fault.New(fault.ErrDownloadFailed, source, fmt.Errorf("create dir: %w", err))
	}

	partPath := d.stagingPath + ".part"
	if err := d.fetch(ctx, location, partPath, expected); err != nil {
		os.Remove(partPath)
		if rmErr := os.Remove(d.stagingPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			d.logger.Warn("could not remove stale staging file", "path", d.stagingPath, "error", rmErr)
		}
		return "", fault.New(fault.ErrDownloadFailed, location.Redacted(), err)
	}

	if err := os.Rename(partPath, d.stagingPath); err != nil {
		os.Remove(partPath)
		return "", fault.New(fault.ErrDownloadFailed, location.Redacted(), fmt.Errorf("finalize file: %w", err))
	}

	d.logger.Debug("download complete", "source", location.Redacted(), "path", d.stagingPath)
	return d.stagingPath, nil
}

func (d *Downloader) fetch(ctx context.Context, location *url.URL, partPath, expected string) error {
	body, total, err := d.open(ctx, location)
	if err != nil {
		return err
	}
	defer body.Close()

	file, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create part file: %w", err)
	}
	defer file.Close()

	var hasher hash.Hash
	var dst io.Writer = file
	if expected != "" {
		hasher = sha256.New()
		dst = io.MultiWriter(file, hasher)
	}

	if _, err := io.Copy(dst, d.wrapProgress(body, total)); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("write file: %w", ctxErr)
		}
		return fmt.Errorf("write file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	if hasher != nil {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(actual, expected) {
			return fmt.Errorf("checksum mismatch, got %s want %s", actual, expected)
		}
	}
	return nil
}

func (d *Downloader) open(ctx context.Context, location *url.URL) (io.ReadCloser, int64, error) {
	switch location.Scheme {
	case "s3":
		return d.openS3(ctx, location)
	case "http", "https":
	default:
		return nil, 0, fmt.Errorf("unsupported scheme %q", location.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (d *Downloader) wrapProgress(reader io.Reader, total int64) io.Reader {
	if d.progress == nil {
		return reader
	}
	return &progressReader{r: reader, total: total, report: d.progress}
}

// splitChecksum 拆出地址中的 #sha256=<hex> 片段。
func splitChecksum(source string) (*url.URL, string, error) {
	location, err := url.Parse(strings.TrimSpace(source))
	if err != nil {
		return nil, "", fmt.Errorf("parse source: %w", err)
	}
	if location.Scheme == "" || (location.Host == "" && location.Scheme != "s3") {
		return nil, "", fmt.Errorf("source %q is not an absolute URL", source)
	}

	var expected string
	if strings.HasPrefix(location.Fragment, checksumFragment) {
		expected = strings.TrimPrefix(location.Fragment, checksumFragment)
		if _, err := hex.DecodeString(expected); err != nil || len(expected) != sha256.Size*2 {
			return nil, "", fmt.Errorf("malformed sha256 fragment %q", expected)
		}
	}
	location.Fragment = ""
	location.RawFragment = ""
	return location, expected, nil
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(p.read, p.total)
	}
	return n, err
}
