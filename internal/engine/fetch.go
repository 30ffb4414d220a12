package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/preload-hub/preload-hub/internal/cache"
	"github.com/preload-hub/preload-hub/internal/server"
	"github.com/preload-hub/preload-hub/internal/source"
)

// UpstreamStatusError 表示上游返回了非 200 状态。
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.StatusCode)
}

type materialized struct {
	entry *cache.Entry
	from  DataSource
}

// materialize 保证远程来源存在于磁盘缓存：命中直接返回，web 模式按需再验证，
// 未命中时下载。相同 URL 的并发请求经 singleflight 合并。
func (l *Loader) materialize(ctx context.Context, req Request, remote source.RemoteURL) (*cache.Entry, DataSource, error) {
	cacheControl := req.Source.Descriptor.CacheControl
	key := string(cacheControl) + "|" + remote.CacheKey()

	ch := l.group.DoChan(key, func() (interface{}, error) {
		// 共享下载不随单个调用方取消。
		return l.materializeOnce(context.WithoutCancel(ctx), cacheControl, remote)
	})

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		out := res.Val.(materialized)
		return out.entry, out.from, nil
	}
}

func (l *Loader) materializeOnce(ctx context.Context, cacheControl source.CacheControl, remote source.RemoteURL) (materialized, error) {
	locator := cache.Locator{Namespace: remoteNamespace, Key: remote.CacheKey()}
	entry, err := l.opts.Store.Stat(ctx, locator)
	switch {
	case err == nil:
		if l.serveCached(ctx, cacheControl, remote, locator, *entry) {
			return materialized{entry: entry, from: DataSourceDisk}, nil
		}
	case errors.Is(err, cache.ErrNotFound):
	default:
		return materialized{}, err
	}

	if cacheControl == source.CacheOnly {
		return materialized{}, ErrCacheMiss
	}

	fetched, err := l.fetch(ctx, remote, locator)
	if err != nil {
		return materialized{}, err
	}
	return materialized{entry: fetched, from: DataSourceRemote}, nil
}

// serveCached 判断磁盘条目能否直接复用；再验证出错时保守地继续使用旧条目。
func (l *Loader) serveCached(ctx context.Context, cacheControl source.CacheControl, remote source.RemoteURL, locator cache.Locator, entry cache.Entry) bool {
	if cacheControl != source.CacheWeb {
		return true
	}
	policy := cache.NewFreshnessPolicy(l.opts.DiskCacheTTL, true)
	if policy.ShouldBypassValidation(entry) {
		return true
	}
	fresh, err := l.isCacheFresh(ctx, remote, locator, entry)
	if err != nil {
		l.logger.WithError(err).WithField("url", locator.Key).Warn("engine_revalidate_failed")
		return true
	}
	if fresh {
		if err := l.opts.Store.Touch(ctx, locator, time.Now().UTC()); err != nil && !errors.Is(err, cache.ErrNotFound) {
			l.logger.WithError(err).WithField("url", locator.Key).Debug("engine_touch_failed")
		}
	}
	return fresh
}

// isCacheFresh 发送条件 HEAD：304 视为新鲜；200 比较 Last-Modified；404 删除条目。
func (l *Loader) isCacheFresh(ctx context.Context, remote source.RemoteURL, locator cache.Locator, entry cache.Entry) (bool, error) {
	req, err := l.newUpstreamRequest(ctx, http.MethodHead, remote)
	if err != nil {
		return false, err
	}
	if etag := l.cachedETag(locator.Key); etag != "" {
		req.Header.Set("If-None-Match", `"`+etag+`"`)
	}
	req.Header.Set("If-Modified-Since", entry.ModTime.UTC().Format(http.TimeFormat))

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return true, nil
	case http.StatusOK:
		l.rememberETag(locator.Key, resp)
		remoteMod := extractModTime(resp.Header)
		return !remoteMod.After(entry.ModTime.Add(time.Second)), nil
	case http.StatusNotFound:
		_ = l.opts.Store.Remove(ctx, locator)
		l.forgetETag(locator.Key)
		return false, nil
	default:
		return false, nil
	}
}

// maxFetchBackoff 是单次重试等待的上限。
const maxFetchBackoff = 30 * time.Second

// retryPolicy 从 InitialBackoff 开始指数退避，单次等待不超过 maxFetchBackoff，最多重试 MaxRetries 次。
func (l *Loader) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.InitialBackoff
	policy.MaxInterval = maxFetchBackoff
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(l.opts.MaxRetries)), ctx)
}

// fetch 下载并写入磁盘缓存；网络错误与 5xx 按指数退避重试，其余失败立即返回。
func (l *Loader) fetch(ctx context.Context, remote source.RemoteURL, locator cache.Locator) (*cache.Entry, error) {
	var entry *cache.Entry
	attempt := 0
	operation := func() error {
		attempt++
		fetched, retryable, err := l.fetchOnce(ctx, remote, locator)
		if err != nil {
			if !retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		entry = fetched
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.logger.WithError(err).
			WithField("url", locator.Key).
			WithField("attempt", attempt).
			WithField("wait_ms", wait.Milliseconds()).
			Warn("engine_fetch_retry")
	}

	if err := backoff.RetryNotify(operation, l.retryPolicy(ctx), notify); err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *Loader) fetchOnce(ctx context.Context, remote source.RemoteURL, locator cache.Locator) (*cache.Entry, bool, error) {
	req, err := l.newUpstreamRequest(ctx, http.MethodGet, remote)
	if err != nil {
		return nil, false, err
	}
	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusNotFound {
			_ = l.opts.Store.Remove(ctx, locator)
			l.forgetETag(locator.Key)
		}
		return nil, resp.StatusCode >= http.StatusInternalServerError, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	entry, err := l.opts.Store.Put(ctx, locator, resp.Body, cache.PutOptions{ModTime: time.Now().UTC()})
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	if l.opts.VerifyImages {
		if err := verifyFile(entry.FilePath); err != nil {
			_ = l.opts.Store.Remove(ctx, locator)
			l.forgetETag(locator.Key)
			return nil, false, err
		}
	}
	l.rememberETag(locator.Key, resp)
	return entry, false, nil
}

// newUpstreamRequest 复制描述符头部（去除 hop-by-hop 字段）并补充 User-Agent。
func (l *Loader) newUpstreamRequest(ctx context.Context, method string, remote source.RemoteURL) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, remote.URL.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	headers := make(http.Header, len(remote.Headers))
	for key, value := range remote.Headers {
		headers.Set(key, value)
	}
	server.CopyHeaders(req.Header, headers)
	if req.Header.Get("User-Agent") == "" && l.opts.UserAgent != "" {
		req.Header.Set("User-Agent", l.opts.UserAgent)
	}
	return req, nil
}

func (l *Loader) rememberETag(key string, resp *http.Response) {
	etag := normalizeETag(resp.Header.Get("ETag"))
	if etag == "" {
		return
	}
	l.etags.Store(key, etag)
}

func (l *Loader) cachedETag(key string) string {
	if value, ok := l.etags.Load(key); ok {
		if etag, ok := value.(string); ok {
			return etag
		}
	}
	return ""
}

func (l *Loader) forgetETag(key string) {
	l.etags.Delete(key)
}

func normalizeETag(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	if value == "" {
		return ""
	}
	return strings.Trim(value, "\"")
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
