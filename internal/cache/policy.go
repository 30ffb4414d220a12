package cache

import "time"

// FreshnessPolicy 根据 TTL 与再验证开关判断磁盘条目能否直接复用。
type FreshnessPolicy struct {
	// TTL 为 0 表示条目永不过期。
	TTL time.Duration
	// Revalidate 为 true 时，过期（或 TTL 为 0）的条目需要向上游发起条件请求。
	Revalidate bool
	now        func() time.Time
}

// NewFreshnessPolicy 构造策略，默认使用 time.Now 作为时钟。
func NewFreshnessPolicy(ttl time.Duration, revalidate bool) FreshnessPolicy {
	return FreshnessPolicy{TTL: ttl, Revalidate: revalidate, now: time.Now}
}

// ShouldBypassValidation 判断条目是否仍在 TTL 内，可跳过 HEAD 再验证。
func (p FreshnessPolicy) ShouldBypassValidation(entry Entry) bool {
	if !p.Revalidate {
		return true
	}
	if p.TTL <= 0 {
		return false
	}
	now := time.Now
	if p.now != nil {
		now = p.now
	}
	return now().Before(entry.ModTime.Add(p.TTL))
}
