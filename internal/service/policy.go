package service

import (
	"strings"
	"time"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/mailmeta"
)

// ForwardingPolicy 转寄的收费与时间窗口规则，全部来自配置
type ForwardingPolicy struct {
	Window   time.Duration
	FreeTags map[string]struct{}
	FeeMinor int64
	Currency string
}

// NewForwardingPolicy 由配置构造策略，免费标签统一归一化为规范写法
func NewForwardingPolicy(cfg *config.ForwardingConfig) ForwardingPolicy {
	free := make(map[string]struct{}, len(cfg.FreeTags))
	for _, raw := range cfg.FreeTags {
		if tag, ok := mailmeta.NormalizeTag(raw); ok {
			free[tag] = struct{}{}
			continue
		}
		if trimmed := strings.ToLower(strings.TrimSpace(raw)); trimmed != "" {
			free[trimmed] = struct{}{}
		}
	}
	return ForwardingPolicy{
		Window:   cfg.GDPRWindow,
		FreeTags: free,
		FeeMinor: cfg.FeeMinor,
		Currency: cfg.Currency,
	}
}

// Fee 返回转寄费及是否为官方来信，只取决于标签
func (p ForwardingPolicy) Fee(tag string) (int64, bool) {
	if _, ok := p.FreeTags[tag]; ok {
		return 0, true
	}
	return p.FeeMinor, false
}

// WithinWindow 接收至今未超过窗口即可转寄，恰好等于窗口仍允许
func (p ForwardingPolicy) WithinWindow(receivedAt, now time.Time) bool {
	return now.Sub(receivedAt) <= p.Window
}

// WindowDays 窗口天数，用于提示文案
func (p ForwardingPolicy) WindowDays() int {
	return int(p.Window / (24 * time.Hour))
}
