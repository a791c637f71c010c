package service

import (
	"fmt"
	"strings"
	"time"
)

// SplitMarket 拆分市场代码，例如 "KRW-BTC" -> ("KRW", "BTC")
func SplitMarket(market string) (quote string, base string, err error) {
	parts := strings.Split(market, "-")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid market code %q, want QUOTE-BASE", market)
	}
	return parts[0], parts[1], nil
}

// 将 time.Duration 原(1h0m0s或者5m0s)格式化为简短的周期字符串，如 "1m", "5m", "1h"
func FormatInterval(d time.Duration) string {
	// 优先处理小时 (h)
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}

	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}

	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}

	return d.String()
}
