package model

import "time"

// Ticker 代表最小粒度的市场数据（实时成交价快照）
type Ticker struct {
	Market    string    // 所属市场，例如 "KRW-BTC"
	Timestamp time.Time // 交易所时间戳
	Price     float64   // 最新成交价
}

// Candle 代表一根分钟 K 线，分析时按时间从旧到新排列
type Candle struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}
