package ta

import (
	"github.com/markcheno/go-talib"
)

// NeutralRSI 历史数据不足时返回的中性 RSI
const NeutralRSI = 50.0

// MovingAverage 计算最近 period 个收盘价的算术平均值
// 数据不足 (len < period) 时 ok=false，不返回基于部分数据的数值
func MovingAverage(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	// talib.Sma 输出与输入等长，最后一个元素即最新窗口的均值
	smaResult := talib.Sma(prices, period)
	return smaResult[len(smaResult)-1], true
}

// RSI 使用最近 period 个价格变动的平均涨幅/平均跌幅计算相对强弱指数
// 价格数量少于 period+1 时返回 NeutralRSI；平均跌幅为 0 时返回 100
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return NeutralRSI
	}

	var gainSum, lossSum float64
	for i := len(prices) - period; i < len(prices); i++ {
		delta := prices[i] - prices[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}
