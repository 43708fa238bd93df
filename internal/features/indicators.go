package features

import (
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// The indicator library computes over channels; these wrappers feed a
// slice through and collect the result so the engineer can work with
// plain series.

func ema(series []float64, period int) []float64 {
	if len(series) < period {
		return nil
	}
	return collect(trend.NewEmaWithPeriod[float64](period).Compute(feed(series)))
}

func sma(series []float64, period int) []float64 {
	if len(series) < period {
		return nil
	}
	return collect(trend.NewSmaWithPeriod[float64](period).Compute(feed(series)))
}

func rsi(series []float64, period int) []float64 {
	if len(series) <= period {
		return nil
	}
	return collect(momentum.NewRsiWithPeriod[float64](period).Compute(feed(series)))
}

func macd(series []float64, fast, slow, signal int) (macdLine, signalLine []float64) {
	if len(series) < slow+signal {
		return nil, nil
	}
	macdChan, signalChan := trend.NewMacdWithPeriod[float64](fast, slow, signal).Compute(feed(series))
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdLine = append(macdLine, m)
		signalLine = append(signalLine, s)
	}
	return macdLine, signalLine
}

func bollinger(series []float64, period int) (lower, middle, upper []float64) {
	if len(series) < period {
		return nil, nil, nil
	}
	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](period).Compute(feed(series))
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	return lower, middle, upper
}

func feed(series []float64) chan float64 {
	ch := make(chan float64, len(series))
	for _, v := range series {
		ch <- v
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// ReturnVolatility is the standard deviation of simple returns over the
// trailing window. Also used by the risk sizer's volatility forecast.
func ReturnVolatility(closes []float64, window int) float64 {
	if len(closes) < 2 {
		return 0
	}
	start := len(closes) - window - 1
	if start < 0 {
		start = 0
	}
	var returns []float64
	for i := start + 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	return stdDev(returns)
}

func stdDev(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	m := mean(series)
	var sumSq float64
	for _, v := range series {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(series)-1))
}
