package engine

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/sawpanic/tradegate/internal/domain"
)

// Direction is the net lean of the indicator votes.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// Vote is one indicator's reading on one timeframe.
type Vote struct {
	Timeframe domain.Timeframe `json:"timeframe"`
	Indicator string           `json:"indicator"`
	Lean      int              `json:"lean"` // +1 long, -1 short, 0 flat
	Detail    string           `json:"detail"`
}

// Confluence is the multi-timeframe indicator agreement for a symbol.
type Confluence struct {
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"` // [0,1] agreement with the dominant lean
	Direction Direction `json:"direction"`
	Votes     []Vote    `json:"votes"`
}

// ScoreConfluence runs EMA-cross, RSI, and MACD votes over every supplied
// timeframe using the regime's parameters. The score is the fraction of
// non-flat votes agreeing with the dominant lean; all-flat votes score zero.
func ScoreConfluence(symbol string, series map[domain.Timeframe]*domain.CandleSeries, params domain.OptimalParameters) *Confluence {
	conf := &Confluence{Symbol: symbol, Direction: DirectionFlat}

	for tf, s := range series {
		if s == nil {
			continue
		}
		closes := s.Closes()
		conf.Votes = append(conf.Votes, emaVote(tf, closes, params))
		conf.Votes = append(conf.Votes, rsiVote(tf, closes, params))
		conf.Votes = append(conf.Votes, macdVote(tf, closes, params))
	}

	long, short := 0, 0
	for _, v := range conf.Votes {
		switch {
		case v.Lean > 0:
			long++
		case v.Lean < 0:
			short++
		}
	}

	active := long + short
	if active == 0 {
		return conf
	}

	switch {
	case long > short:
		conf.Direction = DirectionLong
		conf.Score = float64(long) / float64(len(conf.Votes))
	case short > long:
		conf.Direction = DirectionShort
		conf.Score = float64(short) / float64(len(conf.Votes))
	default:
		conf.Direction = DirectionFlat
		conf.Score = 0
	}
	return conf
}

func emaVote(tf domain.Timeframe, closes []float64, params domain.OptimalParameters) Vote {
	v := Vote{Timeframe: tf, Indicator: "ema_cross"}
	if len(closes) <= params.EMASlow {
		v.Detail = "insufficient history"
		return v
	}
	fast := talib.Ema(closes, params.EMAFast)
	slow := talib.Ema(closes, params.EMASlow)
	f, s := last(fast), last(slow)
	v.Detail = fmt.Sprintf("fast=%.4f slow=%.4f", f, s)
	switch {
	case f > s:
		v.Lean = 1
	case f < s:
		v.Lean = -1
	}
	return v
}

func rsiVote(tf domain.Timeframe, closes []float64, params domain.OptimalParameters) Vote {
	v := Vote{Timeframe: tf, Indicator: "rsi"}
	if len(closes) <= params.RSIPeriod {
		v.Detail = "insufficient history"
		return v
	}
	r := last(talib.Rsi(closes, params.RSIPeriod))
	v.Detail = fmt.Sprintf("rsi=%.2f", r)
	switch {
	case r >= 55:
		v.Lean = 1
	case r <= 45:
		v.Lean = -1
	}
	return v
}

func macdVote(tf domain.Timeframe, closes []float64, params domain.OptimalParameters) Vote {
	v := Vote{Timeframe: tf, Indicator: "macd"}
	if len(closes) <= params.MACDSlow+params.MACDSignal {
		v.Detail = "insufficient history"
		return v
	}
	macd, _, hist := talib.Macd(closes, params.MACDFast, params.MACDSlow, params.MACDSignal)
	m, h := last(macd), last(hist)
	v.Detail = fmt.Sprintf("macd=%.6f hist=%.6f", m, h)
	// The histogram alone is misleading on a decaying trend: a negative MACD
	// line shrinking toward zero sits above its signal line, so the histogram
	// reads positive while momentum is still short. The line's sign carries
	// the direction; the histogram is kept in the detail for audit.
	switch {
	case m > 0:
		v.Lean = 1
	case m < 0:
		v.Lean = -1
	}
	return v
}

func last(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return vals[len(vals)-1]
}
