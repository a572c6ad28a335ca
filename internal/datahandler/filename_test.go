package datahandler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

func TestPairToFilename(t *testing.T) {
	tests := []struct {
		pair string
		want string
	}{
		{"BTC/USDT", "BTC_USDT"},
		{"BTC/USDT:USDT", "BTC_USDT_USDT"},
		{"XRP/USD 2024.06", "XRP_USD_2024_06"},
		{"$PEPE/USDT+", "_PEPE_USDT_"},
		{"ETH@BTC", "ETH_BTC"},
	}
	for _, tt := range tests {
		t.Run(tt.pair, func(t *testing.T) {
			assert.Equal(t, tt.want, PairToFilename(tt.pair))
		})
	}
}

func TestRebuildPair(t *testing.T) {
	assert.Equal(t, "BTC/USDT", RebuildPair("BTC_USDT"))
	assert.Equal(t, "BTC/USDT:USDT", RebuildPair("BTC_USDT_USDT"))
	assert.Equal(t, "BTC", RebuildPair("BTC"))
}

func TestSeriesPath(t *testing.T) {
	assert.Equal(t, "BTC_USDT-5m.csv", seriesPath(spotKey, "csv"))
	assert.Equal(t, "futures/BTC_USDT_USDT-1h-futures.csv", seriesPath(futuresKey, "csv"))

	funding := SeriesKey{Pair: "ETH/USDT:USDT", Timeframe: "8h", CandleType: models.CandleTypeFundingRate}
	assert.Equal(t, "futures/ETH_USDT_USDT-8h-funding_rate.csv", seriesPath(funding, "csv"))
}

func TestParseSeriesFilename(t *testing.T) {
	tests := []struct {
		name   string
		mode   models.TradingMode
		want   SeriesKey
		wantOK bool
	}{
		{"BTC_USDT-5m.csv", models.TradingModeSpot, spotKey, true},
		{"BTC_USDT_USDT-1h-futures.csv", models.TradingModeFutures, futuresKey, true},
		{"BTC_USDT_USDT-1h-mark.csv", models.TradingModeFutures, markKey, true},
		{"ETH_USDT-1M.csv", models.TradingModeSpot, SeriesKey{Pair: "ETH/USDT", Timeframe: "1M", CandleType: models.CandleTypeSpot}, true},
		{"BTC_USDT-5m.csv", models.TradingModeFutures, SeriesKey{}, false},
		{"BTC_USDT_USDT-1h-mark.csv", models.TradingModeSpot, SeriesKey{}, false},
		{"BTC_USDT-5m.feather", models.TradingModeSpot, SeriesKey{}, false},
		{"BTC_USDT-5m-trades.csv", models.TradingModeFutures, SeriesKey{}, false},
		{"README.md", models.TradingModeSpot, SeriesKey{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+string(tt.mode), func(t *testing.T) {
			got, ok := parseSeriesFilename(tt.name, "csv", tt.mode)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSortKeys(t *testing.T) {
	keys := []SeriesKey{ethKey, markKey, spotKey, futuresKey}
	SortKeys(keys)
	assert.Equal(t, []SeriesKey{spotKey, futuresKey, markKey, ethKey}, keys)
}
