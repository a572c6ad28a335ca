package datahandler

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/johnayoung/go-ohlcv-research/internal/models"
)

// futuresDir holds every non-spot series below the data directory.
const futuresDir = "futures"

var pairReplacer = strings.NewReplacer(
	"/", "_",
	":", "_",
	" ", "_",
	".", "_",
	"@", "_",
	"$", "_",
	"+", "_",
)

// seriesFileRe matches "<PAIR>-<tf>[-<candletype>].<ext>".
var seriesFileRe = regexp.MustCompile(`^([a-zA-Z_\d-]+)-(\d+[a-zA-Z]{1,2})(?:-([a-zA-Z_]+))?\.([a-z]+)$`)

// PairToFilename turns a pair into a filesystem-safe name.
func PairToFilename(pair string) string {
	return pairReplacer.Replace(pair)
}

// RebuildPair reverses PairToFilename for the common "BASE/QUOTE[:SETTLE]"
// shape: the first "_" becomes "/" and the next one ":".
func RebuildPair(name string) string {
	res := strings.Replace(name, "_", "/", 1)
	return strings.Replace(res, "_", ":", 1)
}

// seriesPath returns the relative path of a series file.
func seriesPath(key SeriesKey, ext string) string {
	name := fmt.Sprintf("%s-%s", PairToFilename(key.Pair), key.Timeframe)
	if key.CandleType.TradingMode() == models.TradingModeFutures {
		return path.Join(futuresDir, fmt.Sprintf("%s-%s.%s", name, key.CandleType, ext))
	}
	return name + "." + ext
}

// parseSeriesFilename extracts a series key from a file name found in the
// directory of mode. ok is false for files that are not series files.
func parseSeriesFilename(name, ext string, mode models.TradingMode) (SeriesKey, bool) {
	m := seriesFileRe.FindStringSubmatch(name)
	if m == nil || m[4] != ext {
		return SeriesKey{}, false
	}

	ct := models.CandleTypeSpot
	if m[3] != "" {
		parsed, err := models.ParseCandleType(m[3])
		if err != nil {
			return SeriesKey{}, false
		}
		ct = parsed
	}
	if !modeMatches(ct, mode) {
		return SeriesKey{}, false
	}

	return SeriesKey{Pair: RebuildPair(m[1]), Timeframe: m[2], CandleType: ct}, true
}
