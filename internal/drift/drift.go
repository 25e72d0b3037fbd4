// Package drift compares an incoming batch's shape against the fields each
// source is known to deliver.
package drift

import (
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

// RenameCutoff is the minimum similarity for a rename hint.
const RenameCutoff = 0.8

var expected = map[models.Source][]string{
	models.SourceCoinPaprika: {
		"id", "name", "symbol", "rank", "circulating_supply", "total_supply",
		"max_supply", "beta_value", "first_data_at", "last_updated", "quotes",
	},
	models.SourceCoinGecko: {
		"id", "symbol", "name", "image", "current_price", "market_cap",
		"market_cap_rank", "fully_diluted_valuation", "total_volume", "high_24h",
		"low_24h", "price_change_24h", "price_change_percentage_24h",
		"market_cap_change_24h", "market_cap_change_percentage_24h",
		"circulating_supply", "total_supply", "max_supply", "ath",
		"ath_change_percentage", "ath_date", "atl", "atl_change_percentage",
		"atl_date", "roi", "last_updated",
	},
	models.SourceCSV: {"symbol", "name", "price_usd", "market_cap"},
}

// ExpectedKeys returns a sorted copy of the known key set for src.
func ExpectedKeys(src models.Source) []string {
	keys := append([]string(nil), expected[src]...)
	sort.Strings(keys)
	return keys
}

// Rename is a suspected field rename.
type Rename struct {
	From  string  `json:"from"`
	To    string  `json:"to"`
	Score float64 `json:"score"`
}

type Report struct {
	Missing    []string `json:"missing,omitempty"`
	Unexpected []string `json:"unexpected,omitempty"`
	Renames    []Rename `json:"renames,omitempty"`
}

func (r Report) Empty() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0
}

type Detector struct {
	logger *zap.Logger
}

func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger}
}

// Detect inspects the first record of batch only. Findings are logged as
// warnings; the batch is never modified and processing always continues.
func (d *Detector) Detect(src models.Source, batch []models.RawRecord) Report {
	var rep Report
	if len(batch) == 0 {
		return rep
	}

	want := expected[src]
	wantSet := make(map[string]struct{}, len(want))
	for _, k := range want {
		wantSet[k] = struct{}{}
	}
	got := batch[0].Data

	for _, k := range want {
		if _, ok := got[k]; !ok {
			rep.Missing = append(rep.Missing, k)
		}
	}
	for _, k := range batch[0].Keys() {
		if _, ok := wantSet[k]; !ok {
			rep.Unexpected = append(rep.Unexpected, k)
		}
	}
	sort.Strings(rep.Missing)

	log := d.logger.With(zap.String("source", src.String()))
	if len(rep.Missing) > 0 {
		log.Warn("schema drift detected: missing fields", zap.Strings("missing", rep.Missing))
	}
	if len(rep.Unexpected) > 0 {
		log.Warn("schema drift detected: unexpected fields", zap.Strings("unexpected", rep.Unexpected))
	}

	for _, k := range rep.Unexpected {
		best, score := closest(k, want)
		if score < RenameCutoff {
			continue
		}
		rep.Renames = append(rep.Renames, Rename{From: k, To: best, Score: score})
		log.Warn("possible rename: "+k+" -> "+best, zap.Float64("similarity", score))
	}
	return rep
}

func closest(key string, candidates []string) (string, float64) {
	var (
		best      string
		bestScore float64
	)
	for _, c := range candidates {
		if s := Similarity(key, c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, bestScore
}

// Similarity is the normalized Levenshtein ratio in [0, 1].
func Similarity(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	return float64(total-dist) / float64(total)
}
