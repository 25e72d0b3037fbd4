package models

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies one origin of asset data.
type Source string

const (
	SourceCoinPaprika Source = "coinpaprika"
	SourceCoinGecko   Source = "coingecko"
	SourceCSV         Source = "csv"
)

// AllSources returns every known source in extraction order.
func AllSources() []Source {
	return []Source{SourceCoinPaprika, SourceCoinGecko, SourceCSV}
}

func (s Source) Valid() bool {
	switch s {
	case SourceCoinPaprika, SourceCoinGecko, SourceCSV:
		return true
	}
	return false
}

func (s Source) String() string { return string(s) }

// ParseSource maps a case-insensitive name onto the closed source set.
func ParseSource(name string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", eris.Errorf("unknown source %q", name)
	}
	return s, nil
}
