package transform

import (
	"strings"

	"github.com/rotisserie/eris"

	"cryptoetl/pkg/models"
)

// DefaultPrecedence ranks sources from most to least trusted.
var DefaultPrecedence = []models.Source{
	models.SourceCoinGecko,
	models.SourceCoinPaprika,
	models.SourceCSV,
}

// ParsePrecedence turns configured names into a precedence list.
func ParsePrecedence(names []string) ([]models.Source, error) {
	out := make([]models.Source, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		src, err := models.ParseSource(n)
		if err != nil {
			return nil, eris.Wrap(err, "transform: precedence")
		}
		out = append(out, src)
	}
	return out, nil
}

// Unifier collapses transformed lists into at most one asset per symbol.
//
// The asset from the highest-ranked source wins. Among assets from the
// same source the one seen last wins. Output keeps the order in which
// each symbol first appeared.
type Unifier struct {
	rank map[models.Source]int
}

// NewUnifier ranks the listed sources first, in order; any source left
// out ranks after them in DefaultPrecedence order.
func NewUnifier(precedence []models.Source) *Unifier {
	rank := make(map[models.Source]int, len(DefaultPrecedence))
	for _, src := range precedence {
		if _, dup := rank[src]; !dup {
			rank[src] = len(rank)
		}
	}
	for _, src := range DefaultPrecedence {
		if _, ok := rank[src]; !ok {
			rank[src] = len(rank)
		}
	}
	return &Unifier{rank: rank}
}

func (u *Unifier) Unify(lists ...[]models.UnifiedAsset) []models.UnifiedAsset {
	byKey := make(map[string]int)
	var out []models.UnifiedAsset

	for _, list := range lists {
		for _, a := range list {
			key := canonicalKey(a)
			idx, ok := byKey[key]
			if !ok {
				byKey[key] = len(out)
				out = append(out, a)
				continue
			}
			if u.outranks(a, out[idx]) {
				out[idx] = a
			}
		}
	}
	if out == nil {
		out = []models.UnifiedAsset{}
	}
	return out
}

// outranks reports whether incoming should replace current; equal rank
// means most recently seen wins.
func (u *Unifier) outranks(incoming, current models.UnifiedAsset) bool {
	return u.rankOf(incoming.Source) <= u.rankOf(current.Source)
}

func (u *Unifier) rankOf(src models.Source) int {
	if r, ok := u.rank[src]; ok {
		return r
	}
	return len(u.rank)
}

func canonicalKey(a models.UnifiedAsset) string {
	return models.NormalizeSymbol(a.Symbol)
}
