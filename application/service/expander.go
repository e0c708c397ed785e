package service

import (
	"context"
	"strings"
	"time"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/internal/log"
)

// matchLimit bounds enrichment rows considered per expansion.
const matchLimit = 50

// maxExpansionTokens caps the tokens appended to the query.
const maxExpansionTokens = 8

// maxEnglishTokens caps the tokens forming the cross-language query.
const maxEnglishTokens = 3

// Expander augments a query with aliases and keywords from the
// enrichment table. Expansion is best-effort: on timeout or error the
// query passes through unchanged.
type Expander struct {
	store   enrichment.Store
	timeout time.Duration
	logger  *log.Logger
}

// NewExpander creates a query expander with the given lookup budget.
func NewExpander(store enrichment.Store, timeout time.Duration, logger *log.Logger) *Expander {
	return &Expander{store: store, timeout: timeout, logger: logger}
}

// Expand looks up enrichment rows matching q and returns the expanded
// query plus the English tokens for the cross-language hop.
func (e *Expander) Expand(ctx context.Context, q string) search.Expansion {
	passthrough := search.Expansion{ExpandedQuery: q}
	if e.store == nil {
		return passthrough
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.store.FindMatching(ctx, q, matchLimit)
	if err != nil {
		e.logger.Debug("query expansion skipped", "query", q, "error", err)
		return passthrough
	}
	if len(rows) == 0 {
		return passthrough
	}

	tokens := rankTokens(collectTokens(rows), q)
	if len(tokens) == 0 {
		return passthrough
	}

	expanded := q
	var english []string
	for _, tok := range tokens {
		expanded += " " + tok
		if textnorm.IsASCII(tok) && len(english) < maxEnglishTokens {
			english = append(english, tok)
		}
	}
	return search.Expansion{
		ExpandedQuery: expanded,
		English:       strings.Join(english, " "),
	}
}

// collectTokens splits aka and keywords on the separator set only,
// never whitespace, so multi-word titles stay intact.
func collectTokens(rows []enrichment.Row) []string {
	var tokens []string
	for _, row := range rows {
		tokens = append(tokens, textnorm.SplitTerms(row.AKA)...)
		tokens = append(tokens, textnorm.SplitTerms(row.Keywords)...)
	}
	return tokens
}

// rankTokens dedupes and orders tokens, ASCII tokens of length >= 3
// first, capped at maxExpansionTokens. The query itself is excluded.
func rankTokens(tokens []string, q string) []string {
	seen := map[string]bool{q: true}
	var ascii, rest []string
	for _, tok := range tokens {
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		if textnorm.IsASCII(tok) && len(tok) >= 3 {
			ascii = append(ascii, tok)
		} else {
			rest = append(rest, tok)
		}
	}
	ranked := append(ascii, rest...)
	if len(ranked) > maxExpansionTokens {
		ranked = ranked[:maxExpansionTokens]
	}
	return ranked
}
