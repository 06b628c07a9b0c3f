// Package search evaluates keyword, tag, and path-pattern queries against a
// document index. Everything here is a pure function of an index plus query
// parameters.
package search

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/apiscout/apiscout/internal/indexer"
)

// Params selects exactly one strategy by priority:
// tags > pattern > keywords > default listing.
type Params struct {
	Tags     []string
	Pattern  string
	Keywords []string
	Methods  []string
	Limit    int
}

// Hard ceiling applied before the caller limit.
const maxResults = 50

// Relevance tiers for pattern search, tried in order.
const (
	patternExact     = 1.0
	patternSubstring = 0.8
	patternGlob      = 0.6
	patternProse     = 0.4
)

const defaultListingRelevance = 0.1

// Search evaluates params against idx and returns matches sorted by
// relevance descending, ties broken by discovery order.
func Search(idx *indexer.DocumentIndex, p Params) []indexer.ScoredMatch {
	var results []indexer.ScoredMatch
	switch {
	case len(p.Tags) > 0:
		results = searchByTags(idx, p.Tags)
	case p.Pattern != "":
		results = searchByPattern(idx, p.Pattern)
	case len(p.Keywords) > 0:
		results = searchByKeywords(idx, p.Keywords)
	default:
		results = defaultListing(idx)
	}

	results = filterMethods(results, p.Methods)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	if p.Limit > 0 && len(results) > p.Limit {
		results = results[:p.Limit]
	}
	return results
}

// searchByTags unions the paths of each requested tag at relevance 1.0,
// deduplicated by method and path.
func searchByTags(idx *indexer.DocumentIndex, tags []string) []indexer.ScoredMatch {
	seen := make(map[string]struct{})
	var out []indexer.ScoredMatch
	for _, tag := range tags {
		paths := idx.TagIndex[strings.ToLower(tag)]
		for _, path := range paths {
			for _, summary := range operationsAt(idx, path) {
				key := indexer.PathKey(summary.Method, summary.Path)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				out = append(out, indexer.ScoredMatch{
					Path:        summary.Path,
					Method:      summary.Method,
					Relevance:   1.0,
					Description: firstNonEmpty(summary.Summary, summary.Description),
				})
			}
		}
	}
	return out
}

// searchByPattern scores each operation by the first matching tier:
// exact path equality, path substring, compiled glob, then prose.
func searchByPattern(idx *indexer.DocumentIndex, pattern string) []indexer.ScoredMatch {
	matcher := compilePattern(pattern)
	queryLower := strings.ToLower(pattern)

	var out []indexer.ScoredMatch
	for _, summary := range idx.Summaries() {
		pathLower := strings.ToLower(summary.Path)
		var relevance float64
		switch {
		case pathLower == queryLower:
			relevance = patternExact
		case strings.Contains(pathLower, queryLower):
			relevance = patternSubstring
		case matcher != nil && matcher.Match(summary.Path):
			relevance = patternGlob
		case containsFold(summary.Summary, pattern) || containsFold(summary.Description, pattern):
			relevance = patternProse
		default:
			continue
		}
		out = append(out, indexer.ScoredMatch{
			Path:        summary.Path,
			Method:      summary.Method,
			Relevance:   relevance,
			Description: firstNonEmpty(summary.Summary, summary.Description),
		})
	}
	return out
}

// compilePattern turns a path pattern into a glob matcher. `{name}`
// placeholders match one path segment. A pattern that fails to compile
// yields nil and the caller falls back to substring matching.
func compilePattern(pattern string) glob.Glob {
	normalized := pattern
	for {
		start := strings.Index(normalized, "{")
		if start < 0 {
			break
		}
		end := strings.Index(normalized[start:], "}")
		if end < 0 {
			// Unbalanced brace; let glob.Compile decide, with the
			// substring fallback behind it.
			break
		}
		normalized = normalized[:start] + "*" + normalized[start+end+1:]
	}
	g, err := glob.Compile(normalized, '/')
	if err != nil {
		return nil
	}
	return g
}

// Keyword field weights. Tags weigh highest, plain description lowest.
const (
	kwTag         = 0.5
	kwPath        = 0.45
	kwOperationID = 0.4
	kwSummary     = 0.35
	kwDescription = 0.3
)

// multiKeywordBonus scales the marginal weight of every keyword after the
// first that hits the same operation.
const multiKeywordBonus = 0.3

// searchByKeywords expands each keyword through the synonym table, scores
// field hits per operation, and accumulates a bonus for operations matched
// by more than one input keyword.
func searchByKeywords(idx *indexer.DocumentIndex, keywords []string) []indexer.ScoredMatch {
	type hit struct {
		summary  indexer.OperationSummary
		score    float64
		keywords int
		order    int
	}
	hits := make(map[string]*hit)
	summaries := idx.Summaries()

	for _, keyword := range keywords {
		terms := ExpandKeyword(keyword)
		for order, summary := range summaries {
			weight := 0.0
			for _, term := range terms {
				weight = max(weight, fieldWeight(summary, term))
			}
			if weight == 0 {
				continue
			}
			key := indexer.PathKey(summary.Method, summary.Path)
			h, ok := hits[key]
			if !ok {
				hits[key] = &hit{summary: summary, score: weight, keywords: 1, order: order}
				continue
			}
			// Later keywords add a fraction of their marginal weight
			// instead of replacing the score.
			h.score += weight * multiKeywordBonus
			h.keywords++
		}
	}

	out := make([]indexer.ScoredMatch, 0, len(hits))
	ordered := make([]*hit, 0, len(hits))
	for _, h := range hits {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].order < ordered[j].order })
	for _, h := range ordered {
		out = append(out, indexer.ScoredMatch{
			Path:        h.summary.Path,
			Method:      h.summary.Method,
			Relevance:   h.score,
			Description: firstNonEmpty(h.summary.Summary, h.summary.Description),
		})
	}
	return out
}

func fieldWeight(summary indexer.OperationSummary, term string) float64 {
	for _, tag := range summary.Tags {
		if containsFold(tag, term) {
			return kwTag
		}
	}
	if containsFold(summary.Path, term) {
		return kwPath
	}
	if containsFold(summary.OperationID, term) {
		return kwOperationID
	}
	if containsFold(summary.Summary, term) {
		return kwSummary
	}
	if containsFold(summary.Description, term) {
		return kwDescription
	}
	return 0
}

// defaultListing returns the first operations at minimal relevance when no
// strategy input was given.
func defaultListing(idx *indexer.DocumentIndex) []indexer.ScoredMatch {
	summaries := idx.Summaries()
	out := make([]indexer.ScoredMatch, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, indexer.ScoredMatch{
			Path:        summary.Path,
			Method:      summary.Method,
			Relevance:   defaultListingRelevance,
			Description: firstNonEmpty(summary.Summary, summary.Description),
		})
	}
	return out
}

// filterMethods removes entries whose method is not in methods. Relevance
// is never touched.
func filterMethods(results []indexer.ScoredMatch, methods []string) []indexer.ScoredMatch {
	if len(methods) == 0 {
		return results
	}
	allowed := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		allowed[strings.ToUpper(m)] = struct{}{}
	}
	out := results[:0]
	for _, r := range results {
		if _, ok := allowed[strings.ToUpper(r.Method)]; ok {
			out = append(out, r)
		}
	}
	return out
}

func operationsAt(idx *indexer.DocumentIndex, path string) []indexer.OperationSummary {
	var out []indexer.OperationSummary
	for _, summary := range idx.Summaries() {
		if summary.Path == path {
			out = append(out, summary)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
