package search

import (
	"sort"
	"strings"

	"github.com/apiscout/apiscout/internal/indexer"
)

// Suggest returns up to limit path prefixes matching partial, backfilled
// with tag names containing partial when the path set comes up short.
func Suggest(idx *indexer.DocumentIndex, partial string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}
	partialLower := strings.ToLower(partial)

	seen := make(map[string]struct{})
	var out []string

	paths := make([]string, 0, len(idx.PathIndex))
	for _, summary := range idx.Summaries() {
		if _, dup := seen[summary.Path]; dup {
			continue
		}
		seen[summary.Path] = struct{}{}
		paths = append(paths, summary.Path)
	}
	for _, path := range paths {
		if strings.HasPrefix(strings.ToLower(path), partialLower) {
			out = append(out, path)
			if len(out) >= limit {
				return out
			}
		}
	}

	tags := make([]string, 0, len(idx.TagIndex))
	for tag := range idx.TagIndex {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if len(out) >= limit {
			break
		}
		if strings.Contains(tag, partialLower) {
			out = append(out, "tag:"+tag)
		}
	}
	return out
}

// popularFragments are common REST-ish endpoint names, in priority order.
var popularFragments = []string{
	"health", "status", "auth", "login", "users", "user",
	"search", "config", "settings", "metrics", "version", "docs",
}

// PopularEndpoints probes well-known path fragments and surfaces the single
// best match per fragment, up to limit.
func PopularEndpoints(idx *indexer.DocumentIndex, limit int) []indexer.ScoredMatch {
	if limit <= 0 {
		limit = 5
	}
	seen := make(map[string]struct{})
	var out []indexer.ScoredMatch
	for _, fragment := range popularFragments {
		if len(out) >= limit {
			break
		}
		matches := searchByPattern(idx, fragment)
		if len(matches) == 0 {
			continue
		}
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Relevance > matches[j].Relevance
		})
		best := matches[0]
		if _, dup := seen[best.Path]; dup {
			continue
		}
		seen[best.Path] = struct{}{}
		out = append(out, best)
	}
	return out
}
