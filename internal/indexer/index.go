// Package indexer turns a fetched API description into a compact searchable
// index and keeps that index fresh against its source using conditional
// fetch validators.
package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/apiscout/apiscout/internal/openapi"
)

// Metadata is the document-level summary kept alongside an index.
type Metadata struct {
	Title           string   `json:"title"`
	Version         string   `json:"version"`
	TotalOperations int      `json:"total_operations"`
	Tags            []string `json:"tags"`
	BaseURL         string   `json:"base_url,omitempty"`
}

// OperationSummary is the projection of one operation kept for indexing.
// It never holds the full schema.
type OperationSummary struct {
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	OperationID string   `json:"operation_id,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// ScoredMatch is one ranked search hit.
type ScoredMatch struct {
	Path        string  `json:"path"`
	Method      string  `json:"method,omitempty"`
	Relevance   float64 `json:"relevance"`
	Description string  `json:"description,omitempty"`
}

// DocumentIndex is the compact searchable structure built from one
// document. It is immutable once built; refresh replaces the whole value.
type DocumentIndex struct {
	Metadata     Metadata                    `json:"metadata"`
	TagIndex     map[string][]string         `json:"tag_index"`
	PathIndex    map[string]OperationSummary `json:"path_index"`
	KeywordIndex map[string][]ScoredMatch    `json:"keyword_index"`
	BuiltAt      time.Time                   `json:"built_at"`
}

// PathKey is the PathIndex key for one operation.
func PathKey(method, path string) string {
	return strings.ToUpper(method) + "-" + path
}

// Summaries returns all operations in discovery order: paths lexically,
// methods in canonical order. Search strategies rely on this for stable
// tie-breaking.
func (idx *DocumentIndex) Summaries() []OperationSummary {
	keys := make([]string, 0, len(idx.PathIndex))
	for k := range idx.PathIndex {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := idx.PathIndex[keys[i]], idx.PathIndex[keys[j]]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		return methodRank(a.Method) < methodRank(b.Method)
	})
	out := make([]OperationSummary, len(keys))
	for i, k := range keys {
		out[i] = idx.PathIndex[k]
	}
	return out
}

func methodRank(method string) int {
	for i, m := range openapi.Methods {
		if m == method {
			return i
		}
	}
	return len(openapi.Methods)
}

// Keyword scoring weights. Multiple contributing fields for the same
// operation accumulate additively.
const (
	weightPathExact   = 1.0
	weightPathPartial = 0.8
	weightOperationID = 0.6
	weightTag         = 0.5
	weightSummary     = 0.4
	weightDescription = 0.3
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "in": {}, "is": {}, "it": {}, "of": {},
	"on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {},
	"was": {}, "will": {}, "with": {},
}

// Tokenize lowercases s and splits it on any non-alphanumeric rune,
// discarding stop words and single characters.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// BuildFromDocument constructs an index from an already-validated document.
func BuildFromDocument(doc *openapi.Document) *DocumentIndex {
	idx := &DocumentIndex{
		TagIndex:     make(map[string][]string),
		PathIndex:    make(map[string]OperationSummary),
		KeywordIndex: make(map[string][]ScoredMatch),
		BuiltAt:      time.Now(),
	}

	tagSet := make(map[string]struct{})
	taggedPaths := make(map[string]map[string]struct{})
	type posting struct {
		match ScoredMatch
		order int
	}
	postings := make(map[string][]posting)
	order := 0

	for _, path := range doc.SortedPaths() {
		item := doc.Paths[path]
		for _, method := range openapi.Methods {
			op := item.Operation(method)
			if op == nil {
				continue
			}
			summary := OperationSummary{
				Method:      method,
				Path:        path,
				Summary:     op.Summary,
				Description: op.Description,
				OperationID: op.OperationID,
				Tags:        op.Tags,
			}
			idx.PathIndex[PathKey(method, path)] = summary

			for _, tag := range op.Tags {
				tagSet[tag] = struct{}{}
				lower := strings.ToLower(tag)
				if taggedPaths[lower] == nil {
					taggedPaths[lower] = make(map[string]struct{})
				}
				if _, seen := taggedPaths[lower][path]; !seen {
					taggedPaths[lower][path] = struct{}{}
					idx.TagIndex[lower] = append(idx.TagIndex[lower], path)
				}
			}

			scores := scoreOperation(summary)
			for token, relevance := range scores {
				postings[token] = append(postings[token], posting{
					match: ScoredMatch{
						Path:        path,
						Method:      method,
						Relevance:   relevance,
						Description: firstNonEmpty(op.Summary, op.Description),
					},
					order: order,
				})
			}
			order++
		}
	}

	for token, list := range postings {
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].match.Relevance != list[j].match.Relevance {
				return list[i].match.Relevance > list[j].match.Relevance
			}
			return list[i].order < list[j].order
		})
		matches := make([]ScoredMatch, len(list))
		for i, p := range list {
			matches[i] = p.match
		}
		idx.KeywordIndex[token] = matches
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	idx.Metadata = Metadata{
		Title:           doc.Info.Title,
		Version:         doc.Info.Version,
		TotalOperations: len(idx.PathIndex),
		Tags:            tags,
		BaseURL:         doc.BaseURL(),
	}
	return idx
}

// scoreOperation maps each token of one operation to its accumulated
// keyword weight. Exact path-segment hits dominate, prose trails.
func scoreOperation(op OperationSummary) map[string]float64 {
	scores := make(map[string]float64)
	add := func(token string, w float64) {
		scores[token] += w
	}

	pathLower := strings.ToLower(op.Path)
	segments := make(map[string]struct{})
	for _, seg := range strings.Split(pathLower, "/") {
		seg = strings.Trim(seg, "{}")
		if seg != "" {
			segments[seg] = struct{}{}
		}
	}
	for _, token := range Tokenize(op.Path) {
		if _, exact := segments[token]; exact {
			add(token, weightPathExact)
		} else {
			add(token, weightPathPartial)
		}
	}
	for _, token := range Tokenize(op.OperationID) {
		add(token, weightOperationID)
	}
	for _, tag := range op.Tags {
		for _, token := range Tokenize(tag) {
			add(token, weightTag)
		}
	}
	for _, token := range Tokenize(op.Summary) {
		add(token, weightSummary)
	}
	for _, token := range Tokenize(op.Description) {
		add(token, weightDescription)
	}
	return scores
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CacheKey is the identity of one (source, session) index.
func CacheKey(sourceURL, sessionID string) string {
	return HashURL(sourceURL) + "::" + sessionID
}

// HashURL returns a short stable digest of a source URL, used in cache and
// storage keys so arbitrary URLs never leak into key syntax.
func HashURL(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:8])
}
