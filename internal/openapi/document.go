// Package openapi holds the minimal projection of an OpenAPI/Swagger
// document this service consumes, plus the conditional fetcher that
// retrieves documents from remote sources.
//
// Only info, servers, paths and the schema containers are modeled; heavy
// per-operation sections stay as raw JSON until a caller asks for details.
package openapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDocument marks content that fails the version-marker or shape
// check. No partial result is ever produced from such a document.
var ErrInvalidDocument = errors.New("invalid API description")

// Document is the recognized subset of an OpenAPI 3.x or Swagger 2.x file.
type Document struct {
	OpenAPI  string              `json:"openapi,omitempty"`
	Swagger  string              `json:"swagger,omitempty"`
	Info     Info                `json:"info"`
	Servers  []Server            `json:"servers,omitempty"`
	Host     string              `json:"host,omitempty"`
	BasePath string              `json:"basePath,omitempty"`
	Paths    map[string]PathItem `json:"paths"`
	Tags     []Tag               `json:"tags,omitempty"`

	// Presence-only: indexing never descends into schemas.
	Components  json.RawMessage `json:"components,omitempty"`
	Definitions json.RawMessage `json:"definitions,omitempty"`
}

type Info struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

type Server struct {
	URL string `json:"url"`
}

type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// PathItem holds the per-method operations of one path.
type PathItem struct {
	Get     *Operation `json:"get,omitempty"`
	Post    *Operation `json:"post,omitempty"`
	Put     *Operation `json:"put,omitempty"`
	Patch   *Operation `json:"patch,omitempty"`
	Delete  *Operation `json:"delete,omitempty"`
	Options *Operation `json:"options,omitempty"`
	Head    *Operation `json:"head,omitempty"`
}

// Operation keeps the fields indexing needs decoded and everything else raw.
type Operation struct {
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	OperationID string   `json:"operationId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Deprecated  bool     `json:"deprecated,omitempty"`

	Parameters  json.RawMessage `json:"parameters,omitempty"`
	RequestBody json.RawMessage `json:"requestBody,omitempty"`
	Responses   json.RawMessage `json:"responses,omitempty"`
	Security    json.RawMessage `json:"security,omitempty"`
}

// Methods is the canonical method ordering used whenever operations of one
// path are walked. Keeps index construction deterministic.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"}

// Operation returns the operation for an HTTP method, nil when absent.
func (p PathItem) Operation(method string) *Operation {
	switch strings.ToUpper(method) {
	case "GET":
		return p.Get
	case "POST":
		return p.Post
	case "PUT":
		return p.Put
	case "PATCH":
		return p.Patch
	case "DELETE":
		return p.Delete
	case "OPTIONS":
		return p.Options
	case "HEAD":
		return p.Head
	}
	return nil
}

// SortedPaths returns the path table keys in lexical order, the document's
// stable discovery order for indexing and tie-breaking.
func (d *Document) SortedPaths() []string {
	paths := make([]string, 0, len(d.Paths))
	for p := range d.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// BaseURL returns the first declared server URL, or the Swagger 2.x
// host+basePath when present.
func (d *Document) BaseURL() string {
	if len(d.Servers) > 0 {
		return d.Servers[0].URL
	}
	if d.Host != "" {
		return "https://" + d.Host + d.BasePath
	}
	return ""
}

// Validate rejects anything that is not recognizably an API description.
func (d *Document) Validate() error {
	switch {
	case strings.HasPrefix(d.OpenAPI, "3."):
	case strings.HasPrefix(d.Swagger, "2."):
	default:
		return fmt.Errorf("%w: missing openapi 3.x / swagger 2.x version marker", ErrInvalidDocument)
	}
	if len(d.Paths) == 0 {
		return fmt.Errorf("%w: empty path table", ErrInvalidDocument)
	}
	return nil
}

// Decode parses a document from JSON, falling back to YAML.
func Decode(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err == nil {
		return &doc, nil
	}

	// YAML path: decode generically, then re-encode as JSON so the raw
	// sections keep their JSON representation.
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON or YAML", ErrInvalidDocument)
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return &doc, nil
}
