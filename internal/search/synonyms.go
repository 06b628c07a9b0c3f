package search

import "strings"

// synonyms maps common query verbs and nouns to their REST-ish equivalents.
// Expansion is one level deep; expanded terms are not expanded again.
var synonyms = map[string][]string{
	"create":   {"post", "add", "new", "insert", "register"},
	"add":      {"create", "post", "new"},
	"make":     {"create", "post"},
	"list":     {"get", "index", "all", "fetch"},
	"get":      {"fetch", "read", "retrieve", "list"},
	"fetch":    {"get", "retrieve"},
	"read":     {"get", "fetch"},
	"update":   {"put", "patch", "edit", "modify"},
	"edit":     {"update", "patch", "modify"},
	"modify":   {"update", "patch"},
	"delete":   {"remove", "destroy", "del"},
	"remove":   {"delete", "destroy"},
	"search":   {"find", "query", "lookup", "filter"},
	"find":     {"search", "query", "lookup"},
	"query":    {"search", "find"},
	"login":    {"auth", "signin", "authenticate", "token"},
	"logout":   {"signout", "auth"},
	"auth":     {"login", "token", "authenticate", "authorization"},
	"user":     {"users", "account", "profile", "member"},
	"users":    {"user", "accounts", "members"},
	"account":  {"user", "profile"},
	"file":     {"files", "upload", "download", "attachment"},
	"upload":   {"file", "import", "attach"},
	"download": {"file", "export"},
	"config":   {"configuration", "settings", "options", "preferences"},
	"settings": {"config", "options", "preferences"},
	"status":   {"health", "ping", "state"},
	"health":   {"status", "ping", "healthz"},
	"order":    {"orders", "purchase", "transaction"},
	"payment":  {"pay", "billing", "invoice", "charge"},
	"send":     {"post", "submit", "publish"},
	"cancel":   {"delete", "abort", "stop"},
}

// ExpandKeyword returns the lowercased keyword followed by its synonyms.
func ExpandKeyword(keyword string) []string {
	lower := strings.ToLower(strings.TrimSpace(keyword))
	if lower == "" {
		return nil
	}
	out := []string{lower}
	out = append(out, synonyms[lower]...)
	return out
}
