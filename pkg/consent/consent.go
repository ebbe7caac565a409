// Package consent implements selective disclosure over identity documents.
// A consent grant names a grantee, an expiry and a list of field selectors;
// evaluation projects exactly the selected fields into a fresh tree that
// mirrors the document's shape. Disclosure is best-effort: a selector that
// does not parse or does not match contributes nothing, and nothing outside
// the selected union is ever present in the projection.
package consent

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/verdict"
)

// Kind discriminates the selector variants.
type Kind string

const (
	// KindPath addresses a scalar or subtree by dotted path, e.g.
	// "core.name" or "system.public_keys".
	KindPath Kind = "path"
	// KindFilter selects the elements of a collection whose attribute
	// equals a literal value, e.g. "credentials.[claim=skill:rust:expert]".
	KindFilter Kind = "filter"
)

// Selector is a parsed consent field selector.
type Selector struct {
	Raw   string
	Kind  Kind
	Path  []string
	Attr  string
	Value string
}

var (
	segmentRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	filterRE  = regexp.MustCompile(`^(.+)\.\[([A-Za-z_][A-Za-z0-9_]*)=([^\]]*)\]$`)
)

// ParseSelector parses a raw selector string into its typed form. The
// predicate value is everything between "=" and the closing bracket and
// may itself contain dots and colons.
func ParseSelector(raw string) (Selector, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Selector{}, fmt.Errorf("empty selector")
	}

	if m := filterRE.FindStringSubmatch(text); m != nil {
		path, err := splitPath(m[1])
		if err != nil {
			return Selector{}, fmt.Errorf("selector %q: %w", raw, err)
		}
		return Selector{Raw: raw, Kind: KindFilter, Path: path, Attr: m[2], Value: m[3]}, nil
	}

	path, err := splitPath(text)
	if err != nil {
		return Selector{}, fmt.Errorf("selector %q: %w", raw, err)
	}
	return Selector{Raw: raw, Kind: KindPath, Path: path}, nil
}

func splitPath(text string) ([]string, error) {
	segs := strings.Split(text, ".")
	for _, seg := range segs {
		if !segmentRE.MatchString(seg) {
			return nil, fmt.Errorf("bad path segment %q", seg)
		}
	}
	return segs, nil
}

// ValidateGrant checks a grant at creation time, so malformed selectors
// are reported when consent is given rather than silently skipped when it
// is exercised.
func ValidateGrant(g *document.ConsentGrant) []document.Violation {
	var out []document.Violation
	if g.GrantedTo == "" {
		out = append(out, document.Violation{Path: "granted_to", Message: "grant names no grantee"})
	}
	if g.ExpiresAt.IsZero() {
		out = append(out, document.Violation{Path: "expires_at", Message: "grant has no expiry"})
	}
	if len(g.Fields) == 0 {
		out = append(out, document.Violation{Path: "fields", Message: "grant selects no fields"})
	}
	for i, f := range g.Fields {
		if _, err := ParseSelector(f); err != nil {
			out = append(out, document.Violation{
				Path:    fmt.Sprintf("fields[%d]", i),
				Message: err.Error(),
			})
		}
	}
	return out
}

// LintDocument validates every consent grant carried by the document.
func LintDocument(d *document.Document) []document.Violation {
	var out []document.Violation
	for i := range d.Consent {
		for _, v := range ValidateGrant(&d.Consent[i]) {
			out = append(out, document.Violation{
				Path:    fmt.Sprintf("$.consent[%d].%s", i, v.Path),
				Message: v.Message,
			})
		}
	}
	return out
}

// Disclosure is the result of a granted evaluation: a projection that
// mirrors the document's shape but contains only the selected fields, and
// the selectors that actually contributed.
type Disclosure struct {
	Projection map[string]any `json:"projection"`
	Matched    []string       `json:"matched"`
}

// Evaluate applies a grant to the document for a requester. The grantee
// check runs before the expiry check, so a stranger holding an expired
// grant learns only that they are not the grantee. The returned verdict is
// NotGrantee, ConsentExpired or valid; a valid verdict always comes with a
// disclosure, even when no selector matched anything.
func Evaluate(doc *document.Document, grant *document.ConsentGrant, requester string, now time.Time) (*Disclosure, verdict.Verdict) {
	if grant.GrantedTo == "" || requester != grant.GrantedTo {
		return nil, verdict.Invalidf(verdict.ReasonNotGrantee,
			"requester %s is not the grantee", requester)
	}
	if now.After(grant.ExpiresAt) {
		return nil, verdict.Invalidf(verdict.ReasonConsentExpired,
			"grant expired at %s", grant.ExpiresAt.UTC().Format(time.RFC3339))
	}

	tree, err := docTree(doc)
	if err != nil {
		return nil, verdict.Invalidf(verdict.ReasonSchemaViolation, "project document: %v", err)
	}

	disc := &Disclosure{Projection: map[string]any{}}
	for _, field := range grant.Fields {
		sel, err := ParseSelector(field)
		if err != nil {
			continue
		}
		val, ok := sel.resolve(tree)
		if !ok {
			continue
		}
		project(disc.Projection, sel.Path, val)
		disc.Matched = append(disc.Matched, sel.Raw)
	}
	return disc, verdict.OK()
}

// docTree converts the typed document into a generic tree via its JSON
// form, so selectors address the same field names the wire format uses.
func docTree(d *document.Document) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func (s Selector) resolve(tree map[string]any) (any, bool) {
	node, ok := lookup(tree, s.Path)
	if !ok {
		return nil, false
	}
	if s.Kind == KindPath {
		return node, true
	}

	items, ok := node.([]any)
	if !ok {
		return nil, false
	}
	var out []any
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		// Exact string comparison only; a non-string attribute never
		// matches.
		if v, ok := m[s.Attr].(string); ok && v == s.Value {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

func lookup(tree map[string]any, path []string) (any, bool) {
	var cur any = tree
	for _, seg := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// project writes val into dst at the dotted path, merging with anything
// other selectors already placed there.
func project(dst map[string]any, path []string, val any) {
	cur := dst
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	last := path[len(path)-1]
	cur[last] = merge(cur[last], val)
}

// merge unions two projected values: maps merge key-wise, collections
// union element-wise without duplicates, anything else is replaced. Both
// sides come from the same source tree, so a replacement is always the
// identical value.
func merge(old, add any) any {
	if old == nil {
		return add
	}
	if om, ok := old.(map[string]any); ok {
		if am, ok := add.(map[string]any); ok {
			for k, v := range am {
				om[k] = merge(om[k], v)
			}
			return om
		}
	}
	if oa, ok := old.([]any); ok {
		if aa, ok := add.([]any); ok {
			for _, v := range aa {
				if !containsDeep(oa, v) {
					oa = append(oa, v)
				}
			}
			return oa
		}
	}
	return add
}

func containsDeep(list []any, want any) bool {
	for _, v := range list {
		if reflect.DeepEqual(v, want) {
			return true
		}
	}
	return false
}
