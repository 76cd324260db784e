// Package projector implements the Field Projector (C6): a pure,
// selector-driven view over a paper document. It never mutates its
// input, never raises on an unknown requested path, and treats the
// decoded document as a generic JSON value tree (per the typed-tree
// design note) rather than a flattened struct, so new upstream fields
// project correctly without a matching Go field.
package projector

import (
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// FieldTree is the parsed form of a comma-separated, dot-nested field
// selector. A key mapped to an empty (non-nil) FieldTree means "include
// this field in full"; a key mapped to a non-empty FieldTree means
// "descend and keep only these sub-fields".
type FieldTree map[string]FieldTree

// DefaultAtomicFields lists selector tokens kept whole despite containing
// a dot, because they name one opaque field rather than a path to
// descend into. Configurable per spec §9 ("must be configurable; new
// escape-hatch fields will appear over time").
var DefaultAtomicFields = []string{"embedding.specter_v2"}

// normalFields is the predefined field set a "normal" selector must be a
// subset of (spec §4.6 is_normal); it mirrors the canonical full view's
// top-level shape.
var normalFields = map[string]struct{}{
	"paperId": {}, "externalIds": {}, "title": {}, "abstract": {},
	"authors": {}, "venue": {}, "year": {}, "citationCount": {},
	"referenceCount": {}, "fieldsOfStudy": {}, "publicationTypes": {},
	"publicationDate": {}, "url": {}, "isOpenAccess": {}, "openAccessPdf": {},
	"citations": {}, "references": {},
}

var (
	paperIDPath, _    = jp.ParseString("paperId")
	citationsPath, _  = jp.ParseString("citations")
	referencesPath, _ = jp.ParseString("references")
)

// Projector parses and applies field selectors over decoded paper
// documents.
type Projector struct {
	atomic map[string]struct{}
}

// New builds a Projector with the given atomic-field allow-list; an
// empty list falls back to DefaultAtomicFields.
func New(atomicFields []string) *Projector {
	if len(atomicFields) == 0 {
		atomicFields = DefaultAtomicFields
	}
	m := make(map[string]struct{}, len(atomicFields))
	for _, f := range atomicFields {
		m[f] = struct{}{}
	}
	return &Projector{atomic: m}
}

// ParseSelector splits s on commas and builds a nested FieldTree from
// each dot-separated token, except tokens on the atomic allow-list,
// which are kept as a single whole key.
func (p *Projector) ParseSelector(s string) FieldTree {
	tree := FieldTree{}
	s = strings.TrimSpace(s)
	if s == "" {
		return tree
	}

	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, atomic := p.atomic[tok]; atomic {
			tree[tok] = FieldTree{}
			continue
		}

		parts := strings.Split(tok, ".")
		node := tree
		for i, part := range parts {
			if part == "" {
				continue
			}
			if i == len(parts)-1 {
				if _, exists := node[part]; !exists {
					node[part] = FieldTree{}
				}
				continue
			}
			child, ok := node[part]
			if !ok || child == nil {
				child = FieldTree{}
				node[part] = child
			}
			node = child
		}
	}
	return tree
}

// IsNormal reports whether selector is empty or every top-level token
// (atomic tokens compared whole, others by their first segment) belongs
// to the predefined normal field set. A normal selector is answerable
// from the canonical "full" cache entry; anything else cache-keys by
// selector text instead (spec §4.6, invariant 5/6).
func (p *Projector) IsNormal(selector string) bool {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return true
	}
	for _, tok := range strings.Split(selector, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		root := tok
		if _, atomic := p.atomic[tok]; !atomic {
			if idx := strings.IndexByte(tok, '.'); idx >= 0 {
				root = tok[:idx]
			}
		}
		if _, ok := normalFields[root]; !ok {
			return false
		}
	}
	return true
}

// RemoveRelationsFields strips citations/references (and any of their
// sub-paths) from a selector, producing the "body-only" selector used
// for the relation-stripped upstream request (spec §4.8.1 step 6b):
// relations are fetched through their own segmented-pagination path, not
// inlined into the body fetch.
func (p *Projector) RemoveRelationsFields(selector string) string {
	if strings.TrimSpace(selector) == "" {
		return selector
	}
	kept := make([]string, 0)
	for _, tok := range strings.Split(selector, ",") {
		trimmed := strings.TrimSpace(tok)
		if trimmed == "" {
			continue
		}
		if trimmed == "citations" || trimmed == "references" ||
			strings.HasPrefix(trimmed, "citations.") || strings.HasPrefix(trimmed, "references.") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, ",")
}

// Project decodes raw (a JSON document) into a generic value tree,
// applies tree, re-adds paperId and empty relation placeholders per the
// post-projection rule, and re-encodes. An empty tree means "no
// filtering" and returns the document unchanged (modulo re-encoding).
func (p *Projector) Project(raw []byte, selector string) ([]byte, error) {
	tree := p.ParseSelector(selector)

	v, err := oj.Parse(raw)
	if err != nil {
		return nil, err
	}

	var result interface{}
	if len(tree) == 0 {
		result = v
	} else {
		result = projectValue(v, tree)
		applyPostProjectionRules(result, v, tree)
	}

	return oj.Marshal(result)
}

// projectValue is the recursive structural projector: on a map, keep
// only keys present in tree and recurse into their sub-trees; on a list
// of maps, project each element under the same tree; scalars and any
// other shape pass through unchanged. Requested paths absent from value
// are silently dropped, never an error.
func projectValue(value interface{}, tree FieldTree) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(tree))
		for key, subtree := range tree {
			child, ok := v[key]
			if !ok {
				continue
			}
			if len(subtree) == 0 {
				out[key] = child
			} else {
				out[key] = projectValue(child, subtree)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			out[i] = projectValue(elem, tree)
		}
		return out
	default:
		return value
	}
}

// applyPostProjectionRules enforces the two shape guarantees spec §4.6
// promises regardless of what was requested: paperId always survives
// projection, and a requested-but-absent citations/references key comes
// back as an empty list rather than being omitted.
func applyPostProjectionRules(projected, original interface{}, tree FieldTree) {
	if vals := paperIDPath.Get(original); len(vals) > 0 {
		_ = paperIDPath.SetOne(projected, vals[0])
	}

	if _, wanted := tree["citations"]; wanted {
		if vals := citationsPath.Get(projected); len(vals) == 0 {
			_ = citationsPath.SetOne(projected, []interface{}{})
		}
	}
	if _, wanted := tree["references"]; wanted {
		if vals := referencesPath.Get(projected); len(vals) == 0 {
			_ = referencesPath.SetOne(projected, []interface{}{})
		}
	}
}
