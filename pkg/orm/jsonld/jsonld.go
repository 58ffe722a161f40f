// Package jsonld holds the JSON-LD vocabulary shared by the entity mapping
// packages: reserved keys, @type normalization and identifier helpers.
package jsonld

import (
	"net/url"
	"sort"
	"strings"
)

// Reserved keys of a Nexus JSON-LD document
const (
	KeyID         = "@id"
	KeyType       = "@type"
	KeyContext    = "@context"
	KeyRev        = "nxv:rev"
	KeyDeprecated = "nxv:deprecated"
	KeySelf       = "nxv:self"
	KeyCreatedAt  = "nxv:createdAt"
	KeyUpdatedAt  = "nxv:updatedAt"
	KeyCreatedBy  = "nxv:createdBy"
	KeyUpdatedBy  = "nxv:updatedBy"
)

// KeyLabel is the label key of an ontology term.
const KeyLabel = "label"

// KeyName is the name key injected into reference stubs.
const KeyName = "name"

var reserved = map[string]bool{
	KeyID:         true,
	KeyType:       true,
	KeyContext:    true,
	KeyRev:        true,
	KeyDeprecated: true,
	KeySelf:       true,
	KeyCreatedAt:  true,
	KeyUpdatedAt:  true,
	KeyCreatedBy:  true,
	KeyUpdatedBy:  true,
}

// Document is a decoded JSON-LD object.
type Document = map[string]interface{}

// IsReserved reports whether key is graph metadata rather than a field value.
func IsReserved(key string) bool {
	return reserved[key]
}

// Types normalizes the @type value of a document, which the store sends
// either as a string or a list of strings.
func Types(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ID returns the @id of a document or reference, accepting a bare string.
func ID(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case map[string]interface{}:
		id, ok := v[KeyID].(string)
		return id, ok && id != ""
	default:
		return "", false
	}
}

// MatchTag returns the longest tag whose segments appear as a contiguous run
// of path segments in identifier. Only the URL path is considered.
func MatchTag(identifier string, tags []string) (string, bool) {
	path := identifier
	if u, err := url.Parse(identifier); err == nil && u.Path != "" {
		path = u.Path
	}
	path = "/" + strings.Trim(path, "/") + "/"

	candidates := append([]string(nil), tags...)
	// Longest first, then lexical, so the result is stable.
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i]) != len(candidates[j]) {
			return len(candidates[i]) > len(candidates[j])
		}
		return candidates[i] < candidates[j]
	})

	for _, tag := range candidates {
		t := strings.Trim(tag, "/")
		if t == "" {
			continue
		}
		if strings.Contains(path, "/"+t+"/") {
			return tag, true
		}
	}
	return "", false
}

// CompactIRI joins a namespace prefix and a local name ("nsg", "name" -> "nsg:name").
func CompactIRI(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// LastSegment returns the last path segment of an identifier, used as a
// short display form.
func LastSegment(identifier string) string {
	trimmed := strings.TrimRight(identifier, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
