package nexustest

import (
	"fmt"
	"strings"
)

// match evaluates a filter expression against a document. Paths are
// resolved segment by segment: "nsg:name" matches the key "nsg:name" first
// and the local name "name" second. A list value matches when any of its
// elements does; references compare by @id.
func match(expr interface{}, doc map[string]interface{}) (bool, error) {
	if expr == nil {
		return true, nil
	}
	node, ok := expr.(map[string]interface{})
	if !ok {
		return false, fmt.Errorf("filter node must be an object, got %T", expr)
	}
	op, _ := node["op"].(string)

	switch op {
	case "and", "or":
		children, ok := node["value"].([]interface{})
		if !ok {
			return false, fmt.Errorf("%s expects a list of conditions", op)
		}
		for _, child := range children {
			m, err := match(child, doc)
			if err != nil {
				return false, err
			}
			if op == "and" && !m {
				return false, nil
			}
			if op == "or" && m {
				return true, nil
			}
		}
		return op == "and", nil
	}

	path, _ := node["path"].(string)
	if path == "" {
		return false, fmt.Errorf("condition without path")
	}
	values := resolve(doc, strings.Split(path, " / "))
	want := node["value"]

	if op == "ne" {
		for _, v := range values {
			if equal(v, want) {
				return false, nil
			}
		}
		return true, nil
	}

	for _, v := range values {
		ok, err := compare(op, v, want)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func resolve(v interface{}, segments []string) []interface{} {
	if len(segments) == 0 {
		return flatten(v)
	}
	var out []interface{}
	for _, item := range flatten(v) {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		seg := strings.TrimSpace(segments[0])
		child, ok := m[seg]
		if !ok {
			if i := strings.Index(seg, ":"); i >= 0 {
				child, ok = m[seg[i+1:]]
			}
		}
		if ok {
			out = append(out, resolve(child, segments[1:])...)
		}
	}
	return out
}

func flatten(v interface{}) []interface{} {
	if list, ok := v.([]interface{}); ok {
		return list
	}
	if v == nil {
		return nil
	}
	return []interface{}{v}
}

func compare(op string, have, want interface{}) (bool, error) {
	switch op {
	case "eq", "":
		return equal(have, want), nil
	case "in":
		options, ok := want.([]interface{})
		if !ok {
			return false, fmt.Errorf("in expects a list")
		}
		for _, o := range options {
			if equal(have, o) {
				return true, nil
			}
		}
		return false, nil
	case "gt", "gte", "lt", "lte":
		c, ok := order(scalar(have), want)
		if !ok {
			return false, nil
		}
		switch op {
		case "gt":
			return c > 0, nil
		case "gte":
			return c >= 0, nil
		case "lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

// scalar reduces references and terms to their @id
func scalar(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if id, ok := m[KeyID]; ok {
			return id
		}
	}
	return v
}

func equal(have, want interface{}) bool {
	c, ok := order(scalar(have), want)
	return ok && c == 0
}

func order(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok || av != bv {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}
