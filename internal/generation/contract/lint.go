package contract

import (
	"fmt"
	"sort"
	"strings"
)

// LintSchema reports every way schema departs from the strict structured-output subset:
// no oneOf/anyOf/allOf, and each object with properties must set additionalProperties
// to false and list every property in required.
func LintSchema(name string, schema map[string]any) []string {
	if schema == nil {
		return []string{"schema is nil"}
	}
	path := strings.TrimSpace(name)
	if path == "" {
		path = "$"
	}
	var problems []string
	lintNode(schema, path, &problems)
	return problems
}

func lintNode(node any, path string, problems *[]string) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if _, ok := m[key]; ok {
			*problems = append(*problems, fmt.Sprintf("%s: %s is not permitted", path, key))
		}
	}
	if items, ok := m["items"]; ok {
		lintNode(items, path+".items", problems)
	}

	props, ok := m["properties"].(map[string]any)
	if !ok {
		if _, present := m["properties"]; present && m["properties"] != nil {
			*problems = append(*problems, path+": properties must be an object")
		}
		return
	}
	if ap, ok := m["additionalProperties"]; !ok || ap != false {
		*problems = append(*problems, path+": additionalProperties must be false")
	}

	required := map[string]bool{}
	listed := true
	switch req := m["required"].(type) {
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	default:
		listed = false
		*problems = append(*problems, path+": required must list every property")
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var missing []string
	for _, k := range keys {
		if listed && !required[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		*problems = append(*problems, fmt.Sprintf("%s: required missing keys %v", path, missing))
	}
	for _, k := range keys {
		lintNode(props[k], path+".properties."+k, problems)
	}
}
