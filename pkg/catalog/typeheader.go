package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// TypeHeader produces a TypeScript declaration block for the current
// catalog: a `tools` array declaration matching the catalog JSON shape, plus
// one `declare const <server>: {...}` block per server whose projected name
// is a legal identifier. Servers are emitted in sorted order. Generation is
// pure data-driven projection — it never consults the upstream, and any
// schema shape it doesn't recognize degrades to `any` rather than failing.
func (c *Catalog) TypeHeader() string {
	var b strings.Builder

	b.WriteString("declare const tools: Array<{ server: string; name: string; description: string; input_schema: any }>;\n\n")

	byServer := make(map[string][]Tool)
	var servers []string
	for _, t := range c.entries {
		if _, ok := byServer[t.Server]; !ok {
			servers = append(servers, t.Server)
		}
		byServer[t.Server] = append(byServer[t.Server], t)
	}
	sort.Strings(servers)

	for _, server := range servers {
		projected := ProjectServerName(server)
		if !IsLegalIdentifier(projected) {
			continue
		}
		writeServerDecl(&b, projected, byServer[server])
	}

	return b.String()
}

func writeServerDecl(b *strings.Builder, projected string, tools []Tool) {
	fmt.Fprintf(b, "declare const %s: {\n", projected)
	for _, t := range tools {
		if t.Description != "" {
			fmt.Fprintf(b, "  /** %s */\n", neutralizeDoc(t.Description))
		}
		fmt.Fprintf(b, "  %s(params: %s): Promise<any>;\n", t.Name, paramsObjectType(t.InputSchema))
	}
	b.WriteString("};\n\n")
}

func neutralizeDoc(s string) string {
	s = strings.ReplaceAll(s, "*/", "* /")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// paramsObjectType renders the `{ field: type; ... }` parameter object type
// for a tool's input_schema.
func paramsObjectType(schema json.RawMessage) string {
	obj := parseSchema(schema)
	if obj == nil {
		return "{}"
	}

	props, _ := obj["properties"].(map[string]any)
	if len(props) == 0 {
		return "{}"
	}

	required := make(map[string]bool)
	if reqList, ok := obj["required"].([]any); ok {
		for _, r := range reqList {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("{ ")
	for _, name := range names {
		key := name
		if !IsLegalIdentifier(name) {
			key = strconv.Quote(name)
		}
		opt := ""
		if !required[name] {
			opt = "?"
		}
		sub, _ := props[name].(map[string]any)
		fmt.Fprintf(&b, "%s%s: %s; ", key, opt, tsType(sub))
	}
	b.WriteString("}")
	return b.String()
}

// tsType derives a TypeScript type expression from a JSON-Schema fragment.
func tsType(schema map[string]any) string {
	if schema == nil {
		return "any"
	}

	if enumVals, ok := schema["enum"].([]any); ok && len(enumVals) > 0 {
		parts := make([]string, 0, len(enumVals))
		for _, v := range enumVals {
			if s, ok := v.(string); ok {
				parts = append(parts, strconv.Quote(s))
			} else {
				raw, _ := json.Marshal(v)
				parts = append(parts, string(raw))
			}
		}
		return strings.Join(parts, " | ")
	}

	kind, _ := schema["type"].(string)
	switch kind {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "null":
		return "null"
	case "array":
		items, _ := schema["items"].(map[string]any)
		if items == nil {
			return "any[]"
		}
		return tsType(items) + "[]"
	case "object":
		props, _ := schema["properties"].(map[string]any)
		if len(props) == 0 {
			return "Record<string, any>"
		}
		return paramsObjectType(mustMarshal(schema))
	default:
		return "any"
	}
}

func parseSchema(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
