package rpc

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
)

const skillID = "prx-memory-core"

type renderedResource struct {
	mimeType string
	text     string
}

// renderResource renders a prx:// resource URI, grounded on
// render_template_resource in server.rs. Only the two
// templates whose tools exist in this module (memory_store,
// memory_store_dual) and the skill manifest resource are supported;
// memory_evolve has no template since the tool itself is a non-goal.
func renderResource(uri string) (renderedResource, bool) {
	if uri == "prx://skill/manifest" {
		body, _ := json.Marshal(map[string]any{"skill_id": skillID})
		return renderedResource{mimeType: "application/json", text: string(body)}, true
	}
	if strings.HasPrefix(uri, "prx://templates/memory-store-dual") {
		params := parseURIQuery(uri)
		return renderTemplate("memory_store_dual", map[string]any{
			"symptom":    getOr(params, "symptom", "..."),
			"cause":      getOr(params, "cause", "..."),
			"fix":        getOr(params, "fix", "..."),
			"prevention": getOr(params, "prevention", "..."),
		}), true
	}
	if strings.HasPrefix(uri, "prx://templates/memory-store") {
		params := parseURIQuery(uri)
		return renderTemplate("memory_store", map[string]any{
			"text":              getOr(params, "text", "Pitfall: .... Cause: .... Fix: .... Prevention: ...."),
			"category":          getOr(params, "category", "fact"),
			"scope":             getOr(params, "scope", "global"),
			"importance_level":  getOr(params, "importance_level", "medium"),
		}), true
	}
	return renderedResource{}, false
}

func renderTemplate(toolName string, arguments map[string]any) renderedResource {
	body, _ := json.MarshalIndent(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": arguments,
		},
	}, "", "  ")
	return renderedResource{mimeType: "application/json", text: string(body)}
}

func parseURIQuery(uri string) url.Values {
	idx := strings.Index(uri, "?")
	if idx < 0 {
		return url.Values{}
	}
	values, err := url.ParseQuery(uri[idx+1:])
	if err != nil {
		return url.Values{}
	}
	return values
}

func getOr(v url.Values, key, fallback string) string {
	if val := v.Get(key); val != "" {
		return val
	}
	return fallback
}

func (d *Dispatcher) execMemorySkillManifest(ctx context.Context, id json.RawMessage, arguments json.RawMessage) *Response {
	var args struct {
		IncludeContent *bool `json:"include_content"`
	}
	if err := decodeArgs(arguments, &args); err != nil {
		return ErrorResponse(id, CodeInvalidParams, "invalid params: "+err.Error())
	}
	includeContent := args.IncludeContent != nil && *args.IncludeContent

	var content any
	if includeContent {
		manifest, _ := renderResource("prx://skill/manifest")
		content = []map[string]any{{"uri": "prx://skill/manifest", "mimeType": manifest.mimeType, "text": manifest.text}}
	}

	return Success(id, textResult(map[string]any{
		"skill_id":  skillID,
		"resources": d.resourcesListResult()["resources"],
		"content":   content,
	}, "skill manifest ready"))
}
