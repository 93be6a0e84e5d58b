package rpc

// toolsListResult builds the tools/list payload: JSON Schema input
// descriptions for every supported tool, grounded on the *Input structs
// in prx-memory-mcp/src/server.rs (MemoryStoreInput,
// MemoryRecallInput, MemoryForgetInput, MemoryUpdateInput, ...).
// memory_evolve is intentionally absent — the evolutionary variant
// selector it exposes is an explicit non-goal.
func (d *Dispatcher) toolsListResult() map[string]any {
	str := map[string]any{"type": "string"}
	optStr := map[string]any{"type": "string"}
	optBool := map[string]any{"type": "boolean"}
	optNum := map[string]any{"type": "number"}
	optInt := map[string]any{"type": "integer"}
	strArr := map[string]any{"type": "array", "items": map[string]any{"type": "string"}}

	tool := func(name, description string, required []string, props map[string]any) map[string]any {
		return map[string]any{
			"name":        name,
			"description": description,
			"inputSchema": map[string]any{
				"type":       "object",
				"required":   required,
				"properties": props,
			},
		}
	}

	return map[string]any{
		"tools": []map[string]any{
			tool("memory_store", "Store a governed memory entry into durable memory.", []string{"text"}, map[string]any{
				"text": str, "category": optStr, "scope": optStr, "importance": optNum,
				"importance_level": optStr, "governed": optBool, "use_vector": optBool,
				"tags": strArr, "project_tag": optStr, "tool_tag": optStr, "domain_tag": optStr,
			}),
			tool("memory_store_dual", "Store a fact/principle pair as one atomic dual-layer write.",
				[]string{"symptom", "cause", "fix", "prevention"}, map[string]any{
					"symptom": str, "cause": str, "fix": str, "prevention": str,
					"include_principle": optBool, "principle_tag": optStr, "principle_rule": optStr,
					"trigger": optStr, "action": optStr, "scope": optStr, "tags": strArr,
					"project_tag": optStr, "tool_tag": optStr, "domain_tag": optStr,
					"governed": optBool, "use_vector": optBool,
					"tech_importance_level": optStr, "principle_importance_level": optStr,
				}),
			tool("memory_recall", "Recall memories matching a hybrid lexical+vector query.", []string{"query"}, map[string]any{
				"query": str, "scope": optStr, "category": optStr, "limit": optInt,
				"use_vector": optBool, "use_remote": optBool, "provider": optStr,
				"rerank_provider": optStr, "vector_weight": optNum, "lexical_weight": optNum,
				"candidate_pool": optInt,
			}),
			tool("memory_forget", "Delete a memory entry by id.", []string{"id"}, map[string]any{"id": str}),
			tool("memory_update", "Replace a memory entry's fields, re-embedding on text change.", []string{"id"}, map[string]any{
				"id": str, "text": optStr, "category": optStr, "scope": optStr, "importance": optNum,
				"importance_level": optStr, "tags": strArr, "project_tag": optStr, "tool_tag": optStr,
				"domain_tag": optStr, "governed": optBool,
			}),
			tool("memory_list", "List memories in a scope/category window.", nil, map[string]any{
				"scope": optStr, "category": optStr, "limit": optInt, "offset": optInt,
			}),
			tool("memory_stats", "Summarize memory counts, decision ratio, and standardization profile.", nil, map[string]any{
				"scope": optStr,
			}),
			tool("memory_export", "Export memories to a JSON payload.", nil, map[string]any{
				"scope": optStr, "category": optStr, "limit": optInt, "include_embeddings": optBool,
				"output_path": optStr,
			}),
			tool("memory_import", "Import memories from an inline JSON payload.", []string{"entries"}, map[string]any{
				"entries": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
				"governed": optBool, "use_vector": optBool, "skip_duplicates": optBool,
			}),
			tool("memory_migrate", "Import memories from a file produced by memory_export.", []string{"source_path"}, map[string]any{
				"source_path": str, "governed": optBool, "use_vector": optBool, "skip_duplicates": optBool,
			}),
			tool("memory_reembed", "Recompute embeddings for memories missing or stale vectors.", nil, map[string]any{
				"scope": optStr, "category": optStr, "limit": optInt,
			}),
			tool("memory_compact", "Run periodic maintenance (duplicate merge + decision-ratio rebalance) on demand.", nil, map[string]any{
				"scope": optStr, "category": optStr, "limit": optInt, "dry_run": optBool,
			}),
			tool("memory_skill_manifest", "Return the bundled skill manifest describing this memory service to an agent.", nil, map[string]any{
				"include_content": optBool,
			}),
		},
	}
}

func (d *Dispatcher) resourcesListResult() map[string]any {
	return map[string]any{
		"resources": []map[string]any{
			{"uri": "prx://skill/manifest", "name": "memory skill manifest", "mimeType": "application/json"},
		},
	}
}

func (d *Dispatcher) resourceTemplatesListResult() map[string]any {
	return map[string]any{
		"resourceTemplates": []map[string]any{
			{"uriTemplate": "prx://templates/memory-store{?text,category,scope,importance_level}", "name": "memory_store template", "mimeType": "application/json"},
			{"uriTemplate": "prx://templates/memory-store-dual{?symptom,cause,fix,prevention}", "name": "memory_store_dual template", "mimeType": "application/json"},
		},
	}
}

func (d *Dispatcher) handleResourcesRead(req Request) *Response {
	var params struct {
		URI string `json:"uri"`
	}
	if err := decodeArgs(req.Params, &params); err != nil {
		return ErrorResponse(req.ID, CodeInvalidParams, "invalid params: "+err.Error())
	}
	rendered, ok := renderResource(params.URI)
	if !ok {
		return ErrorResponse(req.ID, CodeInvalidParams, "unknown resource uri")
	}
	return Success(req.ID, map[string]any{
		"contents": []map[string]any{
			{"uri": params.URI, "mimeType": rendered.mimeType, "text": rendered.text},
		},
	})
}
