package providers

// Anthropic tool input schemas reject references; the fixed browser tool
// set never uses them, but definitions can come from config overrides.
var anthropicUnsupportedKeys = map[string]bool{"$ref": true, "$defs": true, "$schema": true}

// CleanToolSchemas returns a copy of tools with provider-incompatible JSON
// Schema keys removed. Providers without restrictions get tools unchanged.
func CleanToolSchemas(providerName string, tools []ToolDefinition) []ToolDefinition {
	if providerName != "anthropic" || len(tools) == 0 {
		return tools
	}
	out := make([]ToolDefinition, len(tools))
	for i, t := range tools {
		out[i] = t
		out[i].Function.Parameters = cleanSchema(t.Function.Parameters, anthropicUnsupportedKeys)
	}
	return out
}

func cleanSchema(schema map[string]interface{}, drop map[string]bool) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if drop[k] {
			continue
		}
		out[k] = cleanValue(v, drop)
	}
	return out
}

func cleanValue(v interface{}, drop map[string]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return cleanSchema(val, drop)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cleanValue(item, drop)
		}
		return out
	default:
		return v
	}
}
