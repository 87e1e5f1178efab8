package tasks

func objectSchema(properties map[string]any) map[string]any {
	req := make([]any, 0, len(properties))
	for _, k := range sortedKeys(properties) {
		req = append(req, k)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             req,
		"additionalProperties": false,
	}
}

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func boolSchema() map[string]any { return map[string]any{"type": "boolean"} }

func intSchema() map[string]any { return map[string]any{"type": "integer"} }

func stringArraySchema() map[string]any {
	return map[string]any{"type": "array", "items": stringSchema()}
}

// singleString is the {"<key>": "..."} envelope used by the short text fields.
func singleString(key string) func() map[string]any {
	return func() map[string]any {
		return objectSchema(map[string]any{key: stringSchema()})
	}
}

func roleContextSchema() map[string]any {
	return objectSchema(map[string]any{
		"sparky_role":            stringSchema(),
		"focus_mode":             stringSchema(),
		"hints_enabled":          boolSchema(),
		"spiral_emphasis":        stringArraySchema(),
		"encouragement_triggers": stringArraySchema(),
		"max_hints":              intSchema(),
		"wait_time_seconds":      intSchema(),
	})
}
