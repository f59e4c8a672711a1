package agent

import "github.com/msgcode/msgcode/internal/providers"

// toolDefs returns the closed tool set as OpenAI function schemas.
func toolDefs() []providers.ToolDef {
	obj := func(props map[string]any, required ...string) map[string]any {
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	}
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}

	return []providers.ToolDef{
		{
			Name:        "read_file",
			Description: "Read a text file inside the workspace.",
			Parameters: obj(map[string]any{
				"path": str("File path, relative to the workspace root."),
			}, "path"),
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a file inside the workspace.",
			Parameters: obj(map[string]any{
				"path":    str("File path, relative to the workspace root."),
				"content": str("Full file content to write."),
			}, "path", "content"),
		},
		{
			Name:        "edit_file",
			Description: "Apply ordered text replacements to a file. Each oldText must match exactly once.",
			Parameters: obj(map[string]any{
				"path": str("File path, relative to the workspace root."),
				"edits": map[string]any{
					"type":        "array",
					"description": "Ordered patches applied top to bottom.",
					"items": obj(map[string]any{
						"oldText": str("Exact text to replace."),
						"newText": str("Replacement text."),
					}, "oldText", "newText"),
				},
			}, "path", "edits"),
		},
		{
			Name:        "bash",
			Description: "Run a shell command in the workspace directory and capture its output.",
			Parameters: obj(map[string]any{
				"command": str("Shell command to execute with sh -c."),
			}, "command"),
		},
		{
			Name:        "desktop",
			Description: "Control the desktop UI. Mutating methods need a confirm_token issued beforehand.",
			Parameters: obj(map[string]any{
				"method":        str("Desktop method, e.g. observe, screenshot, click, type."),
				"params":        map[string]any{"type": "object", "description": "Method parameters."},
				"confirm_token": str("Confirm token for mutating methods."),
			}, "method"),
		},
	}
}
