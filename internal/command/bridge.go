package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/nora/internal/provider"
	"github.com/nidhogg/nora/internal/tools"
)

// BridgeCommands registers every read-only command as a tool named
// "cmd_<name>" so lifecycle agents can call it. Each tool takes a single
// "args" string matching the command's usage. It returns the number of
// tools registered.
func BridgeCommands(reg *Registry, cc *CommandContext, toolReg *tools.Registry) int {
	n := 0
	for _, cmd := range reg.List() {
		if !cmd.ReadOnly {
			continue
		}
		c := cmd
		def := provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        "cmd_" + c.Name,
				Description: fmt.Sprintf("Slash command /%s: %s. Usage: %s", c.Name, c.Description, c.Usage),
				Parameters: map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"args": map[string]string{
							"type":        "string",
							"description": "Command arguments (everything after the command name)",
						},
					},
				},
			},
		}
		toolReg.Register(def, func(ctx context.Context, rawArgs string) (string, error) {
			var p struct {
				Args string `json:"args"`
			}
			if err := json.Unmarshal([]byte(rawArgs), &p); err != nil {
				p.Args = rawArgs
			}
			result, err := c.Handler(ctx, p.Args, cc)
			if err != nil {
				return "Error: " + err.Error(), nil
			}
			return result.Content, nil
		})
		n++
	}
	return n
}
