// ABOUTME: get_instructions tool serving text from the configured instruction source.
// ABOUTME: Registered only when an instruction path or URL is configured.

package tools

import (
	"context"

	"github.com/2389/relay-gateway/internal/instruction"
	"github.com/2389/relay-gateway/internal/toolgate"
)

// CategoryInstructions groups the instructions tool for timeout configuration.
const CategoryInstructions = "instructions"

type instructionsInput struct{}

// InstructionsTool creates get_instructions over src.
func InstructionsTool(src instruction.Source) (*toolgate.Tool, error) {
	return toolgate.NewTool("get_instructions", "Return the operator's current instructions for agents", CategoryInstructions,
		func(ctx context.Context, _ string, _ instructionsInput) (string, error) {
			return src.Instructions(ctx)
		})
}
