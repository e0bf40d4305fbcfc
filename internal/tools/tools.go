// ABOUTME: Assembles the builtin tools from their dependencies.
// ABOUTME: Tools whose dependency is absent are left out rather than failing at call time.

package tools

import (
	"net/http"

	"github.com/2389/relay-gateway/internal/instruction"
	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/toolgate"
)

// Deps holds what the builtin tools need.
type Deps struct {
	Notes         store.NoteStore
	Search        SearchProvider
	HTTPClient    *http.Client
	FetchMaxBytes int64
	Instructions  instruction.Source
}

// Builtins creates every builtin tool that deps can support.
// http_fetch is always included.
func Builtins(deps Deps) ([]*toolgate.Tool, error) {
	var out []*toolgate.Tool

	if deps.Notes != nil {
		notes, err := NotesTools(deps.Notes)
		if err != nil {
			return nil, err
		}
		out = append(out, notes...)
	}

	if deps.Search != nil {
		search, err := SearchTool(deps.Search)
		if err != nil {
			return nil, err
		}
		out = append(out, search)
	}

	fetch, err := FetchTool(deps.HTTPClient, deps.FetchMaxBytes)
	if err != nil {
		return nil, err
	}
	out = append(out, fetch)

	if deps.Instructions != nil {
		instr, err := InstructionsTool(deps.Instructions)
		if err != nil {
			return nil, err
		}
		out = append(out, instr)
	}

	return out, nil
}
