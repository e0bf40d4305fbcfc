// ABOUTME: Notes tools give agents key-value storage that survives across sessions.
// ABOUTME: Notes are scoped by the calling agent.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/relay-gateway/internal/store"
	"github.com/2389/relay-gateway/internal/toolgate"
)

// CategoryNotes groups the notes tools for timeout configuration.
const CategoryNotes = "notes"

type noteSetInput struct {
	Key   string `json:"key" jsonschema:"required,description=Note key"`
	Value string `json:"value" jsonschema:"required,description=Note value"`
}

type noteKeyInput struct {
	Key string `json:"key" jsonschema:"required,description=Note key"`
}

type noteListInput struct{}

type notesHandlers struct {
	store store.NoteStore
}

// NotesTools creates set_note, get_note, and list_notes.
func NotesTools(s store.NoteStore) ([]*toolgate.Tool, error) {
	n := &notesHandlers{store: s}

	set, err := toolgate.NewTool("set_note", "Store a note under a key, replacing any existing value", CategoryNotes, n.Set)
	if err != nil {
		return nil, err
	}
	get, err := toolgate.NewTool("get_note", "Retrieve a note by key", CategoryNotes, n.Get)
	if err != nil {
		return nil, err
	}
	list, err := toolgate.NewTool("list_notes", "List all stored notes", CategoryNotes, n.List)
	if err != nil {
		return nil, err
	}
	return []*toolgate.Tool{set, get, list}, nil
}

func (n *notesHandlers) Set(ctx context.Context, caller string, in noteSetInput) (string, error) {
	if err := n.store.SetNote(ctx, &store.Note{AgentID: caller, Key: in.Key, Value: in.Value}); err != nil {
		return "", err
	}
	return marshal(map[string]string{"key": in.Key, "status": "saved"})
}

func (n *notesHandlers) Get(ctx context.Context, caller string, in noteKeyInput) (string, error) {
	note, err := n.store.GetNote(ctx, caller, in.Key)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("note %q not found", in.Key)
	}
	if err != nil {
		return "", err
	}
	return marshal(map[string]string{"key": note.Key, "value": note.Value})
}

func (n *notesHandlers) List(ctx context.Context, caller string, _ noteListInput) (string, error) {
	notes, err := n.store.ListNotes(ctx, caller)
	if err != nil {
		return "", err
	}
	type entry struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	out := make([]entry, 0, len(notes))
	for _, note := range notes {
		out = append(out, entry{Key: note.Key, Value: note.Value})
	}
	return marshal(map[string]any{"notes": out, "count": len(out)})
}

func marshal(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
