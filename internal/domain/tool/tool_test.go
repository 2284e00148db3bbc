package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

func echoTool() Tool {
	return &Func{
		Desc: entity.Tool{
			Name:        "echo",
			Description: "Echo text back.",
			Parameters: jsonval.MustFromAny(map[string]any{
				"type":     "object",
				"required": []any{"text"},
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
			}),
		},
		Fn: func(ctx context.Context, callID string, args jsonval.Value) (*Result, error) {
			text, _ := args.Get("text")
			s, _ := text.AsString()
			return TextResult(s), nil
		},
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewInMemoryRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(echoTool()); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRegistry_DescriptorsKeepOrder(t *testing.T) {
	reg := NewInMemoryRegistry()
	names := []string{"zulu", "alpha", "mike"}
	for _, name := range names {
		err := reg.Register(&Func{
			Desc: entity.Tool{Name: name, Parameters: jsonval.MustFromAny(map[string]any{"type": "object"})},
			Fn: func(ctx context.Context, callID string, args jsonval.Value) (*Result, error) {
				return TextResult("ok"), nil
			},
		})
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	defs := reg.Descriptors()
	for i, name := range names {
		if defs[i].Name != name {
			t.Fatalf("descriptor order broken: got %v", defs)
		}
	}

	if err := reg.Unregister("alpha"); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	defs = reg.Descriptors()
	if len(defs) != 2 || defs[0].Name != "zulu" || defs[1].Name != "mike" {
		t.Fatalf("unexpected descriptors after unregister: %v", defs)
	}
}

func TestInvoke_MissingTool(t *testing.T) {
	reg := NewInMemoryRegistry()
	_, err := Invoke(context.Background(), reg, "c1", "nope", jsonval.Object(nil))
	if !errors.IsUnsupported(err) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Tool nope not found") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestInvoke_SchemaGate(t *testing.T) {
	reg := NewInMemoryRegistry()
	if err := reg.Register(echoTool()); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := Invoke(context.Background(), reg, "c1", "echo",
		jsonval.MustFromAny(map[string]any{"text": "hi"}))
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "hi" {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Missing required key fails before execution.
	_, err = Invoke(context.Background(), reg, "c2", "echo", jsonval.Object(nil))
	if !errors.IsDecoding(err) {
		t.Fatalf("expected decoding error for missing key, got %v", err)
	}

	// Wrong top-level type fails the same way.
	_, err = Invoke(context.Background(), reg, "c3", "echo",
		jsonval.MustFromAny(map[string]any{"text": 7}))
	if !errors.IsDecoding(err) {
		t.Fatalf("expected decoding error for type mismatch, got %v", err)
	}
}
