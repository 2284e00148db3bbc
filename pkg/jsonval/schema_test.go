package jsonval

import (
	"testing"

	"github.com/skiff-ai/skiff/pkg/errors"
)

func echoSchema() Value {
	return MustFromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "number"},
			"flags": map[string]any{"type": "array"},
		},
		"required": []any{"text"},
	})
}

func TestValidateArgsAccepts(t *testing.T) {
	args := MustFromAny(map[string]any{
		"text":  "hi",
		"count": float64(2),
		"extra": "unknown keys are fine",
	})
	if err := ValidateArgs(echoSchema(), args); err != nil {
		t.Errorf("expected accept, got %v", err)
	}
}

func TestValidateArgsMissingRequired(t *testing.T) {
	args := MustFromAny(map[string]any{"count": float64(2)})
	err := ValidateArgs(echoSchema(), args)
	if err == nil {
		t.Fatal("expected error for missing required property")
	}
	if !errors.IsDecoding(err) {
		t.Errorf("expected decoding kind, got %v", errors.KindOf(err))
	}
}

func TestValidateArgsTypeMismatch(t *testing.T) {
	args := MustFromAny(map[string]any{"text": float64(7)})
	err := ValidateArgs(echoSchema(), args)
	if err == nil {
		t.Fatal("expected error for type mismatch")
	}
	if !errors.IsDecoding(err) {
		t.Errorf("expected decoding kind, got %v", errors.KindOf(err))
	}
}

func TestValidateArgsNonObjectArgs(t *testing.T) {
	err := ValidateArgs(echoSchema(), String("not an object"))
	if err == nil || !errors.IsDecoding(err) {
		t.Errorf("expected decoding error, got %v", err)
	}
}

func TestValidateArgsUnknownDeclaredType(t *testing.T) {
	schema := MustFromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"n": map[string]any{"type": "integer"},
		},
	})
	args := MustFromAny(map[string]any{"n": float64(1)})
	err := ValidateArgs(schema, args)
	if err == nil || !errors.IsUnsupported(err) {
		t.Errorf("expected unsupported error for integer type, got %v", err)
	}
}

func TestValidateArgsNonObjectRoot(t *testing.T) {
	schema := MustFromAny(map[string]any{"type": "string"})
	err := ValidateArgs(schema, Object(nil))
	if err == nil || !errors.IsUnsupported(err) {
		t.Errorf("expected unsupported error for non-object root, got %v", err)
	}
}

func TestValidateArgsPropertyWithoutType(t *testing.T) {
	schema := MustFromAny(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"anything": map[string]any{"description": "untyped"},
		},
	})
	args := MustFromAny(map[string]any{"anything": []any{"ok"}})
	if err := ValidateArgs(schema, args); err != nil {
		t.Errorf("untyped property should pass, got %v", err)
	}
}
