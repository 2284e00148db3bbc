// Package tool defines the executable tool abstraction and its registry.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

// Tool is one executable capability exposed to the model.
type Tool interface {
	// Descriptor returns the definition the model sees.
	Descriptor() entity.Tool
	// Label names the tool for operators.
	Label() string
	// Execute runs one call. It may block arbitrarily long; failures
	// become error tool results, never fatal conditions.
	Execute(ctx context.Context, callID string, args jsonval.Value) (*Result, error)
}

// Result is a successful execution outcome.
type Result struct {
	Content []entity.ContentBlock
	Details jsonval.Value
}

// TextResult wraps plain text into a Result.
func TextResult(text string) *Result {
	return &Result{
		Content: []entity.ContentBlock{entity.TextBlock(text)},
		Details: jsonval.Object(nil),
	}
}

// Registry resolves tools by name.
type Registry interface {
	Register(t Tool) error
	Unregister(name string) error
	Get(name string) (Tool, bool)
	// Descriptors lists definitions in registration order.
	Descriptors() []entity.Tool
}

// InMemoryRegistry is the process-local Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Descriptor().Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool %s not found", name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, exists := r.tools[name]
	return t, exists
}

func (r *InMemoryRegistry) Descriptors() []entity.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]entity.Tool, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Descriptor())
	}
	return defs
}

// Invoke resolves name in reg, validates args against the descriptor
// schema, and executes. A missing tool fails with unsupported; a schema
// mismatch fails with decoding.
func Invoke(ctx context.Context, reg Registry, callID, name string, args jsonval.Value) (*Result, error) {
	t, ok := reg.Get(name)
	if !ok {
		return nil, errors.Unsupportedf("Tool %s not found", name)
	}
	if err := jsonval.ValidateArgs(t.Descriptor().Parameters, args); err != nil {
		return nil, err
	}
	return t.Execute(ctx, callID, args)
}

// Func adapts a plain function into a Tool.
type Func struct {
	Desc entity.Tool
	Name string
	Fn   func(ctx context.Context, callID string, args jsonval.Value) (*Result, error)
}

func (f *Func) Descriptor() entity.Tool { return f.Desc }

func (f *Func) Label() string {
	if f.Name != "" {
		return f.Name
	}
	return f.Desc.Name
}

func (f *Func) Execute(ctx context.Context, callID string, args jsonval.Value) (*Result, error) {
	return f.Fn(ctx, callID, args)
}
