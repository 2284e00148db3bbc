package toolrunner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	domaintool "github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

// Manifest declares the tools a runner process serves. The runtime
// trusts the manifest for descriptors; the runner only executes.
type Manifest struct {
	Name  string         `yaml:"name"`
	Tools []ManifestTool `yaml:"tools"`
}

// ManifestTool is one remote tool declaration. Parameters is a JSON
// Schema written in YAML; an empty schema means no arguments.
type ManifestTool struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

// ParseManifest reads and validates a runner manifest.
func ParseManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is required")
	}
	seen := make(map[string]bool, len(m.Tools))
	for _, t := range m.Tools {
		if t.Name == "" {
			return fmt.Errorf("tool with empty name")
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate tool %s", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// RemoteTool proxies a manifest-declared tool to the runner.
type RemoteTool struct {
	desc   entity.Tool
	runner *Runner
}

func (t *RemoteTool) Descriptor() entity.Tool { return t.desc }

func (t *RemoteTool) Label() string { return t.desc.Name + " (remote)" }

func (t *RemoteTool) Execute(ctx context.Context, callID string, args jsonval.Value) (*domaintool.Result, error) {
	result, err := t.runner.Invoke(ctx, t.desc.Name, callID, args)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return nil, fmt.Errorf("%s", result.Text())
	}
	return &domaintool.Result{Content: result.Content, Details: result.Details}, nil
}

// RegisterManifest wraps every declared tool as a RemoteTool and adds
// it to reg.
func RegisterManifest(reg domaintool.Registry, runner *Runner, m *Manifest) error {
	for _, decl := range m.Tools {
		// A declaration without parameters takes no arguments; give it
		// the bare object schema so validation accepts an empty object.
		params := jsonval.Object(map[string]jsonval.Value{
			"type": jsonval.String("object"),
		})
		if decl.Parameters != nil {
			v, err := jsonval.FromAny(normalizeYAML(decl.Parameters))
			if err != nil {
				return fmt.Errorf("tool %s parameters: %w", decl.Name, err)
			}
			params = v
		}
		remote := &RemoteTool{
			desc: entity.Tool{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  params,
			},
			runner: runner,
		}
		if err := reg.Register(remote); err != nil {
			return err
		}
	}
	return nil
}

// normalizeYAML rewrites yaml.v3's map[any]any nodes into the
// map[string]any shape jsonval accepts.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	default:
		return v
	}
}
