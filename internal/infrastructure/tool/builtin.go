// Package tool provides the builtin local tools registered alongside
// any remote manifest tools, so a session is exercisable end-to-end
// without a runner.
package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	domaintool "github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/pkg/jsonval"
)

const maxReadBytes = 256 * 1024

// RegisterBuiltins adds the local tool set to reg. workspaceRoot bounds
// read_file; empty disables it.
func RegisterBuiltins(reg domaintool.Registry, workspaceRoot string) error {
	builtins := []domaintool.Tool{
		NewEchoTool(),
		NewCurrentTimeTool(),
	}
	if workspaceRoot != "" {
		builtins = append(builtins, NewReadFileTool(workspaceRoot))
	}
	for _, t := range builtins {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// NewEchoTool returns a tool that echoes its text argument.
func NewEchoTool() domaintool.Tool {
	return &domaintool.Func{
		Desc: entity.Tool{
			Name:        "echo",
			Description: "Echo the given text back verbatim.",
			Parameters: jsonval.MustFromAny(map[string]any{
				"type":     "object",
				"required": []any{"text"},
				"properties": map[string]any{
					"text": map[string]any{
						"type":        "string",
						"description": "Text to echo.",
					},
				},
			}),
		},
		Fn: func(ctx context.Context, callID string, args jsonval.Value) (*domaintool.Result, error) {
			return domaintool.TextResult(args.StringOr("text", "")), nil
		},
	}
}

// NewCurrentTimeTool returns a tool reporting the current time, in UTC
// or a named IANA zone.
func NewCurrentTimeTool() domaintool.Tool {
	return &domaintool.Func{
		Desc: entity.Tool{
			Name:        "current_time",
			Description: "Get the current date and time.",
			Parameters: jsonval.MustFromAny(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"timezone": map[string]any{
						"type":        "string",
						"description": "IANA timezone name. Defaults to UTC.",
					},
				},
			}),
		},
		Fn: func(ctx context.Context, callID string, args jsonval.Value) (*domaintool.Result, error) {
			loc := time.UTC
			if name := args.StringOr("timezone", ""); name != "" {
				parsed, err := time.LoadLocation(name)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", name)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return &domaintool.Result{
				Content: []entity.ContentBlock{entity.TextBlock(now.Format(time.RFC3339))},
				Details: jsonval.MustFromAny(map[string]any{
					"unix":     float64(now.Unix()),
					"timezone": loc.String(),
				}),
			}, nil
		},
	}
}

// NewReadFileTool returns a tool that reads files under root. Paths are
// resolved and checked against root, so traversal cannot escape it.
func NewReadFileTool(root string) domaintool.Tool {
	return &domaintool.Func{
		Desc: entity.Tool{
			Name:        "read_file",
			Description: "Read a text file from the workspace.",
			Parameters: jsonval.MustFromAny(map[string]any{
				"type":     "object",
				"required": []any{"path"},
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "Path relative to the workspace root.",
					},
				},
			}),
		},
		Fn: func(ctx context.Context, callID string, args jsonval.Value) (*domaintool.Result, error) {
			rel := args.StringOr("path", "")
			if rel == "" {
				return nil, fmt.Errorf("path is required")
			}
			resolved, err := resolveUnder(root, rel)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(resolved)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", rel, err)
			}
			truncated := false
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
				truncated = true
			}
			return &domaintool.Result{
				Content: []entity.ContentBlock{entity.TextBlock(string(data))},
				Details: jsonval.MustFromAny(map[string]any{
					"path":      rel,
					"truncated": truncated,
				}),
			}, nil
		},
	}
}

func resolveUnder(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(filepath.Join(absRoot, rel))
	if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return resolved, nil
}
