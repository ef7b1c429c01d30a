// internal/infra/prompts/prompts.go
package prompts

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"harkness_helper/internal/domain/settings"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type file struct {
	Prompts []struct {
		Name string `yaml:"name"`
		Text string `yaml:"text"`
	} `yaml:"prompts"`
}

// Library resolves prompt templates: a teacher override from the store when
// present, else the built-in default.
type Library struct {
	store    settings.Repository
	defaults map[string]string
}

// NewLibrary parses the embedded defaults.
func NewLibrary(store settings.Repository) (*Library, error) {
	defaults, err := parse(defaultsYAML)
	if err != nil {
		return nil, err
	}
	return &Library{store: store, defaults: defaults}, nil
}

func parse(raw []byte) (map[string]string, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse prompt defaults: %w", err)
	}
	out := make(map[string]string, len(f.Prompts))
	for _, p := range f.Prompts {
		out[p.Name] = strings.TrimRight(p.Text, "\n")
	}
	return out, nil
}

// Defaults returns the built-in templates, for seeding a new store.
func (l *Library) Defaults() map[string]string {
	out := make(map[string]string, len(l.defaults))
	for k, v := range l.defaults {
		out[k] = v
	}
	return out
}

// Template returns the active text of a prompt.
func (l *Library) Template(ctx context.Context, name string) (string, error) {
	if l.store != nil {
		text, err := l.store.GetPrompt(ctx, name)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, settings.ErrPromptNotFound) {
			return "", fmt.Errorf("load prompt %s: %w", name, err)
		}
	}
	text, ok := l.defaults[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", settings.ErrPromptNotFound, name)
	}
	return text, nil
}

// Render fills {placeholder} variables of the named template. Unknown
// placeholders are left as they are.
func (l *Library) Render(ctx context.Context, name string, vars map[string]string) (string, error) {
	text, err := l.Template(ctx, name)
	if err != nil {
		return "", err
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}
