// Package prompts loads the embedded prompt templates. Each template is a
// markdown file with a YAML front matter block describing it, followed by a
// text/template body rendered with a flat variable map.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed templates/*.md
var templatesFS embed.FS

const frontMatterDelim = "---"

// Template is a parsed prompt template.
type Template struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Stage       string `yaml:"stage,omitempty"`

	body *template.Template
}

var (
	mu    sync.Mutex
	cache = map[string]*Template{}
)

// Load returns the named template, parsing it on first use.
func Load(name string) (*Template, error) {
	mu.Lock()
	defer mu.Unlock()

	if t, ok := cache[name]; ok {
		return t, nil
	}

	data, err := templatesFS.ReadFile("templates/" + name + ".md")
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", name, err)
	}

	t, err := parse(name, string(data))
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	cache[name] = t
	return t, nil
}

// MustLoad is Load for templates known to exist at build time.
func MustLoad(name string) *Template {
	t, err := Load(name)
	if err != nil {
		panic(err)
	}
	return t
}

func parse(name, raw string) (*Template, error) {
	t := &Template{Name: name}
	body := raw

	if strings.HasPrefix(raw, frontMatterDelim+"\n") {
		rest := raw[len(frontMatterDelim)+1:]
		end := strings.Index(rest, "\n"+frontMatterDelim)
		if end < 0 {
			return nil, fmt.Errorf("unterminated front matter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), t); err != nil {
			return nil, fmt.Errorf("front matter: %w", err)
		}
		body = strings.TrimPrefix(rest[end+len(frontMatterDelim)+1:], "\n")
	}

	tmpl, err := template.New(name).Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, err
	}
	t.body = tmpl
	return t, nil
}

// Render fills the template body with the given variables.
func (t *Template) Render(vars map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.body.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name, err)
	}
	return buf.String(), nil
}
