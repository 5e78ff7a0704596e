// Package emailqueue renders the per-user digest email from a slate
// and hands the structured record to the repository queue. Rendering
// uses Liquid templates with a compiled-template cache; an optional
// LLM subject generator runs under a hard time budget with a
// deterministic fallback.
package emailqueue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer compiles and renders Liquid templates. Compiled templates
// are cached forever; template files change only with deploys.
type Renderer struct {
	engine *liquid.Engine
	dir    string
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer rooted at the template directory and
// registers the custom filters the digest templates use.
func NewRenderer(dir string) *Renderer {
	r := &Renderer{
		engine: liquid.NewEngine(),
		dir:    dir,
	}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ job.min_salary | yen }}
	r.engine.RegisterFilter("yen", func(value interface{}) string {
		n, ok := value.(int)
		if !ok {
			return fmt.Sprintf("%v", value)
		}
		return fmt.Sprintf("¥%s", groupDigits(n))
	})
}

// Render parses (or reuses) the named template file and renders it
// against bindings.
func (r *Renderer) Render(name string, bindings map[string]interface{}) (string, error) {
	tpl, err := r.template(name)
	if err != nil {
		return "", err
	}
	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return out, nil
}

func (r *Renderer) template(name string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(name); ok {
		return cached.(*liquid.Template), nil
	}
	raw, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	tpl, err := r.engine.ParseTemplate(raw)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	r.cache.Store(name, tpl)
	return tpl, nil
}

// groupDigits inserts thousands separators into a non-negative amount.
func groupDigits(n int) string {
	if n < 0 {
		return fmt.Sprintf("%d", n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
