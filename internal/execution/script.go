package execution

import (
	"fmt"
	"os"
	"sync"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

// ScriptModifier runs a tengo script per modification. The script reads
// `base`, `source_tags` and `target_tags` and assigns `result`; when it leaves
// `result` untouched the base passes through.
type ScriptModifier struct {
	name     string
	mu       sync.Mutex
	compiled *tengo.Compiled
}

// CompileScript compiles src once. Each Modify runs on a clone so the
// modifier can be shared across goroutines.
func CompileScript(name string, src []byte) (*ScriptModifier, error) {
	script := tengo.NewScript(src)
	_ = script.Add("base", 0.0)
	_ = script.Add("source_tags", []any{})
	_ = script.Add("target_tags", []any{})
	_ = script.Add("result", nil)
	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, fmt.Errorf("compile modifier %s: %w", name, err)
	}
	return &ScriptModifier{name: name, compiled: compiled}, nil
}

// LoadScript reads and compiles a modifier script from disk.
func LoadScript(path string) (*ScriptModifier, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read modifier script: %w", err)
	}
	return CompileScript(path, src)
}

func (m *ScriptModifier) Name() string {
	return m.name
}

func (m *ScriptModifier) Modify(base float64, params Params) (float64, error) {
	m.mu.Lock()
	run := m.compiled.Clone()
	m.mu.Unlock()

	if err := run.Set("base", base); err != nil {
		return base, err
	}
	if err := run.Set("source_tags", tagList(params.SourceTags.Strings())); err != nil {
		return base, err
	}
	if err := run.Set("target_tags", tagList(params.TargetTags.Strings())); err != nil {
		return base, err
	}
	if err := run.Set("result", nil); err != nil {
		return base, err
	}
	if err := run.Run(); err != nil {
		return base, fmt.Errorf("run modifier %s: %w", m.name, err)
	}
	result := run.Get("result")
	if result.IsUndefined() {
		return base, nil
	}
	switch v := result.Value().(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return base, fmt.Errorf("modifier %s: result must be a number, got %s", m.name, result.ValueType())
	}
}

func tagList(names []string) []any {
	out := make([]any, len(names))
	for i, name := range names {
		out[i] = name
	}
	return out
}
