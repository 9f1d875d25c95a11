package tool

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/taskgate/internal/task"
)

//go:embed catalogue.schema.json
var catalogueSchemaJSON []byte

//go:embed builtin.yaml
var builtinCatalogueYAML []byte

// CatalogueFile is the on-disk YAML schema of a tool catalogue.
type CatalogueFile struct {
	Version int         `yaml:"version"`
	Tools   []ToolEntry `yaml:"tools"`
}

// ToolEntry is one tool in a catalogue file.
type ToolEntry struct {
	Name           string   `yaml:"name"`
	Description    string   `yaml:"description,omitempty"`
	WorkStates     []string `yaml:"work_states,omitempty"`
	DispatchState  string   `yaml:"dispatch_state,omitempty"`
	WorkState      string   `yaml:"work_state,omitempty"`
	TerminalState  string   `yaml:"terminal_state,omitempty"`
	InitialState   string   `yaml:"initial_state,omitempty"`
	EntryStatuses  []string `yaml:"entry_statuses,omitempty"`
	ExitStatus     string   `yaml:"exit_status,omitempty"`
	RequiredStatus string   `yaml:"required_status,omitempty"`
	AutoDispatch   bool     `yaml:"auto_dispatch,omitempty"`
	ContextLoader  string   `yaml:"context_loader,omitempty"`
	Validator      string   `yaml:"validator,omitempty"`
	DependsOn      string   `yaml:"depends_on,omitempty"`
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func catalogueSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal(catalogueSchemaJSON, &doc); err != nil {
			schemaErr = fmt.Errorf("tool: unmarshal catalogue schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("catalogue.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("tool: add catalogue schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("catalogue.schema.json")
	})
	return compiledSchema, schemaErr
}

// ParseCatalogue validates YAML catalogue bytes against the catalogue schema
// and converts every entry into a Definition, resolving hook names.
func ParseCatalogue(data []byte, hooks Hooks) ([]Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("tool: catalogue payload is empty")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tool: decode catalogue: %w", err)
	}
	instance, err := jsonCompatible(raw)
	if err != nil {
		return nil, fmt.Errorf("tool: decode catalogue: %w", err)
	}
	schema, err := catalogueSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("tool: catalogue does not match schema: %w", err)
	}
	var file CatalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("tool: decode catalogue: %w", err)
	}
	defs := make([]Definition, 0, len(file.Tools))
	for idx, entry := range file.Tools {
		def, err := entry.definition(hooks)
		if err != nil {
			return nil, fmt.Errorf("tool: catalogue tools[%d] %s: %w", idx, entry.Name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadCatalogueReader reads catalogue data from an io.Reader.
func LoadCatalogueReader(r io.Reader, hooks Hooks) ([]Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("tool: read catalogue: %w", err)
	}
	return ParseCatalogue(content, hooks)
}

// LoadCatalogueFile loads a catalogue from an explicit file path.
func LoadCatalogueFile(path string, hooks Hooks) ([]Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tool: read %s: %w", path, err)
	}
	defs, parseErr := ParseCatalogue(content, hooks)
	if parseErr != nil {
		return nil, fmt.Errorf("tool: %s: %w", path, parseErr)
	}
	return defs, nil
}

// BuiltinCatalogue returns the embedded plan/develop/review/test/finalize
// catalogue wired to BuiltinHooks.
func BuiltinCatalogue() ([]Definition, error) {
	return ParseCatalogue(builtinCatalogueYAML, BuiltinHooks())
}

// BuiltinCatalogueYAML exposes the embedded catalogue source.
func BuiltinCatalogueYAML() []byte {
	return append([]byte(nil), builtinCatalogueYAML...)
}

// RegisterAll registers defs in order and freezes the registry.
func RegisterAll(reg *Registry, defs []Definition) error {
	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return reg.Freeze()
}

func (e ToolEntry) definition(hooks Hooks) (Definition, error) {
	def := Definition{
		Name:              strings.TrimSpace(e.Name),
		Description:       strings.TrimSpace(e.Description),
		WorkStates:        append([]string(nil), e.WorkStates...),
		DispatchState:     e.DispatchState,
		WorkState:         e.WorkState,
		TerminalState:     e.TerminalState,
		InitialState:      e.InitialState,
		ExitStatus:        task.Status(e.ExitStatus),
		RequiredStatus:    task.Status(e.RequiredStatus),
		AutoDispatch:      e.AutoDispatch,
		DependsOn:         e.DependsOn,
		ContextLoaderName: e.ContextLoader,
		ValidatorName:     e.Validator,
	}
	for _, s := range e.EntryStatuses {
		def.EntryStatuses = append(def.EntryStatuses, task.Status(s))
	}
	if e.ContextLoader != "" {
		fn, err := hooks.loader(e.ContextLoader)
		if err != nil {
			return Definition{}, err
		}
		def.ContextLoader = fn
	}
	if e.Validator != "" {
		fn, err := hooks.validator(e.Validator)
		if err != nil {
			return Definition{}, err
		}
		def.Validator = fn
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// jsonCompatible round-trips YAML-decoded data through encoding/json so the
// schema validator sees the same types it would for a JSON document.
func jsonCompatible(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
