package scripts

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/rendis/skillscript/internal/validation"
	"github.com/rendis/skillscript/pkg/schema"
)

// Library holds the script documents of one folder, keyed by lower-cased
// file name without extension.
type Library struct {
	dir       string
	logger    *slog.Logger
	validator *validation.ScriptValidator

	mu      sync.RWMutex
	scripts map[string]*schema.ScriptDefinition
	skipped map[string]string
}

// Option configures a Library.
type Option func(*Library)

// WithLogger sets the logger used for skipped-file warnings.
func WithLogger(l *slog.Logger) Option {
	return func(lib *Library) {
		if l != nil {
			lib.logger = l
		}
	}
}

// WithValidator rejects documents whose validation result carries errors.
func WithValidator(v *validation.ScriptValidator) Option {
	return func(lib *Library) { lib.validator = v }
}

// NewLibrary creates an empty library over dir. Call Load to read it.
func NewLibrary(dir string, opts ...Option) *Library {
	lib := &Library{
		dir:     dir,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		scripts: make(map[string]*schema.ScriptDefinition),
		skipped: make(map[string]string),
	}
	for _, opt := range opts {
		opt(lib)
	}
	return lib
}

// Dir returns the scripts folder.
func (l *Library) Dir() string { return l.dir }

// Load (re)reads every *.yml and *.yaml file in the folder and returns how
// many scripts were loaded. Empty, undecodable or invalid files are skipped
// with a warning; a missing folder is an error.
func (l *Library) Load(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, schema.NewErrorf(schema.ErrCodeNotFound, "scripts folder %q does not exist", l.dir).WithCause(err)
		}
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "read scripts folder %q: %s", l.dir, err.Error()).WithCause(err)
	}

	loaded := make(map[string]*schema.ScriptDefinition)
	skipped := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if entry.IsDir() || !isScriptFile(entry.Name()) {
			continue
		}
		name := ScriptName(entry.Name())
		if _, dup := loaded[name]; dup {
			skipped[entry.Name()] = "duplicate script name " + name
			l.logger.WarnContext(ctx, "duplicate script skipped", slog.String("file", entry.Name()))
			continue
		}

		def, err := l.loadFile(filepath.Join(l.dir, entry.Name()), name)
		if err != nil {
			skipped[entry.Name()] = err.Error()
			l.logger.WarnContext(ctx, "script skipped",
				slog.String("file", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		loaded[name] = def
	}

	l.mu.Lock()
	l.scripts = loaded
	l.skipped = skipped
	l.mu.Unlock()

	l.logger.InfoContext(ctx, "scripts loaded",
		slog.String("dir", l.dir),
		slog.Int("count", len(loaded)),
		slog.Int("skipped", len(skipped)),
	)
	return len(loaded), nil
}

func (l *Library) loadFile(path, name string) (*schema.ScriptDefinition, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	if l.validator != nil {
		if res := l.validator.ValidateDocument(name, doc); !res.Valid() {
			return nil, res.ToError()
		}
	}
	return schema.ParseScript(name, doc)
}

// ReadDocument decodes one YAML script file into a JSON-shaped mapping.
func ReadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "read %s: %s", filepath.Base(path), err.Error()).WithCause(err)
	}
	return DecodeDocument(data)
}

// DecodeDocument decodes YAML script text.
func DecodeDocument(data []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "script document is empty")
	}
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "decode yaml: %s", err.Error()).WithCause(err)
	}
	doc, ok := schema.Normalize(raw).(map[string]any)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "script document must be a mapping of trigger names to step lists")
	}
	if len(doc) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "script document is empty")
	}
	return doc, nil
}

// Get returns a script by case-insensitive name.
func (l *Library) Get(name string) (*schema.ScriptDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.scripts[strings.ToLower(name)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q not found", name)
	}
	return def, nil
}

// Steps returns the step list of one trigger of a script. An empty trigger
// means schema.DefaultTrigger.
func (l *Library) Steps(name, trigger string) ([]schema.StepRecord, error) {
	def, err := l.Get(name)
	if err != nil {
		return nil, err
	}
	if trigger == "" {
		trigger = schema.DefaultTrigger
	}
	steps, ok := def.Steps(trigger)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "script %q has no trigger %q", def.Name, trigger).
			WithDetails(map[string]any{"triggers": def.TriggerNames()})
	}
	return steps, nil
}

// Names returns the loaded script names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.scripts))
	for name := range l.scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded scripts.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.scripts)
}

// Skipped returns the files rejected by the last Load with their reason.
func (l *Library) Skipped() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.skipped))
	for k, v := range l.skipped {
		out[k] = v
	}
	return out
}

// ScriptName derives a script name from a file name.
func ScriptName(file string) string {
	base := filepath.Base(file)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

func isScriptFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml":
		return true
	default:
		return false
	}
}
