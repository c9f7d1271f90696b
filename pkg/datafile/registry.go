package datafile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance for capability records.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// BackendFactory builds a backend for one path. fields holds the format's
// resolved required fields (declared defaults already substituted);
// factories decode it into their typed option struct with mapstructure.
type BackendFactory func(ctx context.Context, path string, fields map[string]any) (Backend, error)

// Format pairs a capability record with the constructor for its backend.
// Format records are plain data; there is no inheritance-based dispatch.
type Format struct {
	// Name is the registry key ("raw_binary", "kvstore", ...).
	Name string `validate:"required"`

	// Caps is the static capability record for the format.
	Caps Capabilities `validate:"required"`

	// New constructs a backend bound to a path.
	New BackendFactory `validate:"required"`
}

// Registry maps format names and file extensions to registered formats.
// A single registry is typically built at startup with every compiled-in
// format and shared read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	formats map[string]Format
}

// NewRegistry creates an empty format registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]Format)}
}

// Register adds a format. The capability record is validated and duplicate
// names are rejected.
func (r *Registry) Register(f Format) error {
	if err := validate.Struct(f); err != nil {
		return formatValidationError(f.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.formats[f.Name]; exists {
		return fmt.Errorf("format %q is already registered", f.Name)
	}
	r.formats[f.Name] = f
	return nil
}

// Lookup returns a format by name.
func (r *Registry) Lookup(name string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.formats[name]
	return f, ok
}

// FindByExtension returns the first registered format accepting the
// extension (case-insensitive). Formats with extension checking disabled
// never match here; they must be selected by name.
func (r *Registry) FindByExtension(ext string) (Format, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedNames(r.formats) {
		f := r.formats[name]
		if f.Caps.Extensions == nil {
			continue
		}
		if f.Caps.AllowsExtension(ext) {
			return f, true
		}
	}
	return Format{}, false
}

// Names lists the registered format names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return sortedNames(r.formats)
}

// Open builds a validated DataFile for path. An empty format selects by the
// path's extension; otherwise the named format is used. Required fields are
// resolved from opts.FieldOverrides and the configuration before the backend
// is constructed.
func (r *Registry) Open(ctx context.Context, path string, format string, res Resolver, opts Options) (*DataFile, error) {
	var (
		f  Format
		ok bool
	)
	if format != "" {
		f, ok = r.Lookup(format)
		if !ok {
			return nil, &ConfigurationError{Path: path, Reason: fmt.Sprintf("unknown file format %q", format)}
		}
	} else {
		ext := filepath.Ext(path)
		f, ok = r.FindByExtension(ext)
		if !ok {
			return nil, &ConfigurationError{Path: path, Reason: fmt.Sprintf("no registered format accepts extension %q", ext)}
		}
	}

	fields, err := resolveRequiredFields(path, f.Caps, res, opts.FieldOverrides)
	if err != nil {
		log := opts.Logger
		if log == nil {
			log = defaultLogger{}
		}
		if isMaster(opts) {
			for _, line := range describeRequiredFields(f.Caps) {
				log.Info("%s", line)
			}
		}
		return nil, err
	}

	backend, err := f.New(ctx, path, fields)
	if err != nil {
		return nil, err
	}

	df, err := New(ctx, path, f.Caps, backend, res, opts)
	if err != nil {
		// The handle never existed; do not leak backend resources.
		_ = backend.Close()
		return nil, err
	}
	return df, nil
}

// resolveRequiredFields settles every declared field: explicit override
// first, then typed configuration lookup in the [data] section, then the
// declared default. A mandatory field (nil default) that resolves nowhere is
// a ConfigurationError; so is an override key the format never declared.
func resolveRequiredFields(path string, caps Capabilities, res Resolver, overrides map[string]any) (map[string]any, error) {
	for key := range overrides {
		if _, declared := caps.RequiredFields[key]; !declared {
			return nil, &ConfigurationError{
				Path:   path,
				Reason: fmt.Sprintf("override %q is not a declared field of the %s format", key, caps.Description),
			}
		}
	}

	fields := make(map[string]any, len(caps.RequiredFields))
	for key, spec := range caps.RequiredFields {
		if v, ok := overrides[key]; ok {
			fields[key] = v
			continue
		}

		v, err := lookupTyped(res, SectionData, key, spec.Type)
		if err == nil {
			fields[key] = v
			continue
		}
		if isNotFound(err) && spec.Default != nil {
			fields[key] = spec.Default
			continue
		}

		return nil, &ConfigurationError{
			Path:    path,
			Section: SectionData,
			Key:     key,
			Want:    string(spec.Type),
			Default: spec.Default,
			Err:     err,
		}
	}
	return fields, nil
}

func lookupTyped(res Resolver, section, key string, t FieldType) (any, error) {
	switch t {
	case IntField:
		return res.GetInt(section, key)
	case FloatField:
		return res.GetFloat(section, key)
	case BoolField:
		return res.GetBool(section, key)
	case StringField:
		return res.GetString(section, key)
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrParamNotFound)
}

// describeRequiredFields renders the per-format parameter table shown when
// resolution fails, so users see what the format expects.
func describeRequiredFields(caps Capabilities) []string {
	lines := []string{fmt.Sprintf("the parameters for the %s file format are:", strings.ToUpper(caps.Description))}
	for _, key := range sortedFieldNames(caps.RequiredFields) {
		spec := caps.RequiredFields[key]
		line := fmt.Sprintf("-- %s -- of type %s", key, spec.Type)
		if spec.Default == nil {
			line += " [** mandatory **]"
		} else {
			line += fmt.Sprintf(" [default is %v]", spec.Default)
		}
		lines = append(lines, line)
	}
	return lines
}

func isMaster(opts Options) bool {
	return opts.Rank == nil || opts.Rank.Rank() == 0
}

func sortedNames(formats map[string]Format) []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedFieldNames(fields map[string]FieldSpec) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatValidationError converts validator errors into readable messages.
func formatValidationError(name string, err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("format %q: %s failed %q validation (value: %v)", name, e.Namespace(), e.Tag(), e.Value())
	}
	return fmt.Errorf("format %q: %w", name, err)
}
