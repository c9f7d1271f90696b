package datafile

import "strings"

// FieldType declares how a required field is read from the configuration.
type FieldType string

const (
	IntField    FieldType = "int"
	FloatField  FieldType = "float"
	StringField FieldType = "string"
	BoolField   FieldType = "bool"
)

// FieldSpec describes one format-specific parameter: the type it must be
// read as and an optional default. A nil Default makes the field mandatory;
// failing to resolve it is a ConfigurationError.
type FieldSpec struct {
	Type    FieldType
	Default any
}

// Capabilities is the static per-format capability record consulted by the
// registry and by the orchestrating pipeline.
//
// The record is a plain data value: formats declare it once at registration
// and it never changes for the lifetime of the process. Downstream stages
// use Writable and ParallelWritable to decide execution strategy, e.g.
// whether filtering workers may shard writes across processes.
type Capabilities struct {
	// Description is a short human-readable format name used in
	// diagnostics ("raw_binary", "kvstore", ...).
	Description string `validate:"required"`

	// Extensions is the set of accepted file extensions, compared
	// case-insensitively and including the leading dot. A nil slice
	// disables extension checking entirely.
	Extensions []string `validate:"omitempty,dive,startswith=."`

	// Writable reports whether the format supports SetData/Allocate.
	Writable bool

	// ParallelWritable reports whether concurrent writers on disjoint time
	// ranges are safe without external coordination.
	ParallelWritable bool

	// RequiredFields maps configuration keys (looked up in the [data]
	// section) to their type and optional default.
	RequiredFields map[string]FieldSpec
}

// AllowsExtension reports whether ext (with leading dot) is acceptable.
// Nil Extensions means every extension is accepted.
func (c Capabilities) AllowsExtension(ext string) bool {
	if c.Extensions == nil {
		return true
	}
	for _, allowed := range c.Extensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}
