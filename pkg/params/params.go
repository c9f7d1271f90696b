// Package params implements the configuration resolver over SpyKing-Circus
// style parameter files.
//
// Parameter files are sectioned key/value documents. The native format is
// INI ([data], [detection], ... sections); YAML and TOML files are accepted
// as well, with top-level mappings acting as sections. Loading and format
// detection are delegated to viper.
//
// The package satisfies datafile.Resolver: typed getters keyed by
// (section, key), where a missing key wraps datafile.ErrParamNotFound and a
// present-but-mistyped value is a *datafile.ParamTypeError. That distinction
// drives default substitution during data-file construction.
package params

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/McKenzieNeuro/spyking-circus/pkg/datafile"
)

// File is one loaded parameter file.
type File struct {
	v    *viper.Viper
	path string
}

// Load reads a parameter file. The format is inferred from the extension;
// .params and .conf files are treated as INI.
func Load(path string) (*File, error) {
	v := viper.New()
	v.SetConfigFile(path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".params", ".conf", ".ini":
		v.SetConfigType("ini")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read parameter file %s: %w", path, err)
	}

	return &File{v: v, path: path}, nil
}

// Path returns the loaded file's path.
func (f *File) Path() string { return f.path }

// Has reports whether a key exists, without any type conversion.
func (f *File) Has(section, key string) bool {
	return f.v.IsSet(section + "." + key)
}

func (f *File) raw(section, key string) (any, error) {
	full := section + "." + key
	if !f.v.IsSet(full) {
		return nil, fmt.Errorf("%s.%s: %w", section, key, datafile.ErrParamNotFound)
	}
	return f.v.Get(full), nil
}

// GetInt returns an integer value. INI stores everything as strings, so
// numeric strings are parsed; floats are accepted only when integral.
func (f *File) GetInt(section, key string) (int, error) {
	raw, err := f.raw(section, key)
	if err != nil {
		return 0, err
	}

	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int(v), nil
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n, nil
		}
	}
	return 0, &datafile.ParamTypeError{Section: section, Key: key, Want: "int", Value: raw}
}

// GetFloat returns a floating-point value.
func (f *File) GetFloat(section, key string) (float64, error) {
	raw, err := f.raw(section, key)
	if err != nil {
		return 0, err
	}

	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		if x, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return x, nil
		}
	}
	return 0, &datafile.ParamTypeError{Section: section, Key: key, Want: "float", Value: raw}
}

// GetString returns a scalar value as a string.
func (f *File) GetString(section, key string) (string, error) {
	raw, err := f.raw(section, key)
	if err != nil {
		return "", err
	}

	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int64, float64:
		return fmt.Sprintf("%v", v), nil
	}
	return "", &datafile.ParamTypeError{Section: section, Key: key, Want: "string", Value: raw}
}

// GetBool returns a boolean value. The usual INI spellings (true/false,
// yes/no, on/off, 1/0) are accepted.
func (f *File) GetBool(section, key string) (bool, error) {
	raw, err := f.raw(section, key)
	if err != nil {
		return false, err
	}

	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true, nil
		case "false", "no", "off", "0":
			return false, nil
		}
	}
	return false, &datafile.ParamTypeError{Section: section, Key: key, Want: "bool", Value: raw}
}

// compile-time interface check
var _ datafile.Resolver = (*File)(nil)
