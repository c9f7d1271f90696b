package datafile

// Resolver is the configuration lookup service consumed by the data-access
// layer. Keys are addressed by (section, key); each getter converts the
// stored value to the requested type.
//
// Error contract:
//   - a missing key wraps ErrParamNotFound
//   - a present but unconvertible value is a *ParamTypeError
//
// The canonical implementation is pkg/params (viper-backed parameter files);
// tests substitute counting mocks to verify resolution happens exactly once.
type Resolver interface {
	GetInt(section, key string) (int, error)
	GetFloat(section, key string) (float64, error)
	GetString(section, key string) (string, error)
	GetBool(section, key string) (bool, error)
}
