package config

// Option defines a configuration option that can be passed to Load
type Option func(*options)

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	searchDirs []string
}

// WithConfigFile specifies an explicit configuration file path. It takes
// precedence over the search path but not over --config.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "SENSORPIPE"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithSearchDirs replaces the directories searched for sensorpipe.toml.
func WithSearchDirs(dirs ...string) Option {
	return func(o *options) {
		o.searchDirs = dirs
	}
}

// SourceType selects where sensor events come from.
type SourceType string

const (
	SourceSimulated SourceType = "simulated"
	SourceSerial    SourceType = "serial"
)

// IsValid returns whether the source type is known
func (s SourceType) IsValid() bool {
	switch s {
	case SourceSimulated, SourceSerial:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (s SourceType) String() string {
	return string(s)
}
