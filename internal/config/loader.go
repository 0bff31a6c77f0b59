package config

import (
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/arbstr/arbstr/internal/secret"
)

// envPattern matches ${NAME} references in the raw config text, the same
// shape bash and most config-driven tools use. Unlike a struct-tag-driven
// overlay, expansion happens on the raw bytes before the TOML parser ever
// sees them, so a secret can be referenced from any table, including
// inside an array of tables.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader builds a Config from a TOML file on disk, following the teacher's
// builder shape (config/loader.go's NewLoader().WithConfigPath(...).Load()).
type Loader struct {
	path string
}

// NewLoader starts a Loader with no path set; WithConfigPath is required
// before Load.
func NewLoader() *Loader {
	return &Loader{}
}

// WithConfigPath sets the TOML file to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.path = path
	return l
}

// Load reads the configured file, expands ${NAME} environment references,
// unmarshals the result into a Config seeded with defaults, applies the
// ARBSTR_<NAME>_API_KEY convention fallback for any provider still missing
// an api_key, and runs Validate before returning.
func (l *Loader) Load() (*Config, error) {
	if l.path == "" {
		return nil, fmt.Errorf("config: no path set, call WithConfigPath first")
	}

	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", l.path, err)
	}

	if err := checkFilePermissions(l.path); err != nil {
		return nil, err
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", l.path, err)
	}

	applyAPIKeyEnvFallback(&cfg)
	lowercaseKeywords(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv replaces every ${NAME} occurrence with the value of the
// corresponding environment variable. An unset variable is fatal: a typo'd
// reference must never silently resolve to an empty string and produce a
// provider with a blank API key.
func expandEnv(data []byte) ([]byte, error) {
	var missing []string
	out := envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envPattern.FindSubmatch(match)[1])
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(val)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: unset environment variable(s) referenced: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// applyAPIKeyEnvFallback fills ProviderConfig.APIKey from
// ARBSTR_<UPPER_NAME>_API_KEY for any provider whose api_key field was left
// empty in the file, letting operators keep keys entirely out of the TOML
// text and its ${NAME} substitutions.
func applyAPIKeyEnvFallback(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if !p.APIKey.IsEmpty() {
			continue
		}
		envName := "ARBSTR_" + envSafeName(p.Name) + "_API_KEY"
		if val, ok := os.LookupEnv(envName); ok {
			p.APIKey = secret.New(val)
		}
	}
}

func lowercaseKeywords(cfg *Config) {
	for i := range cfg.Policies.Rules {
		kws := cfg.Policies.Rules[i].Keywords
		for j, kw := range kws {
			kws[j] = strings.ToLower(kw)
		}
	}
}

// envSafeName uppercases a provider name and replaces any character that
// cannot appear in a POSIX environment variable name with an underscore.
func envSafeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// checkFilePermissions warns (does not fail) when the config file is
// readable by group or other, since it may contain plaintext api_key
// values. Validate separately warns when it finds one. Windows does not
// report POSIX permission bits, so the check is skipped there.
func checkFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		fmt.Fprintf(os.Stderr, "config: warning: %s is readable by group/other (mode %s); consider chmod 600\n", path, info.Mode().Perm())
	}
	return nil
}
