// Package config loads configuration for HopGuard processes from struct tag
// defaults, an optional YAML or JSON file, and environment variables.
// Values resolve in priority order, highest last:
//
//	envDefault struct tags  (lowest)
//	YAML/JSON config file   (middle)
//	Environment variables   (highest)
//
// Security-sensitive fields are declared `required:"true"`: a process whose
// expected issuer or audience is unset must refuse to start rather than run
// with a silently weakened validation chain, so Load reports missing
// required fields as errors and [MustLoad] panics on them.
//
// # Struct Tags
//
//   - `env:"VAR"` maps the field to an environment variable
//   - `envDefault:"value"` is the default applied when the field is zero-valued
//   - `required:"true"` makes loading fail if the field is still zero afterwards
//
// Fields also need `yaml` or `json` tags for file-based loading.
//
// # Usage
//
//	type ServiceConfig struct {
//	    ListenAddr string        `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr"`
//	    Issuer     string        `env:"ISSUER" yaml:"issuer" required:"true"`
//	    Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s" yaml:"timeout"`
//	}
//
//	cfg := config.MustLoad[ServiceConfig](
//	    config.New().WithEnvPrefix("ORDERS").WithFile("orders.yaml"),
//	)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

// Validator is an optional interface for configuration structs that need
// cross-field validation beyond `required` tags. If the struct passed to
// [Loader.Load] implements Validator, Validate is called after tag-based
// validation succeeds. A returned *hgerr.Error passes through unchanged;
// any other error is wrapped with [hgerr.CodeValidation].
type Validator interface {
	Validate() error
}

// durationType distinguishes time.Duration fields (Kind int64) from plain
// integer fields during struct traversal.
var durationType = reflect.TypeOf(time.Duration(0))

// Loader resolves configuration with the layered strategy described in the
// package documentation. Configure it with [Loader.WithEnvPrefix] and
// [Loader.WithFile] before calling [Loader.Load].
//
// A Loader is not safe for concurrent use; create one per Load call.
type Loader struct {
	envPrefix string
	filePath  string
}

// New returns a Loader that reads from environment variables only, with no
// file and no prefix.
func New() *Loader {
	return &Loader{}
}

// WithEnvPrefix prepends prefix (uppercased, joined with "_") to every
// environment variable name derived from `env` tags. WithEnvPrefix("GW")
// makes a field tagged `env:"ISSUER"` read GW_ISSUER. Returns the Loader
// for chaining.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = strings.ToUpper(prefix)
	return l
}

// WithFile sets the path of an optional YAML (.yaml/.yml) or JSON (.json)
// configuration file. A missing file is not an error; an unrecognized
// extension or a path containing ".." is. Returns the Loader for chaining.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Load populates cfg, which must be a non-nil pointer to a struct, and then
// validates it: `required:"true"` fields must be non-zero, and a [Validator]
// implementation is invoked if present.
//
// Returns *hgerr.Error with [hgerr.CodeInternalConfiguration] for loading
// failures and [hgerr.CodeValidationRequired] / [hgerr.CodeValidation] for
// validation failures.
func (l *Loader) Load(cfg any) error {
	rv := reflect.ValueOf(cfg)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return hgerr.New(hgerr.CodeInternalConfiguration,
			"config: Load requires a non-nil pointer to a struct")
	}

	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return hgerr.New(hgerr.CodeInternalConfiguration,
			"config: Load requires a pointer to a struct")
	}

	if err := applyDefaults(rv); err != nil {
		return err
	}

	if l.filePath != "" {
		if err := l.loadFile(cfg); err != nil {
			return err
		}
	}

	if err := applyEnv(rv, l.envPrefix); err != nil {
		return err
	}

	if err := checkRequired(rv, ""); err != nil {
		return err
	}

	if v, ok := cfg.(Validator); ok {
		if err := v.Validate(); err != nil {
			if _, isHG := hgerr.AsError(err); isHG {
				return err
			}
			return hgerr.Wrap(err, hgerr.CodeValidation,
				"config: custom validation failed")
		}
	}

	return nil
}

// MustLoad creates a zero value of T, loads configuration into it, and
// returns it, panicking on any load or validation failure. Use it in main
// where invalid configuration must prevent startup.
func MustLoad[T any](loader *Loader) T {
	var cfg T
	if err := loader.Load(&cfg); err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// loadFile unmarshals the configured file into cfg. Missing files are
// skipped; file configuration is optional by design.
func (l *Loader) loadFile(cfg any) error {
	if strings.Contains(l.filePath, "..") {
		return hgerr.New(hgerr.CodeInternalConfiguration,
			"config: file path must not contain directory traversal (..) sequences")
	}

	data, err := os.ReadFile(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return hgerr.Wrapf(err, hgerr.CodeInternalConfiguration,
			"config: failed to read file %q", l.filePath)
	}

	switch ext := strings.ToLower(filepath.Ext(l.filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return hgerr.Wrapf(err, hgerr.CodeInternalConfiguration,
				"config: failed to parse YAML file %q", l.filePath)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return hgerr.Wrapf(err, hgerr.CodeInternalConfiguration,
				"config: failed to parse JSON file %q", l.filePath)
		}
	default:
		return hgerr.Newf(hgerr.CodeInternalConfiguration,
			"config: unsupported file extension %q (use .yaml, .yml, or .json)", ext)
	}

	return nil
}

// applyDefaults walks the struct and sets zero-valued fields to their
// envDefault tag value. Nested structs are traversed recursively.
func applyDefaults(rv reflect.Value) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := applyDefaults(field); err != nil {
				return err
			}
			continue
		}

		tag := sf.Tag.Get("envDefault")
		if tag == "" || !field.IsZero() {
			continue
		}

		if err := setField(field, tag); err != nil {
			return hgerr.Wrapf(err, hgerr.CodeInternalConfiguration,
				"config: failed to apply default for field %q", sf.Name)
		}
	}

	return nil
}

// applyEnv walks the struct and overrides fields from environment
// variables. For nested structs the parent's env tag joins the child's
// with "_", after the loader-level prefix.
func applyEnv(rv reflect.Value, prefix string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := sf.Tag.Get("env")

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			nested := prefix
			if envTag != "" {
				if nested != "" {
					nested = nested + "_" + envTag
				} else {
					nested = envTag
				}
			}
			if err := applyEnv(field, nested); err != nil {
				return err
			}
			continue
		}

		if envTag == "" {
			continue
		}

		key := envTag
		if prefix != "" {
			key = prefix + "_" + envTag
		}

		val, ok := os.LookupEnv(key)
		if !ok {
			continue
		}

		if err := setField(field, val); err != nil {
			return hgerr.Wrapf(err, hgerr.CodeInternalConfiguration,
				"config: failed to set field %q from env var %q", sf.Name, key)
		}
	}

	return nil
}

// checkRequired verifies that every field tagged `required:"true"` holds a
// non-zero value, recursing into nested structs. The path parameter builds
// the dotted field path reported in error messages.
func checkRequired(rv reflect.Value, path string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if field.Kind() == reflect.Struct && sf.Type != durationType {
			if err := checkRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}

		if sf.Tag.Get("required") != "true" {
			continue
		}

		if field.IsZero() {
			return hgerr.Newf(hgerr.CodeValidationRequired,
				"config: required field %q is not set (env %q)", fieldPath, sf.Tag.Get("env"))
		}
	}

	return nil
}

// setField parses value and assigns it according to the field's type.
// Supported: string (including named string types), bool, signed integers,
// time.Duration, and []string (comma-separated).
func setField(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse duration %q: %w", value, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("cannot parse bool %q: %w", value, err)
		}
		field.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("cannot parse integer %q: %w", value, err)
		}
		field.SetInt(n)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, p := range parts {
			slice.Index(i).SetString(strings.TrimSpace(p))
		}
		field.Set(slice)

	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}

	return nil
}
