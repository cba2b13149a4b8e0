package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hgerr "github.com/hopguard/hopguard-core/pkg/errors"
)

type testConfig struct {
	ListenAddr string        `env:"LISTEN_ADDR" envDefault:":8080" yaml:"listen_addr" json:"listen_addr"`
	Issuer     string        `env:"ISSUER" yaml:"issuer" json:"issuer" required:"true"`
	Audience   string        `env:"AUDIENCE" yaml:"audience" json:"audience" required:"true"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s" yaml:"timeout" json:"timeout"`
	Debug      bool          `env:"DEBUG" envDefault:"false" yaml:"debug" json:"debug"`
	Roles      []string      `env:"ROLES" yaml:"roles" json:"roles"`
}

func TestLoad_DefaultsApplied(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	t.Setenv("AUDIENCE", "svc-a")

	var cfg testConfig
	require.NoError(t, New().Load(&cfg))

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.False(t, cfg.Debug)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	t.Setenv("AUDIENCE", "svc-a")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("TIMEOUT", "2s")
	t.Setenv("ROLES", "admin, user")

	var cfg testConfig
	require.NoError(t, New().Load(&cfg))

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"admin", "user"}, cfg.Roles)
}

func TestLoad_EnvPrefix(t *testing.T) {
	t.Setenv("GW_ISSUER", "https://idp.example")
	t.Setenv("GW_AUDIENCE", "gateway")

	var cfg testConfig
	require.NoError(t, New().WithEnvPrefix("gw").Load(&cfg))
	assert.Equal(t, "gateway", cfg.Audience)
}

func TestLoad_YAMLFileThenEnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"issuer: https://file.example\naudience: from-file\nlisten_addr: \":7070\"\n"), 0o600))

	t.Setenv("AUDIENCE", "from-env")

	var cfg testConfig
	require.NoError(t, New().WithFile(path).Load(&cfg))

	assert.Equal(t, "https://file.example", cfg.Issuer)
	assert.Equal(t, "from-env", cfg.Audience, "env must override file")
	assert.Equal(t, ":7070", cfg.ListenAddr, "file must override default")
}

func TestLoad_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	t.Setenv("AUDIENCE", "svc-a")

	var cfg testConfig
	assert.NoError(t, New().WithFile("does-not-exist.yaml").Load(&cfg))
}

func TestLoad_RequiredFieldMissingFailsStartup(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	// AUDIENCE deliberately unset: an empty expected audience must refuse
	// to load rather than disable the audience check.

	var cfg testConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.Equal(t, hgerr.CodeValidationRequired, hgerr.GetCode(err))
	assert.Contains(t, err.Error(), "Audience")
}

func TestLoad_RejectsNonPointer(t *testing.T) {
	t.Parallel()
	err := New().Load(testConfig{})
	require.Error(t, err)
	assert.Equal(t, hgerr.CodeInternalConfiguration, hgerr.GetCode(err))
}

func TestLoad_RejectsTraversalPath(t *testing.T) {
	t.Parallel()
	var cfg testConfig
	err := New().WithFile("../../etc/passwd.yaml").Load(&cfg)
	require.Error(t, err)
	assert.Equal(t, hgerr.CodeInternalConfiguration, hgerr.GetCode(err))
}

func TestLoad_UnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svc.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o600))

	var cfg testConfig
	err := New().WithFile(path).Load(&cfg)
	require.Error(t, err)
	assert.Equal(t, hgerr.CodeInternalConfiguration, hgerr.GetCode(err))
}

type validatedConfig struct {
	Issuer   string `env:"ISSUER" required:"true"`
	Audience string `env:"AUDIENCE" required:"true"`
	MaxSkew  time.Duration `env:"MAX_SKEW" envDefault:"30s"`
}

func (c *validatedConfig) Validate() error {
	if c.MaxSkew < 0 {
		return hgerr.New(hgerr.CodeValidation, "config: max skew must be non-negative")
	}
	return nil
}

func TestLoad_CustomValidatorRuns(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	t.Setenv("AUDIENCE", "svc-a")
	t.Setenv("MAX_SKEW", "-5s")

	var cfg validatedConfig
	err := New().Load(&cfg)
	require.Error(t, err)
	assert.Equal(t, hgerr.CodeValidation, hgerr.GetCode(err))
}

func TestMustLoad_PanicsOnMissingRequired(t *testing.T) {
	os.Unsetenv("ISSUER")
	os.Unsetenv("AUDIENCE")
	assert.Panics(t, func() {
		MustLoad[testConfig](New())
	})
}

func TestMustLoad_ReturnsLoadedValue(t *testing.T) {
	t.Setenv("ISSUER", "https://idp.example")
	t.Setenv("AUDIENCE", "svc-a")

	cfg := MustLoad[testConfig](New())
	assert.Equal(t, "https://idp.example", cfg.Issuer)
}
