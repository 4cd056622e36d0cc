package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cliflag "k8s.io/component-base/cli/flag"
)

type testOptions struct {
	Name      string `mapstructure:"name"`
	Completed bool
	invalid   bool
}

func (o *testOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fss.FlagSet("test").StringVar(&o.Name, "name", o.Name, "A name.")
	return fss
}

func (o *testOptions) Complete() error {
	o.Completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.invalid {
		return errors.New("invalid")
	}
	return nil
}

func TestRunBindsFlagsAndCompletes(t *testing.T) {
	viper.Reset()
	opts := &testOptions{Name: "default"}
	ran := false
	a := NewApp("testapp", "test", WithOptions(opts), WithDefaultValidArgs(), WithRunFunc(func() error {
		ran = true
		return nil
	}))

	a.Command().SetArgs([]string{"--name=flag"})
	require.NoError(t, a.Command().Execute())
	assert.True(t, ran)
	assert.True(t, opts.Completed)
	assert.Equal(t, "flag", opts.Name)
}

func TestRunReadsConfigFile(t *testing.T) {
	viper.Reset()
	path := filepath.Join(t.TempDir(), "testapp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\n"), 0o644))

	opts := &testOptions{}
	a := NewApp("testapp", "test", WithOptions(opts), WithRunFunc(func() error { return nil }))
	a.Command().SetArgs([]string{"--config", path})
	require.NoError(t, a.Command().Execute())
	assert.Equal(t, "from-file", opts.Name)
}

func TestRunStopsOnInvalidOptions(t *testing.T) {
	viper.Reset()
	opts := &testOptions{invalid: true}
	ran := false
	a := NewApp("testapp", "test", WithOptions(opts), WithRunFunc(func() error {
		ran = true
		return nil
	}))
	a.Command().SetArgs(nil)
	assert.EqualError(t, a.Command().Execute(), "invalid")
	assert.False(t, ran)
}

func TestDefaultValidArgsRejectsArguments(t *testing.T) {
	viper.Reset()
	a := NewApp("testapp", "test", WithNoConfig(), WithDefaultValidArgs(), WithRunFunc(func() error { return nil }))
	a.Command().SetArgs([]string{"extra"})
	assert.Error(t, a.Command().Execute())
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "LIGHT_CTL", envPrefix("light-ctl"))
}
