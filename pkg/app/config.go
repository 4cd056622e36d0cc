package app

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

const configFlagName = "config"

var cfgFile string

// addConfigFlag registers --config and arranges for viper to read the file
// and the environment before the command runs. Environment variables use the
// upper-cased app name as prefix, e.g. LIGHTBRINGER_MQTT_BROKER.
func addConfigFlag(fs *pflag.FlagSet, name string, watch bool, onReload func()) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile,
		"Read configuration from specified `FILE`, support JSON, TOML, YAML, HCL, or Java properties formats.")

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix(name))
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			viper.AddConfigPath(".")
			if home, err := os.UserHomeDir(); err == nil {
				viper.AddConfigPath(filepath.Join(home, "."+name))
			}
			viper.AddConfigPath(filepath.Join("/etc", name))
			viper.SetConfigName(name)
		}

		if err := viper.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if cfgFile != "" || !errors.As(err, &notFound) {
				log.Warn("Failed to read configuration file", "file", cfgFile, "err", err)
			}
			return
		}
		log.Info("Using configuration file", "file", viper.ConfigFileUsed())

		if watch {
			viper.OnConfigChange(func(e fsnotify.Event) {
				if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
					return
				}
				log.Info("Configuration file changed", "file", e.Name, "op", e.Op.String())
				if onReload != nil {
					onReload()
				}
			})
			viper.WatchConfig()
		}
	})
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}
