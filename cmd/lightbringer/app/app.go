package app

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/automaxprocs/maxprocs"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/JonathanBrouwer/lightbringer/cmd/lightbringer/app/options"
	"github.com/JonathanBrouwer/lightbringer/internal/hal"
	"github.com/JonathanBrouwer/lightbringer/pkg/app"
	"github.com/JonathanBrouwer/lightbringer/pkg/log"
)

const (
	commandName = "lightbringer"
	commandDesc = `lightbringer runs an LED dimmer: it drives the PWM outputs, keeps the
light state on flash, serves the web interface and receives firmware updates
over HTTP or MQTT into the inactive slot of a dual-slot flash layout.`
)

func NewApp() *app.App {
	opts := options.NewDaemonOptions()
	return app.NewApp(
		commandName,
		"Run the lightbringer dimmer",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithWatchConfig(reloadLogLevel),
		app.WithRunFunc(run(opts)),
	)
}

// reloadLogLevel applies a log level edited in the config file without a
// restart. Every other option needs one.
func reloadLogLevel() {
	level := viper.GetString("log.level")
	if level == "" {
		return
	}
	if err := log.SetLevel(level); err != nil {
		log.Error(err, "Ignoring log level from configuration file", "level", level)
		return
	}
	log.Info("Log level changed", "level", level)
}

func run(opts *options.DaemonOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)
		defer log.Sync()

		if _, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
			log.Info(fmt.Sprintf(format, args...))
		})); err != nil {
			log.Warn("Failed to set GOMAXPROCS", "err", err)
		}

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Each iteration is one boot of the device. The mock HAL asks for a
		// restart after an update instead of rebooting the host.
		for boot := 1; ; boot++ {
			d, err := cfg.New()
			if err != nil {
				return fmt.Errorf("failed to create device: %w", err)
			}
			log.Info("Starting lightbringer", "device", d.ID(), "boot", boot)

			err = d.Run(ctx)
			if cerr := d.Close(); cerr != nil {
				log.Error(cerr, "Failed to close flash")
			}
			if errors.Is(err, hal.ErrRebootRequested) && ctx.Err() == nil {
				log.Info("Restarting after update")
				continue
			}
			return err
		}
	}
}
