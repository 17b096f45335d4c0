package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/airbusgeo/mosaic/internal/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

var defaultImage string = "build-error-this-variable-should-have-been-set-on-build"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newMosaicCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newMosaicCommand() *cobra.Command {
	v := viper.New()
	var cfgFile string
	var debug, structured bool
	var startTime time.Time

	cmd := &cobra.Command{
		Use:   "mosaic",
		Short: "composite georeferenced rasters into a single mosaic",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			startTime = time.Now()
			if err := initConfig(v, cfgFile); err != nil {
				return err
			}
			if structured {
				log.Structured()
			}
			if debug {
				log.SetLevel(zapcore.DebugLevel)
			}
			godal.RegisterAll()
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			log.Logger(cmd.Context()).Sugar().Debugf("command %s took %.1fs",
				cmd.Name(), time.Since(startTime).Seconds())
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mosaic.yaml)")
	flags.BoolVar(&debug, "debug", false, "debug logging")
	flags.BoolVar(&structured, "structured", false, "json logging")

	cmd.AddCommand(newMergeCommand(v), newWorkflowCommand())
	return cmd
}

// initConfig reads the optional config file and MOSAIC_ prefixed environment
// variables into v
func initConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigType("yaml")
		v.SetConfigName(".mosaic")
	}
	v.SetEnvPrefix("mosaic")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}
