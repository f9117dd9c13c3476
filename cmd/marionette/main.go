package main

import (
	"io"
	"os"
	"strings"

	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var rootCmd = &cobra.Command{
	Use:          "marionette",
	Short:        "marionette runs LLM agent loops: reason-act, plan-execute and reflect-refine",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initViper(cmd); err != nil {
			return err
		}
		// reinitialize the logger now that flags and config are parsed
		return initLogger()
	},
}

type logConfig struct {
	WithCaller bool
	Level      string
	LogFormat  string
	LogFile    string
}

func initLogger() error {
	return InitLogger(&logConfig{
		Level:      viper.GetString("log-level"),
		LogFile:    viper.GetString("log-file"),
		LogFormat:  viper.GetString("log-format"),
		WithCaller: viper.GetBool("with-caller"),
	})
}

func InitLogger(config *logConfig) error {
	if config.WithCaller {
		log.Logger = log.With().Caller().Logger()
	}
	var logWriter io.Writer
	if config.LogFormat == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if config.LogFile != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   config.LogFile,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}
	log.Logger = log.Output(logWriter)

	level := config.Level
	if level == "" {
		level = "warn"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", config.Level)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

// flagBindings maps persistent flags onto settings keys.
var flagBindings = map[string]string{
	"model":          "chat.model",
	"temperature":    "chat.temperature",
	"stream":         "chat.stream",
	"max-iterations": "loop.max-iterations",
	"transcript":     "transcript.enabled",
	"transcript-db":  "transcript.path",
}

func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()
	if err := settings.ConfigureViper(v); err != nil {
		return err
	}

	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.marionette")
		if xdgConfigPath, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(xdgConfigPath + "/marionette")
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// no config file, defaults and environment only
	} else if err != nil {
		return errors.Wrap(err, "read config")
	}

	flags := cmd.Flags()
	for _, name := range []string{"log-level", "log-format", "log-file", "with-caller"} {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return err
		}
	}
	for flag, key := range flagBindings {
		f := flags.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	log.Debug().Str("config", v.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to a YAML config file")
	pf.String("log-level", "warn", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("log-file", "", "Also write logs to this file, rotated")
	pf.Bool("with-caller", false, "Log caller information")

	pf.String("model", "", "Model name")
	pf.Float64("temperature", 0, "Sampling temperature")
	pf.Bool("stream", true, "Stream completions")
	pf.Int("max-iterations", 0, "Maximum reason-act cycles or critique rounds")
	pf.Bool("transcript", false, "Save the run to the transcript database")
	pf.String("transcript-db", "", "Transcript database path")

	rootCmd.AddCommand(
		newReActCommand(),
		newPlanCommand(),
		newReflectCommand(),
		newToolsCommand(),
		newTranscriptsCommand(),
		newConfigCommand(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
