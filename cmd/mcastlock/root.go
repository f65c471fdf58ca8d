package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jathurchan/mcastlock/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MCASTLOCK"

func newRootCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:           "mcastlock",
		Short:         "mcastlock coordinates exclusive access to a shared resource over IP multicast",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfigFile(v)
			return err
		},
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "YAML config file (env MCASTLOCK_CONFIG)")
	flags.String("log-level", "info", "minimum log level: debug, info, warn, error")
	bindFlags(v, flags, "config", "log-level")

	cmd.AddCommand(
		newRunCommand(v),
		newSimulateCommand(v),
		newCtlCommand(),
	)
	return cmd
}

// newViper returns a config registry that also reads MCASTLOCK_* environment
// variables, with dashes in keys mapped to underscores.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindFlags makes each named flag readable through v, so flags, environment and
// config file resolve in that order of precedence.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		flag := flags.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := v.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}
}

// loadConfigFile reads the config file named by the "config" key, if any, and
// returns its absolute path.
func loadConfigFile(v *viper.Viper) (string, error) {
	path := strings.TrimSpace(v.GetString("config"))
	if path == "" {
		return "", nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve config path %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("config file %q: %w", abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", abs)
	}

	v.SetConfigFile(abs)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", abs, err)
	}
	return abs, nil
}

// newLogger builds the process logger from the "log-level" key.
func newLogger(v *viper.Viper, w io.Writer) (logger.Logger, error) {
	level := strings.TrimSpace(v.GetString("log-level"))
	if _, ok := logger.ParseLevel(level); !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return logger.NewStdLoggerWithWriter(w, level), nil
}
