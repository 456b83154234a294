package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aramperes/spring-boot-layertools/internal/config"
	"github.com/aramperes/spring-boot-layertools/internal/logging"
)

// app carries the state shared by the subcommands of one invocation.
type app struct {
	v        *viper.Viper
	cfgFile  string
	cfg      *config.Config
	closeLog func() error
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "layertools",
		Short:         "Extract the layers of a layered Spring Boot jar",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.closeLog != nil {
				return a.closeLog()
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "path to config file")
	flags.String("jar", "", "the layered jar (may also be given as the first argument)")
	flags.String("log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-output-dir", "", "directory to write log files (if set, logs are written to both stderr and file)")
	flags.Uint64("max-file-size", config.DefaultMaxFileSize, "largest decoded entry size in bytes, 0 for no limit")

	config.SetDefaults(a.v)
	_ = a.v.BindPFlag("jar", flags.Lookup("jar"))                       //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))           //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("log_output_dir", flags.Lookup("log-output-dir")) //nolint:errcheck // flag exists
	_ = a.v.BindPFlag("max_file_size", flags.Lookup("max-file-size"))   //nolint:errcheck // flag exists

	rootCmd.AddCommand(
		a.newListCmd(),
		a.newClasspathCmd(),
		a.newExtractCmd(),
	)
	return rootCmd
}

// setup reads the config file and environment, takes the jar from args if
// given, and configures logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	if err := a.readConfigFile(); err != nil {
		return err
	}
	if len(args) > 0 {
		a.v.Set("jar", args[0])
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	closeLog, err := logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogOutputDir)
	if err != nil {
		return fmt.Errorf("could not set up logging: %w", err)
	}
	a.closeLog = closeLog
	return nil
}

// readConfigFile reads in config file if set or present in a default location.
func (a *app) readConfigFile() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", a.cfgFile, err)
		}
		return nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".config", "layertools"))
	}
	a.v.AddConfigPath("/etc/layertools")
	a.v.SetConfigName("config")
	a.v.SetConfigType("toml")
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
