package cmd

import (
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"openapi-mesh-handler/config"
)

// NewRootCommand returns the CLI with all subcommands attached.
func NewRootCommand() *cobra.Command {
	// a missing .env is fine
	_ = godotenv.Load()

	v := config.NewViper()
	rootCmd := &cobra.Command{
		Use:           "openapi-mesh",
		Short:         "Serve OpenAPI documents as GraphQL",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-format", "json", "log output, json or console")
	rootCmd.AddCommand(newServeCommand(v))
	return rootCmd
}

func Execute() {
	cobra.CheckErr(NewRootCommand().Execute())
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// setupLogger initializes the logger with the given log level
func setupLogger(out io.Writer, level, format string) (*zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	if out == nil {
		out = os.Stderr
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	log := zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "openapi-mesh").Logger()
	return &log, nil
}
