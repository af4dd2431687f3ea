package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/animus-labs/basic-cleaning/internal/cleaning"
	"github.com/animus-labs/basic-cleaning/internal/platform/env"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configFileKey = "BASIC_CLEANING_CONFIG"

var requiredFlags = []struct {
	name  string
	usage string
	float bool
}{
	{name: "input_artifact", usage: "Fully-qualified name for the input artifact"},
	{name: "output_artifact", usage: "Name for the output artifact"},
	{name: "output_type", usage: "Type for the output artifact"},
	{name: "output_description", usage: "Description for the output artifact"},
	{name: "min_price", usage: "Minimum price for cleaning outliers", float: true},
	{name: "max_price", usage: "Maximum price for cleaning outliers", float: true},
}

type cli struct {
	out    io.Writer
	v      *viper.Viper
	logger *slog.Logger
	// started is set once flag parsing and validation have passed.
	started bool
}

func newCLI(out io.Writer) *cli {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &cli{out: out, v: v}
}

func (c *cli) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basic-cleaning",
		Short: "A very basic data cleaning",
		Long: `basic-cleaning downloads a tabular artifact, drops rows whose price lies
outside [min_price, max_price], converts last_review to a date and logs the
result as a new artifact.

Tracking backend settings come from the environment (BASIC_CLEANING_*,
DATABASE_*, ANIMUS_MINIO_*) or from the YAML file named by BASIC_CLEANING_CONFIG.

Example:
  basic-cleaning --input_artifact sample.csv:latest \
      --output_artifact clean_sample.csv --output_type clean_sample \
      --output_description "Data with outliers removed" \
      --min_price 10 --max_price 350`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.execute(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", cleaning.ErrConfiguration, err)
	})

	flags := cmd.Flags()
	for _, f := range requiredFlags {
		if f.float {
			flags.Float64(f.name, 0, f.usage)
		} else {
			flags.String(f.name, "", f.usage)
		}
		_ = cmd.MarkFlagRequired(f.name)
	}
	_ = c.v.BindPFlags(flags)
	return cmd
}

func (c *cli) execute(ctx context.Context) error {
	src := env.FromViper(c.v)
	if err := src.LoadFile(src.String(configFileKey, "")); err != nil {
		return configErr(err)
	}
	logger, err := newLogger(c.out, src)
	if err != nil {
		return configErr(err)
	}
	c.logger = logger

	var cfg cleaning.Config
	if err := c.v.Unmarshal(&cfg); err != nil {
		return configErr(err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	trackingCfg, err := trackingConfigFromEnv(src)
	if err != nil {
		return configErr(err)
	}
	c.started = true

	tracker, closeBackend, err := openTracker(ctx, src, trackingCfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	run, err := tracker.StartRun(ctx, cleaning.JobType, cfg.Values())
	if err != nil {
		return err
	}
	cleaner := cleaning.New(cleaning.Options{Logger: logger, WorkDir: trackingCfg.WorkDir})
	ref, cleanErr := cleaner.Clean(ctx, run, cfg)

	// The run is closed even when ctx was cancelled mid-step.
	if err := run.Finish(context.WithoutCancel(ctx), cleanErr); err != nil {
		if cleanErr != nil {
			return errors.Join(cleanErr, err)
		}
		return err
	}
	if cleanErr != nil {
		return cleanErr
	}
	logger.Info("basic cleaning finished",
		"run_id", run.ID(),
		"project", run.Project(),
		"output", ref.String(),
		"version_id", ref.VersionID,
		"created", ref.Created,
	)
	return nil
}

func configErr(err error) error {
	return fmt.Errorf("%w: %v", cleaning.ErrConfiguration, err)
}

// exitCode treats every failure before validation completed as a usage error.
func exitCode(err error, started bool) int {
	if err == nil {
		return 0
	}
	if !started || errors.Is(err, cleaning.ErrConfiguration) {
		return 2
	}
	return 1
}
