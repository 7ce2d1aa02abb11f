package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/example/go-int8api/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()
	opts := &runOptions{format: "text"}

	cmd := &cobra.Command{
		Use:   "int8api",
		Short: "Run an ONNX classifier at INT8 with per tensor dynamic ranges",
		Long: "Builds an inference engine from an ONNX model, assigns the dynamic\n" +
			"ranges read from a range file to every tensor, classifies one PPM\n" +
			"image and prints the Top-K and Bottom-K predictions.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel, loaded.Verbose)
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			return runClassify(cmd.Context(), cfg, *opts, cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)
	cmd.Flags().BoolVar(&opts.writeTensors, "write-tensors", false, "Write the network tensor names to --network-tensors-file and exit")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newTensorsCmd())
	cmd.AddCommand(newRangesCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string, verbose bool) {
	slog.SetDefault(config.NewLogger(os.Stderr, levelStr, verbose))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Paths.Model == "" {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}
