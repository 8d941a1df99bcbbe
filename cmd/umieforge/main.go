// Command umieforge normalizes medical imaging datasets into one canonical
// tree with a JSONL manifest.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mrsinham/umieforge/internal/dataset"
	"github.com/mrsinham/umieforge/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags
var version = "dev"

// Global flags
var (
	configFlag   string
	targetFlag   string
	colorsFlag   string
	logLevelFlag string
	logFileFlag  string
)

var (
	logger    zerolog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "umieforge",
	Short: "Normalize medical imaging datasets into a canonical tree",
	Long: `umieforge converts heterogeneous imaging datasets (DICOM, NIfTI, raster
images, XML annotations) into one directory layout of 8-bit PNG images and
masks, described by a JSON lines manifest.

Each dataset is described by a YAML or TOML config naming its phases, mask
structures, id strategies and the ordered list of steps to run.

Examples:
  umieforge synth --output ./lidc --patients 2 --nodules 1
  umieforge run --config configs/lidc_idri.yaml --source ./lidc --target ./out
  umieforge validate --config configs/lidc_idri.yaml --target ./out
  umieforge decode --config configs/lidc_idri.yaml out/0_LIDC-IDRI/CT/Images/0_0_1.2.3_4.5.6.png`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		l, c, err := logging.Init(logging.Options{Level: logLevelFlag, File: logFileFlag})
		if err != nil {
			return err
		}
		logger, logCloser = l, c
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configFlag, "config", "c", "", "Dataset config file (.yaml, .yml or .toml)")
	pf.StringVarP(&targetFlag, "target", "t", "", "Root of the canonical output tree")
	pf.StringVar(&colorsFlag, "colors", "", "Registry file extending the default colors and labels")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error (default $"+logging.LevelEnv+" or info)")
	pf.StringVar(&logFileFlag, "log-file", "", "Also write JSON logs to this rotating file")

	rootCmd.AddCommand(runCmd, validateCmd, decodeCmd, previewCmd, synthCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "umieforge %s\n", version)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logCloser != nil {
		logCloser.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadDataset reads the config given with --config and the registries given
// with --colors, and checks the descriptor against them.
func loadDataset() (*dataset.Config, dataset.ColorRegistry, dataset.LabelRegistry, error) {
	if configFlag == "" {
		return nil, nil, nil, fmt.Errorf("--config is required")
	}
	cfg, err := dataset.LoadConfig(configFlag)
	if err != nil {
		return nil, nil, nil, err
	}
	colors, labels, err := dataset.LoadRegistries(colorsFlag)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := cfg.Dataset.Validate(colors, labels); err != nil {
		return nil, nil, nil, fmt.Errorf("dataset %q: %w", cfg.Dataset.Name, err)
	}
	return cfg, colors, labels, nil
}

func requireTarget() error {
	if targetFlag == "" {
		return fmt.Errorf("--target is required")
	}
	return nil
}
