package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mrsinham/umieforge/internal/capability"
	"github.com/mrsinham/umieforge/internal/manifest"
	"github.com/mrsinham/umieforge/internal/pipeline"
	"github.com/mrsinham/umieforge/internal/report"
	"github.com/mrsinham/umieforge/internal/steps"
	"github.com/spf13/cobra"
)

var (
	sourceFlag string
	masksFlag  string
	labelsFlag string
	planFlag   string
	limitFlag  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dataset pipeline",
	Long: `Run executes the steps of a dataset config in order. Files that cannot be
processed are logged and dropped; the run fails only when a step fails.

With --plan the step dependency graph is written as Graphviz DOT instead.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.StringVarP(&sourceFlag, "source", "s", "", "Directory holding the source dataset")
	f.StringVar(&masksFlag, "masks", "", "Directory holding masks shipped apart from the images")
	f.StringVar(&labelsFlag, "labels", "", "Label table used by table label strategies")
	f.StringVar(&planFlag, "plan", "", "Write the step graph as DOT to this file (- for stdout) and exit")
	f.IntVar(&limitFlag, "violations", 20, "Maximum number of manifest violations to print")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, colors, labels, err := loadDataset()
	if err != nil {
		return err
	}
	list, err := steps.Build(cfg.Steps)
	if err != nil {
		return err
	}

	var sum pipeline.Summary
	p, err := pipeline.New(list,
		pipeline.WithObserver(pipeline.LogObserver{Log: logger}),
		pipeline.WithObserver(&sum))
	if err != nil {
		return err
	}
	if planFlag != "" {
		return writePlan(cmd, p)
	}

	if sourceFlag == "" {
		return fmt.Errorf("--source is required")
	}
	if err := requireTarget(); err != nil {
		return err
	}

	desc := &cfg.Dataset
	in := pipeline.Inputs{Source: sourceFlag, Target: targetFlag, Masks: masksFlag, Labels: labelsFlag}
	caps, err := capability.Build(cfg.Strategies, desc, capability.BuildOptions{
		Scheme:     desc.Scheme(in.Target),
		LabelsPath: in.Labels,
	})
	if err != nil {
		return fmt.Errorf("dataset %q strategies: %w", desc.Name, err)
	}
	pcfg := pipeline.NewConfig(in, desc, caps, colors, labels)
	pcfg.Log = logger.With().Str("dataset", desc.Name).Logger()

	logger.Info().
		Str("dataset", desc.Name).
		Str("source", in.Source).
		Str("target", in.Target).
		Strs("steps", p.Steps()).
		Msg("starting run")

	_, runErr := p.Run(cmd.Context(), pcfg, nil)

	out := cmd.OutOrStdout()
	if err := report.Summary(out, &sum); err != nil {
		return err
	}
	if v, ok := pcfg.Get(steps.KeyReport); ok {
		if rep, ok := v.(*manifest.Report); ok {
			if err := report.Validation(out, rep, limitFlag); err != nil {
				return err
			}
		}
	}
	if pcfg.Manifest != nil {
		if err := report.Dataset(out, desc.Name, report.Collect(pcfg.Manifest.Records())); err != nil {
			return err
		}
	}

	if errors.Is(runErr, pipeline.ErrEmptyInput) {
		return fmt.Errorf("nothing to do: %w", runErr)
	}
	return runErr
}

func writePlan(cmd *cobra.Command, p *pipeline.Pipeline) error {
	if planFlag == "-" {
		return p.WriteDOT(cmd.OutOrStdout())
	}
	f, err := os.Create(planFlag)
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	if err := p.WriteDOT(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
