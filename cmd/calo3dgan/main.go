package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/lukaszgryglicki/calo3dgan/internal/calo3dgan"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgPath string
	verbose bool
	workers int
	cfg     *calo3dgan.Config
)

var rootCmd = &cobra.Command{
	Use:   "calo3dgan",
	Short: "3-D calorimeter shower GAN: generator and discriminator forward passes",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose || os.Getenv("DEBUG") != "" {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		calo3dgan.SetLogger(logger)

		cfg, err = calo3dgan.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		if workers > 0 {
			cfg.Workers = workers
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = calo3dgan.Logger().Sync()
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the generator and discriminator layer tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []calo3dgan.Option{calo3dgan.WithSeed(cfg.Seed)}
		gen, err := calo3dgan.NewGenerator(cfg.LatentSize, cfg.DataFormat, opts...)
		if err != nil {
			return err
		}
		disc, err := calo3dgan.NewDiscriminator(cfg.Power, cfg.DataFormat, opts...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), gen.Summary())
		fmt.Fprintln(cmd.OutOrStdout(), disc.Summary())
		return nil
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one shower per configured energy and score it",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := calo3dgan.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d showers in %s -> %s\n", res.ID, len(res.Energies), res.Elapsed, res.Outputs.Raw)
		return nil
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score [raw-file]",
	Short: "Run the discriminator over a raw shower volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := calo3dgan.Score(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%6s %10s %12s %10s %12s\n", "event", "fake", "aux", "angle", "ecal")
		for i := range out.Fake {
			fmt.Fprintf(w, "%6d %10.5f %12.5f %10.5f %12.5f\n", i, out.Fake[i], out.Aux[i], out.Angle[i], out.Ecal[i])
		}
		return nil
	},
}

var featuresCmd = &cobra.Command{
	Use:   "features [raw-file]",
	Short: "Compute energy sum, incidence angle and occupancy bins of a raw shower volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rep, err := calo3dgan.Features(cmd.Context(), args[0], cfg.Power, cfg.Workers)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for i := range rep.Angle {
			fmt.Fprintf(w, "event %d: ecal=%.5f angle=%.5f bins=%v\n", i, rep.Ecal[i], rep.Angle[i], rep.Bins[i])
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "YAML config file (defaults when empty)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "goroutines for per-event features (0 = NumCPU)")
	rootCmd.AddCommand(summaryCmd, generateCmd, scoreCmd, featuresCmd)
}

func main() {
	if os.Getenv("PROFILE") != "" {
		f, err := os.Create("cpu.out")
		if err != nil {
			panic(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			panic(err)
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
