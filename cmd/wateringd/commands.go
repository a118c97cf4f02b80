package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/KevinKickass/OpenWateringCore/internal/machine"
	"github.com/KevinKickass/OpenWateringCore/internal/storage"
	"github.com/KevinKickass/OpenWateringCore/internal/system"
	"github.com/KevinKickass/OpenWateringCore/internal/watering"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	flagIntensity int
	flagWait      bool
	flagChannel   int
)

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate the scales interactively",
	Long: `Calibrate records the unloaded reading of every scale, then asks for
known weights placed on the scales, written as (w1,w2,...,wn)-err where err
is the uncertainty of each weight.`,
	Args: cobra.NoArgs,
	RunE: withRig(runCalibrate),
}

var waterCmd = &cobra.Command{
	Use:   "water <channel>",
	Short: "Water one channel now",
	Long: `Water drives to the channel's position and runs the pump once.
Channels are numbered from 1, like the telemetry columns.`,
	Args: cobra.ExactArgs(1),
	RunE: withRig(runWater),
}

var homeCmd = &cobra.Command{
	Use:   "home",
	Short: "Park the servo and return the stepper to 0",
	Args:  cobra.NoArgs,
	RunE: withRig(func(ctx context.Context, cmd *cobra.Command, ctrl *machine.Controller, args []string) error {
		return ctrl.GoHome(ctx)
	}),
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Aim at every position in turn",
	Args:  cobra.NoArgs,
	RunE:  withRig(runPositions),
}

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Print calibrated weights, or one raw channel with --channel",
	Args:  cobra.NoArgs,
	RunE:  runWeights,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored state of the rig",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var rigsCmd = &cobra.Command{
	Use:   "rigs",
	Short: "List stored rigs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storage.Open(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		names, err := store.ListRigs(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	waterCmd.Flags().IntVar(&flagIntensity, "intensity", -1, "intensity step (default: the channel's adapted intensity)")
	positionsCmd.Flags().BoolVar(&flagWait, "wait", false, "wait for enter at every position")
	weightsCmd.Flags().IntVar(&flagChannel, "channel", 0, "read one raw channel (1-based) instead of all calibrated weights")
}

type rigFunc func(ctx context.Context, cmd *cobra.Command, ctrl *machine.Controller, args []string) error

// withRig assembles the rig, waits for the device and hands the controller
// to fn.
func withRig(fn rigFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		asm, err := system.Assemble(ctx, cfg, machine.NewRegistry(), logger)
		if err != nil {
			return err
		}
		defer asm.Close()

		if err := asm.Controller.Begin(ctx); err != nil {
			return err
		}
		return fn(ctx, cmd, asm.Controller, args)
	}
}

func runCalibrate(ctx context.Context, cmd *cobra.Command, ctrl *machine.Controller, args []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	fmt.Fprint(out, "Remove everything from the scales and press enter.")
	if _, err := readLine(in); err != nil {
		return err
	}
	if err := ctrl.CalibrateOffset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Offsets calibrated.")

	for {
		fmt.Fprintf(out, "Place known weights on all %d scales and enter them as (w1,...,w%d)-err: ",
			ctrl.ChannelCount(), ctrl.ChannelCount())
		line, err := readLine(in)
		if err != nil {
			return err
		}
		weights, errs, err := machine.ParseKnownWeights(line, ctrl.ChannelCount())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		if err := ctrl.CalibrateSlope(ctx, weights, errs); err != nil {
			return err
		}
		break
	}

	fmt.Fprintln(out, "Slopes calibrated.")
	return nil
}

func runWater(ctx context.Context, cmd *cobra.Command, ctrl *machine.Controller, args []string) error {
	ch, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid channel %q: %w", args[0], err)
	}
	return ctrl.WaterTest(ctx, ch-1, flagIntensity)
}

func runPositions(ctx context.Context, cmd *cobra.Command, ctrl *machine.Controller, args []string) error {
	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	return ctrl.VisitPositions(ctx, func(ch int, p watering.Position) error {
		fmt.Fprintf(out, "channel %d: stepper %d, servo %d", ch+1, p.StepperCoord, p.ServoAngle)
		if !flagWait {
			fmt.Fprintln(out)
			return nil
		}
		fmt.Fprint(out, " (enter to continue)")
		_, err := readLine(in)
		return err
	})
}

func runWeights(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	asm, err := system.Assemble(ctx, cfg, machine.NewRegistry(), logger)
	if err != nil {
		return err
	}
	defer asm.Close()

	out := cmd.OutOrStdout()
	if flagChannel > 0 {
		raw, err := asm.Link.ReadChannel(cfg.Scale.SamplesPerRead, flagChannel-1)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "channel %d raw: %s\n", flagChannel, humanize.Ftoa(raw))
		return nil
	}

	if err := asm.Controller.Begin(ctx); err != nil {
		return err
	}
	stats, err := asm.Controller.Weights()
	if err != nil {
		return err
	}
	for i := range stats.Means {
		fmt.Fprintf(out, "channel %d: %s g ± %s (%d filtered)\n",
			i+1, humanize.FtoaWithDigits(stats.Means[i], 1), humanize.FtoaWithDigits(stats.Stdevs[i], 2), stats.Filtered[i])
	}
	if stats.FailedReads > 0 {
		fmt.Fprintf(out, "%d reads failed\n", stats.FailedReads)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, err := storage.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	state, err := store.LoadRig(cmd.Context(), cfg.Rig.Name)
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), state)
	return nil
}

func printStatus(out io.Writer, state *storage.RigState) {
	calibrated := len(state.Scale.Calibration.Slopes) == state.ChannelCount
	fmt.Fprintf(out, "rig %s: %d channels, stepper at %s, calibrated: %t, saved %s\n",
		state.Name, state.ChannelCount, humanize.Comma(int64(state.StepperPosition)),
		calibrated, humanize.Time(state.UpdatedAt))

	for i, s := range state.Schedules {
		line := fmt.Sprintf("  channel %d:", i+1)
		if goal, ok := s.CurrentGoal(); ok {
			line += fmt.Sprintf(" %s of %d steps, goal %s g, cycle %d",
				humanize.Ordinal(s.CurrentStep+1), len(s.Steps), humanize.Ftoa(goal), s.CycleCount)
			if !s.LastStepStart.IsZero() {
				line += ", step started " + humanize.Time(s.LastStepStart)
			}
		} else {
			line += " no schedule"
		}
		if i < len(state.LastWeights) {
			line += fmt.Sprintf(", last weight %s g", humanize.FtoaWithDigits(state.LastWeights[i], 1))
		}
		if i < len(state.Intensities) {
			line += fmt.Sprintf(", intensity %d", state.Intensities[i])
		}
		fmt.Fprintln(out, line)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
