package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/excel"
	"github.com/derekprior/cricsched/internal/fixture"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/derekprior/cricsched/internal/store"
	"github.com/derekprior/cricsched/internal/validator"
)

const defaultConfigFile = "config.yaml"

func resolveConfigPath(configFlag string) (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile, nil
	}
	return "", fmt.Errorf("no config file found. Either create %s in the current directory or pass --config", defaultConfigFile)
}

func main() {
	var verbose bool
	logger := zap.NewNop()

	rootCmd := &cobra.Command{
		Use:   "cricsched",
		Short: "Cricket tournament schedule generator",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			logger = l
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine and server activity")

	var initOutputPath string
	initCmd := &cobra.Command{
		Use:          "init",
		Short:        "Create a starter config.yaml in the current directory",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(initOutputPath)
		},
	}
	initCmd.Flags().StringVarP(&initOutputPath, "output", "o", defaultConfigFile, "Output path for the config file")

	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Generate and validate schedules",
	}

	var configFile string
	scheduleCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: config.yaml in current directory)")

	var outputFile string
	generateCmd := &cobra.Command{
		Use:          "generate",
		Short:        "Generate a schedule from a config file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath(configFile)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), configPath, outputFile, logger)
		},
	}
	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "schedule.xlsx", "Output Excel file path")

	validateCmd := &cobra.Command{
		Use:          "validate <schedule.xlsx>",
		Short:        "Validate a schedule against config rules",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath(configFile)
			if err != nil {
				return err
			}
			return runValidate(configPath, args[0])
		},
	}
	scheduleCmd.AddCommand(generateCmd, validateCmd)

	tournamentCmd := &cobra.Command{
		Use:   "tournament",
		Short: "Manage stored tournaments",
	}
	var importConfig string
	importCmd := &cobra.Command{
		Use:          "import",
		Short:        "Store a tournament from a config file and print its ID",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := resolveConfigPath(importConfig)
			if err != nil {
				return err
			}
			return runImport(cmd.Context(), configPath, logger)
		},
	}
	importCmd.Flags().StringVar(&importConfig, "config", "", "Path to config file (default: config.yaml in current directory)")
	tournamentCmd.AddCommand(importCmd)

	var addr string
	serveCmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the HTTP API",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				l, err := zap.NewProduction()
				if err != nil {
					return fmt.Errorf("building logger: %w", err)
				}
				logger = l
			}
			defer logger.Sync()
			return runServe(cmd.Context(), addr, logger)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", ":"+getEnv("PORT", "8080"), "Listen address")

	rootCmd.AddCommand(initCmd, scheduleCmd, tournamentCmd, serveCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runInit(outputPath string) error {
	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("%s already exists; remove it first or use -o to write elsewhere", outputPath)
	}

	if err := os.WriteFile(outputPath, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("✓ Created %s\n", outputPath)
	return nil
}

const configTemplate = `# Tournament Configuration
# ========================
# This file defines the parameters for generating a cricket schedule.

# Tournament defines the date range, match length and rest rules.
tournament:
  name: "Coastal T20 Cup"
  start_date: "2026-11-01"
  end_date: "2026-11-14"

  # Blackout dates are full days where no matches will be scheduled at any venue.
  blackout_dates:
    - date: "2026-11-08"
      reason: "Diwali"

  # Every match occupies this many hours of a venue.
  match_duration_hours: 3.5

  # Minimum hours between the end of a team's match and the start of its next.
  min_rest_hours: 20

  # Maximum matches per venue per day. Slots are packed back to back from the
  # start of the day window and never run past its end.
  slots_per_day: 2

  # round_robin, double_round_robin, knockout or league.
  # league plays a single round robin unless league_double_pass is true.
  format: round_robin

  # Hours during which matches may be played. Venues may override it.
  day_window:
    start: "14:00"
    end: "23:00"

# Teams take part in the order listed. In a knockout the order is the seeding.
# Codes are short unique labels used in sheets and messages.
teams:
  - {name: Mumbai Mariners, code: MUM}
  - {name: Chennai Chargers, code: CHE}
  - {name: Kolkata Knights, code: KOL}
  - {name: Delhi Dynamos, code: DEL}
  - {name: Punjab Panthers, code: PUN}
  - {name: Rajasthan Royals XI, code: RAJ}
  - {name: Hyderabad Hawks, code: HYD}
  - {name: Bengaluru Blasters, code: BLR}

# Venues available for scheduling. Each venue can have reservations that block
# it for a date or a date range.
#
# Single date reservation:
#   - date: "2026-11-10"
#     reason: "Pitch relaying"
#
# Date range reservation (blocks every day in the range):
#   - start_date: "2026-11-03"
#     end_date: "2026-11-05"
#     reason: "Ranji fixture"
venues:
  - name: Wankhede Stadium
    city: Mumbai
    day_window:
      start: "15:00"
      end: "23:00"
  - name: Eden Gardens
    city: Kolkata
    reservations:
      - date: "2026-11-10"
        reason: "Pitch relaying"
  - name: Chepauk
    city: Chennai

# Engine settings bound the search. A dead end may unwind at most
# backtrack_window fixtures, and step_budget caps the slot probes of a run.
engine:
  backtrack_window: 8
  step_budget: 250000
`

func runGenerate(ctx context.Context, configPath, outputPath string, logger *zap.Logger) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if gen, err := fixture.Get(cfg.Tournament); err == nil {
		if plan, err := gen.Generate(cfg.Teams); err == nil {
			if slots, err := schedule.BuildSlots(cfg.Tournament, cfg.Venues); err == nil {
				fmt.Printf("Scheduling %d fixtures into %d available slots...\n", len(plan.Fixtures), len(slots))
			}
		}
	}

	report := schedule.Generate(ctx, cfg.Tournament, cfg.Teams, cfg.Venues,
		schedule.WithLogger(logger), schedule.WithEngine(cfg.Engine))
	if !report.Success {
		fmt.Fprintf(os.Stderr, "✗ %s\n", report.Message)
		if len(report.Conflicts) > 0 {
			fmt.Fprintln(os.Stderr, "\nConflicts:")
			for _, c := range report.Conflicts {
				fmt.Fprintf(os.Stderr, "  - %s\n", c.Message)
			}
		}
		if len(report.Suggestions) > 0 {
			fmt.Fprintln(os.Stderr, "\nSuggestions:")
			for _, s := range report.Suggestions {
				fmt.Fprintf(os.Stderr, "  - %s\n", s)
			}
		}
		return fmt.Errorf("no schedule generated (%s)", report.Kind)
	}
	fmt.Printf("✓ %s\n", report.Message)

	fmt.Println("\nPer Team Metrics:")
	fmt.Printf("  %-6s %7s %4s %4s %-10s %-10s\n", "Team", "Matches", "Home", "Away", "First", "Last")
	for _, m := range teamMetrics(cfg.Teams, report.Matches) {
		fmt.Printf("  %-6s %7d %4d %4d %-10s %-10s\n", m.label, m.matches, m.home, m.away, m.first, m.last)
	}

	if len(report.Warnings) > 0 {
		fmt.Printf("\nWarnings (%d):\n", len(report.Warnings))
		for _, w := range report.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}

	f, err := excel.Generate(cfg, report, schedule.BuildBlackoutSlots(cfg.Tournament, cfg.Venues))
	if err != nil {
		return fmt.Errorf("generating Excel: %w", err)
	}

	if err := f.SaveAs(outputPath); err != nil {
		return fmt.Errorf("saving file: %w", err)
	}

	fmt.Printf("\n✓ Schedule saved to %s\n", outputPath)
	return nil
}

type teamMetric struct {
	label       string
	matches     int
	home, away  int
	first, last string
}

func teamMetrics(teams []config.Team, matches []schedule.Match) []teamMetric {
	out := make([]teamMetric, len(teams))
	index := make(map[string]int)
	for i, t := range teams {
		out[i].label = t.Label()
		index[t.ID] = i
	}
	// Matches are chronological, so the first sighting is the first match.
	for _, m := range matches {
		for _, side := range []struct {
			s    fixture.Side
			home bool
		}{{m.Fixture.Home, true}, {m.Fixture.Away, false}} {
			if !side.s.Resolved() {
				continue
			}
			i, ok := index[side.s.Team.ID]
			if !ok {
				continue
			}
			tm := &out[i]
			tm.matches++
			if side.home {
				tm.home++
			} else {
				tm.away++
			}
			day := m.Slot.Day.Format(excel.DateLayout)
			if tm.first == "" {
				tm.first = day
			}
			tm.last = day
		}
	}
	return out
}

func runValidate(configPath, schedulePath string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	violations, err := validator.Validate(cfg, schedulePath)
	if err != nil {
		return fmt.Errorf("validating: %w", err)
	}

	errors := 0
	warnings := 0
	for _, v := range violations {
		switch v.Type {
		case "error":
			errors++
			if v.Row > 0 {
				fmt.Printf("✗ Row %d: %s\n", v.Row, v.Message)
			} else {
				fmt.Printf("✗ %s\n", v.Message)
			}
		case "warning":
			warnings++
			fmt.Printf("⚠ %s\n", v.Message)
		}
	}

	fmt.Printf("\nValidation complete: %d rule violations, %d warnings\n", errors, warnings)

	if errors > 0 {
		return fmt.Errorf("%d constraint violations found", errors)
	}
	return nil
}

func runImport(ctx context.Context, configPath string, logger *zap.Logger) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	pool, err := store.NewPool(ctx, store.DBConfigFromEnv(), logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	id, err := st.CreateTournament(ctx, cfg)
	if err != nil {
		return fmt.Errorf("storing tournament: %w", err)
	}

	fmt.Printf("✓ Created tournament %s (%d teams, %d venues)\n", id, len(cfg.Teams), len(cfg.Venues))
	return nil
}
