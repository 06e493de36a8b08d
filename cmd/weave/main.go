package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"weave/internal/app"
	"weave/internal/config"
	"weave/internal/db"
	"weave/internal/pipeline"
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "Weave CLI",
	Long: `Weave turns community issue reports into staffed action plans.
- Issues: reports from residents; each one is classified, planned and matched.
- Discovery: classifies an issue (category, priority, urgency, scope) with the
  completion service, or with keyword rules when it is unavailable.
- Plans: an ordered list of tasks with prerequisites and headcounts.
- Matching: assigns volunteers by skills, distance and reliability.
- Ledger: every stage writes one entry per run; view with 'weave log'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WEAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/weave.yml)")
	flags.Bool("json", false, "output JSON")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("gemini-api-key", "", "Gemini API key")
	for _, name := range []string{"workspace", "config", "json", "verbose", "gemini-api-key"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(volunteerCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	if path := viper.GetString("config"); path != "" {
		return config.LoadFile(path)
	}
	return config.LoadOptional(viper.GetString("workspace"))
}

// withApp builds the application for one command and tears it down after.
func withApp(ctx context.Context, opts app.Options, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg, viper.GetBool("verbose"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	opts.Workspace = viper.GetString("workspace")
	opts.Config = cfg
	opts.Logger = logger
	opts.GeminiAPIKey = viper.GetString("gemini-api-key")
	a, err := app.Build(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close app", zap.Error(cerr))
		}
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any, render func(table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	render(tw)
	tw.Render()
	return nil
}

func printOutcome(out pipeline.Outcome) error {
	if viper.GetBool("json") {
		return printJSON(out)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"Session", out.SessionID})
	tw.AppendRow(table.Row{"Issue", out.IssueID})
	tw.AppendRow(table.Row{"Status", out.Status})
	tw.AppendRow(table.Row{"Stage", out.Stage})
	if out.Message != "" {
		tw.AppendRow(table.Row{"Message", out.Message})
	}
	if out.Discovery != nil {
		tw.AppendRow(table.Row{"Category", out.Discovery.Analysis.Category})
		tw.AppendRow(table.Row{"Priority", fmt.Sprintf("%.2f", out.Discovery.Analysis.Priority)})
		tw.AppendRow(table.Row{"Discovery fallback", out.Discovery.FallbackUsed})
	}
	if out.Plan != nil && out.Plan.PlanID != "" {
		tw.AppendRow(table.Row{"Action plan", out.Plan.PlanID})
		tw.AppendRow(table.Row{"Planning fallback", out.Plan.FallbackUsed})
	}
	if out.Match != nil {
		tw.AppendRow(table.Row{"Assignments made", out.Match.TotalAssignmentsMade})
	}
	tw.Render()
	return nil
}

func optionalFloat(cmd *cobra.Command, name string, v float64) *float64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
