package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"weave/internal/app"
	"weave/internal/completion"
	"weave/internal/config"
	"weave/internal/domain"
	"weave/internal/engine"
	"weave/internal/repo"
	"weave/internal/server"
)

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Report and process community issues",
	}
	cmd.AddCommand(issueCreateCmd(), issueListCmd(), issueShowCmd(), issueProcessCmd())
	return cmd
}

func issueCreateCmd() *cobra.Command {
	var opts engine.IssueCreateOptions
	var lat, lng float64
	var process bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report an issue",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Lat = optionalFloat(cmd, "lat", lat)
			opts.Lng = optionalFloat(cmd, "lng", lng)
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				issue, err := a.Engine.CreateIssue(ctx, opts)
				if err != nil {
					return err
				}
				if !process {
					return printIssue(issue)
				}
				return printOutcome(a.Runner.Run(ctx, issue.ID))
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "short title (5 to 255 characters)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "what is wrong (at least 10 characters)")
	cmd.Flags().StringVar(&opts.Address, "address", "", "street address")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&opts.Category, "category", "", "initial category")
	cmd.Flags().StringSliceVar(&opts.Images, "image", nil, "image URL (repeatable)")
	cmd.Flags().StringVar(&opts.CreatedBy, "reporter", "", "reporter id")
	cmd.Flags().BoolVar(&process, "process", false, "run the pipeline right away")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func issueListCmd() *cobra.Command {
	var f repo.IssueFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				issues, err := a.Repo.ListIssues(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(issues, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Title", "Category", "Priority", "Status", "Created"})
					for _, i := range issues {
						tw.AppendRow(table.Row{i.ID, i.Title, i.Category, fmt.Sprintf("%.2f", i.Priority), i.Status, i.CreatedAt})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func issueShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Show an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				issue, err := a.Repo.GetIssue(ctx, args[0])
				if err != nil {
					return fmt.Errorf("issue %s: %w", args[0], err)
				}
				return printIssue(issue)
			})
		},
	}
}

func printIssue(issue domain.Issue) error {
	if viper.GetBool("json") {
		return printJSON(issue)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", issue.ID})
	tw.AppendRow(table.Row{"Title", issue.Title})
	tw.AppendRow(table.Row{"Status", issue.Status})
	tw.AppendRow(table.Row{"Category", issue.Category})
	tw.AppendRow(table.Row{"Priority", fmt.Sprintf("%.2f", issue.Priority)})
	if issue.Location.Address != "" {
		tw.AppendRow(table.Row{"Address", issue.Location.Address})
	}
	if planID, ok := issue.Metadata["action_plan_id"]; ok {
		tw.AppendRow(table.Row{"Action plan", planID})
	}
	tw.Render()
	return nil
}

func issueProcessCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "process <issue-id>",
		Short: "Classify, plan and staff an issue now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.Options{}
			if offline {
				opts.Completion = completion.Unavailable{}
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				out := a.Runner.Run(ctx, args[0])
				if err := printOutcome(out); err != nil {
					return err
				}
				if out.Failed() {
					return errors.New(out.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the completion service and use local fallbacks")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Inspect and staff action plans",
	}
	cmd.AddCommand(planListCmd(), planShowCmd(), planMatchCmd())
	return cmd
}

func planListCmd() *cobra.Command {
	var f repo.PlanFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List action plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				plans, err := a.Repo.ListPlans(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(plans, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Title", "Status", "Volunteers", "Progress"})
					for _, p := range plans {
						tw.AppendRow(table.Row{p.ID, p.Title, p.Status,
							fmt.Sprintf("%d/%d", p.AssignedVolunteers, p.RequiredVolunteers),
							fmt.Sprintf("%.0f%%", p.ProgressPercentage)})
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.IssueID, "issue", "", "issue id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <plan-id>",
		Short: "Show a plan and its tasks in priority order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				plan, err := a.Repo.GetPlan(ctx, args[0])
				if err != nil {
					return fmt.Errorf("action plan %s: %w", args[0], err)
				}
				tasks, err := a.Repo.ListTasksByPlan(ctx, nil, plan.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"plan": plan, "tasks": tasks})
				}
				fmt.Printf("%s [%s] %d/%d volunteers, %.0f%% done\n", plan.Title, plan.Status,
					plan.AssignedVolunteers, plan.RequiredVolunteers, plan.ProgressPercentage)
				names := make(map[string]string, len(tasks))
				for _, t := range tasks {
					names[t.ID] = t.Name
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Task", "People", "Hours", "Status", "After"})
				for _, t := range tasks {
					after := make([]string, 0, len(t.PrerequisiteIDs))
					for _, id := range t.PrerequisiteIDs {
						after = append(after, names[id])
					}
					tw.AppendRow(table.Row{t.Priority, t.ID, t.Name, t.RequiredPeople,
						fmt.Sprintf("%.1f", t.EstimatedHours), t.Status, strings.Join(after, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func planMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <plan-id>",
		Short: "Assign volunteers to the plan's open seats",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				sum, err := a.Runner.Matcher.Match(ctx, uuid.NewString(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				if sum.Status != domain.StageOK {
					fmt.Printf("%s: %s\n", sum.Status, sum.Message)
					return nil
				}
				fmt.Printf("%d assignments made; %d tasks fully and %d partially staffed\n",
					sum.TotalAssignmentsMade, sum.TasksFullyAssigned, sum.TasksPartiallyAssigned)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Unstaffed task", "Assigned", "Required"})
				for _, u := range sum.UnassignedTasks {
					tw.AppendRow(table.Row{u.TaskName, u.Assigned, u.Required})
				}
				if len(sum.UnassignedTasks) > 0 {
					tw.Render()
				}
				return nil
			})
		},
	}
}

func volunteerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "volunteer",
		Short: "Manage volunteers",
	}
	cmd.AddCommand(volunteerAddCmd(), volunteerListCmd(), volunteerShowCmd(), volunteerAssignCmd())
	return cmd
}

func volunteerAddCmd() *cobra.Command {
	var opts engine.VolunteerCreateOptions
	var lat, lng, reliability float64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a volunteer",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Lat = optionalFloat(cmd, "lat", lat)
			opts.Lng = optionalFloat(cmd, "lng", lng)
			opts.Reliability = optionalFloat(cmd, "reliability", reliability)
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.RegisterVolunteer(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(v, func(tw table.Writer) {
					tw.AppendRow(table.Row{"ID", v.ID})
					tw.AppendRow(table.Row{"Name", v.Name})
					tw.AppendRow(table.Row{"Skills", strings.Join(v.Skills, ", ")})
				})
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringSliceVar(&opts.Skills, "skill", nil, "skill (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Availability, "availability", nil, "availability slot (repeatable)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&reliability, "reliability", 0, "reliability score in [0,1]")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func volunteerListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List volunteers with their live assignment counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				vols, err := a.Repo.ListVolunteers(ctx, limit)
				if err != nil {
					return err
				}
				active, err := a.Repo.ActiveAssignmentCounts(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(vols, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Name", "Skills", "Reliability", "Active"})
					for _, v := range vols {
						tw.AppendRow(table.Row{v.ID, v.Name, strings.Join(v.Skills, ", "),
							fmt.Sprintf("%.2f", v.Reliability()), active[v.ID]})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (0 for all)")
	return cmd
}

func volunteerShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <volunteer-id>",
		Short: "Show a volunteer and their assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				v, err := a.Repo.GetVolunteer(ctx, args[0])
				if err != nil {
					return fmt.Errorf("volunteer %s: %w", args[0], err)
				}
				assignments, err := a.Repo.ListAssignments(ctx, nil, repo.AssignmentFilters{VolunteerID: v.ID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"volunteer": v, "assignments": assignments})
				}
				fmt.Printf("%s (%s) reliability %.2f\n", v.Name, v.ID, v.Reliability())
				return printAssignments(assignments)
			})
		},
	}
}

func printAssignments(items []domain.TaskAssignment) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Task", "Status", "Source", "Assigned"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.TaskID, a.Status, a.Source, a.AssignedAt})
	}
	tw.Render()
	return nil
}

func volunteerAssignCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "assign <task-id> <volunteer-id>",
		Short: "Assign a volunteer to a task, bypassing scoring",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.AssignVolunteer(ctx, args[0], args[1], notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return printAssignments([]domain.TaskAssignment{res})
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "assignment notes")
	return cmd
}

func assignmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assignment",
		Short: "Move assignments through start, complete and withdraw",
	}
	var force bool
	start := assignmentTransitionCmd("start", "Check a volunteer in", func(ctx context.Context, e engine.Engine, id string) (domain.TaskAssignment, error) {
		return e.StartAssignment(ctx, id, force)
	})
	start.Flags().BoolVar(&force, "force", false, "start even if prerequisite tasks are unfinished")
	cmd.AddCommand(
		start,
		assignmentTransitionCmd("complete", "Mark an assignment done", func(ctx context.Context, e engine.Engine, id string) (domain.TaskAssignment, error) {
			return e.CompleteAssignment(ctx, id)
		}),
		assignmentTransitionCmd("withdraw", "Withdraw a volunteer", func(ctx context.Context, e engine.Engine, id string) (domain.TaskAssignment, error) {
			return e.WithdrawAssignment(ctx, id)
		}),
	)
	return cmd
}

func assignmentTransitionCmd(use, short string, apply func(context.Context, engine.Engine, string) (domain.TaskAssignment, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <assignment-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := apply(ctx, a.Engine, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				return printAssignments([]domain.TaskAssignment{res})
			})
		},
	}
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Read the execution ledger",
	}
	cmd.AddCommand(logTailCmd(), logSessionCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var f repo.LogFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				entries, err := a.Repo.ListAgentLogs(ctx, f)
				if err != nil {
					return err
				}
				return printLogEntries(entries)
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.AgentType, "agent", "", "agent type filter")
	cmd.Flags().StringVar(&f.SubjectID, "subject", "", "issue or plan id filter")
	return cmd
}

func logSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show the ledger entries of one pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), app.Options{}, func(ctx context.Context, a *app.App) error {
				entries, err := a.Repo.ListAgentLogs(ctx, repo.LogFilters{SessionID: args[0]})
				if err != nil {
					return err
				}
				return printLogEntries(entries)
			})
		},
	}
}

func printLogEntries(entries []domain.ExecutionLogEntry) error {
	return printJSONOrTable(entries, func(tw table.Writer) {
		tw.AppendHeader(table.Row{"Time", "Session", "Agent", "Action", "Subject", "OK", "ms", "Error"})
		for _, e := range entries {
			tw.AppendRow(table.Row{e.CreatedAt, e.SessionID, e.AgentType, e.Action, e.SubjectID, e.Success, e.ExecutionTimeMS, e.ErrorMessage})
		}
	})
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create weave.yml",
	}
	cmd.AddCommand(configShowCmd(), configInitCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default weave.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token for the API with WEAVE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("WEAVE_JWT_SECRET is required")
			}
			token, err := server.IssueToken(secret, subject, roles...)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	return cmd
}
