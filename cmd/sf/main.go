package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageflow/internal/app"
	"stageflow/internal/calendar"
	"stageflow/internal/config"
	"stageflow/internal/db"
	"stageflow/internal/engine"
	"stageflow/internal/hub"
	"stageflow/internal/migrate"
	"stageflow/internal/repo"
	"stageflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sf",
	Short: "Stageflow CLI",
	Long: `Stageflow tracks tasks moving through a staged workflow on a working calendar.
Core concepts:
- Space: one tenant with its own working calendar, workflow stages and members.
- Group: a workflow stage with a position, an hour estimate, and dependency
  edges to predecessor stages. Sequential edges gate entry; parallel edges
  are informational.
- Task: a work item anchored to exactly one stage. Entering a stage computes
  a due instant by walking the working calendar forward by the stage's
  estimate. Pausing stops the clock; completion is classified early, on
  time, or late.
- Approval gates: stages that require an approve/reject decision before a
  task may enter.
- Event log: diary of changes, view with 'sf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAGEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("space", "", "space id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("space", rootCmd.PersistentFlags().Lookup("space"))
}

func registerCommands() {
	rootCmd.AddCommand(spaceCmd())
	rootCmd.AddCommand(groupCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func spaceCmd() *cobra.Command {
	space := &cobra.Command{Use: "space", Short: "Manage spaces"}
	space.AddCommand(spaceInitCmd())
	space.AddCommand(spaceListCmd())
	space.AddCommand(spaceShowCmd())
	space.AddCommand(spaceDeleteCmd())
	return space
}

func spaceInitCmd() *cobra.Command {
	var id, cfgFile string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a space from stageflow.yml (writing a default config if missing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			var cfg *config.Config
			var err error
			if cfgFile != "" {
				cfg, err = config.FromFile(cfgFile)
				if err != nil {
					return err
				}
			} else {
				path := config.Path(workspace)
				if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
					if id == "" {
						return fmt.Errorf("--id required when no %s exists", path)
					}
					if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
						return err
					}
					fmt.Printf("Wrote default config to %s\n", path)
				}
				cfg, err = config.Load(workspace)
				if err != nil {
					return err
				}
			}
			if id != "" && cfg.Space.ID != id {
				return fmt.Errorf("config space id %s does not match --id %s", cfg.Space.ID, id)
			}
			return withDB(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, groups, err := e.InitSpace(ctx, cfg, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"space": s, "groups": groups})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "space id")
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file path (defaults to <workspace>/stageflow.yml)")
	return cmd
}

func spaceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List spaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSpaces(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Calendar", "Days", "Parallel"})
				for _, s := range items {
					tw.AppendRow(table.Row{
						s.ID, s.Name,
						s.DayStart + "-" + s.DayEnd,
						strings.Join(s.WorkingDays, ","),
						s.ParallelTasks,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func spaceShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active space",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				s, err := e.Repo.GetSpace(ctx, spaceID)
				if err != nil {
					return err
				}
				groups, err := e.Repo.ListGroups(ctx, spaceID)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByGroup(ctx, spaceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"space": s, "groups": groups, "task_counts": counts})
				}
				fmt.Printf("Space: %s (%s)\n", s.ID, s.Name)
				if w, err := calendar.ParseWindow(s.DayStart, s.DayEnd); err == nil {
					fmt.Printf("Calendar: %s-%s (%gh/day) on %s\n", s.DayStart, s.DayEnd, w.Hours(), strings.Join(s.WorkingDays, ","))
				} else {
					fmt.Printf("Calendar: %s-%s on %s\n", s.DayStart, s.DayEnd, strings.Join(s.WorkingDays, ","))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "Stage", "Est. hours", "Start", "Gate", "Terminal", "Tasks"})
				for _, g := range groups {
					tw.AppendRow(table.Row{g.Position, g.Name, g.EstimatedHours, g.IsStart, g.IsApprovalGate, g.IsTerminal, counts[g.ID]})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func spaceDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the active space and everything in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				return e.DeleteSpace(ctx, spaceID, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	member := &cobra.Command{Use: "member", Short: "Manage space members"}
	member.AddCommand(memberAddCmd())
	member.AddCommand(memberListCmd())
	return member
}

func memberAddCmd() *cobra.Command {
	var actor, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				return fmt.Errorf("--actor required")
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				m, err := e.AddMember(ctx, spaceID, actor, role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "member", "role (owner, admin, member)")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				items, err := e.Repo.ListMemberships(ctx, spaceID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func groupCmd() *cobra.Command {
	group := &cobra.Command{
		Use:   "group",
		Short: "Manage workflow stages",
		Long:  "Stages form the workflow. A task enters a stage only when the stage's sequential predecessors are behind it and, for approval gates, an approval is on record.",
	}
	group.AddCommand(groupAddCmd())
	group.AddCommand(groupListCmd())
	group.AddCommand(groupLinkCmd())
	return group
}

func groupAddCmd() *cobra.Command {
	var opts engine.GroupCreateOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a workflow stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Name == "" {
				return fmt.Errorf("--name required")
			}
			opts.ActorID = viper.GetString("actor-id")
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				opts.SpaceID = spaceID
				g, err := e.CreateGroup(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "stage id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "stage name")
	cmd.Flags().IntVar(&opts.Position, "position", 0, "ordering position (unique per space)")
	cmd.Flags().Float64Var(&opts.EstimatedHours, "hours", 0, "estimated working hours")
	cmd.Flags().BoolVar(&opts.IsStart, "start", false, "mark as the start stage")
	cmd.Flags().BoolVar(&opts.IsApprovalGate, "gate", false, "mark as an approval gate")
	cmd.Flags().BoolVar(&opts.IsTerminal, "terminal", false, "mark as terminal")
	return cmd
}

func groupListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				items, err := e.Repo.ListGroups(ctx, spaceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pos", "ID", "Name", "Est. hours", "Start", "Gate", "Terminal", "Depends on"})
				for _, g := range items {
					var deps []string
					for _, d := range g.Dependencies {
						deps = append(deps, fmt.Sprintf("%s (%s)", d.DependsOnGroupID, d.Kind))
					}
					tw.AppendRow(table.Row{g.Position, g.ID, g.Name, g.EstimatedHours, g.IsStart, g.IsApprovalGate, g.IsTerminal, strings.Join(deps, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func groupLinkCmd() *cobra.Command {
	var groupID, dependsOn, kind string
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Link a stage to a predecessor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if groupID == "" || dependsOn == "" {
				return fmt.Errorf("--group and --depends-on required")
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				d, err := e.AddGroupDependency(ctx, groupID, dependsOn, kind, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "stage id")
	cmd.Flags().StringVar(&dependsOn, "depends-on", "", "predecessor stage id")
	cmd.Flags().StringVar(&kind, "kind", "sequential", "edge kind (sequential, parallel)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks flow through stages on the working calendar. Pause stops the clock, complete classifies the finish, approval gates need a decision before entry.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskStatusCmd())
	task.AddCommand(taskMoveCmd())
	task.AddCommand(taskApproveCmd())
	task.AddCommand(taskCommentCmd())
	task.AddCommand(taskHistoryCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var hours float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the start stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Title == "" {
				return fmt.Errorf("--title required")
			}
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("hours") {
				opts.EstimatedHours = &hours
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				opts.SpaceID = spaceID
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "owner actor id")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimate override (defaults to the start stage's)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var filters repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				filters.SpaceID = spaceID
				tasks, err := e.Repo.ListTasks(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				groups, err := e.Repo.ListGroups(ctx, spaceID)
				if err != nil {
					return err
				}
				names := map[string]string{}
				for _, g := range groups {
					names[g.ID] = g.Name
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Stage", "Status", "Owner", "Due", "Class"})
				for _, t := range tasks {
					owner := ""
					if t.OwnerID != nil {
						owner = *t.OwnerID
					}
					due := ""
					if t.DueAt != nil {
						due = *t.DueAt
					}
					tw.AppendRow(table.Row{t.ID, t.Title, names[t.GroupID], t.Status, owner, due, t.Classification})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.GroupID, "group", "", "stage id filter")
	cmd.Flags().StringVar(&filters.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&filters.OwnerID, "owner", "", "owner filter")
	cmd.Flags().IntVar(&filters.Limit, "limit", 0, "max rows")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskStatusCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "status <id> <in_progress|paused|completed>",
		Short: "Pause, resume or complete a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				t, err := e.SetTaskStatus(ctx, args[0], args[1], viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the status history")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var groupID, owner string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Move a task to another stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if groupID == "" {
				return fmt.Errorf("--group required")
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				opts := engine.MoveOptions{
					TaskID:        args[0],
					TargetGroupID: groupID,
					ActorID:       viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("owner") {
					opts.NewOwner = &owner
				}
				t, err := e.MoveTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "target stage id")
	cmd.Flags().StringVar(&owner, "owner", "", "reassign owner on entry (empty clears)")
	return cmd
}

func taskApproveCmd() *cobra.Command {
	var note string
	var reject bool
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Record an approval decision at a gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decision := engine.StatusApproved
			if reject {
				decision = engine.StatusRejected
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				t, err := e.RecordApproval(ctx, args[0], decision, viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "record a rejection instead")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the status history")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if body == "" {
				return fmt.Errorf("--body required")
			}
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				c, err := e.AddComment(ctx, args[0], body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment body")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show stage and status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				stages, err := e.Repo.ListStageHistory(ctx, args[0])
				if err != nil {
					return err
				}
				statuses, err := e.Repo.ListStatusHistory(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"stages": stages, "statuses": statuses})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Stage", "Entered", "Exited", "Hours", "Class"})
				for _, s := range stages {
					exited, hours, class := "", "", ""
					if s.ExitedAt != nil {
						exited = *s.ExitedAt
					}
					if s.HoursSpent != nil {
						hours = fmt.Sprintf("%.2f", *s.HoursSpent)
					}
					if s.Classification != nil {
						class = *s.Classification
					}
					tw.AppendRow(table.Row{s.GroupID, s.EnteredAt, exited, hours, class})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSpace(cmd.Context(), func(ctx context.Context, e engine.Engine, spaceID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, spaceID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			h := hub.New(e.Auth.RequireMember)
			defer h.Close()
			e.Hub = h
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("STAGEFLOW_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("STAGEFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, Hub: h, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stageflow API on http://%s%s (Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id without a token (dev only)")
	return cmd
}

// --- helpers ---

func withDB(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withSpace(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withDB(ctx, func(ctx context.Context, e engine.Engine) error {
		spaceID, err := app.ResolveSpace(ctx, e, viper.GetString("workspace"), viper.GetString("space"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, spaceID)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
