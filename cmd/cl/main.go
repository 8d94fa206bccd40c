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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"checkline/internal/catalog"
	"checkline/internal/config"
	"checkline/internal/db"
	"checkline/internal/domain"
	"checkline/internal/engine"
	"checkline/internal/migrate"
	"checkline/internal/server"
	"checkline/internal/session"
	"checkline/internal/tui"
	"checkline/internal/workflow"
	checklinesdk "checkline/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Checkline CLI",
	Long: `Checkline runs compliance marking sessions against a control catalog.
Mark each control pass/fail/skip with an explanation, save the session as a
named configuration for a team's device, then generate and download the
compliance report. One report exists per saved configuration.`,
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
	viper.SetEnvPrefix("CHECKLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8484", "server base URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token")
	rootCmd.PersistentFlags().String("api-key", "", "API key")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(deviceCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func newClient() *checklinesdk.Client {
	c := checklinesdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	c.APIKey = viper.GetString("api-key")
	return c
}

func newWorkflow(client *checklinesdk.Client) *workflow.Workflow {
	sess := &workflow.Session{
		Token: client.BearerToken,
		OnAuthExpired: func() {
			fmt.Println("session expired; sign in again with cl login")
		},
	}
	return workflow.New(workflow.ClientBackend{Client: client}, sess)
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if err := e.SeedCatalog(cmd.Context()); err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if secret == "" {
				secret = os.Getenv("CHECKLINE_JWT_SECRET")
			}
			if secret == "" {
				return fmt.Errorf("jwt secret required: set server.jwt_secret or CHECKLINE_JWT_SECRET")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: secret, EnableDevAuth: cfg.Server.EnableDevAuth},
			})
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
			fmt.Printf("Serving Checkline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage checkline.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	return cfg
}

func catalogCmd() *cobra.Command {
	cat := &cobra.Command{Use: "catalog", Short: "Inspect the control catalog"}
	var section string
	var local bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List controls",
		RunE: func(cmd *cobra.Command, args []string) error {
			var src catalog.Source
			if local {
				cfg, err := config.LoadOptional(viper.GetString("workspace"))
				if err != nil {
					return err
				}
				src = catalog.ConfigSource{Config: cfg}
			} else {
				src = catalog.HTTPSource{Client: newClient()}
			}
			cat, err := catalog.Load(cmd.Context(), src)
			if err != nil {
				return err
			}
			controls := cat.Controls()
			if section != "" {
				var filtered []domain.Control
				for _, c := range controls {
					if c.Section == section {
						filtered = append(filtered, c)
					}
				}
				controls = filtered
			}
			if viper.GetBool("json") {
				return printJSON(controls)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Section", "Title", "Risk"})
			for _, c := range controls {
				tw.AppendRow(table.Row{c.ID, c.Section, c.Title, c.RiskLevel})
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().StringVar(&section, "section", "", "filter by section")
	list.Flags().BoolVar(&local, "local", false, "read from checkline.yml instead of the server")
	cat.AddCommand(list)
	return cat
}

func loginCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a dev token from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			token, err := client.DevLogin(cmd.Context(), viper.GetString("actor-id"), role)
			if err != nil {
				return err
			}
			fmt.Println(token)
			fmt.Fprintln(os.Stderr, "export CHECKLINE_TOKEN or pass --token on later commands")
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "auditor", "role claim (admin, auditor, viewer)")
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage teams"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := newClient().CreateTeam(cmd.Context(), name)
			if err != nil {
				return err
			}
			return printJSONOrTable(t)
		},
	}
	create.Flags().StringVar(&name, "name", "", "team name")
	_ = create.MarkFlagRequired("name")
	team.AddCommand(create)

	team.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().ListTeams(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Created"})
			for _, t := range items {
				tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
			}
			tw.Render()
			return nil
		},
	})

	team.AddCommand(&cobra.Command{
		Use:   "delete <team-id>",
		Short: "Delete a team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient().DeleteTeam(cmd.Context(), args[0])
		},
	})
	return team
}

func deviceCmd() *cobra.Command {
	device := &cobra.Command{Use: "device", Short: "Manage devices"}

	var teamID, name, subtype string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a device under a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := newClient().CreateDevice(cmd.Context(), teamID, name, subtype)
			if err != nil {
				return err
			}
			return printJSONOrTable(d)
		},
	}
	add.Flags().StringVar(&teamID, "team", "", "team id")
	add.Flags().StringVar(&name, "name", "", "device name")
	add.Flags().StringVar(&subtype, "subtype", "", "device subtype (laptop, server, vm, ...)")
	_ = add.MarkFlagRequired("team")
	_ = add.MarkFlagRequired("name")
	device.AddCommand(add)

	var listTeam string
	list := &cobra.Command{
		Use:   "list",
		Short: "List devices of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().ListDevices(cmd.Context(), listTeam)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Subtype", "Created"})
			for _, d := range items {
				tw.AppendRow(table.Row{d.ID, d.Name, d.Subtype, d.CreatedAt})
			}
			tw.Render()
			return nil
		},
	}
	list.Flags().StringVar(&listTeam, "team", "", "team id")
	_ = list.MarkFlagRequired("team")
	device.AddCommand(list)

	return device
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Interactive marking session"}

	var teamID, deviceID, comments, outDir string
	ui := &cobra.Command{
		Use:   "ui",
		Short: "Mark the catalog interactively, then save, generate and download",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			cat, err := catalog.Load(cmd.Context(), catalog.HTTPSource{Client: client})
			if err != nil {
				return err
			}
			state := session.NewMarkingState()
			model := tui.NewModel(cat, state)
			if _, err := tea.NewProgram(model).Run(); err != nil {
				return err
			}
			name, submitted := model.Result()
			if !submitted {
				fmt.Println("session discarded")
				return nil
			}
			draft, err := session.BuildDraft(name, teamID, deviceID, comments, cat, state)
			if err != nil {
				return err
			}
			return runWorkflow(cmd.Context(), client, draft, outDir, state, cat)
		},
	}
	ui.Flags().StringVar(&teamID, "team", "", "team id")
	ui.Flags().StringVar(&deviceID, "device", "", "device id")
	ui.Flags().StringVar(&comments, "comments", "", "free-form comments")
	ui.Flags().StringVar(&outDir, "out", ".", "directory for the downloaded report")
	_ = ui.MarkFlagRequired("team")
	_ = ui.MarkFlagRequired("device")
	sess.AddCommand(ui)
	return sess
}

func runCmd() *cobra.Command {
	var name, teamID, deviceID, comments, outDir string
	var passes, fails, skips []string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "One-shot: mark from flags, save, generate and download",
		Long: `Marks are given as repeated flags of the form "CONTROL-ID=explanation",
for example: --pass "AC-1=audited the directory" --fail "DP-1=two laptops unencrypted".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			cat, err := catalog.Load(cmd.Context(), catalog.HTTPSource{Client: client})
			if err != nil {
				return err
			}
			state := session.NewMarkingState()
			for status, group := range map[domain.MarkingStatus][]string{
				domain.StatusPass: passes,
				domain.StatusFail: fails,
				domain.StatusSkip: skips,
			} {
				for _, mark := range group {
					id, explanation, err := parseMark(mark)
					if err != nil {
						return err
					}
					if !cat.Has(id) {
						return fmt.Errorf("unknown control %s", id)
					}
					if err := state.SetStatus(id, status); err != nil {
						return err
					}
					state.SetExplanation(id, explanation)
				}
			}
			draft, err := session.BuildDraft(name, teamID, deviceID, comments, cat, state)
			if err != nil {
				return err
			}
			return runWorkflow(cmd.Context(), client, draft, outDir, state, cat)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "configuration name")
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	cmd.Flags().StringVar(&deviceID, "device", "", "device id")
	cmd.Flags().StringVar(&comments, "comments", "", "free-form comments")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the downloaded report")
	cmd.Flags().StringArrayVar(&passes, "pass", nil, "mark pass: CONTROL-ID=explanation")
	cmd.Flags().StringArrayVar(&fails, "fail", nil, "mark fail: CONTROL-ID=explanation")
	cmd.Flags().StringArrayVar(&skips, "skip", nil, "mark skip: CONTROL-ID=explanation")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("device")
	return cmd
}

func parseMark(mark string) (id, explanation string, err error) {
	id, explanation, ok := strings.Cut(mark, "=")
	if !ok || strings.TrimSpace(id) == "" {
		return "", "", fmt.Errorf("invalid mark %q, want CONTROL-ID=explanation", mark)
	}
	return strings.TrimSpace(id), strings.TrimSpace(explanation), nil
}

// runWorkflow saves the draft and, when every control is marked, generates
// and downloads the report. A partial session stops after the save.
func runWorkflow(ctx context.Context, client *checklinesdk.Client, draft domain.ConfigurationDraft, outDir string, state *session.MarkingState, cat *catalog.Catalog) error {
	w := newWorkflow(client)
	saved, err := w.Submit(ctx, draft)
	if err != nil {
		return err
	}
	fmt.Println("saved configuration", saved.SaveID)
	if !state.ReportReady(cat) {
		remaining := state.Remaining(cat)
		fmt.Printf("report skipped: %d controls still unmarked (%s)\n", len(remaining), strings.Join(remaining, ", "))
		return nil
	}
	rep, err := w.Generate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("report %s: score %d%% (passed %d, failed %d, skipped %d)\n",
		rep.ReportID, rep.ComplianceScore, rep.PassedChecks, rep.FailedChecks, rep.SkippedChecks)
	path, err := w.Download(ctx, rep, saved.Name, outDir)
	if err != nil {
		return err
	}
	fmt.Println("downloaded", path)
	return nil
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{Use: "report", Short: "Inspect and fetch reports"}

	report.AddCommand(&cobra.Command{
		Use:   "show <report-id>",
		Short: "Show report metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := newClient().GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(rep)
		},
	})

	var outDir string
	download := &cobra.Command{
		Use:   "download <report-id>",
		Short: "Download the report artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			rep, err := client.GetReport(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cfg, err := client.GetConfiguration(cmd.Context(), rep.SaveID)
			if err != nil {
				return err
			}
			w := newWorkflow(client)
			path, err := w.Download(cmd.Context(), toDomainReport(rep), cfg.Name, outDir)
			if err != nil {
				return err
			}
			fmt.Println("downloaded", path)
			return nil
		},
	}
	download.Flags().StringVar(&outDir, "out", ".", "directory for the downloaded report")
	report.AddCommand(download)
	return report
}

func toDomainReport(r checklinesdk.Report) domain.Report {
	return domain.Report{
		ReportID:        r.ReportID,
		SaveID:          r.SaveID,
		GeneratedAt:     r.GeneratedAt,
		PassedChecks:    r.PassedChecks,
		FailedChecks:    r.FailedChecks,
		SkippedChecks:   r.SkippedChecks,
		ComplianceScore: r.ComplianceScore,
		FileID:          r.FileID,
		ContentType:     r.ContentType,
	}
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys (server-local)"}

	var actorID, role, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key against the local workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, actorID, domain.Role(role), name)
				if err != nil {
					return err
				}
				fmt.Println(plaintext)
				fmt.Fprintf(os.Stderr, "key id %s for actor %s (%s); the plaintext is shown once\n", key.ID, key.ActorID, key.Role)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actorID, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&role, "role", "viewer", "role (admin, auditor, viewer)")
	create.Flags().StringVar(&name, "name", "", "key label")
	_ = create.MarkFlagRequired("actor")
	apikey.AddCommand(create)

	apikey.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})

	apikey.AddCommand(&cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return apikey
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Audit log"}
	var n int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := newClient().Events(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
			for _, e := range items {
				tw.AppendRow(table.Row{e.TS, e.Type, e.EntityKind + "/" + e.EntityID, e.ActorID})
			}
			tw.Render()
			return nil
		},
	}
	tail.Flags().IntVar(&n, "n", 50, "number of events")
	log.AddCommand(tail)
	return log
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
