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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kintsugi/internal/app"
	"kintsugi/internal/comms"
	"kintsugi/internal/config"
	"kintsugi/internal/db"
	"kintsugi/internal/domain"
	"kintsugi/internal/engine"
	"kintsugi/internal/migrate"
	"kintsugi/internal/repo"
	"kintsugi/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "kg",
	Short: "Kintsugi CLI",
	Long: `Kintsugi is a wellness companion with a hidden workshop.
Public mode: todos, focus sessions (pomodoro), and a journal.
Private mode (the Workshop): assignments you can claim, complete for
reputation, plus encrypted channel comms. Writing the trigger phrase in
your journal unlocks it; 'kg user deactivate' puts it away again.`,
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
	_ = godotenv.Load()
	viper.SetEnvPrefix("KINTSUGI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "local-user", "user token identifier")
	rootCmd.PersistentFlags().String("name", "", "display name for first contact")
	rootCmd.PersistentFlags().String("email", "", "email for first contact")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("name", rootCmd.PersistentFlags().Lookup("name"))
	_ = viper.BindPFlag("email", rootCmd.PersistentFlags().Lookup("email"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(assignmentCmd())
	rootCmd.AddCommand(todoCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(focusCmd())
	rootCmd.AddCommand(commsCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready, database at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
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
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := app.ResolveConfig(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret: os.Getenv("KINTSUGI_JWT_SECRET"),
				DevAuth:   os.Getenv("KINTSUGI_DEV_AUTH") == "1",
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("KINTSUGI_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Kintsugi API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the starter assignment set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				n, err := e.SeedAssignments(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"seeded": n})
				}
				if n == 0 {
					fmt.Println("assignments already present, nothing seeded")
				} else {
					fmt.Printf("seeded %d assignments\n", n)
				}
				return nil
			})
		},
	}
	return cmd
}

func assignmentCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "assignment",
		Short: "Manage workshop assignments",
		Long:  "Assignments flow active -> claimed -> completed. Claiming is exclusive, releasing returns the assignment to the pool, and completing pays reputation by type.",
	}
	a.AddCommand(assignmentListCmd())
	a.AddCommand(assignmentShowCmd())
	a.AddCommand(assignmentCreateCmd())
	a.AddCommand(assignmentClaimCmd())
	a.AddCommand(assignmentReleaseCmd())
	a.AddCommand(assignmentCompleteCmd())
	return a
}

func assignmentListCmd() *cobra.Command {
	var claimed, located bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				var items []domain.Assignment
				switch {
				case claimed:
					items, err = e.ClaimedAssignments(ctx, u.ID)
				case located:
					items, err = e.LocatedAssignments(ctx)
				default:
					items, err = e.VisibleAssignments(ctx, u.ID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Claimed By", "Location"})
				for _, a := range items {
					claimant := ""
					if a.ClaimedBy != nil {
						claimant = *a.ClaimedBy
					}
					loc := ""
					if a.Location != nil {
						loc = a.Location.Address
					}
					tw.AppendRow(table.Row{a.ID, a.Title, a.Type, a.Status, claimant, loc})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&claimed, "claimed", false, "only assignments claimed by me")
	cmd.Flags().BoolVar(&located, "located", false, "only assignments with coordinates")
	return cmd
}

func assignmentShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAssignment(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assignmentCreateCmd() *cobra.Command {
	var opts engine.AssignmentCreateOptions
	var lat, lng float64
	var address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				opts.ActorID = u.ID
				if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
					opts.Location = &domain.Location{Lat: lat, Lng: lng, Address: address}
				}
				a, err := e.CreateAssignment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "assignment id (optional)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "digital", "assignment type (digital, physical)")
	cmd.Flags().Float64Var(&lat, "lat", 0, "location latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "location longitude")
	cmd.Flags().StringVar(&address, "address", "", "location address")
	cmd.Flags().StringArrayVar(&opts.Steps, "step", []string{}, "step (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Requirements, "require", []string{}, "requirement (repeatable)")
	cmd.Flags().StringVar(&opts.EstimatedDuration, "duration", "", "estimated duration")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func assignmentClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.ClaimAssignment(ctx, args[0], u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assignmentReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claimed assignment back to the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				a, err := e.UnclaimAssignment(ctx, args[0], u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func assignmentCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete a claimed assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				a, reward, err := e.CompleteAssignment(ctx, args[0], u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"assignment": a, "reputation_gain": reward})
				}
				fmt.Printf("completed %q, +%d reputation\n", a.Title, reward)
				return nil
			})
		},
	}
	return cmd
}

func todoCmd() *cobra.Command {
	t := &cobra.Command{Use: "todo", Short: "Manage todos"}
	t.AddCommand(todoAddCmd())
	t.AddCommand(todoListCmd())
	t.AddCommand(todoDoneCmd())
	t.AddCommand(todoRemoveCmd())
	return t
}

func todoAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <body>",
		Short: "Add a todo",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.CreateTodo(ctx, u.ID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func todoListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListTodos(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Done", "Body"})
				for _, t := range items {
					mark := " "
					if t.Completed {
						mark = "x"
					}
					tw.AppendRow(table.Row{t.ID, mark, t.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func todoDoneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <id>",
		Short: "Toggle todo completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				t, err := e.ToggleTodo(ctx, args[0], u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func todoRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a todo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteTodo(ctx, args[0], u.ID)
			})
		},
	}
	return cmd
}

func journalCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "journal",
		Short: "Personal journal",
		Long:  "Journal entries are private notes. A particular phrase, written in an entry, opens the workshop.",
	}
	j.AddCommand(journalAddCmd())
	j.AddCommand(journalListCmd())
	j.AddCommand(journalRemoveCmd())
	return j
}

func journalAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Write a journal entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				res, err := e.CreateJournalEntry(ctx, u.ID, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"entry": res.Entry, "workshop_activated": res.Activated})
				}
				fmt.Printf("entry %s saved\n", res.Entry.ID)
				if res.Activated {
					fmt.Println("the workshop door is open")
				}
				return nil
			})
		},
	}
	return cmd
}

func journalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListJournalEntries(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func journalRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteJournalEntry(ctx, args[0], u.ID)
			})
		},
	}
	return cmd
}

func focusCmd() *cobra.Command {
	f := &cobra.Command{Use: "focus", Short: "Pomodoro focus sessions"}
	f.AddCommand(focusLogCmd())
	f.AddCommand(focusListCmd())
	return f
}

func focusLogCmd() *cobra.Command {
	var seconds int
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Record a completed focus session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				s, err := e.RecordFocusSession(ctx, u.ID, seconds)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().IntVar(&seconds, "seconds", 1500, "session duration in seconds")
	return cmd
}

func focusListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List focus sessions and total time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				sessions, err := e.Repo.ListFocusSessions(ctx, u.ID)
				if err != nil {
					return err
				}
				total, err := e.Repo.TotalFocusSeconds(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"sessions": sessions, "total_seconds": total})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Duration", "Completed At"})
				for _, s := range sessions {
					tw.AppendRow(table.Row{s.ID, (time.Duration(s.DurationSeconds) * time.Second).String(), s.CompletedAt})
				}
				tw.Render()
				fmt.Printf("total: %s\n", (time.Duration(total) * time.Second).String())
				return nil
			})
		},
	}
	return cmd
}

func commsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "comms",
		Short: "Encrypted channel comms",
		Long:  "Messages are encrypted on this machine before they are stored; history is decrypted locally. A message sent to the wrong channel reads as garbage.",
	}
	c.AddCommand(commsSendCmd())
	c.AddCommand(commsHistoryCmd())
	c.AddCommand(commsChannelsCmd())
	return c
}

func commsSendCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Encrypt and send a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				body, err := comms.EncryptMessage(strings.Join(args, " "), channel)
				if err != nil {
					return err
				}
				m, err := e.SendMessage(ctx, u.ID, channel, body)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(m)
				}
				fmt.Printf("sent to #%s\n", channel)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel name")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func commsHistoryCmd() *cobra.Command {
	var channel string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show decrypted channel history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.Repo.ListChannelMessages(ctx, channel)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					type decrypted struct {
						domain.Message
						Plaintext string `json:"plaintext"`
					}
					out := make([]decrypted, 0, len(msgs))
					for _, m := range msgs {
						out = append(out, decrypted{Message: m, Plaintext: comms.DecryptMessage(m.Body, channel)})
					}
					return printJSON(out)
				}
				for _, m := range msgs {
					fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.UserName, comms.DecryptMessage(m.Body, channel))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel name")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func commsChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List channels you have posted to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				channels, err := e.Repo.ListChannels(ctx, u.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(channels)
				}
				for _, c := range channels {
					fmt.Println(c)
				}
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage the local user"}
	u.AddCommand(userMeCmd())
	u.AddCommand(userActivateCmd())
	u.AddCommand(userDeactivateCmd())
	return u
}

func userMeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userActivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Switch to private mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				updated, err := e.ActivateWorkshop(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Return to public mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				updated, err := e.DeactivateWorkshop(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(apikeyCreateCmd())
	k.AddCommand(apikeyListCmd())
	k.AddCommand(apikeyRevokeCmd())
	return k
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (the raw key is shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    u.ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": raw})
				}
				fmt.Printf("id:  %s\nkey: %s\n", key.ID, raw)
				fmt.Println("store the key now; only its hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := currentUser(ctx, e)
				if err != nil {
					return err
				}
				keys, err := e.Repo.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: claims, completions, mode switches, and more.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, repo.EventFilters{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
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

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := app.ResolveConfig(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func currentUser(ctx context.Context, e engine.Engine) (domain.User, error) {
	return app.ResolveUser(ctx, e, viper.GetString("user"), viper.GetString("name"), viper.GetString("email"))
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
