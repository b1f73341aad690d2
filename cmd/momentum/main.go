package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"momentum/internal/app"
	"momentum/internal/config"
	"momentum/internal/conversation"
	"momentum/internal/db"
	"momentum/internal/domain"
	"momentum/internal/events"
	"momentum/internal/logging"
	"momentum/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "momentum",
	Short: "Momentum CLI",
	Long: `Momentum is a personal planner driven by an assistant.
- Entities: events, tasks, habits, goals, milestones and categories.
- Chat: talk to the assistant; it calls functions that change your data.
- Previews: new events are shown first and saved only after you confirm.
- Dispatch: run a function call directly, e.g. complete_multiple_tasks.
- Log: with the sqlite backend every change is written to an audit log ('momentum log tail').`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MOMENTUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", app.LocalUser, "user identifier recorded on changes")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the workspace and a default momentum.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate momentum.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func chatCmd() *cobra.Command {
	var convID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant",
		Long:  "Interactive chat. Ctrl-C cancels the running turn; /confirm and /discard act on the latest preview; /quit exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reg, err := a.Conversations(ctx)
				if err != nil {
					return err
				}
				conv, err := reg.Get(ctx, convID)
				if err != nil {
					return err
				}
				return runChat(ctx, a, conv, os.Stdin, os.Stdout)
			})
		},
	}
	cmd.Flags().StringVar(&convID, "conversation", "main", "conversation id")
	return cmd
}

func runChat(ctx context.Context, a *app.App, conv *conversation.Orchestrator, in io.Reader, out io.Writer) error {
	// Interrupts cancel the running turn instead of the process.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go func() {
		for range interrupts {
			if !conv.Cancel() {
				fmt.Fprintln(out)
				os.Exit(130)
			}
			fmt.Fprintln(out, "\n[cancelled]")
		}
	}()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		caller := a.Caller(viper.GetString("user"), "")
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/confirm":
			res, err := conv.Confirm(context.WithoutCancel(ctx), caller, "")
			printChatResult(out, res.Message, err)
			continue
		case "/discard":
			res, err := conv.Discard(context.WithoutCancel(ctx), "")
			printChatResult(out, res.Message, err)
			continue
		}
		streamed := false
		reply, err := conv.Send(context.WithoutCancel(ctx), caller, line, func(delta string) {
			streamed = true
			fmt.Fprint(out, delta)
		})
		if streamed {
			fmt.Fprintln(out)
		}
		if err != nil {
			a.Logger.Warn("history not saved", zap.Error(err))
		}
		if reply.Result != nil || !streamed {
			if reply.Message != "" {
				fmt.Fprintln(out, reply.Message)
			}
		}
		if reply.PendingID != "" {
			fmt.Fprintln(out, "(type /confirm to save or /discard to drop)")
		}
	}
}

func printChatResult(out io.Writer, msg string, err error) {
	if errors.Is(err, conversation.ErrNoPending) {
		fmt.Fprintln(out, err.Error())
		return
	}
	fmt.Fprintln(out, msg)
}

func dispatchCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "dispatch <function> [arguments-json]",
		Short: "Run a function call without the assistant",
		Example: `  momentum dispatch create_task '{"title":"Pay rent","due_date":"friday"}'
  momentum dispatch complete_multiple_tasks '{"ids":["Pay rent","Call mom"]}'
  momentum dispatch manage_entity '{"type":"goal","action":"list"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			argsJSON := ""
			if len(args) == 2 {
				argsJSON = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				caller := a.Caller(viper.GetString("user"), "")
				res, err := a.DispatchCall(ctx, caller, args[0], argsJSON)
				if err != nil {
					return err
				}
				if p, ok := res.Pending(); ok {
					if !yes {
						if err := printResult(res); err != nil {
							return err
						}
						fmt.Println("(nothing saved; rerun with --yes to save)")
						return nil
					}
					res = a.Engine.Materialize(ctx, caller, p)
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "save event previews without asking")
	return cmd
}

func listCmd() *cobra.Command {
	var date, query string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:       "list <kind>",
		Short:     "List or search one kind of record",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"events", "tasks", "habits", "goals", "milestones", "categories"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := domain.ParseKind(strings.ToLower(args[0]))
			if !ok {
				return fmt.Errorf("unknown kind %q", args[0])
			}
			env := domain.Envelope{Type: kind, Action: domain.ActionList, Parameters: map[string]any{}}
			if query != "" {
				env.Action = domain.ActionSearch
				env.Parameters["query"] = query
			}
			if date != "" {
				env.Parameters["date"] = date
			}
			if all {
				env.Parameters["include_completed"] = true
			}
			if limit > 0 {
				env.Parameters["limit"] = float64(limit)
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return printResult(a.Dispatch(ctx, a.Caller(viper.GetString("user"), ""), env))
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date or range, e.g. today, next week")
	cmd.Flags().StringVar(&query, "query", "", "search text")
	cmd.Flags().BoolVar(&all, "all", false, "include completed records")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records")
	return cmd
}

func confirmCmd() *cobra.Command {
	var convID, pendingID string
	var discard bool
	cmd := &cobra.Command{
		Use:   "confirm",
		Short: "Save (or --discard) a preview left in a stored conversation",
		Long:  "Previews survive restarts only with the sqlite backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reg, err := a.Conversations(ctx)
				if err != nil {
					return err
				}
				conv, err := reg.Get(ctx, convID)
				if err != nil {
					return err
				}
				var res domain.FunctionCallResult
				if discard {
					res, err = conv.Discard(ctx, pendingID)
				} else {
					res, err = conv.Confirm(ctx, a.Caller(viper.GetString("user"), ""), pendingID)
				}
				if errors.Is(err, conversation.ErrNoPending) {
					return err
				}
				if err != nil {
					a.Logger.Warn("history not saved", zap.Error(err))
				}
				return printResult(res)
			})
		},
	}
	cmd.Flags().StringVar(&convID, "conversation", "main", "conversation id")
	cmd.Flags().StringVar(&pendingID, "pending-id", "", "preview message id (latest when empty)")
	cmd.Flags().BoolVar(&discard, "discard", false, "drop the preview instead")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every committed change, with the user that made it. Needs the sqlite backend.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return fmt.Errorf("the audit log needs storage.backend: %s", config.BackendSQLite)
				}
				recs, err := events.Tail(ctx, a.DB, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Time", "Type", "Kind", "ID", "User"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.Seq, r.TS, r.Type, r.EntityKind, r.EntityID, r.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret"), AllowUserHeader: allowUserHeader}
			if authCfg.JWTSecret == "" && !allowUserHeader {
				return fmt.Errorf("MOMENTUM_JWT_SECRET is required for bearer auth")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg, Logger: a.Logger.Named("server")})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				g.Go(func() error {
					return server.RunWebhooks(ctx, a.Stores, a.Config.Webhooks, a.Logger.Named("webhooks"))
				})
				fmt.Printf("Serving Momentum API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "accept X-User-Id without a token (local use only)")
	return cmd
}

func tokenCmd() *cobra.Command {
	var tier string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --user",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), viper.GetString("user"), tier, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "user tier claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Verbose:     viper.GetBool("verbose"),
	})
	if err != nil {
		return err
	}
	defer logger.Sync()
	if cfg.Storage.Backend == config.BackendSQLite {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
	}
	a, err := app.Open(ctx, app.Options{Workspace: workspace, Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printResult(res domain.FunctionCallResult) error {
	if viper.GetBool("json") {
		out := map[string]any{
			"function_name": res.FunctionName,
			"success":       res.Success,
			"message":       res.Message,
		}
		if len(res.Details) > 0 {
			out["details"] = res.Details
		}
		switch o := res.Outcome.(type) {
		case domain.Committed:
			out["committed_ids"] = o.IDs
		case domain.Pending:
			out["pending"] = o.Drafts
		}
		return printJSON(out)
	}
	fmt.Println(res.Message)
	if !res.Success {
		return errors.New("command was rejected")
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
