package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"yieldpilot/internal/app"
	"yieldpilot/internal/config"
	"yieldpilot/internal/db"
	"yieldpilot/internal/server"
	yieldpilotsdk "yieldpilot/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "yp",
	Short: "YieldPilot CLI",
	Long: `YieldPilot runs a multi-agent DeFi advisory service for Cardano.
Three agents answer paid jobs: market (yield opportunities), strategy
(portfolio allocation) and risk (scoring and validation). Jobs follow a
payment-gated lifecycle; a chat surface routes natural language to the
same agents. 'yp serve' starts the API; the other commands talk to a
running server.`,
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
	viper.SetEnvPrefix("YIELDPILOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "server URL for remote commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(availabilityCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with the default config",
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
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, logLevel string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevel)
			if err != nil {
				return err
			}
			a, err := app.New(app.Options{
				Workspace: viper.GetString("workspace"),
				LogLevel:  level,
			})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				a.Close(ctx)
			}()

			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
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
			if authCfg.JWTSecret == "" {
				fmt.Println("Warning: YIELDPILOT_JWT_SECRET not set, user endpoints are unauthenticated")
			}
			fmt.Printf("Serving YieldPilot API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func availabilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "availability",
		Short: "Show agent availability and service terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			avail, err := client().Availability(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(avail)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Agent", "Available", "Price (lovelace)", "Capabilities"})
			for _, at := range []string{"market", "strategy", "risk"} {
				info := avail.Agents[at]
				tw.AppendRow(table.Row{at, info.Available, info.PriceLovelace, strings.Join(info.Capabilities, ", ")})
			}
			tw.Render()
			fmt.Printf("Service %s, version %s\n", availabilityWord(avail.Available), avail.Version)
			return nil
		},
	}
}

func availabilityWord(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage payment-gated jobs"}
	job.AddCommand(jobStartCmd())
	job.AddCommand(jobStatusCmd())
	job.AddCommand(jobListCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobWaitCmd())
	return job
}

func jobStartCmd() *cobra.Command {
	var agentType, input, purchaser string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a job for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputData := map[string]any{}
			if input != "" {
				if err := json.Unmarshal([]byte(input), &inputData); err != nil {
					return fmt.Errorf("--input must be a JSON object: %w", err)
				}
			}
			started, err := client().StartJob(cmd.Context(), agentType, inputData, purchaser)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(started)
			}
			fmt.Printf("Job %s started (%s)\n", started.JobID, started.Status)
			fmt.Printf("Pay %d lovelace to %s (payment %s)\n",
				started.PaymentRequest.AmountLovelace,
				started.PaymentRequest.RecipientAddress,
				started.PaymentRequest.PaymentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentType, "agent", "", "agent type (market, strategy, risk)")
	cmd.Flags().StringVar(&input, "input", "", "input data as JSON")
	cmd.Flags().StringVar(&purchaser, "purchaser", "", "purchaser identifier")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func jobStatusCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show one job",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client().Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func jobListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListJobs(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Job", "Agent", "Status", "Created"})
			for _, j := range items {
				tw.AppendRow(table.Row{j.JobID, j.AgentType, j.Status, j.CreatedAt})
			}
			tw.Render()
			return nil
		},
	}
}

func jobCancelCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a non-terminal job",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client().Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(job)
			}
			fmt.Printf("Job %s is now %s\n", job.JobID, job.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func jobWaitCmd() *cobra.Command {
	var id string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for a job to reach a terminal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c := client()
			for {
				job, err := c.Status(ctx, id)
				if err != nil {
					return err
				}
				switch job.Status {
				case "completed", "failed", "cancelled":
					return printJSON(job)
				}
				select {
				case <-ctx.Done():
					return fmt.Errorf("job %s still %s after %s", id, job.Status, timeout)
				case <-time.After(500 * time.Millisecond):
				}
			}
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "wait timeout")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func chatCmd() *cobra.Command {
	var conversationID, message string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send a chat message in a conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := client().Chat(cmd.Context(), conversationID, message)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(reply)
			}
			fmt.Println(reply.Reply)
			return nil
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&message, "message", "", "message text")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage chat users"}

	var email, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := client().CreateUser(cmd.Context(), email, name)
			if err != nil {
				return err
			}
			return printJSON(u)
		},
	}
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("email")
	user.AddCommand(create)

	var userID, title string
	conv := &cobra.Command{
		Use:   "conversation",
		Short: "Open a conversation for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client().CreateConversation(cmd.Context(), userID, title)
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	conv.Flags().StringVar(&userID, "user", "", "user id")
	conv.Flags().StringVar(&title, "title", "", "conversation title")
	_ = conv.MarkFlagRequired("user")
	user.AddCommand(conv)

	return user
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the job event log"}

	var after int64
	var limit int
	var jobID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent job lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client()
			var events []yieldpilotsdk.Event
			var err error
			if jobID != "" {
				events, err = c.JobEvents(cmd.Context(), jobID)
			} else {
				events, err = c.Events(cmd.Context(), after, limit)
			}
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(events)
			}
			for _, e := range events {
				fmt.Printf("%d %s %s job=%s %s\n", e.ID, e.TS, e.Type, e.JobID, e.Payload)
			}
			return nil
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "show events after this id")
	tail.Flags().IntVar(&limit, "limit", 50, "maximum events")
	tail.Flags().StringVar(&jobID, "job", "", "filter to one job")
	log.AddCommand(tail)

	return log
}

func client() *yieldpilotsdk.Client {
	c := yieldpilotsdk.New(viper.GetString("server"))
	c.BearerToken = viper.GetString("token")
	return c
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
