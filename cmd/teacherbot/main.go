package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oarc/ollamateacher/internal/config"
	"github.com/oarc/ollamateacher/internal/cron"
	"github.com/oarc/ollamateacher/internal/gateway"
	"github.com/oarc/ollamateacher/internal/lessons"
	"github.com/oarc/ollamateacher/internal/logger"
	"github.com/oarc/ollamateacher/internal/store"
	"github.com/oarc/ollamateacher/internal/supervisor"
)

// App carries the injectable dependencies of the CLI.
type App struct {
	GeneratorFactory gateway.GeneratorFactory
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
	// Runner replaces the child process started by supervise.
	Runner supervisor.Runner
}

func main() {
	if err := newRootCmd(&App{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(app *App) *cobra.Command {
	if app.Stdin == nil {
		app.Stdin = os.Stdin
	}
	if app.Stdout == nil {
		app.Stdout = os.Stdout
	}
	if app.Stderr == nil {
		app.Stderr = os.Stderr
	}

	rootCmd := &cobra.Command{
		Use:           "teacherbot",
		Short:         "teacherbot - Ollama Teacher chat bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(app.Stdin)
	rootCmd.SetOut(app.Stdout)
	rootCmd.SetErr(app.Stderr)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the bot (channels + cron + metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runGateway(cmd.Context())
		},
	}

	var message string
	askCmd := &cobra.Command{
		Use:   "ask",
		Short: "Send one message (or start a REPL) through the command router",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runAsk(cmd.Context(), message)
		},
	}
	askCmd.Flags().StringVarP(&message, "message", "m", "", "Single message to send")

	onboardCmd := &cobra.Command{
		Use:   "onboard",
		Short: "Initialize config, data directories and a sample lesson",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runOnboard()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show teacherbot status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runStatus()
		},
	}

	superviseCmd := &cobra.Command{
		Use:   "supervise",
		Short: "Run the bot and restart it whenever it crashes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runSupervise(cmd.Context())
		},
	}

	rootCmd.AddCommand(runCmd, askCmd, onboardCmd, statusCmd, newCronCmd(app), superviseCmd)
	return rootCmd
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}

func (a *App) runGateway(ctx context.Context) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		return fmt.Errorf("discord token not set. Run 'teacherbot onboard' or set DISCORD_TOKEN")
	}

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{
		GeneratorFactory: a.GeneratorFactory,
		Logger:           log,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return gw.Run(ctx)
}

func (a *App) runAsk(ctx context.Context, message string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Chat transports stay off; ask only exercises the router.
	cfg.Channels.Discord.Enabled = false
	cfg.Channels.Telegram.Enabled = false

	gw, err := gateway.NewWithOptions(cfg, gateway.Options{
		GeneratorFactory:     a.GeneratorFactory,
		DisableMetricsServer: true,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	if message != "" {
		fmt.Fprintln(a.Stdout, gw.Ask(ctx, message).String())
		return nil
	}

	fmt.Fprintln(a.Stdout, "teacherbot ask (type 'exit' to quit)")
	scanner := bufio.NewScanner(a.Stdin)
	for {
		fmt.Fprint(a.Stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		fmt.Fprintln(a.Stdout, gw.Ask(ctx, input).String())
	}
	return scanner.Err()
}

func (a *App) runOnboard() error {
	cfgPath := config.ConfigPath()
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(a.Stdout, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(a.Stdout, "Config already exists: %s\n", cfgPath)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	dataDir := gateway.DataDir(cfg)
	if _, err := store.New(dataDir); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	path, err := lessons.WriteSample(gateway.LessonsDir(cfg))
	if err != nil {
		return fmt.Errorf("write sample lesson: %w", err)
	}

	fmt.Fprintf(a.Stdout, "Data directory ready: %s\n", dataDir)
	fmt.Fprintf(a.Stdout, "Sample lesson: %s\n", path)
	fmt.Fprintln(a.Stdout, "\nNext steps:")
	fmt.Fprintf(a.Stdout, "  1. Edit %s or set DISCORD_TOKEN\n", cfgPath)
	fmt.Fprintln(a.Stdout, "  2. Make sure Ollama is running and the models are pulled")
	fmt.Fprintln(a.Stdout, "  3. Run 'teacherbot ask -m \"!help\"' to test")
	return nil
}

func (a *App) runStatus() error {
	out := a.Stdout
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Ollama: %s (model %s, vision %s)\n", cfg.Models.OllamaHost, cfg.Models.OllamaModel, cfg.Models.VisionModel)
	fmt.Fprintf(out, "Groq API Key: %s\n", maskSecret(cfg.Models.GroqAPIKey))
	fmt.Fprintf(out, "Discord: enabled=%v token=%s\n", cfg.Channels.Discord.Enabled, maskSecret(cfg.Channels.Discord.Token))
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Fprintf(out, "Profiles: enabled=%v interval=%s\n", cfg.Profile.Enabled, cfg.Profile.IntervalDuration())
	fmt.Fprintf(out, "Metrics: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)

	dataDir := gateway.DataDir(cfg)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Fprintf(out, "Data: %s not found (run 'teacherbot onboard')\n", dataDir)
		return nil
	}
	st, err := store.New(dataDir)
	if err != nil {
		fmt.Fprintf(out, "Data: error (%v)\n", err)
		return nil
	}
	papers, _ := st.Papers()
	searches, _ := st.Searches()
	crawls, _ := st.Crawls()
	fmt.Fprintf(out, "Data: %s (%d papers, %d searches, %d crawls)\n", dataDir, len(papers), len(searches), len(crawls))
	return nil
}

func maskSecret(s string) string {
	switch {
	case s == "":
		return "not set"
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "set"
	}
}

func (a *App) runSupervise(ctx context.Context) error {
	_, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()

	run := a.Runner
	if run == nil {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		run = supervisor.CommandRunner(exe, "run")
	}

	ctx, stop := signalContext(ctx)
	defer stop()
	_, err = supervisor.New(run, supervisor.Options{Logger: log}).Run(ctx)
	return err
}

func newCronCmd(app *App) *cobra.Command {
	cronCmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadCron()
			if err != nil {
				return err
			}
			jobs := svc.ListJobs()
			if len(jobs) == 0 {
				fmt.Fprintln(app.Stdout, "No jobs.")
				return nil
			}
			w := tabwriter.NewWriter(app.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tLAST RUN\tSTATUS")
			for _, job := range jobs {
				lastRun := "-"
				if job.State.LastRunAtMs > 0 {
					lastRun = time.UnixMilli(job.State.LastRunAtMs).UTC().Format(time.RFC3339)
				}
				status := job.State.LastStatus
				if status == "" {
					status = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n", job.ID, job.Name, job.Schedule, job.Enabled, lastRun, status)
			}
			return w.Flush()
		},
	}

	var (
		name     string
		schedule string
		message  string
		channel  string
		to       string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a prompt, optionally delivered to a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := cron.ParseSchedule(schedule)
			if err != nil {
				return err
			}
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("--message is required")
			}
			svc, err := loadCron()
			if err != nil {
				return err
			}
			payload := cron.Payload{Message: message}
			if channel != "" {
				payload.Deliver = true
				payload.Channel = channel
				payload.To = to
			}
			if name == "" {
				name = truncate(message, 30)
			}
			job, err := svc.AddJob(name, sched, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.Stdout, "Added job %s (%s)\n", job.ID, job.Schedule)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Job name")
	addCmd.Flags().StringVarP(&schedule, "schedule", "s", "", `Schedule: "every 1h", "at 2026-01-02T09:00:00Z" or a cron expression`)
	addCmd.Flags().StringVarP(&message, "message", "m", "", "Prompt sent to the model")
	addCmd.Flags().StringVar(&channel, "channel", "", "Deliver the answer on this channel (discord, telegram)")
	addCmd.Flags().StringVar(&to, "to", "", "Chat ID to deliver to")

	removeCmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := loadCron()
			if err != nil {
				return err
			}
			if !svc.RemoveJob(args[0]) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(app.Stdout, "Removed job %s\n", args[0])
			return nil
		},
	}

	cronCmd.AddCommand(listCmd, addCmd, removeCmd)
	return cronCmd
}

func loadCron() (*cron.Service, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	svc := cron.NewService(gateway.CronStorePath(cfg), log)
	if err := svc.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return svc, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
