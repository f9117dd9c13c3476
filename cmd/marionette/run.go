package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/marionette/pkg/events"
	"github.com/go-go-golems/marionette/pkg/inference/agentloop"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/go-go-golems/marionette/pkg/inference/middleware"
	"github.com/go-go-golems/marionette/pkg/inference/ollama"
	"github.com/go-go-golems/marionette/pkg/inference/openai"
	"github.com/go-go-golems/marionette/pkg/inference/tools"
	"github.com/go-go-golems/marionette/pkg/mcp"
	"github.com/go-go-golems/marionette/pkg/settings"
	"github.com/go-go-golems/marionette/pkg/toolbox"
	"github.com/go-go-golems/marionette/pkg/transcript"
	"github.com/jmorganca/ollama/api"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/errgroup"
)

const eventTopic = "agent"

type agent interface {
	Run(ctx context.Context, task string) (*agentloop.Result, error)
}

type runFlags struct {
	showStates bool
	quiet      bool
	plain      bool
	hybrid     bool
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().BoolVar(&f.showStates, "show-states", false, "Print loop state transitions")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Only print the final answer")
	cmd.Flags().BoolVar(&f.plain, "plain", false, "Do not render the answer as markdown")
}

func newReActCommand() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "react [task...]",
		Short: "Solve a task with a reason-act loop that may call tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, args, f, func(opts []agentloop.Option) agent {
				return agentloop.NewReActLoop(opts...)
			})
		},
	}
	addRunFlags(cmd, f)
	return cmd
}

func newPlanCommand() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "plan [task...]",
		Short: "Plan a task up front and execute the steps in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, args, f, func(opts []agentloop.Option) agent {
				if f.hybrid {
					opts = append(opts, agentloop.WithStepAgent(agentloop.NewReActLoop(opts...)))
				}
				return agentloop.NewPlanExecuteLoop(opts...)
			})
		},
	}
	addRunFlags(cmd, f)
	cmd.Flags().BoolVar(&f.hybrid, "with-tools", false, "Execute every step with a reason-act sub-loop")
	return cmd
}

func newReflectCommand() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "reflect [task...]",
		Short: "Draft an answer and refine it through self-critique",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, args, f, func(opts []agentloop.Option) agent {
				return agentloop.NewReflectLoop(opts...)
			})
		},
	}
	addRunFlags(cmd, f)
	return cmd
}

func loadSettings() (*settings.Settings, error) {
	return settings.FromViper(viper.GetViper())
}

func loopConfig(s *settings.Settings) agentloop.LoopConfig {
	return agentloop.DefaultLoopConfig().
		WithMaxIterations(s.Loop.MaxIterations).
		WithTemperature(s.Chat.Temperature).
		WithStream(s.Chat.Stream).
		WithStopPhrase(s.Loop.StopPhrase).
		WithPlanLanguage(s.Loop.PlanLanguage).
		WithAllowEmptyPlan(s.Loop.AllowEmptyPlan)
}

// newBaseEngine picks the generation service named by chat.provider.
func newBaseEngine(s *settings.Settings) (engine.Engine, error) {
	switch s.Chat.Provider {
	case settings.ProviderOllama:
		// honours OLLAMA_HOST
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "create ollama client")
		}
		return ollama.NewEngine(client, s.Chat, s.Ollama)
	default:
		return openai.NewEngine(s.API, s.Chat)
	}
}

// newEngine builds the configured engine wrapped in the configured middlewares.
func newEngine(s *settings.Settings) (engine.Engine, error) {
	base, err := newBaseEngine(s)
	if err != nil {
		return nil, err
	}

	var mws []middleware.Middleware
	if limiter := middleware.NewRateLimiter(s.Chat.RequestsPerMinute, s.Chat.Burst); limiter != nil {
		mws = append(mws, middleware.NewRateLimitMiddleware(limiter))
	}
	if s.Chat.LogTokens {
		mws = append(mws, middleware.NewLoggingMiddleware(log.Logger, middleware.NewTokenCounter(tokenizer.Cl100kBase)))
	}
	return middleware.NewEngineWithMiddleware(base, mws...), nil
}

// newRegistry registers the built-in tools and everything the configured remote servers expose.
// An unreachable remote server is logged and skipped.
func newRegistry(ctx context.Context, s *settings.Settings) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	client := &http.Client{Timeout: s.Tools.ExecutionTimeout}
	if err := toolbox.Register(reg, s, client); err != nil {
		return nil, err
	}

	for _, srv := range s.Tools.MCPServers {
		name := srv.Name
		if name == "" {
			name = srv.URL
		}
		c := mcp.NewClient(name, srv.URL, mcp.WithHeaders(srv.Headers), mcp.WithHTTPClient(client))
		remote, err := mcp.Discover(ctx, c)
		if err != nil {
			log.Warn().Err(err).Str("mcp_server", name).Msg("skipping remote tool server")
			continue
		}
		n := mcp.RegisterAll(reg, remote)
		log.Info().Str("mcp_server", name).Int("tools", n).Msg("registered remote tools")
	}
	return reg, nil
}

// readTask takes the task from the arguments, an interactive prompt or stdin.
func readTask(args []string) (string, error) {
	if task := strings.TrimSpace(strings.Join(args, " ")); task != "" {
		return task, nil
	}

	if isatty.IsTerminal(os.Stdin.Fd()) {
		ui := &input.UI{Writer: os.Stderr, Reader: os.Stdin}
		task, err := ui.Ask("Task", &input.Options{Required: true, Loop: true, HideOrder: true})
		if err != nil {
			return "", errors.Wrap(err, "read task")
		}
		return strings.TrimSpace(task), nil
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", errors.Wrap(err, "read task from stdin")
	}
	task := strings.TrimSpace(string(b))
	if task == "" {
		return "", errors.New("no task given")
	}
	return task, nil
}

func runAgent(
	cmd *cobra.Command,
	args []string,
	f *runFlags,
	build func(opts []agentloop.Option) agent,
) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := loadSettings()
	if err != nil {
		return err
	}
	task, err := readTask(args)
	if err != nil {
		return err
	}
	eng, err := newEngine(s)
	if err != nil {
		return err
	}
	reg, err := newRegistry(ctx, s)
	if err != nil {
		return err
	}

	a := build([]agentloop.Option{
		agentloop.WithEngine(eng),
		agentloop.WithRegistry(reg),
		agentloop.WithToolConfig(s.ToolConfig()),
		agentloop.WithLoopConfig(loopConfig(s)),
	})

	router, err := events.NewEventRouter(events.WithVerbose(viper.GetString("log-level") == "trace"))
	if err != nil {
		return errors.Wrap(err, "create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	out := cmd.OutOrStdout()
	if !f.quiet {
		router.AddHandler("printer", eventTopic, events.NewPrinterHandler(cmd.ErrOrStderr(), events.PrinterOptions{
			ShowPartials: s.Chat.Stream,
			ShowStates:   f.showStates,
		}))
	} else {
		router.AddHandler("discard", eventTopic, func(msg *message.Message) error {
			msg.Ack()
			return nil
		})
	}

	var res *agentloop.Result
	var runErr error
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		runCtx := events.WithEventSinks(ctx, events.NewWatermillSink(router.Publisher, eventTopic))
		res, runErr = a.Run(runCtx, task)
		return nil
	})
	if err := eg.Wait(); err != nil {
		return err
	}
	finished := time.Now()

	if s.Transcript.Enabled && res != nil {
		if err := saveTranscript(s.Transcript.Path, transcript.FromResult(res, started, finished, runErr)); err != nil {
			log.Error().Err(err).Msg("failed to save transcript")
		} else {
			log.Info().Str("run_id", res.RunID).Str("path", s.Transcript.Path).Msg("saved transcript")
		}
	}

	if res != nil {
		printResult(out, res, !f.plain)
	}
	return runErr
}

func saveTranscript(path string, rec transcript.Record) error {
	store, err := transcript.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()
	return store.Save(context.Background(), rec)
}

func printResult(w io.Writer, res *agentloop.Result, render bool) {
	if !res.HasAnswer() {
		_, _ = fmt.Fprintln(w, res.String())
		return
	}
	if render && isatty.IsTerminal(os.Stdout.Fd()) {
		styled, err := glamour.Render(res.Answer, "dark")
		if err == nil {
			_, _ = fmt.Fprint(w, styled)
			return
		}
		log.Debug().Err(err).Msg("could not render answer as markdown")
	}
	_, _ = fmt.Fprintln(w, res.Answer)
}
