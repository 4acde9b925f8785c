// Command agentflow runs a chat agent from the terminal. The root agent can
// read the clock and delegate to a nested summarizer agent, so a single
// session exercises plain tools, agent tools and agent memory.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentflow"
	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/config"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/model/anthropic"
	"github.com/hupe1980/agentflow/model/openai"
	"github.com/hupe1980/agentflow/tool"
)

// ModelFactory creates the model of a provider. name may be empty.
type ModelFactory func(provider, name string) (model.Model, error)

// DefaultModelFactory builds the OpenAI, Anthropic or mock adapters.
func DefaultModelFactory(provider, name string) (model.Model, error) {
	switch provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = sdk.Model(name)
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want openai, anthropic or mock)", provider)
	}
}

// AppOptions holds the injectable dependencies of the command tree.
type AppOptions struct {
	ModelFactory ModelFactory
	Stdin        io.Reader
	Stdout       io.Writer
	Stderr       io.Writer
	LookupEnv    func(string) (string, bool)
}

type chatFlags struct {
	provider string
	model    string
	system   string
	message  string
	maxSteps int
}

func newRootCmd(opts AppOptions) *cobra.Command {
	if opts.ModelFactory == nil {
		opts.ModelFactory = DefaultModelFactory
	}

	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}

	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}

	var (
		configPath string
		envFiles   []string
	)

	load := func() (*config.Config, error) {
		return config.Load(configPath, func(o *config.LoadOptions) {
			o.DotEnvFiles = envFiles
			o.LookupEnv = opts.LookupEnv
		})
	}

	rootCmd := &cobra.Command{
		Use:           "agentflow",
		Short:         "agentflow - agents calling tools and other agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(opts.Stdin)
	rootCmd.SetOut(opts.Stdout)
	rootCmd.SetErr(opts.Stderr)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")

	var flags chatFlags

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in single message or REPL mode",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			return runChat(cmd.Context(), cfg, flags, opts)
		},
	}
	chatCmd.Flags().StringVarP(&flags.provider, "provider", "p", "openai", "model provider (openai, anthropic, mock)")
	chatCmd.Flags().StringVar(&flags.model, "model", "", "model name (provider default when empty)")
	chatCmd.Flags().StringVar(&flags.system, "system", "You are a helpful assistant. Today is {{.date}}.", "system prompt template")
	chatCmd.Flags().StringVarP(&flags.message, "message", "m", "", "single message to send")
	chatCmd.Flags().IntVar(&flags.maxSteps, "max-steps", 5, "model calls per turn")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)

			if err := enc.Encode(cfg); err != nil {
				return err
			}

			return enc.Close()
		},
	}

	rootCmd.AddCommand(chatCmd, configCmd)

	return rootCmd
}

func main() {
	if err := newRootCmd(AppOptions{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runChat(ctx context.Context, cfg *config.Config, flags chatFlags, opts AppOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := cfg.NewLogger(opts.Stderr).WithComponent("cli")

	store, closeStore, err := cfg.NewMemoryStore()
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	tp, err := cfg.NewTracerProvider(ctx)
	if err != nil {
		return err
	}

	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	m, err := opts.ModelFactory(flags.provider, flags.model)
	if err != nil {
		return err
	}

	root := newAssistant(m, flags)

	flow := agentflow.New(func(o *agentflow.Options) {
		o.MemoryStore = store
		o.EngineOptions = append(o.EngineOptions, cfg.EngineOptions(logger))
	})

	sink := reasoningSink(opts.Stderr)

	var history []core.Message

	turn := func(text string) error {
		history = append(history, core.NewUserMessage(text))

		_, result, err := flow.Run(ctx, root, &core.Environment{
			Sink:    sink,
			History: history,
			Values:  map[string]any{"date": time.Now().Format("2006-01-02")},
		})
		if err != nil {
			return err
		}

		for chunk := range result.TextStream(ctx) {
			fmt.Fprint(opts.Stdout, chunk)
		}

		<-result.Merged()

		fmt.Fprintln(opts.Stdout)

		if err := result.Err(); err != nil {
			return err
		}

		history = append(history, core.NewAssistantMessage(result.Text()))

		return nil
	}

	if flags.message != "" {
		return turn(flags.message)
	}

	scanner := bufio.NewScanner(opts.Stdin)

	for {
		fmt.Fprint(opts.Stdout, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(opts.Stdout)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if line == "exit" || line == "quit" {
			return nil
		}

		if err := turn(line); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}

			fmt.Fprintln(opts.Stderr, "error:", err)
		}
	}
}

// newAssistant builds the root agent with a clock tool and a summarizer
// agent tool sharing the same model.
func newAssistant(m model.Model, flags chatFlags) *agent.Agent {
	clock := tool.NewFunctionTool(
		"Returns the current local time in RFC 3339 format",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		},
		func(o *tool.FunctionToolOptions) { o.Name = "clock" },
	)

	summarizer := agent.New(m, func(o *agent.Options) {
		o.Name = "summarizer"
		o.Description = "Summarizes a text in at most three sentences"
		o.System = agent.Static("You write short, faithful summaries.")
		o.AsTool = &agent.AsTool{
			Input: agent.WithReasoningParameter(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "The text to summarize"},
				},
				"required": []string{"text"},
			}),
			GetPrompt: func(args map[string]any) (agent.Prompt, error) {
				text, _ := args["text"].(string)
				return agent.TextPrompt("Summarize:\n\n" + text), nil
			},
		}
	})

	return agent.New(m, func(o *agent.Options) {
		o.Name = "assistant"
		o.System = agent.Template(flags.system)
		o.MaxSteps = flags.maxSteps
		o.Tools = map[string]agent.ToolEntry{
			"clock":     agent.ToolOf(clock),
			"summarize": agent.AgentOf(summarizer),
		}
	})
}

// reasoningSink prints reasoning annotations, including those of nested
// agent tools, to w. Other parts are read from the stream directly.
func reasoningSink(w io.Writer) core.Sink {
	var mu sync.Mutex

	return core.SinkFunc(func(part core.StreamPart) error {
		if part.Type != core.PartReasoning || part.Text == "" {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()

		_, err := fmt.Fprintf(w, "[%s]\n", part.Text)

		return err
	})
}
