package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"finagent/internal/usecase"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
}

func defaultConfigPath() string {
	if p := os.Getenv("FINAGENT_CONFIG"); p != "" {
		return p
	}
	return "finagent.yaml"
}

func buildRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "finagent",
		Short:         "Tool-using financial analysis agent",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath(),
		"Path to YAML configuration file")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false,
		"Enable debug logging")

	root.AddCommand(
		buildServeCmd(opts),
		buildAskCmd(opts),
		buildKBCmd(opts),
		buildToolsCmd(opts),
		buildDoctorCmd(opts),
	)
	return root
}

func buildServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Routes:
  POST /api/v1/ask                 ask a question
  GET  /api/v1/conversations/{id}  read a stored conversation
  GET  /api/v1/health              model and knowledge base probes
  GET  /metrics                    Prometheus metrics

The model is warmed up at start and then on llm.warmup_schedule.
SIGINT/SIGTERM drain in-flight requests before exiting.`,
		Example: `  finagent serve
  finagent serve --addr 127.0.0.1:9000 --config /etc/finagent.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func buildAskCmd(opts *rootOptions) *cobra.Command {
	var (
		conversationID string
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the agent one question and print the answer",
		Example: `  finagent ask "Compare MSFT and GOOGL"
  finagent ask --conversation 01JA2... "And their dividends?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, usecase.AskRequest{
				Question:       strings.Join(args, " "),
				ConversationID: conversationID,
			}, asJSON)
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue a stored conversation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func buildKBCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kb",
		Short: "Manage the knowledge base",
	}

	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Save a snippet",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBAdd(cmd, opts, strings.Join(args, " "))
		},
	}

	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the closest snippets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKBSearch(cmd, opts, strings.Join(args, " "), limit)
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 5, "Maximum number of matches")

	var listLimit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the newest snippets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runKBList(cmd, opts, listLimit)
		},
	}
	list.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of snippets")

	cmd.AddCommand(add, search, list)
	return cmd
}

func buildToolsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the tool catalog the model sees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTools(cmd, opts, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the schemas as JSON")
	return cmd
}

func buildDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and backend reachability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
