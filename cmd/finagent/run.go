package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"finagent/internal/adapter/channel"
	"finagent/internal/usecase"
	"finagent/internal/usecase/scheduling"
)

const (
	shutdownTimeout = 30 * time.Second
	warmupTimeout   = 5 * time.Minute
)

func runServe(ctx context.Context, opts *rootOptions, addr string) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if addr != "" {
		a.cfg.Server.Addr = addr
	}

	sched := scheduling.NewScheduler(a.logger)
	if spec := a.cfg.LLM.WarmupSchedule; spec != "" {
		if err := sched.Add(scheduling.Task{
			Name:     "model-warmup",
			Schedule: spec,
			Timeout:  warmupTimeout,
			Run:      a.warmup,
		}); err != nil {
			return err
		}
	}

	// The first warmup runs in the background so the API is up while the
	// model loads.
	go func() {
		wctx, cancel := context.WithTimeout(ctx, warmupTimeout)
		defer cancel()
		if err := a.warmup(wctx); err != nil {
			a.logger.Warn("initial model warmup failed", "error", err)
		}
	}()

	server := channel.NewHTTPServer(a.cfg.Server, a.router, a.probes(), a.metrics, a.logger)
	if err := server.Start(ctx); err != nil {
		return err
	}
	sched.Start(ctx)

	a.logger.Info("finagent ready",
		"addr", server.Addr(),
		"provider", a.llm.Name(),
		"model", a.cfg.LLM.Model,
		"tools", len(a.tools.Schemas()),
		"version", version,
	)

	<-ctx.Done()
	a.logger.Info("shutting down")

	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", "error", err)
	}
	return nil
}

func runAsk(cmd *cobra.Command, opts *rootOptions, req usecase.AskRequest, asJSON bool) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Server.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Server.RunTimeout)
		defer cancel()
	}

	res, err := a.router.Ask(ctx, req)
	if res != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "conversation: %s\n", res.ConversationID)
	}
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(cmd, res)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Answer.Content)
	return nil
}

func runKBAdd(cmd *cobra.Command, opts *rootOptions, text string) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	id, err := a.knowledge.Save(cmd.Context(), text)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", id)
	return nil
}

func runKBSearch(cmd *cobra.Command, opts *rootOptions, query string, limit int) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.knowledge.Search(cmd.Context(), query, limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no matches")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%.3f  %s  %s\n", e.Score, e.ID, oneLine(e.Content))
	}
	return nil
}

func runKBList(cmd *cobra.Command, opts *rootOptions, limit int) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	total, err := a.knowledge.Count(cmd.Context())
	if err != nil {
		return err
	}
	entries, err := a.knowledge.List(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d snippet(s)\n", total)
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %s  %s\n", e.CreatedAt.Local().Format(time.DateTime), e.ID, oneLine(e.Content))
	}
	return nil
}

func runTools(cmd *cobra.Command, opts *rootOptions, asJSON bool) error {
	a, err := newApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.close()

	schemas := a.tools.Schemas()
	if asJSON {
		return printJSON(cmd, schemas)
	}
	out := cmd.OutOrStdout()
	for _, s := range schemas {
		fmt.Fprintf(out, "%-22s %s\n", s.Name, oneLine(s.Description))
	}
	return nil
}

// oneLine collapses whitespace and truncates s for tabular output.
func oneLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > 100 {
		return string(r[:97]) + "..."
	}
	return s
}
