// Package main is the finagent command: a tool-using financial analysis
// agent served over HTTP or asked from the terminal.
//
// # Basic Usage
//
//	finagent serve --config finagent.yaml
//	finagent ask "What is AAPL's financial score?"
//	finagent kb add "Apple reports fiscal Q4 results on Oct 30."
//	finagent kb search "apple earnings date"
//	finagent tools
//	finagent doctor
//
// # Environment Variables
//
//   - FINAGENT_CONFIG: config file path (default finagent.yaml)
//   - FINAGENT_CONFIG_KEY: passphrase for enc: secrets in the config
//   - SERPAPI_API_KEY: SerpAPI key for web_search
//   - OLLAMA_BASE_URL: Ollama server for the model
//
// Any FINAGENT_* variable listed in the config package overrides the file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set by -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := buildRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
