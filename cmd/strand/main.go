// Package main provides the CLI entry point for the Strand inference
// gateway.
//
// Strand sits between thread storage and OpenAI-compatible inference
// providers: it assembles conversation context, streams completions,
// demultiplexes reasoning and hot code from the content stream, and
// executes platform tools (code interpreter, computer, web search,
// vector store search) with full run lifecycle tracking.
//
// # Basic Usage
//
// Start the gateway:
//
//	strand serve --config strand.yaml
//
// # Environment Variables
//
//   - BASE_URL: storage API base URL
//   - REDIS_URL: Redis connection string for the stream mirror
//   - ADMIN_API_KEY: key guarding the /monitor endpoint
//   - HYPERBOLIC_API_KEY, TOGETHER_API_KEY, DEEPSEEK_API_KEY, GROQ_API_KEY,
//     AZURE_API_KEY, GOOGLE_API_KEY: per-provider credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "Strand - streaming inference gateway",
		Long: `Strand connects thread storage to OpenAI-compatible inference providers
with streaming tool execution.

Supported providers: Hyperbolic, Together, DeepSeek, Groq, Azure, Google, Ollama
Platform tools: Code Interpreter, Computer, Web Search, Vector Store Search`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "strand %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
