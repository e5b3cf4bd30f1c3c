package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/toolbridge/mcpchat/internal/agent"
	"github.com/toolbridge/mcpchat/internal/config"
	"github.com/toolbridge/mcpchat/internal/llm"
	"github.com/toolbridge/mcpchat/internal/mcp"
)

const systemPrompt = "You are a helpful assistant."

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	mcp.SetVersion(version)

	root := &cobra.Command{
		Use:   "mcpchat",
		Short: "mcpchat — chat CLI with MCP tool servers",
		Long:  "mcpchat — interactive chat for OpenAI-compatible APIs, with tools provided by MCP servers over stdio.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", config.Path(), "config file path")

	root.AddCommand(chatCmd(), toolsCmd(), configCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ── chat command ──

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE:  runChat,
	}
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	host := mcp.StartHost(ctx, cfg.MCP.Servers)
	defer host.Close()

	client := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)

	tools := host.Tools()
	fmt.Printf("mcpchat v%s — model %s, %d tool(s) available\n", version, cfg.LLM.Model, len(tools))
	fmt.Println("Type 'quit' or 'exit' to end, 'clear' to reset the conversation.")
	fmt.Println(strings.Repeat("=", 50))

	conversation := []llm.Message{{Role: "system", Content: systemPrompt}}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "":
			continue
		case "quit", "exit":
			fmt.Println("Goodbye!")
			return nil
		case "clear":
			conversation = []llm.Message{{Role: "system", Content: systemPrompt}}
			fmt.Println("Conversation cleared.")
			continue
		}

		conversation = append(conversation, llm.Message{Role: "user", Content: input})

		updated, err := answer(ctx, client, host, conversation, cfg.LLM.Stream, len(tools) > 0)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			// Drop the user turn so a failed exchange leaves no trace.
			conversation = conversation[:len(conversation)-1]
			continue
		}
		conversation = updated
		fmt.Println()
	}
}

// answer runs one user turn: the tool loop when tools are registered,
// otherwise a streamed (or plain) completion. Returns the conversation with
// all new turns appended.
func answer(ctx context.Context, client *llm.Client, host *mcp.Host, conversation []llm.Message, stream, hasTools bool) ([]llm.Message, error) {
	if hasTools {
		updated, used, err := agent.Run(ctx, client, host, conversation)
		if err != nil {
			return nil, err
		}
		for _, u := range used {
			fmt.Printf("  [tool %s] %s\n", u.Name, u.Summary)
		}
		fmt.Printf("Assistant: %s\n", updated[len(updated)-1].Content)
		return updated, nil
	}

	if stream {
		fmt.Print("Assistant: ")
		reply, err := client.ChatStream(ctx, conversation, func(frag string) {
			fmt.Print(frag)
		})
		if err != nil {
			fmt.Println()
			return nil, err
		}
		fmt.Println()
		return append(conversation, llm.Message{Role: "assistant", Content: reply}), nil
	}

	reply, _, err := client.ChatWithTools(ctx, conversation, nil)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Assistant: %s\n", reply.Content)
	return append(conversation, reply), nil
}

// ── tools command ──

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Start the configured MCP servers and list their tools",
		RunE:  runTools,
	}
}

func runTools(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	host := mcp.StartHost(ctx, cfg.MCP.Servers)
	defer host.Close()

	tools := host.Tools()
	if len(tools) == 0 {
		fmt.Println("No tools registered.")
		return nil
	}
	for _, reg := range tools {
		desc := reg.Desc.Description
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Printf("%-24s %-12s %s\n", reg.Desc.Name, reg.Server, desc)
	}
	return nil
}

// ── config command ──

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current config (API key redacted)",
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				return toml.NewEncoder(os.Stdout).Encode(cfg.Redact())
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print config file path",
			Run: func(_ *cobra.Command, _ []string) {
				fmt.Println(configPath)
			},
		},
	)
	return cmd
}

// ── version command ──

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("mcpchat %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
