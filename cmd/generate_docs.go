package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tools/assistant_tools"
	"github.com/teemow/inboxagent/internal/tools/common"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Generate markdown documentation for all available MCP tools.
This command introspects the registered tools and outputs their documentation
in markdown format, ensuring the documentation is always accurate and in sync
with the actual tool implementations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// docsChat satisfies the chat handler for tool registration; it is never called.
type docsChat struct{}

func (docsChat) Handle(context.Context, string, string) (string, respond.Outcome) {
	return "", respond.Outcome{}
}

func runGenerateDocs(outputFile string) error {
	mcpSrv := mcpserver.NewMCPServer("inboxagent", version,
		mcpserver.WithToolCapabilities(true),
	)

	if err := assistant_tools.RegisterAssistantTools(mcpSrv, docsChat{}, common.Instrumentation{}); err != nil {
		return fmt.Errorf("failed to register assistant tools: %w", err)
	}

	// Get the list of tools
	serverTools := mcpSrv.ListTools()

	// Extract mcp.Tool from each ServerTool
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}

	markdown := generateToolsMarkdown(tools)

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	} else {
		fmt.Print(markdown)
	}

	return nil
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("This document lists the tools available when running inboxagent as an MCP server.\n\n")
	sb.WriteString("**Note:** This documentation is generated from the tool definitions by `inboxagent generate-docs`.\n\n")

	sb.WriteString("## Identity\n\n")
	sb.WriteString("Every tool takes a `user_id` naming the end user the call is made for. ")
	sb.WriteString("Connected Google accounts are stored per `user_id`; when none is connected the reply contains a single-use sign-in link.\n\n")

	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		c := toolCategory(tool.Name)
		byCategory[c] = append(byCategory[c], tool)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		categoryTools := byCategory[category]
		sort.Slice(categoryTools, func(i, j int) bool {
			return categoryTools[i].Name < categoryTools[j].Name
		})

		fmt.Fprintf(&sb, "## %s\n\n", category)
		for _, tool := range categoryTools {
			writeToolMarkdown(&sb, tool)
		}
	}

	return sb.String()
}

func toolCategory(name string) string {
	prefix, _, _ := strings.Cut(name, "_")
	switch prefix {
	case "assistant":
		return "Assistant Tools"
	default:
		return "Other"
	}
}

func writeToolMarkdown(sb *strings.Builder, tool mcp.Tool) {
	fmt.Fprintf(sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", tool.Description)
	}

	if len(tool.InputSchema.Properties) == 0 {
		return
	}

	names := make([]string, 0, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("| Argument | Type | Required | Description |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, name := range names {
		prop, ok := tool.InputSchema.Properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		propType, _ := prop["type"].(string)
		if propType == "" {
			propType = "any"
		}
		desc, _ := prop["description"].(string)
		required := "no"
		if slices.Contains(tool.InputSchema.Required, name) {
			required = "yes"
		}
		fmt.Fprintf(sb, "| `%s` | %s | %s | %s |\n", name, propType, required, desc)
	}
	sb.WriteString("\n")
}
