package assistant_tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tools/common"
)

// ChatToolName is the name of the chat tool.
const ChatToolName = "assistant_chat"

// ChatHandler answers a message for a user.
type ChatHandler interface {
	Handle(ctx context.Context, userID, text string) (string, respond.Outcome)
}

// RegisterAssistantTools registers the assistant tools with the MCP server.
func RegisterAssistantTools(s *mcpserver.MCPServer, chat ChatHandler, inst common.Instrumentation) error {
	if chat == nil {
		return fmt.Errorf("chat handler is required")
	}

	chatTool := mcp.NewTool(ChatToolName,
		mcp.WithDescription("Send a message to the personal assistant. It can search and draft Gmail messages, look up and draft calendar events, and answer general questions. When a Google account needs to be connected, the reply contains a single-use sign-in link."),
		mcp.WithString("user_id",
			mcp.Required(),
			mcp.Description("Stable identifier of the end user the message is sent for"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message in natural language"),
		),
	)

	s.AddTool(chatTool, common.InstrumentedToolHandler(ChatToolName, inst,
		func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return handleChat(ctx, request, chat)
		}))

	return nil
}

func handleChat(ctx context.Context, request mcp.CallToolRequest, chat ChatHandler) (*mcp.CallToolResult, error) {
	args := common.Arguments(request)

	userID := common.GetUserIDFromArgs(args)
	if userID == "" {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	message := common.GetStringArg(args, "message")
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	reply, outcome := chat.Handle(ctx, userID, message)
	if !outcome.Success && outcome.Err != nil {
		return mcp.NewToolResultError(reply), nil
	}
	return mcp.NewToolResultText(reply), nil
}
