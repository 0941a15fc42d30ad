package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/inboxagent/internal/respond"
	"github.com/teemow/inboxagent/internal/tokens"
)

const (
	connectionsPrefix   = "inboxagent://users/"
	connectionsSuffix   = "/connections"
	connectionsTemplate = connectionsPrefix + "{user_id}" + connectionsSuffix
)

// CredentialChecker reports whether a usable credential exists.
type CredentialChecker interface {
	HasCredentials(ctx context.Context, userID string, service tokens.Service) (bool, error)
}

// Connection describes one service for a user.
type Connection struct {
	Service      tokens.Service `json:"service"`
	DisplayName  string         `json:"display_name"`
	Connected    bool           `json:"connected"`
	Capabilities []string       `json:"capabilities"`
}

// Connections is the payload of the connections resource.
type Connections struct {
	UserID   string       `json:"user_id"`
	Services []Connection `json:"services"`
}

// RegisterUserResources registers the per-user resources.
func RegisterUserResources(s *mcpserver.MCPServer, checker CredentialChecker) error {
	if checker == nil {
		return fmt.Errorf("credential checker is required")
	}

	template := mcp.NewResourceTemplate(
		connectionsTemplate,
		"Connected Google services",
		mcp.WithTemplateDescription("Which Google services the user has connected and what the assistant can do with them"),
		mcp.WithTemplateMIMEType("application/json"),
	)

	s.AddResourceTemplate(template, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return handleConnections(ctx, request, checker)
	})

	return nil
}

// userIDFromURI extracts the user id from inboxagent://users/{user_id}/connections.
func userIDFromURI(uri string) (string, error) {
	rest, ok := strings.CutPrefix(uri, connectionsPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected resource URI: %s", uri)
	}
	escaped, ok := strings.CutSuffix(rest, connectionsSuffix)
	if !ok || escaped == "" {
		return "", fmt.Errorf("unexpected resource URI: %s", uri)
	}
	userID, err := url.PathUnescape(escaped)
	if err != nil {
		return "", fmt.Errorf("invalid user id in resource URI: %w", err)
	}
	return userID, nil
}

func lookupConnections(ctx context.Context, checker CredentialChecker, userID string) (*Connections, error) {
	out := &Connections{UserID: userID}
	for _, svc := range []tokens.Service{tokens.ServiceGmail, tokens.ServiceCalendar} {
		connected, err := checker.HasCredentials(ctx, userID, svc)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s credentials: %w", svc, err)
		}
		out.Services = append(out.Services, Connection{
			Service:      svc,
			DisplayName:  svc.DisplayName(),
			Connected:    connected,
			Capabilities: respond.Capabilities(svc),
		})
	}
	return out, nil
}

func handleConnections(ctx context.Context, request mcp.ReadResourceRequest, checker CredentialChecker) ([]mcp.ResourceContents, error) {
	userID, err := userIDFromURI(request.Params.URI)
	if err != nil {
		return nil, err
	}

	conns, err := lookupConnections(ctx, checker, userID)
	if err != nil {
		return nil, err
	}

	jsonData, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal connections: %w", err)
	}

	return []mcp.ResourceContents{
		&mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(jsonData),
		},
	}, nil
}
