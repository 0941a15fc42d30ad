package common

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// GetStringArg returns the trimmed string argument name, or "" when it is
// missing or not a string.
func GetStringArg(args map[string]interface{}, name string) string {
	v, ok := args[name].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// GetUserIDFromArgs extracts the caller identity from request arguments.
func GetUserIDFromArgs(args map[string]interface{}) string {
	return GetStringArg(args, "user_id")
}

// Arguments returns the request arguments as a map, never nil.
func Arguments(request mcp.CallToolRequest) map[string]interface{} {
	args := request.GetArguments()
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}
