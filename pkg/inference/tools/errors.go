package tools

import (
	"fmt"

	"github.com/pkg/errors"
)

// ToolErrorType classifies tool failures.
type ToolErrorType string

const (
	ToolErrorNotFound   ToolErrorType = "not_found"
	ToolErrorNotAllowed ToolErrorType = "not_allowed"
	ToolErrorValidation ToolErrorType = "validation"
	ToolErrorExecution  ToolErrorType = "execution"
	ToolErrorTimeout    ToolErrorType = "timeout"
)

// ToolError represents an error that occurred during tool execution.
type ToolError struct {
	ToolName string        `json:"tool_name"`
	Type     ToolErrorType `json:"type"`
	Message  string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool error [%s] %s: %s", e.Type, e.ToolName, e.Message)
}

func NewToolError(toolName string, typ ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{
		ToolName: toolName,
		Type:     typ,
		Message:  fmt.Sprintf(format, args...),
	}
}

// AsToolError converts any error returned by a tool into a *ToolError.
func AsToolError(toolName string, err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		if te.ToolName == "" {
			cp := *te
			cp.ToolName = toolName
			return &cp
		}
		return te
	}
	return &ToolError{
		ToolName: toolName,
		Type:     ToolErrorExecution,
		Message:  err.Error(),
	}
}
