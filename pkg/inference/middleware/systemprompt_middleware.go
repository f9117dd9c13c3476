package middleware

import (
	"context"

	"github.com/go-go-golems/marionette/pkg/helpers"
	"github.com/go-go-golems/marionette/pkg/inference/engine"
	"github.com/rs/zerolog/log"
)

// NewSystemPromptMiddleware ensures a fixed system prompt is present as the first system
// message. If a system message already exists the prompt is appended to it (separated by a
// blank line), otherwise a new system message is inserted at the beginning. The caller's
// slice is never modified.
func NewSystemPromptMiddleware(prompt string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req Request) (<-chan helpers.Result[string], error) {
			if prompt == "" {
				return next(ctx, req)
			}

			messages := append([]engine.Message(nil), req.Messages...)
			firstSystemIdx := -1
			for i, m := range messages {
				if m.Role == engine.RoleSystem {
					firstSystemIdx = i
					break
				}
			}

			if firstSystemIdx >= 0 {
				existing := messages[firstSystemIdx].Text
				if existing == "" {
					messages[firstSystemIdx].Text = prompt
				} else {
					messages[firstSystemIdx].Text = existing + "\n\n" + prompt
				}
				log.Debug().Int("system_idx", firstSystemIdx).Msg("systemprompt: appended to existing system message")
			} else {
				messages = append([]engine.Message{engine.NewSystemMessage(prompt)}, messages...)
				log.Debug().Int("prompt_len", len(prompt)).Msg("systemprompt: inserted system message")
			}

			req.Messages = messages
			return next(ctx, req)
		}
	}
}
