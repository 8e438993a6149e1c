package chat

import (
	"context"
	"fmt"
	"log"
	"strings"

	"municonsole_back/assistants"
	"municonsole_back/tools"
	"municonsole_back/vectorstore"
)

const maxSnippetChars = 1200

// prompt assembles the conversation sent to the model: the assistant
// prompt, its enabled tools, knowledge snippets for query, and the recent
// thread history (which already ends with the user's message).
func (s *Service) prompt(ctx context.Context, thread *Thread, assistant *assistants.Assistant, query string) ([]Turn, error) {
	turns := make([]Turn, 0, s.historyLimit+3)
	if system := strings.TrimSpace(assistant.Prompt); system != "" {
		turns = append(turns, Turn{Role: "system", Content: system})
	}

	bindings := s.enabledTools(ctx, assistant.ID)
	if text := toolsPrompt(bindings); text != "" {
		turns = append(turns, Turn{Role: "system", Content: text})
	}

	if s.knowledge != nil && thread.MunicipalityID != nil {
		hits, err := s.knowledge.Retrieve(ctx, *thread.MunicipalityID, assistant.ID, query, retrievalLimit)
		if err != nil {
			log.Printf("chat: retrieve knowledge for thread %s: %v", thread.ID, err)
		} else if text := knowledgePrompt(hits); text != "" {
			turns = append(turns, Turn{Role: "system", Content: text})
		}
	}

	history, err := s.history(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	for _, msg := range history {
		if msg.Role != RoleUser && msg.Role != RoleAssistant {
			continue
		}
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns, nil
}

func (s *Service) enabledTools(ctx context.Context, assistantID uint64) []tools.AssistantTool {
	if s.tools == nil {
		return nil
	}
	bindings, err := s.tools.EnabledBindings(ctx, assistantID, true)
	if err != nil {
		log.Printf("chat: load tools of assistant %d: %v", assistantID, err)
		return nil
	}
	return bindings
}

func toolsPrompt(bindings []tools.AssistantTool) string {
	var builder strings.Builder
	for _, binding := range bindings {
		if binding.Tool == nil {
			continue
		}
		if builder.Len() == 0 {
			builder.WriteString("You can rely on these tools:\n")
		}
		fmt.Fprintf(&builder, "- %s (%s): %s", binding.Tool.Name, binding.Tool.Type, strings.TrimSpace(binding.Tool.Description))
		if urls := []string(binding.URLs); len(urls) > 0 {
			fmt.Fprintf(&builder, " Sources: %s.", strings.Join(urls, ", "))
		}
		builder.WriteRune('\n')
	}
	return strings.TrimSpace(builder.String())
}

func knowledgePrompt(hits []vectorstore.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("Answer using the following knowledge base excerpts when they are relevant. Say so when they do not cover the question.\n")
	for i, hit := range hits {
		content := strings.TrimSpace(hit.Content)
		if len(content) > maxSnippetChars {
			content = strings.ToValidUTF8(content[:maxSnippetChars], "")
		}
		fmt.Fprintf(&builder, "\n[%d] %s", i+1, strings.TrimSpace(hit.Title))
		if hit.URL != "" {
			fmt.Fprintf(&builder, " (%s)", hit.URL)
		}
		builder.WriteString("\n")
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}
