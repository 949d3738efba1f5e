package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/notuslabs/agentflow/internal/memory"
)

// Facts the agent extracts on its own are stored at a fixed importance,
// above the default but below pinned-by-hand territory.
const extractedImportance = 7

type extractionPattern struct {
	name string
	re   *regexp.Regexp
	typ  memory.EntryType
	key  string
}

// These are product heuristics, not NLP: three hardcoded phrasings matched
// against both the instruction and the result text.
var extractionPatterns = []extractionPattern{
	{
		name: "name",
		re:   regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z'-]{0,40}(?: [A-Za-z][A-Za-z'-]{0,40})?)`),
		typ:  memory.TypeFact,
		key:  "name",
	},
	{
		name: "preference",
		re:   regexp.MustCompile(`(?i)\bi prefer\s+([^.!?\n]{1,160})`),
		typ:  memory.TypePreference,
		key:  "preference",
	},
	{
		name: "note",
		re:   regexp.MustCompile(`(?i)\bremember that\s+([^.!?\n]{1,200})`),
		typ:  memory.TypeContext,
		key:  "note",
	},
}

// extractMemories runs every pattern over the instruction and the result
// text and returns the deduplicated entries worth persisting.
func extractMemories(userID, instruction, resultText string) []memory.Entry {
	seen := make(map[string]struct{})
	var out []memory.Entry
	for _, p := range extractionPatterns {
		for _, text := range []string{instruction, resultText} {
			for _, match := range p.re.FindAllStringSubmatch(text, -1) {
				value := strings.TrimSpace(match[1])
				if value == "" {
					continue
				}
				dedupe := p.key + "\x00" + strings.ToLower(value)
				if _, ok := seen[dedupe]; ok {
					continue
				}
				seen[dedupe] = struct{}{}
				out = append(out, memory.Entry{
					UserID:     userID,
					Type:       p.typ,
					Key:        p.key,
					Value:      value,
					Source:     "agent",
					Importance: extractedImportance,
				})
			}
		}
	}
	return out
}

// remember persists extracted facts, bumps the per-user task-type usage
// counter, and appends the exchange to the conversation log. None of this
// can fail the task; errors degrade to a descriptive observation.
func (e *Engine) remember(ctx context.Context, req Request, resultText string) string {
	if req.UserID == "" || e.memories == nil {
		return "No user attached; nothing persisted."
	}

	stored := 0
	for _, entry := range extractMemories(req.UserID, req.Instruction, resultText) {
		if _, err := e.memories.CreateEntry(ctx, entry); err == nil {
			stored++
			if e.metrics != nil {
				e.metrics.MemoryExtractions.WithLabelValues(entry.Key).Inc()
			}
		}
	}

	if err := e.bumpTaskTypeUsage(ctx, req); err != nil {
		return fmt.Sprintf("Stored %d memory note(s); usage counter update failed: %v", stored, err)
	}

	e.appendConversation(ctx, req, resultText)
	return fmt.Sprintf("Stored %d memory note(s).", stored)
}

func (e *Engine) bumpTaskTypeUsage(ctx context.Context, req Request) error {
	prefs, err := e.memories.GetPreferences(ctx, req.UserID)
	if err != nil {
		return err
	}
	usage := make(map[string]any)
	if existing, ok := prefs["task_type_usage"].(map[string]any); ok {
		usage = existing
	}
	count := 0.0
	if n, ok := usage[string(req.TaskType)].(float64); ok {
		count = n
	}
	usage[string(req.TaskType)] = count + 1
	_, err = e.memories.MergePreferences(ctx, req.UserID, map[string]any{"task_type_usage": usage})
	return err
}

func (e *Engine) appendConversation(ctx context.Context, req Request, resultText string) {
	msg, err := e.memories.AppendMessage(ctx, memory.Message{
		UserID:  req.UserID,
		Role:    "user",
		Content: req.Instruction,
		Metadata: map[string]any{
			"task_id":   req.TaskID,
			"task_type": string(req.TaskType),
		},
	})
	if err != nil {
		return
	}
	_, _ = e.memories.AppendMessage(ctx, memory.Message{
		ConversationID: msg.ConversationID,
		UserID:         req.UserID,
		Role:           "assistant",
		Content:        resultText,
	})
}
