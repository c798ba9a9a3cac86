package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/llm"
)

// TextGenerator is the single-prompt generation capability the
// summarizer needs. The llm.Client satisfies it.
type TextGenerator interface {
	Text(ctx context.Context, model, prompt string, opts llm.Options) (string, error)
}

// Summarizer turns conversation turns into a structured summary and an
// extracted-facts payload using the generation backend. Model output is
// never trusted to be valid JSON; both entry points run a staged
// fallback parse and always return a well-typed structure.
type Summarizer struct {
	gen   TextGenerator
	model string
}

func NewSummarizer(gen TextGenerator, model string) *Summarizer {
	return &Summarizer{gen: gen, model: model}
}

// Summarize merges the given turns into the existing summary. The prompt
// asks for an incremental merge so prior key points and entities are
// preserved unless the new content updates them. A generation failure is
// returned; a malformed response is not, it falls back to wrapping the
// raw output as the summary text.
func (s *Summarizer) Summarize(ctx context.Context, messages []Message, existing *Summary) (*Summary, error) {
	raw, err := s.gen.Text(ctx, s.model, buildSummaryPrompt(messages, existing), llm.Options{Temperature: 0.3})
	if err != nil {
		return nil, fmt.Errorf("generating summary: %w", err)
	}

	if summary, ok := parseJSON[Summary](raw); ok {
		return &summary, nil
	}
	return &Summary{SummaryText: strings.TrimSpace(raw)}, nil
}

// ExtractFacts pulls personal info, tasks, questions and important dates
// out of the turns. The terminal parse fallback is the empty structure
// with every group present; this path never raises past the boundary.
func (s *Summarizer) ExtractFacts(ctx context.Context, messages []Message) (*ExtractedFacts, error) {
	raw, err := s.gen.Text(ctx, s.model, buildExtractionPrompt(messages), llm.Options{Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("generating fact extraction: %w", err)
	}

	if facts, ok := parseJSON[ExtractedFacts](raw); ok {
		return &facts, nil
	}
	return &ExtractedFacts{}, nil
}

func transcript(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func buildSummaryPrompt(messages []Message, existing *Summary) string {
	var b strings.Builder
	b.WriteString("Summarize the following conversation and return a structured summary as JSON.\n\n")
	b.WriteString("Conversation:\n")
	b.WriteString(transcript(messages))
	b.WriteString("\n")

	if existing != nil {
		existingJSON, err := json.Marshal(existing)
		if err == nil {
			b.WriteString("\nExisting summary:\n")
			b.Write(existingJSON)
			b.WriteString("\n\nUpdate the existing summary with the new content. Keep prior key points, entities and action items unless the conversation changes them.\n")
		}
	}

	b.WriteString(`
Return the summary in exactly this JSON shape:
` + "```json" + `
{
    "summary": "overall summary of the conversation",
    "key_points": ["point 1", "point 2"],
    "entities": [
        {"type": "person", "name": "name", "attributes": {"attribute": "value"}}
    ],
    "topics": ["topic 1", "topic 2"],
    "action_items": ["action item 1"]
}
` + "```" + `

Return only the JSON summary, with no explanation around it.`)
	return b.String()
}

func buildExtractionPrompt(messages []Message) string {
	var b strings.Builder
	b.WriteString("Extract the key information from the following conversation and return it as JSON.\n\n")
	b.WriteString("Conversation:\n")
	b.WriteString(transcript(messages))
	b.WriteString(`

Return the information in exactly this JSON shape:
` + "```json" + `
{
    "personal_info": {
        "name": "the user's name, if mentioned",
        "preferences": ["preference 1", "preference 2"],
        "background": "background information"
    },
    "tasks": [
        {"description": "task description", "deadline": "deadline if mentioned", "priority": "priority if mentioned"}
    ],
    "questions": ["question the user asked"],
    "important_dates": [
        {"event": "event description", "date": "date"}
    ]
}
` + "```" + `

Return only the JSON, with no explanation around it. Leave fields empty or omit them when nothing applies.`)
	return b.String()
}

var fencedBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)```")

// parseJSON runs the staged fallback parse over raw model output:
// direct parse, then the first fenced code block, then the outermost
// brace span. It reports false only when every stage fails.
func parseJSON[T any](raw string) (T, bool) {
	trimmed := strings.TrimSpace(raw)

	var direct T
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return direct, true
	}

	if m := fencedBlockRe.FindStringSubmatch(trimmed); m != nil {
		var fenced T
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &fenced); err == nil {
			return fenced, true
		}
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		var span T
		if err := json.Unmarshal([]byte(trimmed[start:end+1]), &span); err == nil {
			return span, true
		}
	}

	var zero T
	return zero, false
}
