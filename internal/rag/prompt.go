package rag

import (
	"fmt"
	"strings"

	"github.com/draa-ai/draa/internal/core"
)

// NoContextPlaceholder is rendered in place of the context section when
// retrieval returns nothing. The model must be told explicitly that no
// context was found; omitting the section degrades answer quality.
const NoContextPlaceholder = "No documents found."

// systemPrompts are the instruction preambles keyed by language code.
var systemPrompts = map[string]string{
	core.LangEnglish: "You are an expert in African digital human rights. Use the context below to answer clearly in English.",
	core.LangFrench:  "Vous êtes un expert des droits numériques en Afrique. Utilisez le contexte ci-dessous pour répondre en français.",
	core.LangSwahili: "Wewe ni mtaalam wa haki za kidijitali Afrika. Tumia muktadha hapa chini kujibu kwa Kiswahili.",
	core.LangAmharic: "አንተ በአፍሪካ የዲጂታል መብቶች ባለሙያ ነህ። በአማርኛ መልስ ስጥ።",
}

const defaultSystemPrompt = "Answer in English."

// SystemPrompt returns the instruction preamble for the given language,
// falling back to the default for unknown codes.
func SystemPrompt(language string) string {
	if p, ok := systemPrompts[language]; ok {
		return p
	}
	return defaultSystemPrompt
}

// BuildPrompt assembles the final grounded prompt: system preamble,
// retrieved passages (annotated with their relevance scores), then the
// user's question.
func BuildPrompt(question, language string, chunks []string, scores []float64) string {
	var builder strings.Builder

	builder.WriteString(SystemPrompt(language))
	builder.WriteString("\n\nContext:\n")

	if len(chunks) == 0 {
		builder.WriteString(NoContextPlaceholder)
	} else {
		for i, chunk := range chunks {
			if i > 0 {
				builder.WriteString("\n\n")
			}
			if i < len(scores) {
				builder.WriteString(fmt.Sprintf("[relevance %.3f] ", scores[i]))
			}
			builder.WriteString(chunk)
		}
	}

	builder.WriteString("\n\nUser: ")
	builder.WriteString(question)

	return builder.String()
}
