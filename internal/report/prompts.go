package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayush/research-ai-agent/reportgen/internal/llm"
	"github.com/ayush/research-ai-agent/reportgen/internal/models"
)

// NoMaterialNote replaces the evidence block of a writing prompt when search
// produced nothing.
const NoMaterialNote = "No external material was found for this section. Write from general knowledge and state clearly where figures could not be verified."

const outlineSystem = `You are a senior industry research analyst planning a deep research report.
Respond with JSON only, no commentary, using exactly this shape:
{"title": "report title", "chapters": [{"title": "chapter title", "instruction": "what this chapter must cover"}]}
Plan between 4 and 8 chapters. Each instruction names the questions the chapter answers and the data it needs.`

const querySystem = `You generate web search queries for one chapter of a research report.
Return a JSON array of at most 3 short, specific search queries and nothing else.`

const sectionSystem = `You are a senior industry research analyst writing one chapter of a report in Markdown.
Start directly with the chapter body; do not repeat the chapter title as a heading.
Ground statements in the supplied material and cite sources inline as [n] using the material numbering.
Do not invent references that are not in the material.`

func outlineMessages(topic string) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: outlineSystem},
		{Role: "user", Content: fmt.Sprintf("Research topic: %s", topic)},
	}
}

func reviseMessages(topic, feedback string, previous models.Outline) []llm.Message {
	prev, _ := json.Marshal(previous)
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", topic)
	fmt.Fprintf(&b, "Current outline:\n%s\n\n", prev)
	fmt.Fprintf(&b, "Reviewer feedback:\n%s\n\n", feedback)
	b.WriteString("Return the complete revised outline.")
	return []llm.Message{
		{Role: "system", Content: outlineSystem},
		{Role: "user", Content: b.String()},
	}
}

func queryMessages(topic string, sec models.Section) []llm.Message {
	return []llm.Message{
		{Role: "system", Content: querySystem},
		{Role: "user", Content: fmt.Sprintf("Report: %s\nChapter: %s\nChapter brief: %s", topic, sec.Title, sec.Instruction)},
	}
}

func sectionMessages(topic string, sec models.Section, material string) []llm.Message {
	if strings.TrimSpace(material) == "" {
		material = NoMaterialNote
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Report: %s\n", topic)
	fmt.Fprintf(&b, "Chapter: %s\n", sec.Title)
	fmt.Fprintf(&b, "Chapter brief: %s\n\n", sec.Instruction)
	fmt.Fprintf(&b, "Material:\n%s", material)
	return []llm.Message{
		{Role: "system", Content: sectionSystem},
		{Role: "user", Content: b.String()},
	}
}
