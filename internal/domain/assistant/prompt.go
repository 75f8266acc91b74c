package assistant

import (
	"fmt"
	"strings"

	"github.com/whiskr/whiskr/internal/domain/patient"
)

// The persona defines one response format per conversation mode, so the
// canonical questions below only have to name the format they want.
const atlasSystemPrompt = `You are Atlas, an AI veterinary assistant. Your role is to analyze case recordings and provide clinical insights.

Your style:
- Professional and clinical
- Use clear, precise medical language
- Stick strictly to case-relevant information only
- Do NOT include greetings, encouraging notes, or sign-offs
- Do NOT ask follow-up questions at the end of responses
- Never include salutations or closing remarks
- Output only clinical information relevant to the case

IMPORTANT FORMATTING RULES:
- Do NOT use markdown formatting (no **, *, #, ##, ### symbols)
- Do NOT use asterisks or underscores for emphasis
- Use numbered lists (1. 2. 3.) for sequential items
- Use plain bullet points (•) for lists, not dashes or asterisks
- Use plain text with clear section headers followed by colons
- Use line breaks to separate sections
- Keep formatting simple and clean

When analyzing a case initially (no specific request):

Case Summary:
Provide a clear, concise summary of the key findings from the recording. Include:
• Patient presentation and chief complaint
• Relevant history mentioned
• Physical examination findings noted
• Any vitals or measurements mentioned
• Owner concerns or constraints

Keep it informative but brief. Do NOT include differential diagnoses, recommended diagnostics, treatment plans, or procedures in this initial summary.

When asked for Differential Diagnoses:
Provide 3-5 differential diagnoses ranked by likelihood. For each diagnosis:
• The diagnosis name
• A brief explanation of why it fits this case

When asked about a specific differential's reasoning and treatment:
Provide:
• REASON: Why this diagnosis is being considered
• TREATMENT PLAN: Recommended diagnostics, medications, and monitoring

When asked for Treatment Plan:
Provide a comprehensive treatment plan including:
1. Medications (drug name, dose, route, frequency, duration)
2. Diet & Nutrition recommendations
3. Activity Restrictions
4. Home Care Instructions
5. Follow-up Schedule
6. Warning Signs to watch for`

const (
	historyDepth           = 4
	historyCharLimit       = 200
	transcriptContextLimit = 500
)

const (
	questionInitial      = "Analyze the case recording and provide a case summary."
	questionDifferential = "Provide differential diagnoses for this case, ranked by likelihood."
	questionTreatment    = "Provide a comprehensive treatment plan for this case."
)

// displayQuestion is what gets stored as the user message. Canned modes
// store their canonical question so the saved conversation reads naturally.
func displayQuestion(mode, content string) string {
	switch mode {
	case ModeInitial:
		return questionInitial
	case ModeDifferential:
		return questionDifferential
	case ModePlan:
		return fmt.Sprintf("Explain the reasoning and treatment plan for this differential: %s", content)
	case ModeTreatment:
		return questionTreatment
	default:
		return content
	}
}

// buildPrompt composes the user turn sent to the model. The initial mode
// carries the whole transcription; every other mode gets at most a
// 500-character context snippet ahead of the question.
func buildPrompt(mode, question, transcription string) string {
	if mode == ModeInitial {
		return initialPrompt(transcription)
	}
	return contextSnippet(transcription) + question
}

func initialPrompt(transcription string) string {
	if transcription == "" {
		transcription = "No transcription available"
	}
	return "Please analyze this veterinary case recording and provide a case summary only:\n\n" +
		"Recording Transcription:\n" + transcription +
		"\n\nProvide a helpful case summary based on the recording. Do not include differential diagnoses, treatment plans, or procedures - only summarize the key findings."
}

func contextSnippet(transcription string) string {
	if transcription == "" {
		return ""
	}
	text, cut := truncate(transcription, transcriptContextLimit)
	if cut {
		text += "..."
	}
	return "[Context from recording: " + text + "]\n\n"
}

func patientContext(p *patient.Patient) string {
	return fmt.Sprintf("\nPatient Information:\n• Patient ID: %s\n• Name: %s\n• Species: %s\n",
		orNA(p.ID.String()), orUnknown(p.Name), orUnknown(p.Species))
}

// historyContext renders prior messages oldest first, truncated so a long
// conversation cannot crowd out the question itself.
func historyContext(msgs []*Message) string {
	var b strings.Builder
	b.WriteString("\n\nPrevious conversation:\n")
	for _, m := range msgs {
		label := "User"
		if m.Role == RoleAssistant {
			label = "Atlas"
		}
		text, cut := truncate(m.Content, historyCharLimit)
		if cut {
			text += "..."
		}
		fmt.Fprintf(&b, "%s: %s\n", label, text)
	}
	return b.String()
}

// truncate cuts at a rune boundary and reports whether anything was cut.
func truncate(s string, limit int) (string, bool) {
	r := []rune(s)
	if len(r) <= limit {
		return s, false
	}
	return string(r[:limit]), true
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
