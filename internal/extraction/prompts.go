package extraction

import (
	"fmt"
	"strings"

	"github.com/yungbote/memsubstrate/internal/tracker"
)

// systemPrompt instructs the LLM on categories, confidence guidance, and
// output conventions. Matches the rules C4 later applies deterministically,
// so the LLM's base_confidence and C4's adjustments don't double up.
func systemPrompt() string {
	return `You are a memory extraction specialist analyzing conversation transcripts.

Identify meaningful, user-specific information and extract it into one of five
categories:

1. preference: tool choices, workflow preferences, conventions
2. personal_fact: personal information, interests, non-technical context
3. technical_context: infrastructure, dependencies, architecture details
4. decision: architecture decisions or tool selections with rationale
5. correction: a correction of previously stated information

Assign base_confidence in [0.0, 1.0] based on evidence strength:
- 0.8-1.0: explicit, direct first-person statements
- 0.6-0.7: strong implication or repeated mention
- 0.4-0.5: reasonable inference from context
- below 0.4: do not extract

Mark is_explicit true when the statement is a direct first-person declaration
("I prefer", "I use", "My X is Y"). Mark is_correction true when the message
corrects earlier information ("actually", "I meant", "to be clear", "sorry").
When is_correction is true, set supersedes to the prior content being
corrected, if identifiable from context.

Write content in third person ("User prefers Docker", not "I prefer Docker").
Extract only genuinely useful, user-specific information; skip generic
statements and common knowledge. Return an empty list if nothing qualifies.`
}

// formatTranscript renders a closed transcript as a labelled message list,
// sending only the fields the LLM needs to minimize token usage.
func formatTranscript(t tracker.Transcript) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation Transcript: %s\n", t.SessionID)
	fmt.Fprintf(&b, "Duration: %.1f seconds\n", t.EndTime.Sub(t.StartTime).Seconds())
	fmt.Fprintf(&b, "Messages: %d\n\n## Messages:\n\n", t.MessageCount)

	for i, m := range t.Messages {
		fmt.Fprintf(&b, "[%d] %s - %s: %s\n", i+1, m.Timestamp.UTC().Format("15:04:05"), m.Role, m.Content)
	}

	b.WriteString("\n---\n\nAnalyze this conversation and extract all meaningful user memories.\n")
	b.WriteString("Return only memories with base_confidence >= 0.4.\n")
	return b.String()
}
