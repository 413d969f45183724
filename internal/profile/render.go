package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/oarc/ollamateacher/internal/memory"
	"github.com/oarc/ollamateacher/internal/store"
)

// RecentForQuestions is how many of the user's messages accompany a
// question about their profile.
const RecentForQuestions = 10

func NotFoundMessage(name string) string {
	return fmt.Sprintf("⚠️ No profile found for %s. Interact with me more to build your profile!", name)
}

// Render formats a stored profile together with the user's in-memory
// activity.
func Render(name string, p store.Profile, userEntries []memory.Entry) string {
	first := "N/A"
	if len(userEntries) > 0 {
		first = userEntries[0].Timestamp.UTC().Format(time.RFC3339)
	}
	analysis := p.Analysis
	if strings.TrimSpace(analysis) == "" {
		analysis = "No analysis available yet."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# 👤 Profile for %s\n\n", name)
	b.WriteString("## Activity Summary\n")
	fmt.Fprintf(&b, "- Messages: %d\n", len(userEntries))
	fmt.Fprintf(&b, "- First Interaction: %s\n", first)
	fmt.Fprintf(&b, "- Last Active: %s\n", p.Timestamp.UTC().Format(time.RFC3339))
	if p.SkillLevel != "" {
		fmt.Fprintf(&b, "- Skill Level: %s\n", p.SkillLevel)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	b.WriteString("\n## Learning Analysis\n")
	b.WriteString(analysis)
	b.WriteString("\n")
	if p.Progress != "" {
		b.WriteString("\n## Progress\n")
		b.WriteString(p.Progress)
		b.WriteString("\n")
	}
	return b.String()
}

// QuestionPrompt asks the model to answer a question about the user from
// their profile and recent messages.
func QuestionPrompt(name string, p store.Profile, userEntries []memory.Entry, question string) string {
	if len(userEntries) > RecentForQuestions {
		userEntries = userEntries[len(userEntries)-RecentForQuestions:]
	}
	recent := make([]string, 0, len(userEntries))
	for _, e := range userEntries {
		recent = append(recent, "- "+e.Content)
	}
	return fmt.Sprintf(`User Profile Information:
%s

Recent Conversations:
%s

Question about the user: %s

Please provide a detailed, personalized answer based on the user's profile and conversation history.
Address the user by name (%s) in your response.`, p.Analysis, strings.Join(recent, "\n"), question, name)
}
