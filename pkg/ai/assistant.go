package ai

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxPromptBody = 2000

// PromptAssistant implements Assistant on top of any text Generator.
type PromptAssistant struct {
	gen Generator
	now func() time.Time
}

func NewAssistant(gen Generator) *PromptAssistant {
	return &PromptAssistant{gen: gen, now: time.Now}
}

func (a *PromptAssistant) ClassifyPriority(ctx context.Context, msg MessageInfo) (string, error) {
	prompt := fmt.Sprintf(`You are an AI email assistant. Determine the priority level of an incoming email.

THE TIME NOW IS %s

EMAIL DETAILS:
Subject: %s
From: %s
Sent: %s

EMAIL CONTENT:
%s

Priority levels:
- HIGH: urgent, time-sensitive, critical decisions, deadlines, requests from key contacts.
- MEDIUM: important but not urgent, regular business communication.
- LOW: newsletters, promotions, automated notifications, general updates.

Respond with ONLY one word: "high", "medium", or "low".`,
		a.now().Format(time.RFC1123), orDefault(msg.Subject, "No subject"), orDefault(msg.From, "Unknown sender"),
		orDefault(msg.SentAt, "Unknown date"), clip(msg.Body, maxPromptBody))

	text, err := a.gen.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	return parsePriority(text)
}

func (a *PromptAssistant) ShouldReply(ctx context.Context, msg MessageInfo) (bool, error) {
	for _, l := range msg.SysLabels {
		if l := strings.ToLower(l); l == "spam" || l == "junk" {
			return false, nil
		}
	}
	for _, c := range msg.Classifications {
		if c == "promotions" || c == "spam" {
			return false, nil
		}
	}

	prompt := fmt.Sprintf(`You are an AI email assistant. Determine if an incoming email should receive an automatic reply draft.

THE TIME NOW IS %s

EMAIL DETAILS:
Subject: %s
From: %s
Sent: %s
Labels: %s
Classifications: %s

EMAIL CONTENT:
%s

Newsletters, marketing, no-reply senders and automated notifications do not need a reply.
Personal or business mail with questions, requests or anything needing acknowledgment does.

Respond with ONLY one word: "yes" or "no".`,
		a.now().Format(time.RFC1123), orDefault(msg.Subject, "No subject"), orDefault(msg.From, "Unknown sender"),
		orDefault(msg.SentAt, "Unknown date"), strings.Join(msg.SysLabels, ", "), strings.Join(msg.Classifications, ", "),
		clip(msg.Body, maxPromptBody))

	text, err := a.gen.GenerateText(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(strings.ToLower(text)) == "yes", nil
}

func (a *PromptAssistant) GenerateReply(ctx context.Context, rc ReplyContext) (string, error) {
	var b strings.Builder
	for _, m := range rc.Thread {
		writeContextMessage(&b, m)
	}
	writeContextMessage(&b, rc.Current)
	if rc.AccountAddr != "" {
		fmt.Fprintf(&b, "\nMy name is %s and my email is %s.\n", rc.AccountName, rc.AccountAddr)
	}

	prompt := fmt.Sprintf(`You are an AI email assistant writing a reply draft on behalf of the user.
Keep it concise, polite and directly responsive to the latest message. Do not invent facts.
Return only the body of the reply, without a subject line.

CONVERSATION:
%s
REPLY:`, b.String())

	text, err := a.gen.GenerateText(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty reply generated")
	}
	return text, nil
}

func writeContextMessage(b *strings.Builder, m ContextMessage) {
	fmt.Fprintf(b, "\nSubject: %s\nFrom: %s\nSent: %s\nBody: %s\n", m.Subject, m.From, m.SentAt, m.Body)
}

func parsePriority(text string) (string, error) {
	switch p := strings.Trim(strings.ToLower(strings.TrimSpace(text)), `".`); p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	default:
		return "", fmt.Errorf("unexpected priority %q", text)
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
