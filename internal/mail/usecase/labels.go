package usecase

import (
	"strings"

	maildomain "levramail-backend/internal/mail/domain"
)

// labelPrecedence orders the recognized labels when an email must carry a single one.
var labelPrecedence = []string{
	maildomain.LabelSpam,
	maildomain.LabelJunk,
	maildomain.LabelDraft,
	maildomain.LabelSent,
	maildomain.LabelInbox,
}

// Classifications returns every recognized label of sysLabels. "important" counts as inbox,
// and an email with no recognized label is inbox.
func Classifications(sysLabels []string) map[string]bool {
	set := map[string]bool{}
	for _, l := range sysLabels {
		switch l = strings.ToLower(strings.TrimSpace(l)); l {
		case maildomain.LabelInbox, maildomain.LabelSent, maildomain.LabelDraft, maildomain.LabelSpam, maildomain.LabelJunk:
			set[l] = true
		case "important":
			set[maildomain.LabelInbox] = true
		}
	}
	if len(set) == 0 {
		set[maildomain.LabelInbox] = true
	}
	return set
}

// EmailLabel picks the single label of an email: spam, junk, draft, sent, then inbox.
func EmailLabel(sysLabels []string) string {
	set := Classifications(sysLabels)
	for _, l := range labelPrecedence {
		if set[l] {
			return l
		}
	}
	return maildomain.LabelInbox
}

func hasLabel(sysLabels []string, label string) bool {
	for _, l := range sysLabels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// applyThreadFlags sets the thread's status flags to the OR of its emails' classifications.
func applyThreadFlags(thread *maildomain.Thread, emails []maildomain.Email) {
	thread.InboxStatus, thread.DraftStatus, thread.SentStatus, thread.SpamStatus, thread.JunkStatus = false, false, false, false, false
	for _, e := range emails {
		for l := range Classifications(e.SysLabels) {
			switch l {
			case maildomain.LabelInbox:
				thread.InboxStatus = true
			case maildomain.LabelDraft:
				thread.DraftStatus = true
			case maildomain.LabelSent:
				thread.SentStatus = true
			case maildomain.LabelSpam:
				thread.SpamStatus = true
			case maildomain.LabelJunk:
				thread.JunkStatus = true
			}
		}
	}
}
