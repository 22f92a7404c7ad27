package graph

import (
	"encoding/json"
	"strings"
	"time"

	"levramail-backend/internal/mail/domain"
)

type listItem struct {
	ID      string          `json:"id"`
	Removed json.RawMessage `json:"@removed,omitempty"`
}

type listResponse struct {
	Value     []listItem `json:"value"`
	NextLink  string     `json:"@odata.nextLink"`
	DeltaLink string     `json:"@odata.deltaLink"`
}

type emailAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	ID                   string         `json:"id"`
	ConversationID       string         `json:"conversationId"`
	CreatedDateTime      time.Time      `json:"createdDateTime"`
	LastModifiedDateTime time.Time      `json:"lastModifiedDateTime"`
	ReceivedDateTime     time.Time      `json:"receivedDateTime"`
	SentDateTime         time.Time      `json:"sentDateTime"`
	Subject              string         `json:"subject"`
	BodyPreview          string         `json:"bodyPreview"`
	Importance           string         `json:"importance"`
	IsRead               bool           `json:"isRead"`
	HasAttachments       bool           `json:"hasAttachments"`
	InternetMessageID    string         `json:"internetMessageId"`
	ParentFolderID       string         `json:"parentFolderId"`
	Categories           []string       `json:"categories"`
	From                 *emailAddress  `json:"from"`
	ToRecipients         []emailAddress `json:"toRecipients"`
	CcRecipients         []emailAddress `json:"ccRecipients"`
	BccRecipients        []emailAddress `json:"bccRecipients"`
	ReplyTo              []emailAddress `json:"replyTo"`
	Body                 struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	InternetMessageHeaders []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"internetMessageHeaders"`
}

type attachmentList struct {
	Value []struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		ContentType string `json:"contentType"`
		Size        int64  `json:"size"`
		IsInline    bool   `json:"isInline"`
		ContentID   string `json:"contentId"`
	} `json:"value"`
}

var folderLabels = []struct {
	marker string
	label  string
}{
	{"inbox", "inbox"},
	{"sentitems", "sent"},
	{"drafts", "draft"},
	{"junkemail", "junk"},
	{"deleteditems", "trash"},
}

// sysLabels derives labels from the parent folder, falling back to the folder being synced.
func sysLabels(folderID, syncedFolder string, isRead bool, importance string) []string {
	label := ""
	for _, candidate := range []string{folderID, syncedFolder} {
		lower := strings.ToLower(candidate)
		for _, f := range folderLabels {
			if strings.Contains(lower, f.marker) {
				label = f.label
				break
			}
		}
		if label != "" {
			break
		}
	}
	if label == "" {
		label = "inbox"
	}

	labels := []string{label}
	if !isRead {
		labels = append(labels, "unread")
	}
	if importance == "high" {
		labels = append(labels, "important")
	}
	return labels
}

func toAddress(a emailAddress) domain.Address {
	addr := strings.ToLower(a.EmailAddress.Address)
	raw := addr
	if a.EmailAddress.Name != "" {
		raw = a.EmailAddress.Name + " <" + addr + ">"
	}
	return domain.Address{Name: a.EmailAddress.Name, Address: addr, Raw: raw}
}

func toAddresses(list []emailAddress) []domain.Address {
	out := make([]domain.Address, 0, len(list))
	for _, a := range list {
		out = append(out, toAddress(a))
	}
	return out
}

func (m *graphMessage) toDomain(syncedFolder string) *domain.Message {
	msg := &domain.Message{
		ID:                m.ID,
		ThreadID:          m.ConversationID,
		CreatedTime:       m.CreatedDateTime,
		LastModifiedTime:  m.LastModifiedDateTime,
		SentAt:            m.SentDateTime,
		ReceivedAt:        m.ReceivedDateTime,
		InternetMessageID: m.InternetMessageID,
		Subject:           m.Subject,
		SysLabels:         sysLabels(m.ParentFolderID, syncedFolder, m.IsRead, m.Importance),
		Keywords:          m.Categories,
		Sensitivity:       "normal",
		To:                toAddresses(m.ToRecipients),
		Cc:                toAddresses(m.CcRecipients),
		Bcc:               toAddresses(m.BccRecipients),
		ReplyTo:           toAddresses(m.ReplyTo),
		BodySnippet:       m.BodyPreview,
		FolderID:          m.ParentFolderID,
	}
	if msg.InternetMessageID == "" {
		msg.InternetMessageID = m.ID
	}
	if msg.Subject == "" {
		msg.Subject = "(No subject)"
	}
	if m.From != nil {
		msg.From = toAddress(*m.From)
	}
	msg.Body = m.Body.Content
	for _, h := range m.InternetMessageHeaders {
		switch strings.ToLower(h.Name) {
		case "in-reply-to":
			msg.InReplyTo = h.Value
		case "references":
			msg.References = h.Value
		}
	}
	return msg
}
