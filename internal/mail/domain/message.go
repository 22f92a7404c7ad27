package domain

import "time"

// Address is a participant as reported by the provider.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
	Raw     string `json:"raw,omitempty"`
}

// AttachmentMeta describes an attachment of a fetched message. Content is base64 and usually empty.
type AttachmentMeta struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	MimeType        string `json:"mimeType"`
	Size            int64  `json:"size"`
	Inline          bool   `json:"inline"`
	ContentID       string `json:"contentId,omitempty"`
	Content         string `json:"content,omitempty"`
	ContentLocation string `json:"contentLocation,omitempty"`
}

// Message is a provider-neutral fetched email. The JSON shape matches the delta REST API records.
type Message struct {
	ID                 string           `json:"id"`
	ThreadID           string           `json:"threadId"`
	CreatedTime        time.Time        `json:"createdTime"`
	LastModifiedTime   time.Time        `json:"lastModifiedTime"`
	SentAt             time.Time        `json:"sentAt"`
	ReceivedAt         time.Time        `json:"receivedAt"`
	InternetMessageID  string           `json:"internetMessageId"`
	Subject            string           `json:"subject"`
	SysLabels          []string         `json:"sysLabels"`
	Keywords           []string         `json:"keywords"`
	SysClassifications []string         `json:"sysClassifications"`
	Sensitivity        string           `json:"sensitivity"`
	From               Address          `json:"from"`
	To                 []Address        `json:"to"`
	Cc                 []Address        `json:"cc"`
	Bcc                []Address        `json:"bcc"`
	ReplyTo            []Address        `json:"replyTo"`
	HasAttachments     bool             `json:"hasAttachments"`
	Body               string           `json:"body,omitempty"`
	BodySnippet        string           `json:"bodySnippet,omitempty"`
	Attachments        []AttachmentMeta `json:"attachments"`
	InReplyTo          string           `json:"inReplyTo,omitempty"`
	References         string           `json:"references,omitempty"`
	ThreadIndex        string           `json:"threadIndex,omitempty"`
	FolderID           string           `json:"folderId,omitempty"`
	// Removed marks a message the provider deleted. Only ID is set.
	Removed bool `json:"-"`
}

// BodyOrSnippet returns the full body when present.
func (m *Message) BodyOrSnippet() string {
	if m.Body != "" {
		return m.Body
	}
	return m.BodySnippet
}

// TokenUpdateFunc persists refreshed OAuth tokens.
type TokenUpdateFunc func(accessToken, refreshToken string, expiry time.Time) error
