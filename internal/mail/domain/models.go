package domain

import (
	"time"

	"levramail-backend/pkg/dbtypes"
)

// Email classification labels. A thread carries one status flag per label.
const (
	LabelInbox = "inbox"
	LabelSent  = "sent"
	LabelDraft = "draft"
	LabelSpam  = "spam"
	LabelJunk  = "junk"
)

type Thread struct {
	ID              string              `json:"id" gorm:"primaryKey"`
	AccountID       string              `json:"account_id" gorm:"index;not null"`
	Subject         string              `json:"subject"`
	LastMessageDate time.Time           `json:"last_message_date" gorm:"index"`
	ParticipantIDs  dbtypes.StringArray `json:"participant_ids"`
	Done            bool                `json:"done"`
	InboxStatus     bool                `json:"inbox_status"`
	DraftStatus     bool                `json:"draft_status"`
	SentStatus      bool                `json:"sent_status"`
	SpamStatus      bool                `json:"spam_status"`
	JunkStatus      bool                `json:"junk_status"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type Email struct {
	ID                 string              `json:"id" gorm:"primaryKey"`
	ThreadID           string              `json:"thread_id" gorm:"index;not null"`
	CreatedTime        time.Time           `json:"created_time"`
	LastModifiedTime   time.Time           `json:"last_modified_time"`
	SentAt             time.Time           `json:"sent_at" gorm:"index"`
	ReceivedAt         time.Time           `json:"received_at"`
	InternetMessageID  string              `json:"internet_message_id"`
	Subject            string              `json:"subject"`
	SysLabels          dbtypes.StringArray `json:"sys_labels"`
	Keywords           dbtypes.StringArray `json:"keywords"`
	SysClassifications dbtypes.StringArray `json:"sys_classifications"`
	Sensitivity        string              `json:"sensitivity"`
	FromID             string              `json:"from_id" gorm:"index"`
	ToIDs              dbtypes.StringArray `json:"to_ids"`
	CcIDs              dbtypes.StringArray `json:"cc_ids"`
	BccIDs             dbtypes.StringArray `json:"bcc_ids"`
	ReplyToIDs         dbtypes.StringArray `json:"reply_to_ids"`
	HasAttachments     bool                `json:"has_attachments"`
	Body               string              `json:"body" gorm:"type:text"`
	BodySnippet        string              `json:"body_snippet" gorm:"type:text"`
	InReplyTo          string              `json:"in_reply_to"`
	References         string              `json:"references"`
	ThreadIndex        string              `json:"thread_index"`
	FolderID           string              `json:"folder_id"`
	EmailLabel         string              `json:"email_label" gorm:"index"`
	Priority           string              `json:"priority"`
	AutoReplyDraft     *string             `json:"auto_reply_draft,omitempty" gorm:"type:text"`
	Embeddings         dbtypes.Vector      `json:"-"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// EmailAddress is unique per account by lowercase address.
type EmailAddress struct {
	ID        string `json:"id" gorm:"primaryKey"`
	AccountID string `json:"account_id" gorm:"uniqueIndex:idx_account_address;not null"`
	Address   string `json:"address" gorm:"uniqueIndex:idx_account_address;not null"`
	Name      string `json:"name"`
	Raw       string `json:"raw"`
}

type EmailAttachment struct {
	ID              string `json:"id" gorm:"primaryKey"`
	EmailID         string `json:"email_id" gorm:"index;not null"`
	Name            string `json:"name"`
	MimeType        string `json:"mime_type"`
	Size            int64  `json:"size"`
	Inline          bool   `json:"inline"`
	ContentID       string `json:"content_id"`
	ContentLocation string `json:"content_location"`
	// Content is base64, populated lazily on first download.
	Content *string `json:"-" gorm:"type:text"`
}

// IndexDocument is a document ready for the vector index. Source defaults to email.
type IndexDocument struct {
	ID         string
	Source     string
	ThreadID   string
	AccountID  string
	Subject    string
	From       string
	Body       string
	SentAt     time.Time
	Embeddings []float32
}
