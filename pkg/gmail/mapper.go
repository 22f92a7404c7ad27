package gmail

import (
	"net/mail"
	"strings"
	"time"

	"levramail-backend/internal/mail/domain"

	"google.golang.org/api/gmail/v1"
)

// labelNames maps Gmail system label ids to provider-neutral sysLabels.
var labelNames = map[string]string{
	"INBOX":     "inbox",
	"SENT":      "sent",
	"DRAFT":     "draft",
	"SPAM":      "spam",
	"TRASH":     "trash",
	"UNREAD":    "unread",
	"IMPORTANT": "important",
	"STARRED":   "flagged",
}

func convertMessage(msg *gmail.Message) domain.Message {
	var headers []*gmail.MessagePartHeader
	if msg.Payload != nil {
		headers = msg.Payload.Headers
	}

	received := time.UnixMilli(msg.InternalDate).UTC()
	sent := received
	if d := getHeader(headers, "Date"); d != "" {
		if t, err := mail.ParseDate(d); err == nil {
			sent = t.UTC()
		}
	}

	out := domain.Message{
		ID:                msg.Id,
		ThreadID:          msg.ThreadId,
		CreatedTime:       received,
		LastModifiedTime:  received,
		SentAt:            sent,
		ReceivedAt:        received,
		InternetMessageID: getHeader(headers, "Message-ID"),
		Subject:           getHeader(headers, "Subject"),
		Sensitivity:       "normal",
		From:              parseAddress(getHeader(headers, "From")),
		To:                parseAddressList(getHeader(headers, "To")),
		Cc:                parseAddressList(getHeader(headers, "Cc")),
		Bcc:               parseAddressList(getHeader(headers, "Bcc")),
		ReplyTo:           parseAddressList(getHeader(headers, "Reply-To")),
		BodySnippet:       msg.Snippet,
		InReplyTo:         getHeader(headers, "In-Reply-To"),
		References:        getHeader(headers, "References"),
	}

	for _, id := range msg.LabelIds {
		if name, ok := labelNames[id]; ok {
			out.SysLabels = append(out.SysLabels, name)
		} else if strings.HasPrefix(id, "CATEGORY_") {
			out.SysClassifications = append(out.SysClassifications, strings.ToLower(strings.TrimPrefix(id, "CATEGORY_")))
		} else {
			out.Keywords = append(out.Keywords, id)
		}
	}

	if msg.Payload != nil {
		out.Body = getBody(msg.Payload)
		out.Attachments = getAttachments(msg.Payload)
	}
	out.HasAttachments = len(out.Attachments) > 0
	return out
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// getBody prefers the HTML alternative.
func getBody(payload *gmail.MessagePart) string {
	if len(payload.Parts) == 0 && payload.Body != nil && payload.Body.Data != "" {
		if data, err := decodeBase64URL(payload.Body.Data); err == nil {
			return string(data)
		}
	}

	var htmlBody, plainBody string
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename == "" && part.Body != nil && part.Body.Data != "" {
				data, err := decodeBase64URL(part.Body.Data)
				if err == nil {
					switch part.MimeType {
					case "text/html":
						htmlBody = string(data)
					case "text/plain":
						plainBody = string(data)
					}
				}
			}
			walk(part.Parts)
		}
	}
	walk(payload.Parts)

	if htmlBody != "" {
		return htmlBody
	}
	return plainBody
}

func getAttachments(payload *gmail.MessagePart) []domain.AttachmentMeta {
	var out []domain.AttachmentMeta
	var walk func(parts []*gmail.MessagePart)
	walk = func(parts []*gmail.MessagePart) {
		for _, part := range parts {
			if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
				disposition := strings.ToLower(getHeader(part.Headers, "Content-Disposition"))
				out = append(out, domain.AttachmentMeta{
					ID:        part.Body.AttachmentId,
					Name:      part.Filename,
					MimeType:  part.MimeType,
					Size:      part.Body.Size,
					Inline:    strings.HasPrefix(disposition, "inline"),
					ContentID: strings.Trim(getHeader(part.Headers, "Content-ID"), "<>"),
				})
			}
			walk(part.Parts)
		}
	}
	walk(payload.Parts)
	return out
}

func parseAddress(s string) domain.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Address{}
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return domain.Address{Address: s, Raw: s}
	}
	return domain.Address{Name: addr.Name, Address: addr.Address, Raw: s}
}

func parseAddressList(s string) []domain.Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(s)
	if err != nil {
		var out []domain.Address
		for _, p := range strings.Split(s, ",") {
			if a := parseAddress(p); a.Address != "" {
				out = append(out, a)
			}
		}
		return out
	}
	out := make([]domain.Address, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, domain.Address{Name: a.Name, Address: a.Address, Raw: a.String()})
	}
	return out
}
