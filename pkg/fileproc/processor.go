// Package fileproc extracts searchable text from files and embeds it.
package fileproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"levramail-backend/pkg/embedding"
	"levramail-backend/pkg/htmltext"

	"github.com/emersion/go-message/mail"
)

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrNoText          = errors.New("no text could be extracted")
	ErrTooLarge        = errors.New("file exceeds maximum size")
)

// Processed is the outcome of a successful extraction. Embeddings is nil when embedding failed.
type Processed struct {
	FileName   string
	MimeType   string
	Text       string
	Embeddings []float32
}

// Processor extracts text from uploaded and attached files.
type Processor struct {
	embedder embedding.Embedder
	maxBytes int64
}

// NewProcessor rejects inputs over maxBytes; zero disables the limit. A nil embedder skips embedding.
func NewProcessor(embedder embedding.Embedder, maxBytes int64) *Processor {
	return &Processor{embedder: embedder, maxBytes: maxBytes}
}

// Process extracts text from data and embeds it. An embedding failure keeps the text.
func (p *Processor) Process(ctx context.Context, data []byte, fileName, mimeType string) (*Processed, error) {
	if p.maxBytes > 0 && int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	mimeType = detectType(fileName, mimeType)
	text, err := Extract(data, mimeType)
	if err != nil {
		return nil, err
	}

	out := &Processed{FileName: fileName, MimeType: mimeType, Text: text}
	if p.embedder != nil {
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			if embedding.IsQuotaError(err) {
				return out, nil
			}
			return out, fmt.Errorf("failed to embed %s: %w", fileName, err)
		}
		out.Embeddings = vec
	}
	return out, nil
}

// Extract returns the plain text of data for the supported types.
func Extract(data []byte, mimeType string) (string, error) {
	var text string
	switch {
	case mimeType == "text/html":
		text = htmltext.Render(string(data))
	case strings.HasPrefix(mimeType, "text/"), mimeType == "application/json", mimeType == "application/xml":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrUnsupportedType, mimeType)
		}
		text = string(data)
	case mimeType == "message/rfc822":
		var err error
		if text, err = extractMessage(data); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mimeType)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// extractMessage concatenates the headers and text parts of an .eml file.
func extractMessage(data []byte) (string, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	var b strings.Builder
	if subject, err := mr.Header.Subject(); err == nil && subject != "" {
		b.WriteString("Subject: " + subject + "\n")
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		b.WriteString("From: " + from[0].String() + "\n")
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read message part: %w", err)
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			plain += string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody += string(body)
		}
	}

	if plain != "" {
		b.WriteString(plain)
	} else {
		b.WriteString(htmltext.Render(htmlBody))
	}
	return b.String(), nil
}

func detectType(fileName, mimeType string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".eml":
		return "message/rfc822"
	case ".md":
		return "text/markdown"
	}
	if mt := mime.TypeByExtension(filepath.Ext(fileName)); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	return mimeType
}
