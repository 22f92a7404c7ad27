package usecase

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	maildomain "levramail-backend/internal/mail/domain"
	"levramail-backend/internal/mail/repository"
	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/pkg/ai"
	"levramail-backend/pkg/dbtypes"
	"levramail-backend/pkg/embedding"
	"levramail-backend/pkg/htmltext"
	"levramail-backend/pkg/retry"
)

// Indexer receives the documents of a persisted batch.
type Indexer interface {
	InsertBatch(ctx context.Context, docs []maildomain.IndexDocument) searchdomain.BatchStats
}

// Mailbox identifies the account a batch belongs to.
type Mailbox struct {
	AccountID    string
	Name         string
	EmailAddress string
}

// UpsertResult summarizes a batch. Created holds the emails inserted for the first time.
type UpsertResult struct {
	Created []maildomain.Email
	Updated int
	Removed int
	Failed  int
	Indexed searchdomain.BatchStats
}

// Upserter turns fetched messages into threads, emails, addresses and attachments.
type Upserter interface {
	// Upsert persists messages idempotently. A non-nil error means at least one message
	// was not stored and the sync checkpoint must not advance.
	Upsert(ctx context.Context, mailbox Mailbox, messages []maildomain.Message) (*UpsertResult, error)
}

// Options tunes the upserter. Zero values select a five-attempt retry and a 20s AI timeout.
type Options struct {
	Retry     retry.Policy
	AITimeout time.Duration
}

type upserter struct {
	threads     repository.ThreadRepository
	emails      repository.EmailRepository
	addresses   repository.AddressRepository
	attachments repository.AttachmentRepository
	assistant   ai.Assistant
	embedder    embedding.Embedder
	indexer     Indexer
	opts        Options
}

// NewUpserter wires the repositories and the optional AI helpers. assistant, embedder and indexer
// may be nil; emails are then stored without priority, draft or vector.
func NewUpserter(
	threads repository.ThreadRepository,
	emails repository.EmailRepository,
	addresses repository.AddressRepository,
	attachments repository.AttachmentRepository,
	assistant ai.Assistant,
	embedder embedding.Embedder,
	indexer Indexer,
	opts Options,
) Upserter {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.AITimeout <= 0 {
		opts.AITimeout = 20 * time.Second
	}
	return &upserter{
		threads:     threads,
		emails:      emails,
		addresses:   addresses,
		attachments: attachments,
		assistant:   assistant,
		embedder:    embedder,
		indexer:     indexer,
		opts:        opts,
	}
}

// emailOutcome is the result of persisting one message.
type emailOutcome struct {
	email   *maildomain.Email
	created bool
	doc     *maildomain.IndexDocument
}

func (u *upserter) Upsert(ctx context.Context, mailbox Mailbox, messages []maildomain.Message) (*UpsertResult, error) {
	result := &UpsertResult{}
	var errs []error
	var docs []maildomain.IndexDocument

	var removed []string
	live := make([]maildomain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Removed {
			removed = append(removed, m.ID)
			continue
		}
		live = append(live, m)
	}

	for _, group := range groupByThread(live) {
		outcomes, err := u.upsertThread(ctx, mailbox, group)
		if err != nil {
			errs = append(errs, err)
		}
		for _, o := range outcomes {
			if o.email == nil {
				result.Failed++
				continue
			}
			if o.created {
				result.Created = append(result.Created, *o.email)
			} else {
				result.Updated++
			}
			if o.doc != nil {
				docs = append(docs, *o.doc)
			}
		}
	}

	for _, id := range removed {
		ok, err := u.removeEmail(ctx, mailbox, id)
		if err != nil {
			log.Printf("[Upsert] Failed to remove email %s: %v", id, err)
			errs = append(errs, fmt.Errorf("email %s: %w", id, err))
			result.Failed++
			continue
		}
		if ok {
			result.Removed++
		}
	}

	if len(docs) > 0 && u.indexer != nil {
		result.Indexed = u.indexer.InsertBatch(ctx, docs)
	}

	log.Printf("[Upsert] Account %s: %d created, %d updated, %d removed, %d failed, %d indexed",
		mailbox.AccountID, len(result.Created), result.Updated, result.Removed, result.Failed, result.Indexed.Inserted)
	return result, errors.Join(errs...)
}

// groupByThread keeps the first-seen order of threads.
func groupByThread(messages []maildomain.Message) [][]maildomain.Message {
	index := map[string]int{}
	var groups [][]maildomain.Message
	for _, m := range messages {
		if m.ID == "" {
			continue
		}
		if m.ThreadID == "" {
			m.ThreadID = m.ID
		}
		i, ok := index[m.ThreadID]
		if !ok {
			i = len(groups)
			index[m.ThreadID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

func (u *upserter) upsertThread(ctx context.Context, mailbox Mailbox, group []maildomain.Message) ([]emailOutcome, error) {
	threadID := group[0].ThreadID
	sort.SliceStable(group, func(i, j int) bool { return group[i].SentAt.Before(group[j].SentAt) })

	var thread *maildomain.Thread
	err := retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		thread, err = u.threads.FindByID(threadID)
		return err
	})
	if err != nil {
		return failAll(group), fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	if thread != nil && thread.AccountID != mailbox.AccountID {
		return failAll(group), fmt.Errorf("thread %s belongs to another account", threadID)
	}
	if thread == nil {
		thread = &maildomain.Thread{ID: threadID, AccountID: mailbox.AccountID, Subject: group[0].Subject}
	}
	if thread.Subject == "" {
		thread.Subject = group[0].Subject
	}
	thread.Done = false
	for _, m := range group {
		if m.SentAt.After(thread.LastMessageDate) {
			thread.LastMessageDate = m.SentAt
		}
	}
	if err := retry.Do(ctx, u.opts.Retry, func() error { return u.threads.Save(thread) }); err != nil {
		return failAll(group), fmt.Errorf("failed to save thread %s: %w", threadID, err)
	}

	var errs []error
	outcomes := make([]emailOutcome, 0, len(group))
	participants := append([]string(nil), thread.ParticipantIDs...)
	for _, m := range group {
		o, ids, err := u.upsertEmail(ctx, mailbox, m)
		if err != nil {
			log.Printf("[Upsert] Failed to persist email %s: %v", m.ID, err)
			errs = append(errs, fmt.Errorf("email %s: %w", m.ID, err))
		}
		outcomes = append(outcomes, o)
		participants = appendUnique(participants, ids...)
	}

	// Flags follow every email stored for the thread, not only this batch.
	var stored []maildomain.Email
	err = retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		stored, err = u.emails.ThreadLabels(threadID)
		return err
	})
	if err != nil {
		return outcomes, errors.Join(append(errs, fmt.Errorf("failed to load labels of thread %s: %w", threadID, err))...)
	}
	applyThreadFlags(thread, stored)
	thread.ParticipantIDs = dbtypes.StringArray(participants)
	if err := retry.Do(ctx, u.opts.Retry, func() error { return u.threads.Save(thread) }); err != nil {
		errs = append(errs, fmt.Errorf("failed to update thread %s: %w", threadID, err))
	}
	return outcomes, errors.Join(errs...)
}

// removeEmail deletes an email the provider removed and recomputes the flags of its thread.
// It reports false when the email was never stored.
func (u *upserter) removeEmail(ctx context.Context, mailbox Mailbox, id string) (bool, error) {
	var email *maildomain.Email
	err := retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		email, err = u.emails.FindByID(id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to load email: %w", err)
	}
	if email == nil {
		return false, nil
	}

	var thread *maildomain.Thread
	err = retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		thread, err = u.threads.FindByID(email.ThreadID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to load thread %s: %w", email.ThreadID, err)
	}
	if thread != nil && thread.AccountID != mailbox.AccountID {
		return false, fmt.Errorf("thread %s belongs to another account", email.ThreadID)
	}

	if err := retry.Do(ctx, u.opts.Retry, func() error { return u.emails.Delete(id) }); err != nil {
		return false, fmt.Errorf("failed to delete email: %w", err)
	}
	if thread == nil {
		return true, nil
	}

	var stored []maildomain.Email
	err = retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		stored, err = u.emails.ThreadLabels(thread.ID)
		return err
	})
	if err != nil {
		return true, fmt.Errorf("failed to load labels of thread %s: %w", thread.ID, err)
	}
	applyThreadFlags(thread, stored)
	if err := retry.Do(ctx, u.opts.Retry, func() error { return u.threads.Save(thread) }); err != nil {
		return true, fmt.Errorf("failed to update thread %s: %w", thread.ID, err)
	}
	return true, nil
}

func failAll(group []maildomain.Message) []emailOutcome {
	return make([]emailOutcome, len(group))
}

func appendUnique(list []string, ids ...string) []string {
	for _, id := range ids {
		if id == "" {
			continue
		}
		found := false
		for _, existing := range list {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			list = append(list, id)
		}
	}
	return list
}

// upsertEmail persists one message and returns the ids of its participants.
func (u *upserter) upsertEmail(ctx context.Context, mailbox Mailbox, m maildomain.Message) (emailOutcome, []string, error) {
	addrIDs := map[string]string{}
	resolve := func(list ...maildomain.Address) ([]string, error) {
		ids := make([]string, 0, len(list))
		for _, a := range list {
			key := strings.ToLower(strings.TrimSpace(a.Address))
			if key == "" {
				continue
			}
			if id, ok := addrIDs[key]; ok {
				ids = append(ids, id)
				continue
			}
			var row *maildomain.EmailAddress
			err := retry.Do(ctx, u.opts.Retry, func() error {
				var err error
				row, err = u.addresses.Upsert(mailbox.AccountID, a)
				return err
			})
			if err != nil {
				return nil, fmt.Errorf("failed to upsert address %s: %w", key, err)
			}
			addrIDs[key] = row.ID
			ids = append(ids, row.ID)
		}
		return ids, nil
	}

	fromIDs, err := resolve(m.From)
	if err != nil {
		return emailOutcome{}, nil, err
	}
	toIDs, err := resolve(m.To...)
	if err != nil {
		return emailOutcome{}, nil, err
	}
	ccIDs, err := resolve(m.Cc...)
	if err != nil {
		return emailOutcome{}, nil, err
	}
	bccIDs, err := resolve(m.Bcc...)
	if err != nil {
		return emailOutcome{}, nil, err
	}
	replyToIDs, err := resolve(m.ReplyTo...)
	if err != nil {
		return emailOutcome{}, nil, err
	}
	participants := appendUnique(nil, fromIDs...)
	participants = appendUnique(participants, toIDs...)
	participants = appendUnique(participants, ccIDs...)
	participants = appendUnique(participants, bccIDs...)
	participants = appendUnique(participants, replyToIDs...)

	var existing *maildomain.Email
	err = retry.Do(ctx, u.opts.Retry, func() error {
		var err error
		existing, err = u.emails.FindByID(m.ID)
		return err
	})
	if err != nil {
		return emailOutcome{}, participants, fmt.Errorf("failed to load email: %w", err)
	}

	email := &maildomain.Email{
		ID:                 m.ID,
		ThreadID:           m.ThreadID,
		CreatedTime:        m.CreatedTime,
		LastModifiedTime:   m.LastModifiedTime,
		SentAt:             m.SentAt,
		ReceivedAt:         m.ReceivedAt,
		InternetMessageID:  m.InternetMessageID,
		Subject:            m.Subject,
		SysLabels:          dbtypes.StringArray(m.SysLabels),
		Keywords:           dbtypes.StringArray(m.Keywords),
		SysClassifications: dbtypes.StringArray(m.SysClassifications),
		Sensitivity:        m.Sensitivity,
		ToIDs:              dbtypes.StringArray(toIDs),
		CcIDs:              dbtypes.StringArray(ccIDs),
		BccIDs:             dbtypes.StringArray(bccIDs),
		ReplyToIDs:         dbtypes.StringArray(replyToIDs),
		HasAttachments:     m.HasAttachments || len(m.Attachments) > 0,
		Body:               m.Body,
		BodySnippet:        m.BodySnippet,
		InReplyTo:          m.InReplyTo,
		References:         m.References,
		ThreadIndex:        m.ThreadIndex,
		FolderID:           m.FolderID,
		EmailLabel:         EmailLabel(m.SysLabels),
	}
	if len(fromIDs) > 0 {
		email.FromID = fromIDs[0]
	}
	if existing != nil {
		email.CreatedAt = existing.CreatedAt
		email.Priority = existing.Priority
		email.AutoReplyDraft = existing.AutoReplyDraft
	}

	isInbox := email.EmailLabel == maildomain.LabelInbox
	newlyInbox := isInbox && (existing == nil || existing.EmailLabel != maildomain.LabelInbox)
	info := ai.MessageInfo{
		Subject:         m.Subject,
		From:            formatAddress(m.From),
		SentAt:          m.SentAt.Format(time.RFC1123),
		Body:            htmltext.Render(m.BodyOrSnippet()),
		SysLabels:       m.SysLabels,
		Classifications: m.SysClassifications,
	}
	if newlyInbox {
		email.Priority = u.priority(ctx, m, info)
		if email.AutoReplyDraft == nil {
			email.AutoReplyDraft = u.autoReply(ctx, mailbox, m, info)
		}
	}

	if existing != nil && len(existing.Embeddings) > 0 && existing.Subject == email.Subject && existing.Body == email.Body {
		email.Embeddings = existing.Embeddings
	} else {
		email.Embeddings = u.embed(ctx, m, info.Body)
	}

	created, err := u.persistEmail(ctx, email, existing == nil)
	if err != nil {
		return emailOutcome{}, participants, err
	}

	for _, a := range m.Attachments {
		if a.ID == "" {
			continue
		}
		row := &maildomain.EmailAttachment{
			ID:              a.ID,
			EmailID:         m.ID,
			Name:            a.Name,
			MimeType:        a.MimeType,
			Size:            a.Size,
			Inline:          a.Inline,
			ContentID:       a.ContentID,
			ContentLocation: a.ContentLocation,
		}
		if a.Content != "" {
			content := a.Content
			row.Content = &content
		}
		if err := retry.Do(ctx, u.opts.Retry, func() error { return u.attachments.Upsert(row) }); err != nil {
			log.Printf("[Upsert] Failed to upsert attachment %s of email %s: %v", a.ID, m.ID, err)
		}
	}

	outcome := emailOutcome{email: email, created: created}
	if len(email.Embeddings) > 0 {
		outcome.doc = &maildomain.IndexDocument{
			ID:         email.ID,
			Source:     searchdomain.SourceEmail,
			ThreadID:   email.ThreadID,
			AccountID:  mailbox.AccountID,
			Subject:    email.Subject,
			From:       info.From,
			Body:       info.Body,
			SentAt:     email.SentAt,
			Embeddings: email.Embeddings,
		}
	}
	return outcome, participants, nil
}

// persistEmail creates the row, or updates it when it exists or a concurrent writer created it first.
// After a lost create race a failed update is accepted only if the row read back already
// carries this message's content.
func (u *upserter) persistEmail(ctx context.Context, email *maildomain.Email, isNew bool) (bool, error) {
	raced := false
	if isNew {
		err := retry.Do(ctx, u.opts.Retry, func() error { return u.emails.Create(email) })
		if err == nil {
			return true, nil
		}
		if !retry.IsDuplicateKey(err) {
			return false, fmt.Errorf("failed to create email: %w", err)
		}
		log.Printf("[Upsert] Email %s was created concurrently, updating instead", email.ID)
		raced = true
	}

	updateErr := retry.Do(ctx, u.opts.Retry, func() error { return u.emails.Update(email) })
	if updateErr == nil {
		return false, nil
	}
	if !raced {
		return false, fmt.Errorf("failed to update email: %w", updateErr)
	}

	stored, err := u.emails.FindByID(email.ID)
	if err == nil && sameContent(stored, email) {
		log.Printf("[Upsert] Update of email %s failed but the concurrent writer stored the same content: %v", email.ID, updateErr)
		return false, nil
	}
	return false, fmt.Errorf("failed to update email: %w", updateErr)
}

// sameContent compares the fields a sync can change.
func sameContent(stored, want *maildomain.Email) bool {
	if stored == nil {
		return false
	}
	if stored.Subject != want.Subject || stored.Body != want.Body || stored.EmailLabel != want.EmailLabel {
		return false
	}
	if len(stored.SysLabels) != len(want.SysLabels) {
		return false
	}
	for i := range want.SysLabels {
		if stored.SysLabels[i] != want.SysLabels[i] {
			return false
		}
	}
	return true
}

func (u *upserter) priority(ctx context.Context, m maildomain.Message, info ai.MessageInfo) string {
	if hasLabel(m.SysLabels, "important") {
		return ai.PriorityHigh
	}
	if u.assistant == nil {
		return ai.PriorityMedium
	}
	actx, cancel := context.WithTimeout(ctx, u.opts.AITimeout)
	defer cancel()
	p, err := u.assistant.ClassifyPriority(actx, info)
	if err != nil {
		log.Printf("[Upsert] Priority classification failed for %s, using medium: %v", m.ID, err)
		return ai.PriorityMedium
	}
	return p
}

func (u *upserter) autoReply(ctx context.Context, mailbox Mailbox, m maildomain.Message, info ai.MessageInfo) *string {
	if u.assistant == nil {
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, u.opts.AITimeout)
	defer cancel()

	ok, err := u.assistant.ShouldReply(actx, info)
	if err != nil {
		log.Printf("[Upsert] Reply eligibility check failed for %s: %v", m.ID, err)
		return nil
	}
	if !ok {
		return nil
	}

	rc := ai.ReplyContext{
		Current:     ai.ContextMessage{Subject: info.Subject, From: info.From, SentAt: info.SentAt, Body: info.Body},
		AccountName: mailbox.Name,
		AccountAddr: mailbox.EmailAddress,
	}
	rc.Thread = u.threadContext(m)

	draft, err := u.assistant.GenerateReply(actx, rc)
	if err != nil {
		log.Printf("[Upsert] Reply generation failed for %s: %v", m.ID, err)
		return nil
	}
	draft = strings.TrimSpace(draft)
	if draft == "" {
		return nil
	}
	return &draft
}

// threadContext lists the stored emails of the thread, oldest first, without m itself.
func (u *upserter) threadContext(m maildomain.Message) []ai.ContextMessage {
	stored, err := u.emails.FindByThreadID(m.ThreadID)
	if err != nil {
		log.Printf("[Upsert] Could not load thread %s for reply context: %v", m.ThreadID, err)
		return nil
	}

	var fromIDs []string
	for _, e := range stored {
		if e.FromID != "" {
			fromIDs = append(fromIDs, e.FromID)
		}
	}
	senders := map[string]string{}
	if rows, err := u.addresses.FindByIDs(fromIDs); err == nil {
		for _, r := range rows {
			senders[r.ID] = formatAddress(maildomain.Address{Name: r.Name, Address: r.Address})
		}
	}

	out := make([]ai.ContextMessage, 0, len(stored))
	for _, e := range stored {
		if e.ID == m.ID {
			continue
		}
		body := e.Body
		if body == "" {
			body = e.BodySnippet
		}
		out = append(out, ai.ContextMessage{
			Subject: e.Subject,
			From:    senders[e.FromID],
			SentAt:  e.SentAt.Format(time.RFC1123),
			Body:    htmltext.Render(body),
		})
	}
	return out
}

func (u *upserter) embed(ctx context.Context, m maildomain.Message, body string) dbtypes.Vector {
	if u.embedder == nil {
		return nil
	}
	text := fmt.Sprintf("Subject: %s\nFrom: %s\nBody: %s", m.Subject, formatAddress(m.From), body)
	vec, err := u.embedder.Embed(ctx, text)
	if err != nil {
		log.Printf("[Upsert] Embedding failed for %s, storing without vector: %v", m.ID, err)
		return nil
	}
	return dbtypes.Vector(vec)
}

func formatAddress(a maildomain.Address) string {
	if a.Name != "" && a.Address != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Address)
	}
	if a.Address != "" {
		return a.Address
	}
	return a.Raw
}
