package repository

import (
	"fmt"
	"log"
	"sort"
	"strings"

	integrationdomain "levramail-backend/internal/integration/domain"
	maildomain "levramail-backend/internal/mail/domain"
	searchdomain "levramail-backend/internal/search/domain"
	"levramail-backend/pkg/dbtypes"

	"gorm.io/gorm"
)

// VectorRepository reads and writes embeddings of the three document families.
type VectorRepository interface {
	// Similar returns up to 2n candidates of source nearest to vec, most similar first.
	Similar(source, accountID string, vec []float32, n int) ([]searchdomain.Candidate, error)
	Emails(ids []string) ([]maildomain.Email, error)
	Files(ids []string) ([]integrationdomain.ChatAttachment, error)
	Items(ids []string) ([]integrationdomain.SyncedItem, error)

	// KeywordEmails matches term against subject and body, newest first.
	KeywordEmails(accountID, term string, limit int) ([]maildomain.Email, error)
	KeywordFiles(accountID, term string, limit int) ([]integrationdomain.ChatAttachment, error)
	KeywordItems(accountID, term string, limit int) ([]integrationdomain.SyncedItem, error)
	SenderAddresses(ids []string) (map[string]string, error)

	SetEmbedding(source, id string, vec []float32) error
	Count(accountID string) (*searchdomain.DocumentCount, error)
}

// family describes how one document family is scoped to an account.
type family struct {
	table  string
	alias  string
	column string
	thread string
	joins  string
	scope  string
	// args builds the scope arguments from the account id.
	args func(accountID string) []interface{}
}

var families = map[string]family{
	searchdomain.SourceEmail: {
		table:  "emails",
		alias:  "e",
		column: "embeddings",
		thread: "e.thread_id",
		joins:  "JOIN threads t ON t.id = e.thread_id",
		scope:  "t.account_id = ?",
		args:   func(id string) []interface{} { return []interface{}{id} },
	},
	searchdomain.SourceFile: {
		table:  "chat_attachments",
		alias:  "c",
		column: "text_embeddings",
		thread: "''",
		scope:  "c.account_id = ?",
		args:   func(id string) []interface{} { return []interface{}{id} },
	},
	searchdomain.SourceIntegration: {
		table:  "synced_items",
		alias:  "s",
		column: "embeddings",
		thread: "''",
		joins:  "JOIN app_connections a ON a.id = s.connection_id",
		scope:  "(a.account_id = ? OR a.user_id = (SELECT user_id FROM accounts WHERE id = ?))",
		args:   func(id string) []interface{} { return []interface{}{id, id} },
	},
}

type vectorRepository struct {
	db *gorm.DB
}

func NewVectorRepository(db *gorm.DB) VectorRepository {
	return &vectorRepository{db: db}
}

func (r *vectorRepository) Similar(source, accountID string, vec []float32, n int) ([]searchdomain.Candidate, error) {
	f, ok := families[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}
	if len(vec) == 0 || n <= 0 {
		return nil, nil
	}

	out, err := r.similarSQL(f, accountID, vec, 2*n)
	if err == nil {
		return out, nil
	}
	log.Printf("[PgVector] %s similarity query failed, computing in process: %v", f.table, err)
	return r.similarInProcess(f, accountID, vec, 2*n)
}

func (r *vectorRepository) similarSQL(f family, accountID string, vec []float32, limit int) ([]searchdomain.Candidate, error) {
	literal := dbtypes.Vector(vec).Literal()
	col := f.alias + "." + f.column
	query := fmt.Sprintf(`SELECT %[1]s.id AS id, %[2]s AS thread_id, 1 - (%[3]s::vector <=> ?::vector) AS similarity
FROM %[4]s %[1]s %[5]s
WHERE %[6]s AND %[3]s IS NOT NULL AND array_length(%[3]s, 1) = ?
ORDER BY %[3]s::vector <=> ?::vector
LIMIT ?`, f.alias, f.thread, col, f.table, f.joins, f.scope)

	args := []interface{}{literal}
	args = append(args, f.args(accountID)...)
	args = append(args, len(vec), literal, limit)

	var rows []searchdomain.Candidate
	if err := r.db.Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

type embeddedRow struct {
	ID         string
	ThreadID   string
	Embeddings dbtypes.Vector
}

func (r *vectorRepository) similarInProcess(f family, accountID string, vec []float32, limit int) ([]searchdomain.Candidate, error) {
	col := f.alias + "." + f.column
	query := fmt.Sprintf(`SELECT %[1]s.id AS id, %[2]s AS thread_id, %[3]s AS embeddings
FROM %[4]s %[1]s %[5]s
WHERE %[6]s AND %[3]s IS NOT NULL`, f.alias, f.thread, col, f.table, f.joins, f.scope)

	var rows []embeddedRow
	if err := r.db.Raw(query, f.args(accountID)...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load %s embeddings: %w", f.table, err)
	}

	out := make([]searchdomain.Candidate, 0, len(rows))
	for _, row := range rows {
		if len(row.Embeddings) != len(vec) {
			continue
		}
		out = append(out, searchdomain.Candidate{ID: row.ID, ThreadID: row.ThreadID, Similarity: dbtypes.Cosine(vec, row.Embeddings)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *vectorRepository) Emails(ids []string) ([]maildomain.Email, error) {
	var rows []maildomain.Email
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

func (r *vectorRepository) Files(ids []string) ([]integrationdomain.ChatAttachment, error) {
	var rows []integrationdomain.ChatAttachment
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

func (r *vectorRepository) Items(ids []string) ([]integrationdomain.SyncedItem, error) {
	var rows []integrationdomain.SyncedItem
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

func likePattern(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	term = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(term)
	return "%" + term + "%"
}

func (r *vectorRepository) KeywordEmails(accountID, term string, limit int) ([]maildomain.Email, error) {
	pattern := likePattern(term)
	var rows []maildomain.Email
	err := r.db.Model(&maildomain.Email{}).
		Select("emails.*").
		Joins("JOIN threads ON threads.id = emails.thread_id").
		Where("threads.account_id = ?", accountID).
		Where(`LOWER(emails.subject) LIKE ? ESCAPE '\' OR LOWER(emails.body) LIKE ? ESCAPE '\' OR LOWER(emails.body_snippet) LIKE ? ESCAPE '\'`, pattern, pattern, pattern).
		Order("emails.sent_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *vectorRepository) KeywordFiles(accountID, term string, limit int) ([]integrationdomain.ChatAttachment, error) {
	pattern := likePattern(term)
	var rows []integrationdomain.ChatAttachment
	err := r.db.Where("account_id = ?", accountID).
		Where(`LOWER(file_name) LIKE ? ESCAPE '\' OR LOWER(text) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *vectorRepository) KeywordItems(accountID, term string, limit int) ([]integrationdomain.SyncedItem, error) {
	pattern := likePattern(term)
	var rows []integrationdomain.SyncedItem
	err := r.db.Model(&integrationdomain.SyncedItem{}).
		Select("synced_items.*").
		Joins("JOIN app_connections ON app_connections.id = synced_items.connection_id").
		Where("app_connections.account_id = ? OR app_connections.user_id = (SELECT user_id FROM accounts WHERE id = ?)", accountID, accountID).
		Where(`LOWER(synced_items.title) LIKE ? ESCAPE '\' OR LOWER(synced_items.content) LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("synced_items.modified_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SenderAddresses maps address ids to their display form.
func (r *vectorRepository) SenderAddresses(ids []string) (map[string]string, error) {
	out := map[string]string{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []maildomain.EmailAddress
	if err := r.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, a := range rows {
		if a.Name != "" {
			out[a.ID] = a.Name + " " + a.Address
		} else {
			out[a.ID] = a.Address
		}
	}
	return out, nil
}

func (r *vectorRepository) SetEmbedding(source, id string, vec []float32) error {
	f, ok := families[source]
	if !ok {
		return fmt.Errorf("unknown source %q", source)
	}
	res := r.db.Table(f.table).Where("id = ?", id).Update(f.column, dbtypes.Vector(vec))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s not found", f.table, id)
	}
	return nil
}

func (r *vectorRepository) Count(accountID string) (*searchdomain.DocumentCount, error) {
	out := &searchdomain.DocumentCount{}
	for source, dst := range map[string]*int64{
		searchdomain.SourceEmail:       &out.Emails,
		searchdomain.SourceFile:        &out.Files,
		searchdomain.SourceIntegration: &out.Integrations,
	} {
		f := families[source]
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s %s WHERE %s AND %s.%s IS NOT NULL",
			f.table, f.alias, f.joins, f.scope, f.alias, f.column)
		if err := r.db.Raw(query, f.args(accountID)...).Scan(dst).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", f.table, err)
		}
	}
	out.Total = out.Emails + out.Files + out.Integrations
	return out, nil
}
