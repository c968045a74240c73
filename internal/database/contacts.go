package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"bitespeed/internal/models"
	"bitespeed/internal/store"
)

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

var _ store.ContactStore = (*ContactStore)(nil)

// ContactStore implements store.ContactStore on top of DB.
type ContactStore struct {
	db  *DB
	now func() time.Time
}

// NewContactStore creates a SQL-backed contact store.
func NewContactStore(db *DB) *ContactStore {
	return &ContactStore{db: db, now: time.Now}
}

func (s *ContactStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// RunInTx runs fn in a database transaction, committing on success.
func (s *ContactStore) RunInTx(ctx context.Context, fn func(tx store.ContactTx) error) error {
	sqlTx, err := s.db.Conn.BeginTx(ctx, s.db.dialect.txOptions)
	if err != nil {
		return classify(err, "begin transaction")
	}

	if err := fn(&contactTx{tx: sqlTx, dialect: s.db.dialect, now: s.now}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}
	return nil
}

type contactTx struct {
	tx      *sql.Tx
	dialect dialect
	now     func() time.Time
}

func (t *contactTx) LockKeys(ctx context.Context, keys ...string) error {
	if t.dialect.advisoryLock == "" {
		return nil
	}
	for _, key := range keys {
		if _, err := t.tx.ExecContext(ctx, t.dialect.advisoryLock, key); err != nil {
			return classify(err, "acquire advisory lock")
		}
	}
	return nil
}

// FindMatching finds contacts matching email OR phone number
func (t *contactTx) FindMatching(ctx context.Context, email, phone *string) ([]*models.Contact, error) {
	var (
		clauses []string
		args    []any
	)
	if email != nil {
		args = append(args, *email)
		clauses = append(clauses, "email = "+placeholders(len(args), 1))
	}
	if phone != nil {
		args = append(args, *phone)
		clauses = append(clauses, "phone_number = "+placeholders(len(args), 1))
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (` + strings.Join(clauses, " OR ") + `) AND deleted_at IS NULL
			  ORDER BY created_at, id`
	return t.queryContacts(ctx, query, args...)
}

// FindClusters finds every contact that is, or is linked to, one of rootIDs
func (t *contactTx) FindClusters(ctx context.Context, rootIDs []int64) ([]*models.Contact, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 2*len(rootIDs))
	for _, id := range rootIDs {
		args = append(args, id)
	}
	for _, id := range rootIDs {
		args = append(args, id)
	}

	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (id IN (` + placeholders(1, len(rootIDs)) + `) OR linked_id IN (` + placeholders(len(rootIDs)+1, len(rootIDs)) + `))
			  AND deleted_at IS NULL
			  ORDER BY created_at, id` + t.dialect.lockRows
	return t.queryContacts(ctx, query, args...)
}

// FindCluster gets the primary contact and all secondary contacts
func (t *contactTx) FindCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts
			  WHERE (id = $1 OR linked_id = $2) AND deleted_at IS NULL
			  ORDER BY created_at, id`
	return t.queryContacts(ctx, query, primaryID, primaryID)
}

// Create inserts a new contact
func (t *contactTx) Create(ctx context.Context, c *models.Contact) error {
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	now := t.now().UTC()
	var id int64
	err := t.tx.QueryRowContext(ctx, query, c.PhoneNumber, c.Email, c.LinkedID, string(c.LinkPrecedence), now, now).Scan(&id)
	if err != nil {
		return classify(err, "insert contact")
	}

	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// Demote updates a contact's link_precedence and linked_id
func (t *contactTx) Demote(ctx context.Context, id, primaryID int64) error {
	query := `UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3
			  WHERE id = $4 AND deleted_at IS NULL`
	_, err := t.tx.ExecContext(ctx, query, string(models.LinkPrecedenceSecondary), primaryID, t.now().UTC(), id)
	return classify(err, "demote contact")
}

// Relink moves all secondaries of fromID under toID
func (t *contactTx) Relink(ctx context.Context, fromID, toID int64) error {
	query := `UPDATE contacts SET linked_id = $1, updated_at = $2
			  WHERE linked_id = $3 AND deleted_at IS NULL`
	_, err := t.tx.ExecContext(ctx, query, toID, t.now().UTC(), fromID)
	return classify(err, "relink contacts")
}

// queryContacts executes a query and returns contacts
func (t *contactTx) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "query contacts")
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, classify(err, "scan contact")
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate contacts")
	}
	return contacts, nil
}

func scanContact(rows *sql.Rows) (*models.Contact, error) {
	c := &models.Contact{}
	var (
		phone, email sql.NullString
		linkedID     sql.NullInt64
		precedence   string
		deletedAt    sql.NullTime
	)

	err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}

	c.LinkPrecedence = models.LinkPrecedence(precedence)
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if email.Valid {
		c.Email = &email.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	return c, nil
}
