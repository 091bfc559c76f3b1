package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cadence-import/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id     INTEGER NOT NULL,
	sd_id          INTEGER NOT NULL DEFAULT 0,
	integration_id TEXT,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS cadences (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL,
	user_id    INTEGER NOT NULL,
	sd_id      INTEGER NOT NULL DEFAULT 0,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'personal',
	status     TEXT NOT NULL DEFAULT 'not_started'
);

CREATE TABLE IF NOT EXISTS field_maps (
	company_id       INTEGER NOT NULL,
	integration_type TEXT NOT NULL,
	mapping          TEXT NOT NULL,
	updated_at       DATETIME NOT NULL,
	PRIMARY KEY (company_id, integration_type)
);

CREATE TABLE IF NOT EXISTS accounts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id       INTEGER NOT NULL,
	user_id          INTEGER NOT NULL,
	integration_id   TEXT,
	integration_type TEXT NOT NULL,
	name             TEXT NOT NULL,
	size             TEXT NOT NULL DEFAULT '',
	country          TEXT NOT NULL DEFAULT '',
	zipcode          TEXT NOT NULL DEFAULT '',
	phone_number     TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	UNIQUE (company_id, integration_type, integration_id)
);

CREATE TABLE IF NOT EXISTS leads (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id       INTEGER NOT NULL,
	user_id          INTEGER NOT NULL,
	account_id       INTEGER REFERENCES accounts(id),
	integration_id   TEXT NOT NULL,
	integration_type TEXT NOT NULL,
	first_name       TEXT NOT NULL,
	last_name        TEXT NOT NULL DEFAULT '',
	job_position     TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL,
	UNIQUE (company_id, integration_id, integration_type)
);

CREATE TABLE IF NOT EXISTS lead_phone_numbers (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id      INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type         TEXT NOT NULL,
	phone_number TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_emails (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type    TEXT NOT NULL,
	email   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_to_cadence (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	lead_id            INTEGER NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	cadence_id         INTEGER NOT NULL REFERENCES cadences(id) ON DELETE CASCADE,
	status             TEXT NOT NULL DEFAULT 'active',
	lead_cadence_order INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL,
	UNIQUE (lead_id, cadence_id)
);

CREATE INDEX IF NOT EXISTS idx_users_company_integration ON users(company_id, integration_id);
CREATE INDEX IF NOT EXISTS idx_lead_to_cadence_cadence_status ON lead_to_cadence(cadence_id, status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetFieldMap(ctx context.Context, companyID int64, integrationType model.IntegrationType) (*model.FieldMap, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT mapping FROM field_maps WHERE company_id = ? AND integration_type = ?`,
		companyID, string(integrationType),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get field map %d/%s", companyID, integrationType)
	}
	return decodeFieldMap(companyID, integrationType, []byte(raw))
}

func (s *SQLiteStore) SaveFieldMap(ctx context.Context, fm *model.FieldMap) error {
	raw, err := encodeFieldMap(fm)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO field_maps (company_id, integration_type, mapping, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (company_id, integration_type) DO UPDATE SET
			mapping = excluded.mapping,
			updated_at = excluded.updated_at`,
		fm.CompanyID, string(fm.IntegrationType), string(raw), time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save field map %d/%s", fm.CompanyID, fm.IntegrationType)
	}
	return nil
}

func (s *SQLiteStore) GetCadence(ctx context.Context, cadenceID int64) (*model.Cadence, error) {
	c := &model.Cadence{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, user_id, sd_id, name, type, status FROM cadences WHERE id = ?`,
		cadenceID,
	).Scan(&c.ID, &c.CompanyID, &c.UserID, &c.SdID, &c.Name, &c.Type, &c.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get cadence %d", cadenceID)
	}
	return c, nil
}

func (s *SQLiteStore) GetUserByIntegrationID(ctx context.Context, companyID int64, integrationID string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, sd_id, integration_id, first_name, last_name
		FROM users WHERE company_id = ? AND integration_id = ? LIMIT 1`,
		companyID, integrationID,
	).Scan(&u.ID, &u.CompanyID, &u.SdID, &u.IntegrationID, &u.FirstName, &u.LastName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get user by integration id %s", integrationID)
	}
	return u, nil
}

func (s *SQLiteStore) FindAccount(ctx context.Context, companyID int64, integrationType model.IntegrationType, integrationID string) (*model.Account, error) {
	a := &model.Account{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, user_id, integration_id, integration_type, name,
			size, country, zipcode, phone_number, url, created_at
		FROM accounts
		WHERE company_id = ? AND integration_type = ? AND integration_id = ?`,
		companyID, string(integrationType), integrationID,
	).Scan(&a.ID, &a.CompanyID, &a.UserID, &a.IntegrationID, &a.IntegrationType, &a.Name,
		&a.Size, &a.Country, &a.Zipcode, &a.PhoneNumber, &a.URL, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find account %s", integrationID)
	}
	return a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a *model.Account) error {
	a.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (
			company_id, user_id, integration_id, integration_type, name,
			size, country, zipcode, phone_number, url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.CompanyID, a.UserID, nilIfEmpty(a.IntegrationID), string(a.IntegrationType), a.Name,
		a.Size, a.Country, a.Zipcode, a.PhoneNumber, a.URL, a.CreatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrAlreadyPresent, "sqlite: create account %s", a.IntegrationID)
		}
		return eris.Wrap(err, "sqlite: create account")
	}
	a.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: account id")
}

func (s *SQLiteStore) FindLead(ctx context.Context, companyID int64, integrationID string, integrationType model.IntegrationType) (*model.Lead, error) {
	l := &model.Lead{}
	var accountID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, user_id, account_id, integration_id, integration_type,
			first_name, last_name, job_position, linkedin_url, url, created_at
		FROM leads
		WHERE company_id = ? AND integration_id = ? AND integration_type = ?`,
		companyID, integrationID, string(integrationType),
	).Scan(&l.ID, &l.CompanyID, &l.UserID, &accountID, &l.IntegrationID, &l.IntegrationType,
		&l.FirstName, &l.LastName, &l.JobPosition, &l.LinkedinURL, &l.URL, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find lead %s", integrationID)
	}
	if accountID.Valid {
		l.AccountID = &accountID.Int64
	}
	return l, nil
}

func (s *SQLiteStore) CreateLead(ctx context.Context, l *model.Lead) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	l.CreatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO leads (
			company_id, user_id, account_id, integration_id, integration_type,
			first_name, last_name, job_position, linkedin_url, url, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.CompanyID, l.UserID, l.AccountID, l.IntegrationID, string(l.IntegrationType),
		l.FirstName, l.LastName, l.JobPosition, l.LinkedinURL, l.URL, l.CreatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrAlreadyPresent, "sqlite: create lead %s", l.IntegrationID)
		}
		return eris.Wrapf(err, "sqlite: create lead %s", l.IntegrationID)
	}
	if l.ID, err = res.LastInsertId(); err != nil {
		return eris.Wrap(err, "sqlite: lead id")
	}

	for _, p := range l.Phones {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lead_phone_numbers (lead_id, type, phone_number) VALUES (?, ?, ?)`,
			l.ID, p.Type, p.Value,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert phone number")
		}
	}
	for _, e := range l.Emails {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lead_emails (lead_id, type, email) VALUES (?, ?, ?)`,
			l.ID, e.Type, e.Value,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert email")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit lead")
}

func (s *SQLiteStore) UpdateLeadOwner(ctx context.Context, leadID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE leads SET user_id = ? WHERE id = ?`, userID, leadID)
	return eris.Wrapf(err, "sqlite: update lead owner %d", leadID)
}

func (s *SQLiteStore) GetLink(ctx context.Context, leadID, cadenceID int64) (*model.Link, error) {
	l := &model.Link{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, lead_id, cadence_id, status, lead_cadence_order, created_at
		FROM lead_to_cadence WHERE lead_id = ? AND cadence_id = ?`,
		leadID, cadenceID,
	).Scan(&l.ID, &l.LeadID, &l.CadenceID, &l.Status, &l.Order, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get link %d/%d", leadID, cadenceID)
	}
	return l, nil
}

func (s *SQLiteStore) CreateLink(ctx context.Context, l *model.Link) error {
	if l.Status == "" {
		l.Status = model.LinkActive
	}
	l.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO lead_to_cadence (lead_id, cadence_id, status, lead_cadence_order, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		l.LeadID, l.CadenceID, string(l.Status), l.Order, l.CreatedAt,
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrAlreadyPresent, "sqlite: create link %d/%d", l.LeadID, l.CadenceID)
		}
		return eris.Wrapf(err, "sqlite: create link %d/%d", l.LeadID, l.CadenceID)
	}
	l.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: link id")
}

func (s *SQLiteStore) StopOtherLinks(ctx context.Context, leadID, keepCadenceID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lead_to_cadence SET status = ?
		WHERE lead_id = ? AND cadence_id <> ? AND status = ?`,
		string(model.LinkStopped), leadID, keepCadenceID, string(model.LinkActive),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: stop other links for lead %d", leadID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) MaxLinkOrder(ctx context.Context, cadenceID int64) (int, error) {
	var maxOrder int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(lead_cadence_order), 0) FROM lead_to_cadence WHERE cadence_id = ? AND status = ?`,
		cadenceID, string(model.LinkActive),
	).Scan(&maxOrder)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: max link order %d", cadenceID)
	}
	return maxOrder, nil
}

func (s *SQLiteStore) ActiveLinks(ctx context.Context, cadenceID int64) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, lead_id, cadence_id, status, lead_cadence_order, created_at
		FROM lead_to_cadence
		WHERE cadence_id = ? AND status = ?
		ORDER BY created_at, lead_id`,
		cadenceID, string(model.LinkActive),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active links %d", cadenceID)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		if err := rows.Scan(&l.ID, &l.LeadID, &l.CadenceID, &l.Status, &l.Order, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link")
		}
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "sqlite: iterate links")
}

func (s *SQLiteStore) SetLinkOrders(ctx context.Context, orders []model.LinkOrder) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, o := range orders {
		if _, err := tx.ExecContext(ctx,
			`UPDATE lead_to_cadence SET lead_cadence_order = ? WHERE id = ?`,
			o.Order, o.LinkID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: update link %d", o.LinkID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit link orders")
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
