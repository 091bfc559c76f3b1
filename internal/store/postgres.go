package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cadence-import/internal/db"
	"github.com/sells-group/cadence-import/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id             BIGSERIAL PRIMARY KEY,
	company_id     BIGINT NOT NULL,
	sd_id          BIGINT NOT NULL DEFAULT 0,
	integration_id TEXT,
	first_name     TEXT NOT NULL DEFAULT '',
	last_name      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_users_company_integration ON users(company_id, integration_id);

CREATE TABLE IF NOT EXISTS cadences (
	id         BIGSERIAL PRIMARY KEY,
	company_id BIGINT NOT NULL,
	user_id    BIGINT NOT NULL,
	sd_id      BIGINT NOT NULL DEFAULT 0,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT 'personal',
	status     TEXT NOT NULL DEFAULT 'not_started'
);

CREATE TABLE IF NOT EXISTS field_maps (
	company_id       BIGINT NOT NULL,
	integration_type TEXT NOT NULL,
	mapping          JSONB NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (company_id, integration_type)
);

CREATE TABLE IF NOT EXISTS accounts (
	id               BIGSERIAL PRIMARY KEY,
	company_id       BIGINT NOT NULL,
	user_id          BIGINT NOT NULL,
	integration_id   TEXT,
	integration_type TEXT NOT NULL,
	name             TEXT NOT NULL,
	size             TEXT NOT NULL DEFAULT '',
	country          TEXT NOT NULL DEFAULT '',
	zipcode          TEXT NOT NULL DEFAULT '',
	phone_number     TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, integration_type, integration_id)
);

CREATE TABLE IF NOT EXISTS leads (
	id               BIGSERIAL PRIMARY KEY,
	company_id       BIGINT NOT NULL,
	user_id          BIGINT NOT NULL,
	account_id       BIGINT REFERENCES accounts(id),
	integration_id   TEXT NOT NULL,
	integration_type TEXT NOT NULL,
	first_name       TEXT NOT NULL,
	last_name        TEXT NOT NULL DEFAULT '',
	job_position     TEXT NOT NULL DEFAULT '',
	linkedin_url     TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, integration_id, integration_type)
);

CREATE TABLE IF NOT EXISTS lead_phone_numbers (
	id           BIGSERIAL PRIMARY KEY,
	lead_id      BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type         TEXT NOT NULL,
	phone_number TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_emails (
	id      BIGSERIAL PRIMARY KEY,
	lead_id BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	type    TEXT NOT NULL,
	email   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS lead_to_cadence (
	id                 BIGSERIAL PRIMARY KEY,
	lead_id            BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
	cadence_id         BIGINT NOT NULL REFERENCES cadences(id) ON DELETE CASCADE,
	status             TEXT NOT NULL DEFAULT 'active',
	lead_cadence_order INTEGER NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (lead_id, cadence_id)
);

CREATE INDEX IF NOT EXISTS idx_lead_phone_numbers_lead ON lead_phone_numbers(lead_id);
CREATE INDEX IF NOT EXISTS idx_lead_emails_lead ON lead_emails(lead_id);
CREATE INDEX IF NOT EXISTS idx_lead_to_cadence_cadence_status ON lead_to_cadence(cadence_id, status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// fieldMapDoc is the JSON shape persisted in field_maps.mapping.
type fieldMapDoc struct {
	Scalars map[model.Attribute]string `json:"scalars"`
	Phones  []model.Slot               `json:"phones,omitempty"`
	Emails  []model.Slot               `json:"emails,omitempty"`
}

func (s *PostgresStore) GetFieldMap(ctx context.Context, companyID int64, integrationType model.IntegrationType) (*model.FieldMap, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT mapping FROM field_maps WHERE company_id = $1 AND integration_type = $2`,
		companyID, string(integrationType),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get field map %d/%s", companyID, integrationType)
	}
	return decodeFieldMap(companyID, integrationType, raw)
}

func (s *PostgresStore) SaveFieldMap(ctx context.Context, fm *model.FieldMap) error {
	raw, err := encodeFieldMap(fm)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO field_maps (company_id, integration_type, mapping, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (company_id, integration_type) DO UPDATE SET
			mapping = EXCLUDED.mapping,
			updated_at = now()`,
		fm.CompanyID, string(fm.IntegrationType), raw,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save field map %d/%s", fm.CompanyID, fm.IntegrationType)
	}
	return nil
}

func (s *PostgresStore) GetCadence(ctx context.Context, cadenceID int64) (*model.Cadence, error) {
	c := &model.Cadence{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, user_id, sd_id, name, type, status FROM cadences WHERE id = $1`,
		cadenceID,
	).Scan(&c.ID, &c.CompanyID, &c.UserID, &c.SdID, &c.Name, &c.Type, &c.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get cadence %d", cadenceID)
	}
	return c, nil
}

func (s *PostgresStore) GetUserByIntegrationID(ctx context.Context, companyID int64, integrationID string) (*model.User, error) {
	u := &model.User{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, sd_id, integration_id, first_name, last_name
		FROM users WHERE company_id = $1 AND integration_id = $2 LIMIT 1`,
		companyID, integrationID,
	).Scan(&u.ID, &u.CompanyID, &u.SdID, &u.IntegrationID, &u.FirstName, &u.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get user by integration id %s", integrationID)
	}
	return u, nil
}

func (s *PostgresStore) FindAccount(ctx context.Context, companyID int64, integrationType model.IntegrationType, integrationID string) (*model.Account, error) {
	a := &model.Account{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, user_id, integration_id, integration_type, name,
			size, country, zipcode, phone_number, url, created_at
		FROM accounts
		WHERE company_id = $1 AND integration_type = $2 AND integration_id = $3`,
		companyID, string(integrationType), integrationID,
	).Scan(&a.ID, &a.CompanyID, &a.UserID, &a.IntegrationID, &a.IntegrationType, &a.Name,
		&a.Size, &a.Country, &a.Zipcode, &a.PhoneNumber, &a.URL, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find account %s", integrationID)
	}
	return a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO accounts (
			company_id, user_id, integration_id, integration_type, name,
			size, country, zipcode, phone_number, url
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		a.CompanyID, a.UserID, nilIfEmpty(a.IntegrationID), string(a.IntegrationType), a.Name,
		a.Size, a.Country, a.Zipcode, a.PhoneNumber, a.URL,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrAlreadyPresent, "postgres: create account %s", a.IntegrationID)
		}
		return eris.Wrap(err, "postgres: create account")
	}
	return nil
}

func (s *PostgresStore) FindLead(ctx context.Context, companyID int64, integrationID string, integrationType model.IntegrationType) (*model.Lead, error) {
	l := &model.Lead{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, company_id, user_id, account_id, integration_id, integration_type,
			first_name, last_name, job_position, linkedin_url, url, created_at
		FROM leads
		WHERE company_id = $1 AND integration_id = $2 AND integration_type = $3`,
		companyID, integrationID, string(integrationType),
	).Scan(&l.ID, &l.CompanyID, &l.UserID, &l.AccountID, &l.IntegrationID, &l.IntegrationType,
		&l.FirstName, &l.LastName, &l.JobPosition, &l.LinkedinURL, &l.URL, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find lead %s", integrationID)
	}
	return l, nil
}

// CreateLead inserts the lead with its phone numbers and emails in one
// transaction.
func (s *PostgresStore) CreateLead(ctx context.Context, l *model.Lead) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO leads (
				company_id, user_id, account_id, integration_id, integration_type,
				first_name, last_name, job_position, linkedin_url, url
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at`,
			l.CompanyID, l.UserID, l.AccountID, l.IntegrationID, string(l.IntegrationType),
			l.FirstName, l.LastName, l.JobPosition, l.LinkedinURL, l.URL,
		).Scan(&l.ID, &l.CreatedAt)
		if err != nil {
			return err
		}

		for _, p := range l.Phones {
			if _, err := tx.Exec(ctx,
				`INSERT INTO lead_phone_numbers (lead_id, type, phone_number) VALUES ($1, $2, $3)`,
				l.ID, p.Type, p.Value,
			); err != nil {
				return eris.Wrap(err, "insert phone number")
			}
		}
		for _, e := range l.Emails {
			if _, err := tx.Exec(ctx,
				`INSERT INTO lead_emails (lead_id, type, email) VALUES ($1, $2, $3)`,
				l.ID, e.Type, e.Value,
			); err != nil {
				return eris.Wrap(err, "insert email")
			}
		}
		return nil
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return eris.Wrapf(ErrAlreadyPresent, "postgres: create lead %s", l.IntegrationID)
		}
		return eris.Wrapf(err, "postgres: create lead %s", l.IntegrationID)
	}
	return nil
}

func (s *PostgresStore) UpdateLeadOwner(ctx context.Context, leadID, userID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE leads SET user_id = $1 WHERE id = $2`, userID, leadID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead owner %d", leadID)
	}
	return nil
}

func (s *PostgresStore) GetLink(ctx context.Context, leadID, cadenceID int64) (*model.Link, error) {
	l := &model.Link{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, lead_id, cadence_id, status, lead_cadence_order, created_at
		FROM lead_to_cadence WHERE lead_id = $1 AND cadence_id = $2`,
		leadID, cadenceID,
	).Scan(&l.ID, &l.LeadID, &l.CadenceID, &l.Status, &l.Order, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get link %d/%d", leadID, cadenceID)
	}
	return l, nil
}

// CreateLink inserts a link. An existing (lead, cadence) pair yields
// ErrAlreadyPresent and leaves the existing row untouched.
func (s *PostgresStore) CreateLink(ctx context.Context, l *model.Link) error {
	if l.Status == "" {
		l.Status = model.LinkActive
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO lead_to_cadence (lead_id, cadence_id, status, lead_cadence_order)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lead_id, cadence_id) DO NOTHING
		RETURNING id, created_at`,
		l.LeadID, l.CadenceID, string(l.Status), l.Order,
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrapf(ErrAlreadyPresent, "postgres: create link %d/%d", l.LeadID, l.CadenceID)
		}
		return eris.Wrapf(err, "postgres: create link %d/%d", l.LeadID, l.CadenceID)
	}
	return nil
}

func (s *PostgresStore) StopOtherLinks(ctx context.Context, leadID, keepCadenceID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lead_to_cadence SET status = $1
		WHERE lead_id = $2 AND cadence_id <> $3 AND status = $4`,
		string(model.LinkStopped), leadID, keepCadenceID, string(model.LinkActive),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: stop other links for lead %d", leadID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) MaxLinkOrder(ctx context.Context, cadenceID int64) (int, error) {
	var maxOrder int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(lead_cadence_order), 0) FROM lead_to_cadence WHERE cadence_id = $1 AND status = $2`,
		cadenceID, string(model.LinkActive),
	).Scan(&maxOrder)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: max link order %d", cadenceID)
	}
	return maxOrder, nil
}

func (s *PostgresStore) ActiveLinks(ctx context.Context, cadenceID int64) ([]model.Link, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lead_id, cadence_id, status, lead_cadence_order, created_at
		FROM lead_to_cadence
		WHERE cadence_id = $1 AND status = $2
		ORDER BY created_at, lead_id`,
		cadenceID, string(model.LinkActive),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active links %d", cadenceID)
	}
	defer rows.Close()

	var links []model.Link
	for rows.Next() {
		var l model.Link
		if err := rows.Scan(&l.ID, &l.LeadID, &l.CadenceID, &l.Status, &l.Order, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link")
		}
		links = append(links, l)
	}
	return links, eris.Wrap(rows.Err(), "postgres: iterate links")
}

func (s *PostgresStore) SetLinkOrders(ctx context.Context, orders []model.LinkOrder) error {
	if len(orders) == 0 {
		return nil
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, o := range orders {
			if _, err := tx.Exec(ctx,
				`UPDATE lead_to_cadence SET lead_cadence_order = $1 WHERE id = $2`,
				o.Order, o.LinkID,
			); err != nil {
				return eris.Wrapf(err, "update link %d", o.LinkID)
			}
		}
		return nil
	})
	return eris.Wrap(err, "postgres: set link orders")
}

func encodeFieldMap(fm *model.FieldMap) ([]byte, error) {
	raw, err := json.Marshal(fieldMapDoc{Scalars: fm.Scalars, Phones: fm.Phones, Emails: fm.Emails})
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal field map")
	}
	return raw, nil
}

func decodeFieldMap(companyID int64, integrationType model.IntegrationType, raw []byte) (*model.FieldMap, error) {
	var doc fieldMapDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal field map")
	}
	return &model.FieldMap{
		CompanyID:       companyID,
		IntegrationType: integrationType,
		Scalars:         doc.Scalars,
		Phones:          doc.Phones,
		Emails:          doc.Emails,
	}, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
