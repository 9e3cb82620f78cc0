package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	appLog "ttagenda/internal/log"
	"ttagenda/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS position_groups (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	name           TEXT NOT NULL UNIQUE,
	position_codes TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS templates (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	valid_from      TEXT NOT NULL,
	valid_to        TEXT NOT NULL,
	weekday         INTEGER NOT NULL CHECK (weekday BETWEEN 0 AND 6),
	start_minute    INTEGER NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT 1,
	activities_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_templates_window ON templates(valid_from, valid_to);

CREATE TABLE IF NOT EXISTS overrides (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	template_id     INTEGER NOT NULL REFERENCES templates(id) ON DELETE CASCADE,
	date            TEXT NOT NULL,
	cancelled       BOOLEAN NOT NULL DEFAULT 0,
	start_minute    INTEGER,
	activities_json TEXT,
	UNIQUE (template_id, date)
);
CREATE INDEX IF NOT EXISTS idx_overrides_date ON overrides(date);

CREATE TABLE IF NOT EXISTS adhoc_instances (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	date            TEXT NOT NULL,
	start_minute    INTEGER NOT NULL,
	activities_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_adhoc_date ON adhoc_instances(date);
`

// SQLite is a Store backed by a SQLite database file. Dates are stored as
// YYYY-MM-DD text so range filters compare lexically; activity lists are
// JSON documents.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

const templateColumns = `id, name, valid_from, valid_to, weekday, start_minute, is_active, activities_json`

func (s *SQLite) ListActiveTemplatesOverlapping(ctx context.Context, from, to model.Date) ([]model.Template, error) {
	return s.queryTemplates(ctx,
		`SELECT `+templateColumns+` FROM templates
		 WHERE is_active = 1 AND valid_from <= ? AND valid_to >= ?
		 ORDER BY id`,
		to.String(), from.String(),
	)
}

func (s *SQLite) ListTemplates(ctx context.Context) ([]model.Template, error) {
	return s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY id`)
}

func (s *SQLite) GetTemplate(ctx context.Context, id int64) (model.Template, error) {
	ts, err := s.queryTemplates(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	if err != nil {
		return model.Template{}, err
	}
	if len(ts) == 0 {
		return model.Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	return ts[0], nil
}

func (s *SQLite) CreateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	if err := t.Validate(); err != nil {
		return model.Template{}, err
	}
	acts, err := encodeActivities(t.Activities)
	if err != nil {
		return model.Template{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (name, valid_from, valid_to, weekday, start_minute, is_active, activities_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.ValidFrom.String(), t.ValidTo.String(), t.Weekday, int(t.StartTime), t.Active, acts,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return model.Template{}, fmt.Errorf("template id: %w", err)
	}
	return cloneTemplate(t), nil
}

func (s *SQLite) UpdateTemplate(ctx context.Context, t model.Template) (model.Template, error) {
	if err := t.Validate(); err != nil {
		return model.Template{}, err
	}
	acts, err := encodeActivities(t.Activities)
	if err != nil {
		return model.Template{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates
		 SET name = ?, valid_from = ?, valid_to = ?, weekday = ?, start_minute = ?, is_active = ?, activities_json = ?
		 WHERE id = ?`,
		t.Name, t.ValidFrom.String(), t.ValidTo.String(), t.Weekday, int(t.StartTime), t.Active, acts, t.ID,
	)
	if err != nil {
		return model.Template{}, fmt.Errorf("update template %d: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Template{}, fmt.Errorf("template %d: %w", t.ID, ErrNotFound)
	}
	return cloneTemplate(t), nil
}

func (s *SQLite) queryTemplates(ctx context.Context, query string, args ...any) ([]model.Template, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	out := make([]model.Template, 0)
	for rows.Next() {
		var (
			t           model.Template
			from, to    string
			startMinute int
			actsJSON    string
		)
		if err := rows.Scan(&t.ID, &t.Name, &from, &to, &t.Weekday, &startMinute, &t.Active, &actsJSON); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if t.ValidFrom, err = model.ParseDate(from); err != nil {
			skipRow("template", t.ID, "valid_from", err)
			continue
		}
		if t.ValidTo, err = model.ParseDate(to); err != nil {
			skipRow("template", t.ID, "valid_to", err)
			continue
		}
		t.StartTime = model.Clock(startMinute)
		if t.Activities, err = decodeActivities(actsJSON); err != nil {
			skipRow("template", t.ID, "activities", err)
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) ListOverrides(ctx context.Context, from, to model.Date) ([]model.Override, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_id, date, cancelled, start_minute, activities_json
		 FROM overrides WHERE date >= ? AND date <= ?
		 ORDER BY date, template_id`,
		from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query overrides: %w", err)
	}
	defer rows.Close()

	out := make([]model.Override, 0)
	for rows.Next() {
		var (
			o           model.Override
			date        string
			startMinute sql.NullInt64
			actsJSON    sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.TemplateID, &date, &o.Cancelled, &startMinute, &actsJSON); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		if o.Date, err = model.ParseDate(date); err != nil {
			skipRow("override", o.ID, "date", err)
			continue
		}
		if startMinute.Valid {
			st := model.Clock(startMinute.Int64)
			o.StartTime = &st
		}
		if actsJSON.Valid {
			if o.Activities, err = decodeActivities(actsJSON.String); err != nil {
				skipRow("override", o.ID, "activities", err)
				continue
			}
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertOverride stores o as the only override for its (template, date),
// replacing every field of an existing one.
func (s *SQLite) UpsertOverride(ctx context.Context, o model.Override) (model.Override, error) {
	if err := o.Validate(); err != nil {
		return model.Override{}, err
	}

	var start sql.NullInt64
	if o.StartTime != nil {
		start = sql.NullInt64{Int64: int64(*o.StartTime), Valid: true}
	}
	var acts sql.NullString
	if o.Activities != nil {
		enc, err := encodeActivities(o.Activities)
		if err != nil {
			return model.Override{}, err
		}
		acts = sql.NullString{String: enc, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Override{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM templates WHERE id = ?`, o.TemplateID).Scan(&exists); err != nil {
		return model.Override{}, fmt.Errorf("check template %d: %w", o.TemplateID, err)
	}
	if exists == 0 {
		return model.Override{}, fmt.Errorf("template %d: %w", o.TemplateID, ErrNotFound)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO overrides (template_id, date, cancelled, start_minute, activities_json)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (template_id, date) DO UPDATE SET
			cancelled = excluded.cancelled,
			start_minute = excluded.start_minute,
			activities_json = excluded.activities_json
		 RETURNING id`,
		o.TemplateID, o.Date.String(), o.Cancelled, start, acts,
	).Scan(&o.ID)
	if err != nil {
		return model.Override{}, fmt.Errorf("upsert override: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.Override{}, fmt.Errorf("commit: %w", err)
	}
	return cloneOverride(o), nil
}

func (s *SQLite) DeleteOverride(ctx context.Context, templateID int64, date model.Date) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM overrides WHERE template_id = ? AND date = ?`, templateID, date.String())
	if err != nil {
		return fmt.Errorf("delete override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("override %d/%s: %w", templateID, date, ErrNotFound)
	}
	return nil
}

func (s *SQLite) ListAdHocInstances(ctx context.Context, from, to model.Date) ([]model.AdHocInstance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, date, start_minute, activities_json
		 FROM adhoc_instances WHERE date >= ? AND date <= ?
		 ORDER BY id`,
		from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query ad-hoc instances: %w", err)
	}
	defer rows.Close()

	out := make([]model.AdHocInstance, 0)
	for rows.Next() {
		var (
			inst        model.AdHocInstance
			date        string
			startMinute int
			actsJSON    string
		)
		if err := rows.Scan(&inst.ID, &inst.Name, &date, &startMinute, &actsJSON); err != nil {
			return nil, fmt.Errorf("scan ad-hoc instance: %w", err)
		}
		if inst.Date, err = model.ParseDate(date); err != nil {
			skipRow("ad-hoc instance", inst.ID, "date", err)
			continue
		}
		inst.StartTime = model.Clock(startMinute)
		if inst.Activities, err = decodeActivities(actsJSON); err != nil {
			skipRow("ad-hoc instance", inst.ID, "activities", err)
			continue
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateAdHocInstance(ctx context.Context, inst model.AdHocInstance) (model.AdHocInstance, error) {
	if err := inst.Validate(); err != nil {
		return model.AdHocInstance{}, err
	}
	acts, err := encodeActivities(inst.Activities)
	if err != nil {
		return model.AdHocInstance{}, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO adhoc_instances (name, date, start_minute, activities_json) VALUES (?, ?, ?, ?)`,
		inst.Name, inst.Date.String(), int(inst.StartTime), acts,
	)
	if err != nil {
		return model.AdHocInstance{}, fmt.Errorf("insert ad-hoc instance: %w", err)
	}
	if inst.ID, err = res.LastInsertId(); err != nil {
		return model.AdHocInstance{}, fmt.Errorf("ad-hoc id: %w", err)
	}
	return cloneInstance(inst), nil
}

func (s *SQLite) ListPositionGroups(ctx context.Context) ([]model.PositionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, position_codes FROM position_groups ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query position groups: %w", err)
	}
	defer rows.Close()

	out := make([]model.PositionGroup, 0)
	for rows.Next() {
		var (
			g     model.PositionGroup
			codes string
		)
		if err := rows.Scan(&g.ID, &g.Name, &codes); err != nil {
			return nil, fmt.Errorf("scan position group: %w", err)
		}
		if err := json.Unmarshal([]byte(codes), &g.PositionCodes); err != nil {
			return nil, fmt.Errorf("position group %q codes: %w", g.Name, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLite) CreatePositionGroup(ctx context.Context, g model.PositionGroup) (model.PositionGroup, error) {
	g = cloneGroup(g)
	g.Name = strings.TrimSpace(g.Name)
	if g.Name == "" {
		return model.PositionGroup{}, errors.New("position group: empty name")
	}
	codes, err := json.Marshal(g.PositionCodes)
	if err != nil {
		return model.PositionGroup{}, fmt.Errorf("encode position codes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PositionGroup{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM position_groups WHERE name = ?`, g.Name).Scan(&n); err != nil {
		return model.PositionGroup{}, fmt.Errorf("check position group: %w", err)
	}
	if n > 0 {
		return model.PositionGroup{}, fmt.Errorf("position group %q: %w", g.Name, ErrConflict)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO position_groups (name, position_codes) VALUES (?, ?)`, g.Name, string(codes))
	if err != nil {
		return model.PositionGroup{}, fmt.Errorf("insert position group: %w", err)
	}
	if g.ID, err = res.LastInsertId(); err != nil {
		return model.PositionGroup{}, fmt.Errorf("position group id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.PositionGroup{}, fmt.Errorf("commit: %w", err)
	}
	return g, nil
}

func encodeActivities(acts []model.Activity) (string, error) {
	if acts == nil {
		acts = []model.Activity{}
	}
	stored := make([]model.Activity, len(acts))
	for i, a := range acts {
		a = a.Clone()
		a.EffectivePositionCodes = nil
		stored[i] = a
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode activities: %w", err)
	}
	return string(b), nil
}

func decodeActivities(s string) ([]model.Activity, error) {
	acts := make([]model.Activity, 0)
	if s == "" {
		return acts, nil
	}
	if err := json.Unmarshal([]byte(s), &acts); err != nil {
		return nil, err
	}
	return acts, nil
}

// skipRow reports a stored row that cannot be decoded. Readers drop such
// rows so one bad record does not hide every other one.
func skipRow(kind string, id int64, field string, err error) {
	appLog.Warn("store: skipping unreadable row", "kind", kind, "id", id, "field", field, "err", err.Error())
}
