package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order; each entry runs once, tracked by version
// in the _migrations table. Case payloads (analysis, report, reviews) live as
// JSONB columns on the case row so a status change and its payload commit in
// one single-row UPDATE.
var migrations = []struct {
	Version int
	Name    string
	SQL     string
}{
	{
		Version: 1,
		Name:    "core_workflow_tables",
		SQL: `
CREATE TABLE IF NOT EXISTS patient (
    id              UUID PRIMARY KEY,
    patient_code    TEXT NOT NULL UNIQUE,
    full_name       TEXT NOT NULL,
    age             INTEGER,
    gender          TEXT,
    clinical_history TEXT,
    claimed_by      UUID,
    radiologist_id  UUID,
    doctor_ids      UUID[] NOT NULL DEFAULT '{}',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS xray_case (
    id               UUID PRIMARY KEY,
    patient_id       UUID NOT NULL REFERENCES patient(id),
    uploader_id      UUID NOT NULL,
    doctor_id        UUID,
    image_url        TEXT NOT NULL,
    status           TEXT NOT NULL,
    analysis         JSONB,
    report           JSONB,
    radiologist_notes TEXT,
    doctor_review    JSONB,
    prescription_id  UUID,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_xray_case_patient ON xray_case(patient_id);
CREATE INDEX IF NOT EXISTS idx_xray_case_status ON xray_case(status);

CREATE TABLE IF NOT EXISTS appointment (
    id              UUID PRIMARY KEY,
    patient_id      UUID NOT NULL REFERENCES patient(id),
    requested_by    UUID NOT NULL,
    radiologist_id  UUID,
    doctor_id       UUID,
    preferred_at    TIMESTAMPTZ,
    reason          TEXT,
    status          TEXT NOT NULL,
    case_id         UUID,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_appointment_patient ON appointment(patient_id);

CREATE TABLE IF NOT EXISTS notification (
    id           UUID PRIMARY KEY,
    recipient_id UUID NOT NULL,
    sender_id    UUID,
    title        TEXT NOT NULL,
    message      TEXT NOT NULL,
    type         TEXT NOT NULL,
    read         BOOLEAN NOT NULL DEFAULT FALSE,
    action       JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_notification_recipient ON notification(recipient_id, read);

CREATE TABLE IF NOT EXISTS prescription (
    id           UUID PRIMARY KEY,
    case_id      UUID NOT NULL REFERENCES xray_case(id),
    patient_id   UUID NOT NULL REFERENCES patient(id),
    doctor_id    UUID NOT NULL,
    medicines    JSONB NOT NULL,
    instructions TEXT,
    diagnosis    TEXT,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_prescription_patient ON prescription(patient_id);
`,
	},
}

// Migrate applies any pending migrations. It is safe to run on every boot.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS _migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ DEFAULT NOW()
)`)
	if err != nil {
		return fmt.Errorf("create _migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM _migrations WHERE version = $1)`, m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO _migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
