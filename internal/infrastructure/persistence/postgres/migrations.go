package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROGRESS RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create progress records
-- Version: 001

-- One row per content item; the client always pushes the whole record.
CREATE TABLE IF NOT EXISTS progress_records (
    content_id VARCHAR(128) PRIMARY KEY,
    current_step INTEGER NOT NULL DEFAULT 0,
    completed_sections INTEGER[] NOT NULL DEFAULT '{}',
    started BOOLEAN NOT NULL DEFAULT FALSE,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_current_step CHECK (current_step >= 0)
);

CREATE INDEX IF NOT EXISTS idx_progress_records_last_updated ON progress_records(last_updated DESC);

CREATE OR REPLACE FUNCTION update_updated_at_column()
RETURNS TRIGGER AS $$
BEGIN
    NEW.updated_at = NOW();
    RETURN NEW;
END;
$$ language 'plpgsql';

DROP TRIGGER IF EXISTS update_progress_records_updated_at ON progress_records;
CREATE TRIGGER update_progress_records_updated_at
    BEFORE UPDATE ON progress_records
    FOR EACH ROW
    EXECUTE FUNCTION update_updated_at_column();
`

const migration001Down = `
DROP TRIGGER IF EXISTS update_progress_records_updated_at ON progress_records;
DROP FUNCTION IF EXISTS update_updated_at_column();
DROP TABLE IF EXISTS progress_records;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: ADD UNLOCKED STEPS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Persist the optional unlocked step set
-- Version: 002
-- NULL means the client did not send it; {0..current_step} is implied.

ALTER TABLE progress_records ADD COLUMN IF NOT EXISTS unlocked_steps INTEGER[];
`

const migration002Down = `
ALTER TABLE progress_records DROP COLUMN IF EXISTS unlocked_steps;
`
