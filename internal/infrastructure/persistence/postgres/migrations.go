package postgres

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_catalog", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_point_events", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_self_report_requests", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Projects own subjects, skills and project badges.
CREATE TABLE IF NOT EXISTS projects (
    seq BIGSERIAL,
    id VARCHAR(128) PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    level_display_name TEXT NOT NULL DEFAULT '',
    levels JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subjects (
    seq BIGSERIAL,
    project_id VARCHAR(128) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    id VARCHAR(128) NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    levels JSONB NOT NULL DEFAULT '[]'::jsonb,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (project_id, id)
);

-- Skill ids are unique within a project; the subject is an attribute.
CREATE TABLE IF NOT EXISTS skills (
    seq BIGSERIAL,
    project_id VARCHAR(128) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    id VARCHAR(128) NOT NULL,
    subject_id VARCHAR(128) NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    point_increment INTEGER NOT NULL,
    num_perform_to_completion INTEGER NOT NULL,
    point_increment_interval INTEGER NOT NULL DEFAULT 0,
    num_max_occurrences_increment_interval INTEGER NOT NULL DEFAULT 1,
    self_reporting_type VARCHAR(20) NOT NULL DEFAULT 'None',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (project_id, id),
    FOREIGN KEY (project_id, subject_id) REFERENCES subjects(project_id, id),
    CONSTRAINT valid_point_increment CHECK (point_increment >= 0),
    CONSTRAINT valid_completion CHECK (num_perform_to_completion >= 1),
    CONSTRAINT valid_self_reporting CHECK (self_reporting_type IN ('None', 'HonorSystem', 'Approval'))
);

CREATE INDEX IF NOT EXISTS idx_skills_subject ON skills(project_id, subject_id);

CREATE TABLE IF NOT EXISTS skill_dependencies (
    seq BIGSERIAL,
    project_id VARCHAR(128) NOT NULL,
    dependent_id VARCHAR(128) NOT NULL,
    prerequisite_id VARCHAR(128) NOT NULL,

    PRIMARY KEY (project_id, dependent_id, prerequisite_id),
    FOREIGN KEY (project_id, dependent_id) REFERENCES skills(project_id, id) ON DELETE CASCADE,
    FOREIGN KEY (project_id, prerequisite_id) REFERENCES skills(project_id, id) ON DELETE CASCADE
);

-- Global badges use an empty project_id.
CREATE TABLE IF NOT EXISTS badges (
    seq BIGSERIAL,
    project_id VARCHAR(128) NOT NULL DEFAULT '',
    id VARCHAR(128) NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    enabled BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (project_id, id)
);

CREATE TABLE IF NOT EXISTS badge_skills (
    badge_project_id VARCHAR(128) NOT NULL,
    badge_id VARCHAR(128) NOT NULL,
    position INTEGER NOT NULL,
    project_id VARCHAR(128) NOT NULL,
    skill_id VARCHAR(128) NOT NULL,

    PRIMARY KEY (badge_project_id, badge_id, project_id, skill_id),
    FOREIGN KEY (badge_project_id, badge_id) REFERENCES badges(project_id, id) ON DELETE CASCADE,
    FOREIGN KEY (project_id, skill_id) REFERENCES skills(project_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS badge_levels (
    badge_project_id VARCHAR(128) NOT NULL,
    badge_id VARCHAR(128) NOT NULL,
    position INTEGER NOT NULL,
    project_id VARCHAR(128) NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    min_level INTEGER NOT NULL,

    PRIMARY KEY (badge_project_id, badge_id, project_id),
    FOREIGN KEY (badge_project_id, badge_id) REFERENCES badges(project_id, id) ON DELETE CASCADE,
    CONSTRAINT valid_min_level CHECK (min_level >= 1)
);
`

const migration001Down = `
DROP TABLE IF EXISTS badge_levels;
DROP TABLE IF EXISTS badge_skills;
DROP TABLE IF EXISTS badges;
DROP TABLE IF EXISTS skill_dependencies;
DROP TABLE IF EXISTS skills;
DROP TABLE IF EXISTS subjects;
DROP TABLE IF EXISTS projects;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE POINT EVENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Append-only log. No foreign keys to the catalog: events outlive redefinitions.
CREATE TABLE IF NOT EXISTS point_events (
    seq BIGSERIAL PRIMARY KEY,
    id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(128) NOT NULL,
    project_id VARCHAR(128) NOT NULL,
    skill_id VARCHAR(128) NOT NULL,
    performed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    source VARCHAR(32) NOT NULL,
    outcome VARCHAR(16) NOT NULL,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    -- Set for events emitted by an approved self report.
    request_id VARCHAR(64),

    CONSTRAINT uniq_point_occurrence UNIQUE (user_id, project_id, skill_id, performed_at),
    CONSTRAINT valid_outcome CHECK (outcome IN ('Accepted', 'Throttled'))
);

CREATE INDEX IF NOT EXISTS idx_point_events_user ON point_events(user_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS uniq_point_events_request ON point_events(request_id) WHERE request_id IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS point_events;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE SELF REPORT REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS self_report_requests (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(128) NOT NULL,
    project_id VARCHAR(128) NOT NULL,
    skill_id VARCHAR(128) NOT NULL,
    requested_at TIMESTAMP WITH TIME ZONE NOT NULL,
    state VARCHAR(16) NOT NULL DEFAULT 'Pending',
    resolved_at TIMESTAMP WITH TIME ZONE,
    -- Approved, but the point event has not reached the log yet.
    emission_pending BOOLEAN NOT NULL DEFAULT FALSE,

    CONSTRAINT valid_state CHECK (state IN ('Pending', 'Approved', 'Rejected')),
    CONSTRAINT emission_only_when_approved CHECK (NOT emission_pending OR state = 'Approved')
);

CREATE INDEX IF NOT EXISTS idx_self_report_pending ON self_report_requests(requested_at) WHERE state = 'Pending';
`

const migration003Down = `
DROP TABLE IF EXISTS self_report_requests;
`
