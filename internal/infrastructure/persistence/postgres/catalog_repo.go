package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CatalogRepository implements catalog.Repository for PostgreSQL.
// Level tables are stored as JSONB; badge requirements live in child tables.
type CatalogRepository struct {
	conn *Connection
}

// NewCatalogRepository creates a new CatalogRepository.
func NewCatalogRepository(conn *Connection) *CatalogRepository {
	return &CatalogRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// SaveProject upserts a project.
func (r *CatalogRepository) SaveProject(ctx context.Context, p catalog.Project) error {
	levels, err := marshalLevels(p.Levels)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO projects (id, name, level_display_name, levels)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			level_display_name = EXCLUDED.level_display_name,
			levels = EXCLUDED.levels,
			updated_at = NOW()
	`, p.ID, p.Name, p.LevelDisplayName, levels)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.ID, err)
	}
	return nil
}

// SaveSubject upserts a subject.
func (r *CatalogRepository) SaveSubject(ctx context.Context, s catalog.Subject) error {
	levels, err := marshalLevels(s.Levels)
	if err != nil {
		return err
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO subjects (project_id, id, name, levels)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (project_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			levels = EXCLUDED.levels,
			updated_at = NOW()
	`, s.ProjectID, s.ID, s.Name, levels)
	if err != nil {
		return fmt.Errorf("failed to save subject %s/%s: %w", s.ProjectID, s.ID, err)
	}
	return nil
}

// SaveSkill upserts a skill.
func (r *CatalogRepository) SaveSkill(ctx context.Context, s catalog.Skill) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO skills (
			project_id, id, subject_id, name, point_increment, num_perform_to_completion,
			point_increment_interval, num_max_occurrences_increment_interval, self_reporting_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (project_id, id) DO UPDATE SET
			subject_id = EXCLUDED.subject_id,
			name = EXCLUDED.name,
			point_increment = EXCLUDED.point_increment,
			num_perform_to_completion = EXCLUDED.num_perform_to_completion,
			point_increment_interval = EXCLUDED.point_increment_interval,
			num_max_occurrences_increment_interval = EXCLUDED.num_max_occurrences_increment_interval,
			self_reporting_type = EXCLUDED.self_reporting_type,
			updated_at = NOW()
	`,
		s.ProjectID, s.ID, s.SubjectID, s.Name, s.PointIncrement, s.NumPerformToCompletion,
		s.PointIncrementInterval, s.NumMaxOccurrencesIncrementInterval, string(s.SelfReportingType.Normalize()),
	)
	if err != nil {
		return fmt.Errorf("failed to save skill %s: %w", s.Ref(), err)
	}
	return nil
}

// SaveDependency stores an edge. Saving the same edge twice is a no-op.
func (r *CatalogRepository) SaveDependency(ctx context.Context, e catalog.DependencyEdge) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO skill_dependencies (project_id, dependent_id, prerequisite_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, e.Dependent.ProjectID, e.Dependent.SkillID, e.Prerequisite.SkillID)
	if err != nil {
		return fmt.Errorf("failed to save dependency %s -> %s: %w", e.Dependent, e.Prerequisite, err)
	}
	return nil
}

// SaveBadge upserts a badge and replaces its requirements in one transaction.
func (r *CatalogRepository) SaveBadge(ctx context.Context, b catalog.Badge) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO badges (project_id, id, name, enabled)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (project_id, id) DO UPDATE SET
				name = EXCLUDED.name,
				enabled = EXCLUDED.enabled,
				updated_at = NOW()
		`, b.ProjectID, b.ID, b.Name, b.Enabled)
		if err != nil {
			return fmt.Errorf("failed to save badge %s: %w", b.Key(), err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM badge_skills WHERE badge_project_id = $1 AND badge_id = $2`, b.ProjectID, b.ID); err != nil {
			return fmt.Errorf("failed to clear badge skills: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM badge_levels WHERE badge_project_id = $1 AND badge_id = $2`, b.ProjectID, b.ID); err != nil {
			return fmt.Errorf("failed to clear badge levels: %w", err)
		}

		batch := &pgx.Batch{}
		for i, s := range b.RequiredSkills {
			batch.Queue(`
				INSERT INTO badge_skills (badge_project_id, badge_id, position, project_id, skill_id)
				VALUES ($1, $2, $3, $4, $5)
			`, b.ProjectID, b.ID, i, s.ProjectID, s.SkillID)
		}
		for i, l := range b.RequiredLevels {
			batch.Queue(`
				INSERT INTO badge_levels (badge_project_id, badge_id, position, project_id, min_level)
				VALUES ($1, $2, $3, $4, $5)
			`, b.ProjectID, b.ID, i, l.ProjectID, l.MinLevel)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save badge requirements: %w", err)
		}
		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// LoadAll reads every definition in insertion order.
func (r *CatalogRepository) LoadAll(ctx context.Context) (*catalog.Definitions, error) {
	defs := &catalog.Definitions{}

	err := r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if defs.Projects, err = loadProjects(ctx, tx); err != nil {
			return err
		}
		if defs.Subjects, err = loadSubjects(ctx, tx); err != nil {
			return err
		}
		if defs.Skills, err = loadSkills(ctx, tx); err != nil {
			return err
		}
		if defs.Dependencies, err = loadDependencies(ctx, tx); err != nil {
			return err
		}
		defs.Badges, err = loadBadges(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return defs, nil
}

func loadProjects(ctx context.Context, q Querier) ([]catalog.Project, error) {
	rows, err := q.Query(ctx, `SELECT id, name, level_display_name, levels FROM projects ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Project
	for rows.Next() {
		var p catalog.Project
		var levels []byte
		if err := rows.Scan(&p.ID, &p.Name, &p.LevelDisplayName, &levels); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		if p.Levels, err = unmarshalLevels(levels); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadSubjects(ctx context.Context, q Querier) ([]catalog.Subject, error) {
	rows, err := q.Query(ctx, `SELECT project_id, id, name, levels FROM subjects ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Subject
	for rows.Next() {
		var s catalog.Subject
		var levels []byte
		if err := rows.Scan(&s.ProjectID, &s.ID, &s.Name, &levels); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		if s.Levels, err = unmarshalLevels(levels); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadSkills(ctx context.Context, q Querier) ([]catalog.Skill, error) {
	rows, err := q.Query(ctx, `
		SELECT project_id, id, subject_id, name, point_increment, num_perform_to_completion,
			point_increment_interval, num_max_occurrences_increment_interval, self_reporting_type
		FROM skills ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Skill
	for rows.Next() {
		var s catalog.Skill
		var srt string
		if err := rows.Scan(
			&s.ProjectID, &s.ID, &s.SubjectID, &s.Name, &s.PointIncrement, &s.NumPerformToCompletion,
			&s.PointIncrementInterval, &s.NumMaxOccurrencesIncrementInterval, &srt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		s.SelfReportingType = catalog.SelfReportingType(srt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadDependencies(ctx context.Context, q Querier) ([]catalog.DependencyEdge, error) {
	rows, err := q.Query(ctx, `SELECT project_id, dependent_id, prerequisite_id FROM skill_dependencies ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.DependencyEdge
	for rows.Next() {
		var project, dependent, prerequisite string
		if err := rows.Scan(&project, &dependent, &prerequisite); err != nil {
			return nil, fmt.Errorf("failed to scan dependency: %w", err)
		}
		out = append(out, catalog.DependencyEdge{
			Dependent:    catalog.SkillRef{ProjectID: project, SkillID: dependent},
			Prerequisite: catalog.SkillRef{ProjectID: project, SkillID: prerequisite},
		})
	}
	return out, rows.Err()
}

func loadBadges(ctx context.Context, q Querier) ([]catalog.Badge, error) {
	rows, err := q.Query(ctx, `SELECT project_id, id, name, enabled FROM badges ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	var out []catalog.Badge
	index := make(map[catalog.BadgeKey]int)
	for rows.Next() {
		var b catalog.Badge
		if err := rows.Scan(&b.ProjectID, &b.ID, &b.Name, &b.Enabled); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		index[b.Key()] = len(out)
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	skillRows, err := q.Query(ctx, `
		SELECT badge_project_id, badge_id, project_id, skill_id
		FROM badge_skills ORDER BY badge_project_id, badge_id, position
	`)
	if err != nil {
		return nil, err
	}
	for skillRows.Next() {
		var key catalog.BadgeKey
		var ref catalog.SkillRef
		if err := skillRows.Scan(&key.ProjectID, &key.BadgeID, &ref.ProjectID, &ref.SkillID); err != nil {
			skillRows.Close()
			return nil, fmt.Errorf("failed to scan badge skill: %w", err)
		}
		if i, ok := index[key]; ok {
			out[i].RequiredSkills = append(out[i].RequiredSkills, ref)
		}
	}
	skillRows.Close()
	if err := skillRows.Err(); err != nil {
		return nil, err
	}

	levelRows, err := q.Query(ctx, `
		SELECT badge_project_id, badge_id, project_id, min_level
		FROM badge_levels ORDER BY badge_project_id, badge_id, position
	`)
	if err != nil {
		return nil, err
	}
	defer levelRows.Close()
	for levelRows.Next() {
		var key catalog.BadgeKey
		var lr catalog.LevelRequirement
		if err := levelRows.Scan(&key.ProjectID, &key.BadgeID, &lr.ProjectID, &lr.MinLevel); err != nil {
			return nil, fmt.Errorf("failed to scan badge level: %w", err)
		}
		if i, ok := index[key]; ok {
			out[i].RequiredLevels = append(out[i].RequiredLevels, lr)
		}
	}
	return out, levelRows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func marshalLevels(t catalog.LevelTable) ([]byte, error) {
	if t == nil {
		t = catalog.LevelTable{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal level table: %w", err)
	}
	return data, nil
}

func unmarshalLevels(data []byte) (catalog.LevelTable, error) {
	var t catalog.LevelTable
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal level table: %w", err)
	}
	if len(t) == 0 {
		return nil, nil
	}
	return t, nil
}
