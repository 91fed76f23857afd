package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// CatalogRepository реализует catalog.Repository поверх gorm.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository создаёт репозиторий каталога.
func NewCatalogRepository(d *Database) *CatalogRepository {
	return &CatalogRepository{db: d.DB}
}

// ══════════════════════════════════════════════════════════════════════════════
// ЗАПИСЬ
// ══════════════════════════════════════════════════════════════════════════════

// SaveProject создаёт или обновляет проект.
func (r *CatalogRepository) SaveProject(ctx context.Context, p catalog.Project) error {
	levels, err := encodeLevels(p.Levels)
	if err != nil {
		return err
	}
	m := projectModel{ID: p.ID, Name: p.Name, LevelDisplayName: p.LevelDisplayName, Levels: levels}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "level_display_name", "levels"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("sqlite: сохранение проекта %s: %w", p.ID, err)
	}
	return nil
}

// SaveSubject создаёт или обновляет предмет.
func (r *CatalogRepository) SaveSubject(ctx context.Context, s catalog.Subject) error {
	levels, err := encodeLevels(s.Levels)
	if err != nil {
		return err
	}
	m := subjectModel{ProjectID: s.ProjectID, ID: s.ID, Name: s.Name, Levels: levels}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "levels"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("sqlite: сохранение предмета %s/%s: %w", s.ProjectID, s.ID, err)
	}
	return nil
}

// SaveSkill создаёт или обновляет навык.
func (r *CatalogRepository) SaveSkill(ctx context.Context, s catalog.Skill) error {
	m := skillModel{
		ProjectID:                          s.ProjectID,
		ID:                                 s.ID,
		SubjectID:                          s.SubjectID,
		Name:                               s.Name,
		PointIncrement:                     s.PointIncrement,
		NumPerformToCompletion:             s.NumPerformToCompletion,
		PointIncrementInterval:             s.PointIncrementInterval,
		NumMaxOccurrencesIncrementInterval: s.NumMaxOccurrencesIncrementInterval,
		SelfReportingType:                  string(s.SelfReportingType.Normalize()),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "project_id"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"subject_id", "name", "point_increment", "num_perform_to_completion",
			"point_increment_interval", "num_max_occurrences_increment_interval", "self_reporting_type",
		}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("sqlite: сохранение навыка %s: %w", s.Ref(), err)
	}
	return nil
}

// SaveDependency сохраняет ребро. Повторное сохранение ничего не меняет.
func (r *CatalogRepository) SaveDependency(ctx context.Context, e catalog.DependencyEdge) error {
	m := dependencyModel{
		ProjectID:      e.Dependent.ProjectID,
		DependentID:    e.Dependent.SkillID,
		PrerequisiteID: e.Prerequisite.SkillID,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("sqlite: сохранение зависимости %s -> %s: %w", e.Dependent, e.Prerequisite, err)
	}
	return nil
}

// SaveBadge сохраняет значок и заменяет его требования в одной транзакции.
func (r *CatalogRepository) SaveBadge(ctx context.Context, b catalog.Badge) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := badgeModel{ProjectID: b.ProjectID, ID: b.ID, Name: b.Name, Enabled: b.Enabled}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "enabled"}),
		}).Create(&m).Error
		if err != nil {
			return fmt.Errorf("sqlite: сохранение значка %s: %w", b.Key(), err)
		}

		owner := "badge_project_id = ? AND badge_id = ?"
		if err := tx.Where(owner, b.ProjectID, b.ID).Delete(&badgeSkillModel{}).Error; err != nil {
			return fmt.Errorf("sqlite: очистка навыков значка: %w", err)
		}
		if err := tx.Where(owner, b.ProjectID, b.ID).Delete(&badgeLevelModel{}).Error; err != nil {
			return fmt.Errorf("sqlite: очистка уровней значка: %w", err)
		}

		if len(b.RequiredSkills) > 0 {
			skills := make([]badgeSkillModel, 0, len(b.RequiredSkills))
			for _, s := range b.RequiredSkills {
				skills = append(skills, badgeSkillModel{
					BadgeProjectID: b.ProjectID, BadgeID: b.ID, ProjectID: s.ProjectID, SkillID: s.SkillID,
				})
			}
			if err := tx.Create(&skills).Error; err != nil {
				return fmt.Errorf("sqlite: сохранение навыков значка: %w", err)
			}
		}
		if len(b.RequiredLevels) > 0 {
			levels := make([]badgeLevelModel, 0, len(b.RequiredLevels))
			for _, l := range b.RequiredLevels {
				levels = append(levels, badgeLevelModel{
					BadgeProjectID: b.ProjectID, BadgeID: b.ID, ProjectID: l.ProjectID, MinLevel: l.MinLevel,
				})
			}
			if err := tx.Create(&levels).Error; err != nil {
				return fmt.Errorf("sqlite: сохранение уровней значка: %w", err)
			}
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ЧТЕНИЕ
// ══════════════════════════════════════════════════════════════════════════════

// LoadAll читает все определения в порядке вставки.
func (r *CatalogRepository) LoadAll(ctx context.Context) (*catalog.Definitions, error) {
	var (
		projects    []projectModel
		subjects    []subjectModel
		skills      []skillModel
		deps        []dependencyModel
		badges      []badgeModel
		badgeSkills []badgeSkillModel
		badgeLevels []badgeLevelModel
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, dest := range []any{&projects, &subjects, &skills, &deps, &badges, &badgeSkills, &badgeLevels} {
			if err := tx.Order("seq").Find(dest).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: загрузка каталога: %w", err)
	}

	defs := &catalog.Definitions{}
	for _, m := range projects {
		levels, err := decodeLevels(m.Levels)
		if err != nil {
			return nil, err
		}
		defs.Projects = append(defs.Projects, catalog.Project{
			ID: m.ID, Name: m.Name, LevelDisplayName: m.LevelDisplayName, Levels: levels,
		})
	}
	for _, m := range subjects {
		levels, err := decodeLevels(m.Levels)
		if err != nil {
			return nil, err
		}
		defs.Subjects = append(defs.Subjects, catalog.Subject{
			ProjectID: m.ProjectID, ID: m.ID, Name: m.Name, Levels: levels,
		})
	}
	for _, m := range skills {
		defs.Skills = append(defs.Skills, catalog.Skill{
			ProjectID:                          m.ProjectID,
			SubjectID:                          m.SubjectID,
			ID:                                 m.ID,
			Name:                               m.Name,
			PointIncrement:                     m.PointIncrement,
			NumPerformToCompletion:             m.NumPerformToCompletion,
			PointIncrementInterval:             m.PointIncrementInterval,
			NumMaxOccurrencesIncrementInterval: m.NumMaxOccurrencesIncrementInterval,
			SelfReportingType:                  catalog.SelfReportingType(m.SelfReportingType),
		})
	}
	for _, m := range deps {
		defs.Dependencies = append(defs.Dependencies, catalog.DependencyEdge{
			Dependent:    catalog.SkillRef{ProjectID: m.ProjectID, SkillID: m.DependentID},
			Prerequisite: catalog.SkillRef{ProjectID: m.ProjectID, SkillID: m.PrerequisiteID},
		})
	}

	index := make(map[catalog.BadgeKey]int, len(badges))
	for _, m := range badges {
		b := catalog.Badge{ProjectID: m.ProjectID, ID: m.ID, Name: m.Name, Enabled: m.Enabled}
		index[b.Key()] = len(defs.Badges)
		defs.Badges = append(defs.Badges, b)
	}
	for _, m := range badgeSkills {
		if i, ok := index[catalog.BadgeKey{ProjectID: m.BadgeProjectID, BadgeID: m.BadgeID}]; ok {
			defs.Badges[i].RequiredSkills = append(defs.Badges[i].RequiredSkills,
				catalog.SkillRef{ProjectID: m.ProjectID, SkillID: m.SkillID})
		}
	}
	for _, m := range badgeLevels {
		if i, ok := index[catalog.BadgeKey{ProjectID: m.BadgeProjectID, BadgeID: m.BadgeID}]; ok {
			defs.Badges[i].RequiredLevels = append(defs.Badges[i].RequiredLevels,
				catalog.LevelRequirement{ProjectID: m.ProjectID, MinLevel: m.MinLevel})
		}
	}
	return defs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Таблицы уровней хранятся как JSON
// ─────────────────────────────────────────────────────────────────────────────

func encodeLevels(t catalog.LevelTable) (string, error) {
	if len(t) == 0 {
		return "", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("sqlite: кодирование таблицы уровней: %w", err)
	}
	return string(data), nil
}

func decodeLevels(s string) (catalog.LevelTable, error) {
	if s == "" {
		return nil, nil
	}
	var t catalog.LevelTable
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return nil, fmt.Errorf("sqlite: разбор таблицы уровней: %w", err)
	}
	if len(t) == 0 {
		return nil, nil
	}
	return t, nil
}
