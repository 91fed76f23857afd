package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/skillforge/internal/domain/catalog"
)

// CatalogRepository хранит определения каталога в памяти.
// Порядок вставки сохраняется, чтобы LoadAll воспроизводил историю изменений.
type CatalogRepository struct {
	mu       sync.Mutex
	projects map[string]catalog.Project
	subjects map[catalog.SubjectKey]catalog.Subject
	skills   map[catalog.SkillRef]catalog.Skill
	edges    []catalog.DependencyEdge
	badges   map[catalog.BadgeKey]catalog.Badge

	projectOrder []string
	subjectOrder []catalog.SubjectKey
	skillOrder   []catalog.SkillRef
	badgeOrder   []catalog.BadgeKey
}

// NewCatalogRepository создаёт пустой репозиторий.
func NewCatalogRepository() *CatalogRepository {
	return &CatalogRepository{
		projects: make(map[string]catalog.Project),
		subjects: make(map[catalog.SubjectKey]catalog.Subject),
		skills:   make(map[catalog.SkillRef]catalog.Skill),
		badges:   make(map[catalog.BadgeKey]catalog.Badge),
	}
}

// LoadAll возвращает все определения.
func (r *CatalogRepository) LoadAll(_ context.Context) (*catalog.Definitions, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	defs := &catalog.Definitions{}
	for _, id := range r.projectOrder {
		defs.Projects = append(defs.Projects, r.projects[id])
	}
	for _, k := range r.subjectOrder {
		defs.Subjects = append(defs.Subjects, r.subjects[k])
	}
	for _, k := range r.skillOrder {
		defs.Skills = append(defs.Skills, r.skills[k])
	}
	defs.Dependencies = append(defs.Dependencies, r.edges...)
	for _, k := range r.badgeOrder {
		defs.Badges = append(defs.Badges, r.badges[k])
	}
	return defs, nil
}

// SaveProject сохраняет проект.
func (r *CatalogRepository) SaveProject(_ context.Context, p catalog.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[p.ID]; !ok {
		r.projectOrder = append(r.projectOrder, p.ID)
	}
	r.projects[p.ID] = p
	return nil
}

// SaveSubject сохраняет предмет.
func (r *CatalogRepository) SaveSubject(_ context.Context, s catalog.Subject) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subjects[s.Key()]; !ok {
		r.subjectOrder = append(r.subjectOrder, s.Key())
	}
	r.subjects[s.Key()] = s
	return nil
}

// SaveSkill сохраняет навык.
func (r *CatalogRepository) SaveSkill(_ context.Context, s catalog.Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.skills[s.Ref()]; !ok {
		r.skillOrder = append(r.skillOrder, s.Ref())
	}
	r.skills[s.Ref()] = s
	return nil
}

// SaveDependency сохраняет ребро. Повтор игнорируется.
func (r *CatalogRepository) SaveDependency(_ context.Context, e catalog.DependencyEdge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.edges {
		if existing == e {
			return nil
		}
	}
	r.edges = append(r.edges, e)
	return nil
}

// SaveBadge сохраняет бейдж целиком, включая требования.
func (r *CatalogRepository) SaveBadge(_ context.Context, b catalog.Badge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.badges[b.Key()]; !ok {
		r.badgeOrder = append(r.badgeOrder, b.Key())
	}
	b.RequiredSkills = append([]catalog.SkillRef(nil), b.RequiredSkills...)
	b.RequiredLevels = append([]catalog.LevelRequirement(nil), b.RequiredLevels...)
	r.badges[b.Key()] = b
	return nil
}
