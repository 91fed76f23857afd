package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/dependency"
	"github.com/alem-hub/skillforge/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VIEW
// Неизменяемый снимок каталога. Каждое изменение создаёт новый View,
// поэтому оценка прогресса всегда видит согласованный набор определений.
// ══════════════════════════════════════════════════════════════════════════════

// View - неизменяемый снимок определений.
type View struct {
	epoch    string
	version  int64
	projects map[string]Project
	subjects map[SubjectKey]Subject
	skills   map[SkillRef]Skill
	graph    *dependency.Graph[SkillRef]
	badges   map[BadgeKey]Badge
}

func emptyView(epoch string, version int64) *View {
	return &View{
		epoch:    epoch,
		version:  version,
		projects: make(map[string]Project),
		subjects: make(map[SubjectKey]Subject),
		skills:   make(map[SkillRef]Skill),
		graph:    dependency.New[SkillRef](),
		badges:   make(map[BadgeKey]Badge),
	}
}

func (v *View) clone(version int64) *View {
	c := &View{
		epoch:    v.epoch,
		version:  version,
		projects: make(map[string]Project, len(v.projects)),
		subjects: make(map[SubjectKey]Subject, len(v.subjects)),
		skills:   make(map[SkillRef]Skill, len(v.skills)),
		graph:    v.graph.Clone(),
		badges:   make(map[BadgeKey]Badge, len(v.badges)),
	}
	for k, p := range v.projects {
		c.projects[k] = p
	}
	for k, s := range v.subjects {
		c.subjects[k] = s
	}
	for k, s := range v.skills {
		c.skills[k] = s
	}
	for k, b := range v.badges {
		c.badges[k] = b
	}
	return c
}

// Version меняется при каждом изменении каталога. Счётчик начинается с 1
// и остаётся точным числом в JSON.
func (v *View) Version() int64 {
	return v.version
}

// Epoch идентифицирует экземпляр каталога. Версии разных процессов
// сравнимы только при совпадающей эпохе.
func (v *View) Epoch() string {
	return v.epoch
}

// Same сообщает, что снимок построен по этому же состоянию каталога.
func (v *View) Same(epoch string, version int64) bool {
	return v.epoch == epoch && v.version == version
}

// Project возвращает проект по id.
func (v *View) Project(id string) (Project, bool) {
	p, ok := v.projects[id]
	return p, ok
}

// Projects возвращает все проекты, отсортированные по id.
func (v *View) Projects() []Project {
	out := make([]Project, 0, len(v.projects))
	for _, p := range v.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subject возвращает предмет.
func (v *View) Subject(projectID, subjectID string) (Subject, bool) {
	s, ok := v.subjects[SubjectKey{ProjectID: projectID, SubjectID: subjectID}]
	return s, ok
}

// SubjectsOf возвращает предметы проекта, отсортированные по id.
func (v *View) SubjectsOf(projectID string) []Subject {
	var out []Subject
	for _, s := range v.subjects {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Skill возвращает навык по ссылке.
func (v *View) Skill(ref SkillRef) (Skill, bool) {
	s, ok := v.skills[ref]
	return s, ok
}

// Skills возвращает все навыки в детерминированном порядке.
func (v *View) Skills() []Skill {
	out := make([]Skill, 0, len(v.skills))
	for _, s := range v.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().Less(out[j].Ref()) })
	return out
}

// SkillsOf возвращает навыки проекта.
func (v *View) SkillsOf(projectID string) []Skill {
	var out []Skill
	for _, s := range v.skills {
		if s.ProjectID == projectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SkillsOfSubject возвращает навыки предмета.
func (v *View) SkillsOfSubject(projectID, subjectID string) []Skill {
	var out []Skill
	for _, s := range v.skills {
		if s.ProjectID == projectID && s.SubjectID == subjectID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PrerequisitesOf возвращает прямые пререквизиты навыка.
func (v *View) PrerequisitesOf(ref SkillRef) []SkillRef {
	return v.graph.PrerequisitesOf(ref)
}

// DependentsOf возвращает навыки, которые напрямую зависят от ref.
func (v *View) DependentsOf(ref SkillRef) []SkillRef {
	return v.graph.DependentsOf(ref)
}

// IsUnlocked проверяет, что все пререквизиты выполнены.
func (v *View) IsUnlocked(ref SkillRef, complete func(SkillRef) bool) bool {
	return v.graph.IsUnlocked(ref, complete)
}

// UnmetPrerequisites возвращает невыполненные пререквизиты.
func (v *View) UnmetPrerequisites(ref SkillRef, complete func(SkillRef) bool) []SkillRef {
	return v.graph.UnmetPrerequisites(ref, complete)
}

// Dependencies возвращает все рёбра графа в детерминированном порядке.
func (v *View) Dependencies() []DependencyEdge {
	edges := v.graph.Edges()
	out := make([]DependencyEdge, 0, len(edges))
	for _, e := range edges {
		out = append(out, DependencyEdge{Dependent: e.Dependent, Prerequisite: e.Prerequisite})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dependent != out[j].Dependent {
			return out[i].Dependent.Less(out[j].Dependent)
		}
		return out[i].Prerequisite.Less(out[j].Prerequisite)
	})
	return out
}

// Badge возвращает бейдж по ключу.
func (v *View) Badge(key BadgeKey) (Badge, bool) {
	b, ok := v.badges[key]
	return b, ok
}

// Badges возвращает все бейджи: сначала проектные, затем глобальные.
func (v *View) Badges() []Badge {
	out := make([]Badge, 0, len(v.badges))
	for _, b := range v.badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsGlobal() != out[j].IsGlobal() {
			return !out[i].IsGlobal()
		}
		if out[i].ProjectID != out[j].ProjectID {
			return out[i].ProjectID < out[j].ProjectID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Definitions выгружает снимок в формат хранения.
func (v *View) Definitions() *Definitions {
	d := &Definitions{
		Projects:     v.Projects(),
		Skills:       v.Skills(),
		Dependencies: v.Dependencies(),
		Badges:       v.Badges(),
	}
	for _, p := range d.Projects {
		d.Subjects = append(d.Subjects, v.SubjectsOf(p.ID)...)
	}
	return d
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Catalog - реестр определений с copy-on-write снимками.
// Изменения сериализуются, проверяются на копии и публикуются только после
// успешного сохранения в репозиторий.
type Catalog struct {
	mu    sync.Mutex
	repo  Repository
	view  atomic.Pointer[View]
	epoch string
	seq   int64
}

// New создаёт пустой каталог. repo может быть nil - тогда определения живут только в памяти.
func New(repo Repository) *Catalog {
	c := &Catalog{
		repo:  repo,
		epoch: strconv.FormatInt(time.Now().UnixNano(), 36),
		seq:   1,
	}
	c.view.Store(emptyView(c.epoch, c.seq))
	return c
}

// View возвращает текущий снимок.
func (c *Catalog) View() *View {
	return c.view.Load()
}

// Load восстанавливает каталог из репозитория.
func (c *Catalog) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	defs, err := c.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("catalog: failed to load definitions: %w", err)
	}
	return c.Restore(defs)
}

// Restore заменяет содержимое каталога набором определений без сохранения.
func (c *Catalog) Restore(defs *Definitions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := emptyView(c.epoch, c.nextVersion())
	for _, p := range defs.Projects {
		if err := next.putProject(p); err != nil {
			return err
		}
	}
	for _, s := range defs.Subjects {
		if err := next.putSubject(s); err != nil {
			return err
		}
	}
	for _, s := range defs.Skills {
		if err := next.putSkill(s); err != nil {
			return err
		}
	}
	for _, e := range defs.Dependencies {
		if err := next.addDependency(e); err != nil {
			return err
		}
	}
	for _, b := range defs.Badges {
		if err := next.putBadge(b); err != nil {
			return err
		}
	}

	c.view.Store(next)
	return nil
}

// Apply применяет набор определений поверх текущего каталога и сохраняет их.
// Используется для загрузки seed-файла.
func (c *Catalog) Apply(ctx context.Context, defs *Definitions) error {
	for _, p := range defs.Projects {
		if err := c.DefineProject(ctx, p); err != nil {
			return err
		}
	}
	for _, s := range defs.Subjects {
		if err := c.DefineSubject(ctx, s); err != nil {
			return err
		}
	}
	for _, s := range defs.Skills {
		if err := c.DefineSkill(ctx, s); err != nil {
			return err
		}
	}
	for _, e := range defs.Dependencies {
		if err := c.DefineDependency(ctx, e.Dependent.ProjectID, e.Dependent.SkillID, e.Prerequisite.SkillID); err != nil {
			return err
		}
	}
	for _, b := range defs.Badges {
		if err := c.replaceBadge(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutations
// ─────────────────────────────────────────────────────────────────────────────

// DefineProject создаёт или обновляет проект.
func (c *Catalog) DefineProject(ctx context.Context, p Project) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if err := v.putProject(p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveProject(ctx, p) }, nil
	})
}

// DefineSubject создаёт или обновляет предмет.
func (c *Catalog) DefineSubject(ctx context.Context, s Subject) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if err := v.putSubject(s); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveSubject(ctx, s) }, nil
	})
}

// DefineSkill создаёт или обновляет навык.
func (c *Catalog) DefineSkill(ctx context.Context, s Skill) error {
	s.SelfReportingType = s.SelfReportingType.Normalize()
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if err := v.putSkill(s); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveSkill(ctx, s) }, nil
	})
}

// SetProjectLevels заменяет таблицу уровней проекта.
func (c *Catalog) SetProjectLevels(ctx context.Context, projectID string, levels LevelTable) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		p, ok := v.projects[projectID]
		if !ok {
			return nil, unknownProject("SetLevels", projectID)
		}
		p.Levels = levels.Clone()
		if err := v.putProject(p); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveProject(ctx, p) }, nil
	})
}

// SetSubjectLevels заменяет таблицу уровней предмета.
func (c *Catalog) SetSubjectLevels(ctx context.Context, projectID, subjectID string, levels LevelTable) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		s, ok := v.subjects[SubjectKey{ProjectID: projectID, SubjectID: subjectID}]
		if !ok {
			return nil, shared.NewDomainError("catalog", "SetLevels", shared.ErrUnknownSubject,
				fmt.Sprintf("subject %s/%s not found", projectID, subjectID))
		}
		s.Levels = levels.Clone()
		if err := v.putSubject(s); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveSubject(ctx, s) }, nil
	})
}

// DefineDependency добавляет ребро dependent -> prerequisite внутри проекта.
// Ребро, замыкающее цикл, отклоняется с ErrCycleDetected, граф не меняется.
func (c *Catalog) DefineDependency(ctx context.Context, projectID, dependentID, prerequisiteID string) error {
	edge := DependencyEdge{
		Dependent:    SkillRef{ProjectID: projectID, SkillID: dependentID},
		Prerequisite: SkillRef{ProjectID: projectID, SkillID: prerequisiteID},
	}
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if err := v.addDependency(edge); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveDependency(ctx, edge) }, nil
	})
}

// DefineBadge создаёт бейдж или обновляет имя и флаг enabled, сохраняя требования.
func (c *Catalog) DefineBadge(ctx context.Context, b Badge) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if existing, ok := v.badges[b.Key()]; ok {
			existing.Name = b.Name
			existing.Enabled = b.Enabled
			b = existing
		} else {
			b.RequiredSkills, b.RequiredLevels = nil, nil
		}
		if err := v.putBadge(b); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveBadge(ctx, b) }, nil
	})
}

// AssignSkillToBadge добавляет навык в требования бейджа.
func (c *Catalog) AssignSkillToBadge(ctx context.Context, key BadgeKey, ref SkillRef) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		b, ok := v.badges[key]
		if !ok {
			return nil, unknownBadge("AssignSkill", key)
		}
		if _, ok := v.skills[ref]; !ok {
			return nil, unknownSkill("AssignSkill", ref)
		}
		b = b.clone()
		for _, s := range b.RequiredSkills {
			if s == ref {
				return nil, nil
			}
		}
		b.RequiredSkills = append(b.RequiredSkills, ref)
		if err := v.putBadge(b); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveBadge(ctx, b) }, nil
	})
}

// AssignProjectLevelToBadge задаёт требование минимального уровня в проекте.
// Повторное назначение для того же проекта заменяет уровень.
func (c *Catalog) AssignProjectLevelToBadge(ctx context.Context, key BadgeKey, projectID string, minLevel int) error {
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		b, ok := v.badges[key]
		if !ok {
			return nil, unknownBadge("AssignLevel", key)
		}
		p, ok := v.projects[projectID]
		if !ok {
			return nil, unknownProject("AssignLevel", projectID)
		}
		if top := p.Levels.MaxLevel(); minLevel > top {
			return nil, shared.ConfigErrorf("catalog", "AssignLevel",
				"project %s has no level %d (max %d)", projectID, minLevel, top)
		}
		b = b.clone()
		replaced := false
		for i, l := range b.RequiredLevels {
			if l.ProjectID == projectID {
				b.RequiredLevels[i].MinLevel = minLevel
				replaced = true
			}
		}
		if !replaced {
			b.RequiredLevels = append(b.RequiredLevels, LevelRequirement{ProjectID: projectID, MinLevel: minLevel})
		}
		if err := v.putBadge(b); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveBadge(ctx, b) }, nil
	})
}

func (c *Catalog) replaceBadge(ctx context.Context, b Badge) error {
	b = b.clone()
	return c.mutate(ctx, func(v *View) (func(context.Context, Repository) error, error) {
		if err := v.putBadge(b); err != nil {
			return nil, err
		}
		return func(ctx context.Context, r Repository) error { return r.SaveBadge(ctx, b) }, nil
	})
}

// mutate применяет change к копии снимка, сохраняет результат и публикует новый снимок.
// change может вернуть nil persist, если изменение оказалось пустым.
func (c *Catalog) mutate(ctx context.Context, change func(*View) (func(context.Context, Repository) error, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.view.Load().clone(c.seq + 1)
	persist, err := change(next)
	if err != nil {
		return err
	}
	if persist == nil {
		return nil
	}
	if c.repo != nil {
		if err := persist(ctx, c.repo); err != nil {
			return fmt.Errorf("catalog: failed to persist definition: %w", err)
		}
	}

	c.seq++
	c.view.Store(next)
	return nil
}

func (c *Catalog) nextVersion() int64 {
	c.seq++
	return c.seq
}

// ─────────────────────────────────────────────────────────────────────────────
// View mutators (only used on unpublished copies)
// ─────────────────────────────────────────────────────────────────────────────

func (v *View) putProject(p Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	top := p.Levels.MaxLevel()
	for _, b := range v.badges {
		for _, l := range b.RequiredLevels {
			if l.ProjectID == p.ID && l.MinLevel > top {
				return shared.ConfigErrorf("catalog", "DefineProject",
					"badge %s requires level %d of project %s (max %d)", b.Key(), l.MinLevel, p.ID, top)
			}
		}
	}
	p.Levels = p.Levels.Clone()
	v.projects[p.ID] = p
	return nil
}

func (v *View) putSubject(s Subject) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := v.projects[s.ProjectID]; !ok {
		return unknownProject("DefineSubject", s.ProjectID)
	}
	s.Levels = s.Levels.Clone()
	v.subjects[s.Key()] = s
	return nil
}

func (v *View) putSkill(s Skill) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, ok := v.projects[s.ProjectID]; !ok {
		return unknownProject("DefineSkill", s.ProjectID)
	}
	if _, ok := v.subjects[SubjectKey{ProjectID: s.ProjectID, SubjectID: s.SubjectID}]; !ok {
		return shared.NewDomainError("catalog", "DefineSkill", shared.ErrUnknownSubject,
			fmt.Sprintf("subject %s/%s not found", s.ProjectID, s.SubjectID))
	}
	s.SelfReportingType = s.SelfReportingType.Normalize()
	v.skills[s.Ref()] = s
	return nil
}

func (v *View) addDependency(e DependencyEdge) error {
	if _, ok := v.skills[e.Dependent]; !ok {
		return unknownSkill("DefineDependency", e.Dependent)
	}
	if _, ok := v.skills[e.Prerequisite]; !ok {
		return unknownSkill("DefineDependency", e.Prerequisite)
	}
	return v.graph.AddEdge(e.Dependent, e.Prerequisite)
}

func (v *View) putBadge(b Badge) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if !b.IsGlobal() {
		if _, ok := v.projects[b.ProjectID]; !ok {
			return unknownProject("DefineBadge", b.ProjectID)
		}
	}
	for _, ref := range b.RequiredSkills {
		if _, ok := v.skills[ref]; !ok {
			return unknownSkill("DefineBadge", ref)
		}
	}
	for _, l := range b.RequiredLevels {
		if _, ok := v.projects[l.ProjectID]; !ok {
			return unknownProject("DefineBadge", l.ProjectID)
		}
	}
	v.badges[b.Key()] = b.clone()
	return nil
}

func unknownProject(op, id string) error {
	return shared.NewDomainError("catalog", op, shared.ErrUnknownProject, fmt.Sprintf("project %s not found", id))
}

func unknownSkill(op string, ref SkillRef) error {
	return shared.NewDomainError("catalog", op, shared.ErrUnknownSkill, fmt.Sprintf("skill %s not found", ref))
}

func unknownBadge(op string, key BadgeKey) error {
	return shared.NewDomainError("catalog", op, shared.ErrUnknownBadge, fmt.Sprintf("badge %s not found", key))
}
