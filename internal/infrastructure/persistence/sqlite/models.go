package sqlite

// ══════════════════════════════════════════════════════════════════════════════
// МОДЕЛИ
// Время хранится в миллисекундах Unix: точность событий - миллисекунда.
// Seq сохраняет порядок вставки для LoadAll и ListByUser.
// ══════════════════════════════════════════════════════════════════════════════

type projectModel struct {
	Seq              uint   `gorm:"primaryKey;autoIncrement"`
	ID               string `gorm:"size:128;uniqueIndex"`
	Name             string
	LevelDisplayName string
	Levels           string
}

func (projectModel) TableName() string { return "projects" }

type subjectModel struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"size:128;uniqueIndex:idx_subject_key"`
	ID        string `gorm:"size:128;uniqueIndex:idx_subject_key"`
	Name      string
	Levels    string
}

func (subjectModel) TableName() string { return "subjects" }

type skillModel struct {
	Seq                                uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID                          string `gorm:"size:128;uniqueIndex:idx_skill_ref"`
	ID                                 string `gorm:"size:128;uniqueIndex:idx_skill_ref"`
	SubjectID                          string `gorm:"size:128"`
	Name                               string
	PointIncrement                     int
	NumPerformToCompletion             int
	PointIncrementInterval             int
	NumMaxOccurrencesIncrementInterval int
	SelfReportingType                  string `gorm:"size:20"`
}

func (skillModel) TableName() string { return "skills" }

type dependencyModel struct {
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID      string `gorm:"size:128;uniqueIndex:idx_dependency_edge"`
	DependentID    string `gorm:"size:128;uniqueIndex:idx_dependency_edge"`
	PrerequisiteID string `gorm:"size:128;uniqueIndex:idx_dependency_edge"`
}

func (dependencyModel) TableName() string { return "skill_dependencies" }

type badgeModel struct {
	Seq       uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID string `gorm:"size:128;uniqueIndex:idx_badge_key"`
	ID        string `gorm:"size:128;uniqueIndex:idx_badge_key"`
	Name      string
	Enabled   bool
}

func (badgeModel) TableName() string { return "badges" }

type badgeSkillModel struct {
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	BadgeProjectID string `gorm:"size:128;index:idx_badge_skill_owner"`
	BadgeID        string `gorm:"size:128;index:idx_badge_skill_owner"`
	ProjectID      string `gorm:"size:128"`
	SkillID        string `gorm:"size:128"`
}

func (badgeSkillModel) TableName() string { return "badge_skills" }

type badgeLevelModel struct {
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	BadgeProjectID string `gorm:"size:128;index:idx_badge_level_owner"`
	BadgeID        string `gorm:"size:128;index:idx_badge_level_owner"`
	ProjectID      string `gorm:"size:128"`
	MinLevel       int
}

func (badgeLevelModel) TableName() string { return "badge_levels" }

type pointEventModel struct {
	Seq          uint   `gorm:"primaryKey;autoIncrement"`
	ID           string `gorm:"size:64;uniqueIndex"`
	UserID       string `gorm:"size:128;uniqueIndex:idx_point_occurrence;index:idx_point_user"`
	ProjectID    string `gorm:"size:128;uniqueIndex:idx_point_occurrence"`
	SkillID      string `gorm:"size:128;uniqueIndex:idx_point_occurrence"`
	PerformedAt  int64  `gorm:"uniqueIndex:idx_point_occurrence"`
	Source       string `gorm:"size:32"`
	Outcome      string `gorm:"size:16"`
	RecordedAtMs int64
	RequestID    *string `gorm:"size:64;uniqueIndex"`
}

func (pointEventModel) TableName() string { return "point_events" }

type selfReportModel struct {
	ID            string `gorm:"size:64;primaryKey"`
	UserID        string `gorm:"size:128"`
	ProjectID     string `gorm:"size:128"`
	SkillID       string `gorm:"size:128"`
	RequestedAtMs int64  `gorm:"index"`
	State         string `gorm:"size:16;index"`
	ResolvedAtMs  *int64
	// EmissionPending: заявка одобрена, событие ещё не записано.
	EmissionPending bool
}

func (selfReportModel) TableName() string { return "self_report_requests" }
