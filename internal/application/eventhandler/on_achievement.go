// Package eventhandler содержит обработчики доменных событий.
package eventhandler

import (
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/skillforge/internal/domain/shared"
	"github.com/alem-hub/skillforge/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON ACHIEVEMENT HANDLER
// Собирает ленту последних достижений пользователя (навык, уровень, бейдж)
// из событий движка. Лента живёт в памяти процесса и ограничена по размеру:
// источник истины - журнал событий, лента нужна только для уведомлений.
// ═══════════════════════════════════════════════════════════════════════════

// AchievementKind - тип достижения в ленте.
type AchievementKind string

const (
	KindSkill AchievementKind = "skill"
	KindLevel AchievementKind = "level"
	KindBadge AchievementKind = "badge"
)

// Achievement - одна запись ленты.
type Achievement struct {
	Kind       AchievementKind `json:"kind"`
	ProjectID  string          `json:"project_id,omitempty"`
	SubjectID  string          `json:"subject_id,omitempty"`
	SkillID    string          `json:"skill_id,omitempty"`
	BadgeID    string          `json:"badge_id,omitempty"`
	Level      int             `json:"level,omitempty"`
	AchievedAt time.Time       `json:"achieved_at"`
}

// FeedConfig содержит конфигурацию ленты.
type FeedConfig struct {
	// PerUser - сколько последних достижений хранить на пользователя.
	PerUser int
}

// DefaultFeedConfig возвращает конфигурацию по умолчанию.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{PerUser: 50}
}

// OnAchievementHandler обрабатывает события достижений.
type OnAchievementHandler struct {
	mu     sync.RWMutex
	feeds  map[string][]Achievement
	config FeedConfig
	logger *logger.Logger
}

// NewOnAchievementHandler создаёт обработчик.
func NewOnAchievementHandler(log *logger.Logger, config FeedConfig) *OnAchievementHandler {
	if log == nil {
		log = logger.Nop()
	}
	if config.PerUser <= 0 {
		config.PerUser = DefaultFeedConfig().PerUser
	}
	return &OnAchievementHandler{
		feeds:  make(map[string][]Achievement),
		config: config,
		logger: log.With(logger.Component("on_achievement")),
	}
}

// Register подписывает обработчик на все типы достижений.
func (h *OnAchievementHandler) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{shared.EventSkillAchieved, shared.EventLevelAchieved, shared.EventBadgeAchieved} {
		if err := sub.Subscribe(t, h.Handle); err != nil {
			return err
		}
	}
	return nil
}

// Handle реализует shared.EventHandler. Посторонние события игнорируются.
func (h *OnAchievementHandler) Handle(event shared.Event) error {
	var (
		userID string
		a      Achievement
	)
	switch e := event.(type) {
	case shared.SkillAchievedEvent:
		userID = e.UserID
		a = Achievement{Kind: KindSkill, ProjectID: e.ProjectID, SkillID: e.SkillID, AchievedAt: e.AchievedAt}
	case shared.LevelAchievedEvent:
		userID = e.UserID
		a = Achievement{Kind: KindLevel, ProjectID: e.ProjectID, SubjectID: e.SubjectID, Level: e.NewLevel, AchievedAt: e.AchievedAt}
	case shared.BadgeAchievedEvent:
		userID = e.UserID
		a = Achievement{Kind: KindBadge, ProjectID: e.ProjectID, BadgeID: e.BadgeID, AchievedAt: e.AchievedAt}
	default:
		return nil
	}

	h.mu.Lock()
	feed := append(h.feeds[userID], a)
	if len(feed) > h.config.PerUser {
		feed = append([]Achievement(nil), feed[len(feed)-h.config.PerUser:]...)
	}
	h.feeds[userID] = feed
	h.mu.Unlock()

	h.logger.Info("achievement unlocked",
		logger.UserID(userID),
		logger.String("kind", string(a.Kind)),
		logger.ProjectID(a.ProjectID),
		logger.Time("achieved_at", a.AchievedAt),
	)
	return nil
}

// Recent возвращает до limit последних достижений, самые новые первыми.
// Порядок - по времени достижения, а не по времени прихода события.
func (h *OnAchievementHandler) Recent(userID string, limit int) []Achievement {
	h.mu.RLock()
	out := append([]Achievement(nil), h.feeds[userID]...)
	h.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].AchievedAt.After(out[j].AchievedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
