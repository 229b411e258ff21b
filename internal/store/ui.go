package store

import (
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"geonli-desk/internal/highlight"
	"geonli-desk/internal/model"
)

const (
	MinSidebarWidth     = 20
	MaxSidebarWidth     = 80
	DefaultSidebarWidth = 34
	DefaultTheme        = "dark"

	prefTheme        = "ui.theme"
	prefSidebarWidth = "ui.sidebar_width"
)

// Preferences persists cosmetic settings across runs.
type Preferences interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Filter selects which sessions the list shows.
type Filter struct {
	SearchText   string
	ShowArchived bool
}

// VisibleSessions applies f to all without modifying it. The archived
// partition is exclusive: archived sessions show only in the archived view.
func VisibleSessions(all []model.Session, f Filter) []model.Session {
	out := make([]model.Session, 0, len(all))
	for _, s := range all {
		if s.Archived != f.ShowArchived {
			continue
		}
		if !highlight.Contains(s.Name, f.SearchText) {
			continue
		}
		out = append(out, s)
	}
	return out
}

type UIState struct {
	ActiveMenu   string
	SearchText   string
	ShowArchived bool
	Theme        string
	SidebarWidth int
}

// UIStore holds presentation state. Only Theme and SidebarWidth survive a
// restart.
type UIStore struct {
	bus   *Bus
	prefs Preferences
	log   *zap.Logger

	mu    sync.RWMutex
	state UIState
}

func NewUIStore(bus *Bus, prefs Preferences, logger *zap.Logger) *UIStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	u := &UIStore{
		bus:   bus,
		prefs: prefs,
		log:   logger.Named("ui"),
		state: UIState{Theme: DefaultTheme, SidebarWidth: DefaultSidebarWidth},
	}
	u.restore()
	return u
}

func (u *UIStore) restore() {
	if u.prefs == nil {
		return
	}
	if v, ok, err := u.prefs.Get(prefTheme); err != nil {
		u.log.Warn("read theme preference", zap.Error(err))
	} else if ok && strings.TrimSpace(v) != "" {
		u.state.Theme = strings.TrimSpace(v)
	}
	if v, ok, err := u.prefs.Get(prefSidebarWidth); err != nil {
		u.log.Warn("read sidebar preference", zap.Error(err))
	} else if ok {
		if n, err := strconv.Atoi(v); err == nil {
			u.state.SidebarWidth = clampSidebar(n)
		}
	}
}

func clampSidebar(n int) int {
	if n < MinSidebarWidth {
		return MinSidebarWidth
	}
	if n > MaxSidebarWidth {
		return MaxSidebarWidth
	}
	return n
}

func (u *UIStore) State() UIState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

func (u *UIStore) Filter() Filter {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return Filter{SearchText: u.state.SearchText, ShowArchived: u.state.ShowArchived}
}

func (u *UIStore) update(fn func(*UIState) bool) {
	u.mu.Lock()
	changed := fn(&u.state)
	u.mu.Unlock()
	if changed {
		u.bus.Publish(Event{Kind: UIChanged})
	}
}

func (u *UIStore) SetSearchText(text string) {
	u.update(func(s *UIState) bool {
		if s.SearchText == text {
			return false
		}
		s.SearchText = text
		return true
	})
}

func (u *UIStore) SetShowArchived(show bool) {
	u.update(func(s *UIState) bool {
		if s.ShowArchived == show {
			return false
		}
		s.ShowArchived = show
		return true
	})
}

func (u *UIStore) ToggleArchived() bool {
	var show bool
	u.update(func(s *UIState) bool {
		s.ShowArchived = !s.ShowArchived
		show = s.ShowArchived
		return true
	})
	return show
}

// OpenMenu records which session's action menu is open. An empty id closes
// it.
func (u *UIStore) OpenMenu(sessionID string) {
	u.update(func(s *UIState) bool {
		if s.ActiveMenu == sessionID {
			return false
		}
		s.ActiveMenu = sessionID
		return true
	})
}

func (u *UIStore) CloseMenu() { u.OpenMenu("") }

func (u *UIStore) SetTheme(theme string) error {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		theme = DefaultTheme
	}
	u.update(func(s *UIState) bool {
		if s.Theme == theme {
			return false
		}
		s.Theme = theme
		return true
	})
	return u.persist(prefTheme, theme)
}

// SetSidebarWidth clamps n to the allowed range, stores it and returns the
// value used.
func (u *UIStore) SetSidebarWidth(n int) (int, error) {
	n = clampSidebar(n)
	u.update(func(s *UIState) bool {
		if s.SidebarWidth == n {
			return false
		}
		s.SidebarWidth = n
		return true
	})
	return n, u.persist(prefSidebarWidth, strconv.Itoa(n))
}

func (u *UIStore) persist(key, value string) error {
	if u.prefs == nil {
		return nil
	}
	if err := u.prefs.Set(key, value); err != nil {
		u.log.Warn("persist preference", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}
