package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"geonli-desk/internal/backend"
	"geonli-desk/internal/model"
	"geonli-desk/internal/normalize"
)

// ProjectStore owns the project list. Deleted project ids are remembered so
// sessions still pointing at them lose the reference the next time they are
// normalized.
type ProjectStore struct {
	backend backend.ProjectBackend
	bus     *Bus
	log     *zap.Logger

	mu       sync.RWMutex
	projects *ordered[model.Project]
	deleted  map[string]struct{}
}

func NewProjectStore(b backend.ProjectBackend, bus *Bus, logger *zap.Logger) *ProjectStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectStore{
		backend:  b,
		bus:      bus,
		log:      logger.Named("projects"),
		projects: newOrdered(func(p model.Project) string { return p.ID }),
		deleted:  make(map[string]struct{}),
	}
}

func (p *ProjectStore) Load(ctx context.Context) error {
	recs, err := p.backend.ListProjects(ctx)
	if err != nil {
		p.log.Warn("list projects failed", zap.Error(err))
		return fmt.Errorf("load projects: %w", err)
	}
	list, errs := normalize.Projects(recs)
	for _, e := range errs {
		p.log.Error("dropping malformed project", zap.String("kind", string(normalize.KindProject)), zap.Error(e))
	}

	p.mu.Lock()
	fresh := list[:0]
	for _, proj := range list {
		if _, gone := p.deleted[proj.ID]; !gone {
			fresh = append(fresh, proj)
		}
	}
	p.projects.Reset(fresh)
	p.mu.Unlock()

	p.bus.Publish(Event{Kind: ProjectsChanged})
	return nil
}

func (p *ProjectStore) Create(ctx context.Context, draft model.ProjectDraft) (model.Project, error) {
	draft.Name = strings.TrimSpace(draft.Name)
	if err := model.ValidateProjectDraft(draft); err != nil {
		return model.Project{}, err
	}
	rec, err := p.backend.CreateProject(ctx, draft)
	if err != nil {
		p.log.Warn("create project failed", zap.Error(err))
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}
	proj, err := normalize.Project(rec)
	if err != nil {
		p.log.Error("create project returned malformed entity", zap.String("kind", string(normalize.KindProject)), zap.Error(err))
		return model.Project{}, fmt.Errorf("create project: %w", err)
	}

	p.mu.Lock()
	p.projects.PushFront(proj)
	p.mu.Unlock()

	p.bus.Publish(Event{Kind: ProjectsChanged})
	return proj, nil
}

func (p *ProjectStore) Update(ctx context.Context, id string, patch model.ProjectPatch) (model.Project, error) {
	if err := model.ValidateProjectPatch(patch); err != nil {
		return model.Project{}, err
	}
	if _, ok := p.Get(id); !ok {
		return model.Project{}, fmt.Errorf("%w: %s", model.ErrUnknownProject, id)
	}
	rec, err := p.backend.UpdateProject(ctx, id, patch)
	if err != nil {
		p.log.Warn("update project failed", zap.String("project", id), zap.Error(err))
		return model.Project{}, fmt.Errorf("update project: %w", err)
	}
	proj, err := normalize.Project(rec)
	if err != nil {
		p.log.Error("update project returned malformed entity", zap.String("kind", string(normalize.KindProject)), zap.Error(err))
		return model.Project{}, fmt.Errorf("update project: %w", err)
	}

	p.mu.Lock()
	replaced := p.projects.Replace(id, proj)
	p.mu.Unlock()

	if replaced {
		p.bus.Publish(Event{Kind: ProjectsChanged})
	}
	return proj, nil
}

// Delete removes a project. Its sessions survive and are detached lazily.
func (p *ProjectStore) Delete(ctx context.Context, id string) error {
	if _, ok := p.Get(id); !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownProject, id)
	}
	if err := p.backend.DeleteProject(ctx, id); err != nil {
		p.log.Warn("delete project failed", zap.String("project", id), zap.Error(err))
		return fmt.Errorf("delete project: %w", err)
	}

	p.mu.Lock()
	p.projects.Remove(id)
	p.deleted[id] = struct{}{}
	p.mu.Unlock()

	p.log.Info("project deleted", zap.String("project", id))
	p.bus.Publish(Event{Kind: ProjectsChanged})
	return nil
}

// SessionsOf lists the sessions the server files under a project.
func (p *ProjectStore) SessionsOf(ctx context.Context, id string) ([]model.Session, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty project id", model.ErrUnknownProject)
	}
	recs, err := p.backend.ProjectSessions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list project sessions: %w", err)
	}
	list, errs := normalize.Sessions(recs, normalize.WithDeletedProjects(p.IsDeleted))
	for _, e := range errs {
		p.log.Error("dropping malformed session", zap.String("kind", string(normalize.KindSession)), zap.Error(e))
	}
	return list, nil
}

func (p *ProjectStore) IsDeleted(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.deleted[id]
	return ok
}

func (p *ProjectStore) Projects() []model.Project {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.projects.Values()
}

func (p *ProjectStore) Get(id string) (model.Project, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.projects.Get(id)
}
