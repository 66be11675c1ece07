package inmemdb

import (
	"context"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/module"
)

type moduleRepository struct {
	db *DB
}

var _ module.Repository = (*moduleRepository)(nil) // interface compliance check

func NewModuleRepository(db *DB) *moduleRepository {
	return &moduleRepository{db: db}
}

func copyModule(m module.Module) module.Module {
	m.Paragraphs = append([]string(nil), m.Paragraphs...)
	return m
}

func (repo *moduleRepository) CreateModule(_ context.Context, m module.Module) (module.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	m.ID = newID()
	m = copyModule(m)
	repo.db.modules[m.ID] = &m
	return copyModule(m), nil
}

func (repo *moduleRepository) GetModule(_ context.Context, id string) (module.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if m, ok := repo.db.modules[id]; ok {
		return copyModule(*m), nil
	}
	return module.Module{}, module.ErrNotFound
}

func (repo *moduleRepository) isAssigned(moduleID, studentID string) bool {
	for _, p := range repo.db.progress {
		if p.ModuleID == moduleID && p.StudentID == studentID {
			return true
		}
	}
	return false
}

func (repo *moduleRepository) QueryModules(_ context.Context, filter *module.QueryFilter, ordering []core.DBOrdering) ([]module.Module, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	mods := make([]module.Module, 0, len(repo.db.modules))
	for _, m := range repo.db.modules {
		if filter != nil {
			if filter.Search != "" && !(containsFold(m.Title, filter.Search) || containsFold(m.Description, filter.Search)) {
				continue
			}
			if filter.Level != "" && m.Level != filter.Level {
				continue
			}
			if filter.Curated != nil && m.IsCurated != *filter.Curated {
				continue
			}
			if filter.VisibleTo != "" && !(m.IsCurated || m.AdminID == filter.VisibleTo) {
				continue
			}
			if filter.AssignedTo != "" && !repo.isAssigned(m.ID, filter.AssignedTo) {
				continue
			}
		}
		mods = append(mods, copyModule(*m))
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: false}}
	}
	sortBy(mods, ordering, func(i int, field string) interface{} {
		m := mods[i]
		switch field {
		case "title":
			return m.Title
		case "level":
			return m.Level
		case "is_curated":
			return m.IsCurated
		case "created_at":
			return m.CreatedAt
		case "updated_at":
			return m.UpdatedAt
		}
		return nil
	})
	return mods, nil
}

func (repo *moduleRepository) UpdateModule(_ context.Context, m module.Module) (module.Module, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.modules[m.ID]; !ok {
		return module.Module{}, module.ErrNotFound
	}
	m = copyModule(m)
	repo.db.modules[m.ID] = &m
	return copyModule(m), nil
}

func (repo *moduleRepository) DeleteModule(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.modules[id]; !ok {
		return module.ErrNotFound
	}
	repo.db.deleteModule(id)
	return nil
}

// deleteModule removes a module and cascades like the SQL schema does.
func (db *DB) deleteModule(id string) {
	delete(db.modules, id)
	for pid, p := range db.progress {
		if p.ModuleID == id {
			delete(db.progress, pid)
		}
	}
	for sid, s := range db.submissions {
		if s.ModuleID == id {
			delete(db.submissions, sid)
		}
	}
	for _, e := range db.vocabulary {
		if e.ModuleID == id {
			e.ModuleID = ""
		}
	}
}
