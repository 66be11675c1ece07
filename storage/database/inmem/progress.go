package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/progress"
)

type progressRepository struct {
	db *DB
}

var _ progress.Repository = (*progressRepository)(nil) // interface compliance check

func NewProgressRepository(db *DB) *progressRepository {
	return &progressRepository{db: db}
}

func (repo *progressRepository) find(studentID, moduleID string) *progress.Progress {
	for _, p := range repo.db.progress {
		if p.StudentID == studentID && p.ModuleID == moduleID {
			return p
		}
	}
	return nil
}

// withDetails fills the read-only fields from the joined tables.
func (repo *progressRepository) withDetails(p progress.Progress) progress.Progress {
	if s, ok := repo.db.profiles[p.StudentID]; ok {
		p.StudentName = s.Name
		p.StudentUsername = s.Username
	}
	if m, ok := repo.db.modules[p.ModuleID]; ok {
		p.ModuleTitle = m.Title
		p.ParagraphCount = len(m.Paragraphs)
	}
	return p
}

func (repo *progressRepository) Assign(_ context.Context, moduleID string, studentIDs []string, at time.Time) ([]progress.Progress, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	created := make([]progress.Progress, 0, len(studentIDs))
	for _, sid := range studentIDs {
		if repo.find(sid, moduleID) != nil {
			continue
		}
		p := progress.Progress{
			ID:         newID(),
			StudentID:  sid,
			ModuleID:   moduleID,
			Status:     progress.StatusNotStarted,
			AssignedAt: at,
			UpdatedAt:  at,
		}
		repo.db.progress[p.ID] = &p
		created = append(created, repo.withDetails(p))
	}
	return created, nil
}

func (repo *progressRepository) Unassign(_ context.Context, moduleID string, studentIDs ...string) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, sid := range studentIDs {
		if p := repo.find(sid, moduleID); p != nil {
			delete(repo.db.progress, p.ID)
			n++
		}
	}
	return n, nil
}

func (repo *progressRepository) GetProgress(_ context.Context, studentID, moduleID string) (progress.Progress, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if p := repo.find(studentID, moduleID); p != nil {
		return repo.withDetails(*p), nil
	}
	return progress.Progress{}, progress.ErrNotFound
}

func (repo *progressRepository) UpdateProgress(_ context.Context, p progress.Progress) (progress.Progress, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	return repo.update(p)
}

func (repo *progressRepository) update(p progress.Progress) (progress.Progress, error) {
	if _, ok := repo.db.progress[p.ID]; !ok {
		return progress.Progress{}, progress.ErrNotFound
	}
	p = repo.withDetails(p)
	stored := p
	repo.db.progress[p.ID] = &stored
	return p, nil
}

func (repo *progressRepository) SaveSubmission(_ context.Context, p progress.Progress, s progress.Submission) (progress.Progress, progress.Submission, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	p, err := repo.update(p)
	if err != nil {
		return progress.Progress{}, progress.Submission{}, err
	}

	for _, existing := range repo.db.submissions {
		if existing.StudentID == s.StudentID && existing.ModuleID == s.ModuleID && existing.ParagraphIndex == s.ParagraphIndex {
			existing.Summary = s.Summary
			existing.UpdatedAt = s.UpdatedAt
			return p, *existing, nil
		}
	}
	s.ID = newID()
	repo.db.submissions[s.ID] = &s
	return p, s, nil
}

func (repo *progressRepository) QuerySubmissions(_ context.Context, studentID, moduleID string) ([]progress.Submission, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	subs := make([]progress.Submission, 0)
	for _, s := range repo.db.submissions {
		if s.StudentID == studentID && s.ModuleID == moduleID {
			subs = append(subs, *s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ParagraphIndex < subs[j].ParagraphIndex })
	return subs, nil
}

func (repo *progressRepository) QueryProgress(_ context.Context, filter *progress.QueryFilter, ordering []core.DBOrdering) ([]progress.Progress, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rows := make([]progress.Progress, 0, len(repo.db.progress))
	for _, p := range repo.db.progress {
		if filter != nil {
			if filter.StudentID != "" && p.StudentID != filter.StudentID {
				continue
			}
			if filter.ModuleID != "" && p.ModuleID != filter.ModuleID {
				continue
			}
			if filter.Status != "" && p.Status != filter.Status {
				continue
			}
			if filter.AdminID != "" {
				if s, ok := repo.db.profiles[p.StudentID]; !ok || s.AdminID != filter.AdminID {
					continue
				}
			}
		}
		rows = append(rows, repo.withDetails(*p))
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "assigned_at", Ascending: false}}
	}
	sortBy(rows, ordering, func(i int, field string) interface{} {
		p := rows[i]
		switch field {
		case "status":
			return p.Status
		case "current_paragraph":
			return p.CurrentParagraph
		case "assigned_at":
			return p.AssignedAt
		case "started_at":
			return p.StartedAt
		case "completed_at":
			return p.CompletedAt
		case "updated_at":
			return p.UpdatedAt
		}
		return nil
	})
	return rows, nil
}
