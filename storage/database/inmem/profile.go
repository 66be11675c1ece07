package inmemdb

import (
	"context"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/profile"
)

type profileRepository struct {
	db *DB
}

var _ profile.Repository = (*profileRepository)(nil) // interface compliance check

func NewProfileRepository(db *DB) *profileRepository {
	return &profileRepository{db: db}
}

func (repo *profileRepository) CheckUniqueness(_ context.Context, username, email string, excluded ...profile.Profile) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, p := range repo.db.profiles {
		if isExcluded(*p, excluded) {
			continue
		}
		if username != "" && p.Username == username {
			return profile.ErrUsernameExists
		}
		if email != "" && p.Email == email {
			return profile.ErrEmailExists
		}
	}
	return nil
}

func (repo *profileRepository) CreateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if p.ID == "" {
		p.ID = newID()
	}
	repo.db.profiles[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) GetProfile(_ context.Context, filter profile.GetFilter) (profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if p, ok := repo.db.profiles[filter.ID]; ok {
			return *p, nil
		}
		return profile.Profile{}, profile.ErrNotFound
	}
	for _, p := range repo.db.profiles {
		if (filter.Username != "" && p.Username == filter.Username) || (filter.Username == "" && filter.Email != "" && p.Email == filter.Email) {
			return *p, nil
		}
	}
	return profile.Profile{}, profile.ErrNotFound
}

func (repo *profileRepository) QueryProfiles(_ context.Context, filter *profile.QueryFilter, ordering []core.DBOrdering) ([]profile.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	profiles := make([]profile.Profile, 0, len(repo.db.profiles))
	for _, p := range repo.db.profiles {
		if filter != nil {
			if filter.Search != "" &&
				!(containsFold(p.Name, filter.Search) || containsFold(p.Username, filter.Search) || containsFold(p.Email, filter.Search)) {
				continue
			}
			if len(filter.Roles) > 0 && !core.StringInSlice(p.Role, filter.Roles) {
				continue
			}
			if filter.AdminID != "" && p.AdminID != filter.AdminID {
				continue
			}
			if filter.IsActive != nil && p.IsActive != *filter.IsActive {
				continue
			}
			if !filter.CreatedFrom.IsZero() && p.CreatedAt.Before(filter.CreatedFrom) {
				continue
			}
			if !filter.CreatedTo.IsZero() && p.CreatedAt.After(filter.CreatedTo) {
				continue
			}
		}
		profiles = append(profiles, *p)
	}

	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at", Ascending: true}}
	}
	sortBy(profiles, ordering, func(i int, field string) interface{} {
		p := profiles[i]
		switch field {
		case "name":
			return p.Name
		case "username":
			return p.Username
		case "email":
			return p.Email
		case "role":
			return p.Role
		case "is_active":
			return p.IsActive
		case "created_at":
			return p.CreatedAt
		case "last_login":
			return p.LastLogin
		}
		return nil
	})
	return profiles, nil
}

func (repo *profileRepository) CountStudents(_ context.Context, adminID string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var n int
	for _, p := range repo.db.profiles {
		if p.IsStudent() && p.AdminID == adminID {
			n++
		}
	}
	return n, nil
}

func (repo *profileRepository) UpdateProfile(_ context.Context, p profile.Profile) (profile.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.profiles[p.ID]; !ok {
		return profile.Profile{}, profile.ErrNotFound
	}
	repo.db.profiles[p.ID] = &p
	return p, nil
}

func (repo *profileRepository) DeleteProfilesByID(_ context.Context, ids ...string) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, id := range ids {
		if _, ok := repo.db.profiles[id]; !ok {
			continue
		}
		repo.db.deleteProfile(id)
		n++
	}
	return n, nil
}

// deleteProfile removes a profile and cascades like the SQL schema does.
func (db *DB) deleteProfile(id string) {
	delete(db.profiles, id)
	for sid, p := range db.profiles {
		if p.AdminID == id {
			db.deleteProfile(sid)
		}
	}
	for mid, m := range db.modules {
		if m.AdminID == id {
			db.deleteModule(mid)
		}
	}
	for pid, p := range db.progress {
		if p.StudentID == id {
			delete(db.progress, pid)
		}
	}
	for sid, s := range db.submissions {
		if s.StudentID == id {
			delete(db.submissions, sid)
		}
	}
	for eid, e := range db.vocabulary {
		if e.StudentID == id {
			delete(db.vocabulary, eid)
		}
	}
	for sid, s := range db.subscriptions {
		if s.ProfileID == id {
			delete(db.subscriptions, sid)
		}
	}
}

func isExcluded(p profile.Profile, excluded []profile.Profile) bool {
	for _, ex := range excluded {
		if ex.ID == p.ID {
			return true
		}
	}
	return false
}
