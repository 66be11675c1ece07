package inmemdb

import (
	"context"
	"strings"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/vocabulary"
)

type vocabularyRepository struct {
	db *DB
}

var _ vocabulary.Repository = (*vocabularyRepository)(nil) // interface compliance check

func NewVocabularyRepository(db *DB) *vocabularyRepository {
	return &vocabularyRepository{db: db}
}

func (repo *vocabularyRepository) CreateEntry(_ context.Context, e vocabulary.Entry) (vocabulary.Entry, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, existing := range repo.db.vocabulary {
		if existing.StudentID == e.StudentID && strings.EqualFold(existing.Word, e.Word) {
			return vocabulary.Entry{}, vocabulary.ErrWordExists
		}
	}
	e.ID = newID()
	repo.db.vocabulary[e.ID] = &e
	return e, nil
}

func (repo *vocabularyRepository) GetEntry(_ context.Context, id string) (vocabulary.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if e, ok := repo.db.vocabulary[id]; ok {
		return *e, nil
	}
	return vocabulary.Entry{}, vocabulary.ErrNotFound
}

func (repo *vocabularyRepository) QueryEntries(_ context.Context, filter *vocabulary.QueryFilter, ordering []core.DBOrdering) ([]vocabulary.Entry, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	entries := make([]vocabulary.Entry, 0)
	for _, e := range repo.db.vocabulary {
		if filter != nil {
			if filter.StudentID != "" && e.StudentID != filter.StudentID {
				continue
			}
			if filter.ModuleID != "" && e.ModuleID != filter.ModuleID {
				continue
			}
			if filter.Search != "" && !(containsFold(e.Word, filter.Search) || containsFold(e.Definition, filter.Search)) {
				continue
			}
		}
		entries = append(entries, *e)
	}

	sortBy(entries, ordering, func(i int, field string) interface{} {
		switch field {
		case "word":
			return entries[i].Word
		case "created_at":
			return entries[i].CreatedAt
		}
		return nil
	})
	return entries, nil
}

func (repo *vocabularyRepository) DeleteEntry(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.vocabulary[id]; !ok {
		return vocabulary.ErrNotFound
	}
	delete(repo.db.vocabulary, id)
	return nil
}
