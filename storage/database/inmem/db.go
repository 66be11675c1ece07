package inmemdb

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
	"github.com/noteearly/noteearly/core/vocabulary"
)

// DB is an in-memory database. A single RWMutex guards all tables so that repositories can join them.
type DB struct {
	mutex sync.RWMutex

	profiles      map[string]*profile.Profile
	modules       map[string]*module.Module
	progress      map[string]*progress.Progress
	submissions   map[string]*progress.Submission
	vocabulary    map[string]*vocabulary.Entry
	plans         map[string]*billing.Plan
	subscriptions map[string]*billing.Subscription
}

func Open() *DB {
	return &DB{
		profiles:      make(map[string]*profile.Profile),
		modules:       make(map[string]*module.Module),
		progress:      make(map[string]*progress.Progress),
		submissions:   make(map[string]*progress.Submission),
		vocabulary:    make(map[string]*vocabulary.Entry),
		plans:         make(map[string]*billing.Plan),
		subscriptions: make(map[string]*billing.Subscription),
	}
}

func newID() string {
	return uuid.New().String()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// fieldGetter returns the value of an ordering field of the i-th item.
type fieldGetter func(i int, field string) interface{}

func less(a, b interface{}) bool {
	switch va := a.(type) {
	case string:
		return strings.ToLower(va) < strings.ToLower(b.(string))
	case int:
		return va < b.(int)
	case bool:
		return !va && b.(bool)
	case time.Time:
		return va.Before(b.(time.Time))
	}
	return false
}

func equal(a, b interface{}) bool {
	if ta, ok := a.(time.Time); ok {
		return ta.Equal(b.(time.Time))
	}
	return a == b
}

// sortBy stable sorts slice following the orderings. get must read from the same slice.
func sortBy(slice interface{}, ordering []core.DBOrdering, get fieldGetter) {
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(slice, func(i, j int) bool {
		for _, ord := range ordering {
			vi, vj := get(i, ord.Field), get(j, ord.Field)
			if vi == nil || equal(vi, vj) {
				continue
			}
			if ord.Ascending {
				return less(vi, vj)
			}
			return less(vj, vi)
		}
		return false
	})
}
