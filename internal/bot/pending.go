package bot

import (
	"sync"
	"time"

	"github.com/stupiduntilnot/freepsy/internal/catalog"
)

// pendingListLimit bounds how many /modelchange keyboards stay answerable.
const pendingListLimit = 32

type pendingList struct {
	models  []catalog.Descriptor
	created time.Time
}

// modelLists remembers the model list behind each /modelchange keyboard,
// keyed by the keyboard's message id. Entries expire after ttl and the
// oldest entry is dropped once max is reached.
type modelLists struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	now   func() time.Time
	lists map[int64]pendingList
}

func newModelLists(max int, ttl time.Duration) *modelLists {
	return &modelLists{max: max, ttl: ttl, now: time.Now, lists: make(map[int64]pendingList)}
}

func (m *modelLists) put(messageID int64, models []catalog.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.evictLocked(now)
	for len(m.lists) >= m.max {
		m.dropOldestLocked()
	}
	m.lists[messageID] = pendingList{models: models, created: now}
}

func (m *modelLists) get(messageID int64) ([]catalog.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(m.now())
	l, ok := m.lists[messageID]
	return l.models, ok
}

func (m *modelLists) drop(messageID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, messageID)
}

func (m *modelLists) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lists)
}

func (m *modelLists) evictLocked(now time.Time) {
	for id, l := range m.lists {
		if now.Sub(l.created) > m.ttl {
			delete(m.lists, id)
		}
	}
}

func (m *modelLists) dropOldestLocked() {
	var (
		oldestID int64
		oldest   time.Time
		found    bool
	)
	for id, l := range m.lists {
		if !found || l.created.Before(oldest) || (l.created.Equal(oldest) && id < oldestID) {
			oldestID, oldest, found = id, l.created, true
		}
	}
	if found {
		delete(m.lists, oldestID)
	}
}
