package xp

import (
	"context"
	"sync"
	"time"
)

// memStore — хранилище в памяти для тестов движка.
// Транзакция работает над копией и применяется только при успехе fn,
// как настоящая транзакция с откатом.
type memStore struct {
	mu       sync.Mutex
	progress map[string]Progress
	entries  []Entry
	nextID   int64
	now      func() time.Time

	failSave      error // SaveProgress вернёт эту ошибку
	forceConflict bool  // следующий InsertEntry упрётся в уникальный индекс

	active *memTx // открытая транзакция; nil вне InTx
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{progress: make(map[string]Progress), now: now}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		m:        m,
		progress: make(map[string]Progress, len(m.progress)),
		entries:  append([]Entry(nil), m.entries...),
		nextID:   m.nextID,
	}
	for k, v := range m.progress {
		tx.progress[k] = v
	}
	m.active = tx
	err := fn(tx)
	m.active = nil
	if err != nil {
		return err
	}
	m.progress = tx.progress
	m.entries = tx.entries
	m.nextID = tx.nextID
	return nil
}

func (m *memStore) GetProgress(ctx context.Context, userID string) (*Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memStore) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			sum += int64(e.XPAmount)
		}
	}
	return sum, nil
}

func (m *memStore) ActiveOn(ctx context.Context, date time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var users []string
	for id, p := range m.progress {
		if p.LastActiveDate != nil && p.LastActiveDate.Equal(date) {
			users = append(users, id)
		}
	}
	return users, nil
}

// seed кладёт агрегат пользователя напрямую.
func (m *memStore) seed(p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress[p.UserID] = p
}

func (m *memStore) userEntries(userID string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	m        *memStore
	progress map[string]Progress
	entries  []Entry
	nextID   int64
}

func (t *memTx) LockProgress(ctx context.Context, userID string, dailyGoal int) (*Progress, error) {
	p, ok := t.progress[userID]
	if !ok {
		p = Progress{UserID: userID, DailyGoal: dailyGoal}
		t.progress[userID] = p
	}
	return &p, nil
}

func (t *memTx) HasPositiveEntry(ctx context.Context, userID string, action ActionType, entityID string) (bool, error) {
	for _, e := range t.entries {
		if e.UserID == userID && e.ActionType == action && e.XPAmount > 0 &&
			e.RelatedEntityID != nil && *e.RelatedEntityID == entityID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) CountSince(ctx context.Context, userID string, action ActionType, since time.Time) (int, error) {
	n := 0
	for _, e := range t.entries {
		if e.UserID == userID && e.ActionType == action && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) CountFromSince(ctx context.Context, userID string, action ActionType, triggeredBy string, since time.Time) (int, error) {
	n := 0
	for _, e := range t.entries {
		if e.UserID == userID && e.ActionType == action && e.TriggeredBy != nil &&
			*e.TriggeredBy == triggeredBy && !e.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasEntrySince(ctx context.Context, userID string, since time.Time) (bool, error) {
	for _, e := range t.entries {
		if e.UserID == userID && !e.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *Entry) (bool, error) {
	if t.m.forceConflict {
		t.m.forceConflict = false
		return false, nil
	}
	if e.XPAmount > 0 && e.RelatedEntityID != nil && !e.ActionType.IsAdministrative() {
		dup, _ := t.HasPositiveEntry(ctx, e.UserID, e.ActionType, *e.RelatedEntityID)
		if dup {
			return false, nil
		}
	}
	t.nextID++
	e.ID = t.nextID
	e.CreatedAt = t.m.now()
	t.entries = append(t.entries, *e)
	return true, nil
}

func (t *memTx) EntityBalance(ctx context.Context, userID, entityID, entityType string) (int64, int64, error) {
	var credited, clawedBack int64
	for _, e := range t.entries {
		if e.UserID != userID || e.RelatedEntityID == nil || *e.RelatedEntityID != entityID {
			continue
		}
		if entityType != "" && (e.RelatedEntityType == nil || *e.RelatedEntityType != entityType) {
			continue
		}
		switch {
		case e.ActionType == ActionClawback:
			clawedBack += int64(e.XPAmount)
		case e.XPAmount > 0:
			credited += int64(e.XPAmount)
		}
	}
	return credited, clawedBack, nil
}

func (t *memTx) SaveProgress(ctx context.Context, p *Progress) error {
	if t.m.failSave != nil {
		return t.m.failSave
	}
	t.progress[p.UserID] = *p
	return nil
}

// stubGuard возвращает заранее заданное решение и запоминает,
// через что читался журнал и когда записан аудит.
type stubGuard struct {
	decision Decision
	err      error
	checks   []Check

	store     *memStore
	histories []History
	underLock []bool // History была открытой транзакцией с блокировкой пользователя
	counts    []int  // CountSince, прочитанный через переданную History
	recorded  []Flag // что пришло в Record
	recordTx  bool   // Record вызван при открытой транзакции
}

func (g *stubGuard) Evaluate(ctx context.Context, h History, c Check) (Decision, error) {
	g.checks = append(g.checks, c)
	g.histories = append(g.histories, h)
	g.underLock = append(g.underLock, g.store != nil && g.store.active != nil && History(g.store.active) == h)
	n, err := h.CountSince(ctx, c.UserID, c.Action, time.Time{})
	if err != nil {
		return Decision{}, err
	}
	g.counts = append(g.counts, n)
	return g.decision, g.err
}

func (g *stubGuard) Record(ctx context.Context, userID string, flags []Flag) {
	if g.store != nil && g.store.active != nil {
		g.recordTx = true
	}
	g.recorded = append(g.recorded, flags...)
}

type recordingQueue struct {
	users []string
}

func (q *recordingQueue) Enqueue(userID string) {
	q.users = append(q.users, userID)
}
