package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/metrics"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/model"
	"github.com/lipeng19940807-debug/smash-ai-badminton/internal/repository"
)

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// memLedger is an in-memory LedgerStore with per-user locking.
type memLedger struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	accounts map[string]model.LedgerAccount
	txs      map[string][]model.LedgerTransaction
	seq      int64
	hold     map[string]chan struct{} // blocks inside the user lock until closed
	failNext error
}

func newMemLedger() *memLedger {
	return &memLedger{
		locks:    make(map[string]*sync.Mutex),
		accounts: make(map[string]model.LedgerAccount),
		txs:      make(map[string][]model.LedgerTransaction),
		hold:     make(map[string]chan struct{}),
	}
}

func (m *memLedger) userLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *memLedger) GetAccount(_ context.Context, userID string) (*model.LedgerAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memLedger) WithAccountLock(_ context.Context, userID string, fn repository.AdjustFunc) (*model.LedgerTransaction, error) {
	l := m.userLock(userID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	hold := m.hold[userID]
	cur, ok := m.accounts[userID]
	if !ok {
		cur = model.LedgerAccount{UserID: userID}
	}
	fail := m.failNext
	m.failNext = nil
	m.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if fail != nil {
		return nil, fail
	}

	next, entry, err := fn(cur)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errors.New("no transaction")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if creditOnce(entry) {
		for _, prev := range m.txs[userID] {
			if prev.Type == entry.Type && prev.RelatedEntity != nil && *prev.RelatedEntity == *entry.RelatedEntity {
				return nil, repository.ErrDuplicate
			}
		}
	}
	m.seq++
	entry.Seq = m.seq
	entry.CreatedAt = time.Now()
	next.UpdatedAt = entry.CreatedAt
	m.accounts[userID] = next
	m.txs[userID] = append(m.txs[userID], *entry)
	return entry, nil
}

// creditOnce mirrors the partial unique index on gift and purchase credits.
func creditOnce(t *model.LedgerTransaction) bool {
	return t.RelatedEntity != nil && (t.Type == model.TxGift || t.Type == model.TxPurchase)
}

func (m *memLedger) ListTransactions(_ context.Context, userID string, limit, offset int) ([]model.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.txs[userID]
	out := []model.LedgerTransaction{}
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memLedger) AccountIDs(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memLedger) Snapshot(_ context.Context, userID string) (*model.LedgerAccount, []model.LedgerTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	if !ok {
		return nil, nil, repository.ErrNotFound
	}
	return &a, append([]model.LedgerTransaction(nil), m.txs[userID]...), nil
}

func (m *memLedger) history(userID string) []model.LedgerTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerTransaction(nil), m.txs[userID]...)
}

// memVideos is an in-memory VideoStore.
type memVideos struct {
	mu       sync.Mutex
	videos   map[string]model.Video
	failNext error
}

func newMemVideos() *memVideos {
	return &memVideos{videos: make(map[string]model.Video)}
}

func (m *memVideos) Insert(_ context.Context, v *model.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	v.CreatedAt = time.Now()
	m.videos[v.ID] = *v
	return nil
}

func (m *memVideos) FindForOwner(_ context.Context, id, ownerID string) (*model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok || v.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &v, nil
}

func (m *memVideos) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]model.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Video
	for _, v := range m.videos {
		if v.OwnerID == ownerID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.Video{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memAnalyses is an in-memory AnalysisStore.
type memAnalyses struct {
	mu       sync.Mutex
	results  map[string]model.AnalysisResult
	failNext error
}

func newMemAnalyses() *memAnalyses {
	return &memAnalyses{results: make(map[string]model.AnalysisResult)}
}

func (m *memAnalyses) Insert(_ context.Context, a *model.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	a.CreatedAt = time.Now()
	m.results[a.ID] = *a
	return nil
}

func (m *memAnalyses) FindForOwner(_ context.Context, id, ownerID string) (*model.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.results[id]
	if !ok || a.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

func (m *memAnalyses) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]model.AnalysisResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AnalysisResult
	for _, a := range m.results {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.AnalysisResult{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memAnalyses) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// memPurchases is an in-memory PurchaseStore.
type memPurchases struct {
	mu           sync.Mutex
	purchases    map[string]model.Purchase
	failMarkPaid error
}

func newMemPurchases() *memPurchases {
	return &memPurchases{purchases: make(map[string]model.Purchase)}
}

func (m *memPurchases) Insert(_ context.Context, p *model.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.purchases[p.ID] = *p
	return nil
}

func (m *memPurchases) FindByID(_ context.Context, id string) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.purchases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *memPurchases) ListByUser(_ context.Context, userID string, limit, offset int) ([]model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Purchase{}
	for _, p := range m.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.Purchase{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPurchases) MarkPaid(_ context.Context, id, paymentRef string) (*model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failMarkPaid; err != nil {
		m.failMarkPaid = nil
		return nil, err
	}
	p, ok := m.purchases[id]
	if !ok || p.Status != model.PurchasePending {
		return nil, repository.ErrNotFound
	}
	now := time.Now()
	p.Status = model.PurchasePaid
	p.PaidAt = &now
	p.UpdatedAt = now
	if paymentRef != "" {
		p.PaymentRef = &paymentRef
	}
	m.purchases[id] = p
	return &p, nil
}
