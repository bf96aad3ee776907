package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// MemoryStore keeps everything behind one mutex. It mirrors the
// conditional-update semantics of the Postgres store so engine tests run
// against the same guarantees production sees.
type MemoryStore struct {
	mu           sync.Mutex
	nextID       int64
	nextTxID     int64
	requests     map[int64]*models.DeliveryRequest
	responses    map[int64][]models.DriverResponse
	references   map[string]*models.PaymentReference
	transactions []models.DriverTransaction
	drivers      map[int64]*models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[int64]*models.DeliveryRequest),
		responses:  make(map[int64][]models.DriverResponse),
		references: make(map[string]*models.PaymentReference),
		drivers:    make(map[int64]*models.Driver),
	}
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *models.DeliveryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id int64) (models.DeliveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return models.DeliveryRequest{}, ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) ClaimRequest(_ context.Context, requestID, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.RequestPending || time.Now().After(r.ExpiresAt) {
		return ErrRequestClosed
	}
	r.Status = models.RequestAccepted
	r.AssignedDriverID = driverID
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ExpireRequest(_ context.Context, requestID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return false, ErrNotFound
	}
	if r.Status != models.RequestPending {
		return false, nil
	}
	r.Status = models.RequestExpired
	r.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) CancelRequest(_ context.Context, requestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != models.RequestPending {
		return ErrRequestClosed
	}
	r.Status = models.RequestCancelled
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) AppendResponse(_ context.Context, resp models.DriverResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if resp.CreatedAt.IsZero() {
		resp.CreatedAt = time.Now()
	}
	m.responses[resp.RequestID] = append(m.responses[resp.RequestID], resp)
	return nil
}

func (m *MemoryStore) ResponsesForRequest(_ context.Context, requestID int64) ([]models.DriverResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DriverResponse, len(m.responses[requestID]))
	copy(out, m.responses[requestID])
	return out, nil
}

func (m *MemoryStore) CreateReference(_ context.Context, ref *models.PaymentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	ref.CreatedAt = now
	ref.UpdatedAt = now
	if ref.Status == "" {
		ref.Status = models.ReferencePending
	}
	cp := *ref
	m.references[ref.Reference] = &cp
	return nil
}

func (m *MemoryStore) GetReference(_ context.Context, reference string) (models.PaymentReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.references[reference]
	if !ok {
		return models.PaymentReference{}, ErrNotFound
	}
	return *ref, nil
}

func (m *MemoryStore) UpdateReferencePoll(_ context.Context, reference, pollURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.references[reference]
	if !ok {
		return ErrNotFound
	}
	ref.PollURL = pollURL
	ref.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) HasCompletedTransaction(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range m.transactions {
		if tx.Reference == reference && tx.Status == models.TransactionCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) SettlePayment(_ context.Context, reference string, terminal models.ReferenceStatus, amountCents int64) (SettleResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref, ok := m.references[reference]
	if !ok {
		return SettleResult{}, ErrNotFound
	}
	if ref.Status != models.ReferencePending {
		return SettleResult{Won: false}, nil
	}
	ref.Status = terminal
	ref.UpdatedAt = time.Now()

	txStatus := models.TransactionFailed
	amount := amountCents
	var newBalance int64
	if terminal == models.ReferenceCompleted {
		txStatus = models.TransactionCompleted
		d := m.driverLocked(ref.DriverID)
		d.BalanceCents += amountCents
		newBalance = d.BalanceCents
	} else {
		amount = 0
	}

	m.nextTxID++
	tx := models.DriverTransaction{
		ID:          m.nextTxID,
		DriverID:    ref.DriverID,
		AmountCents: amount,
		Reference:   reference,
		Status:      txStatus,
		CreatedAt:   time.Now(),
	}
	m.transactions = append(m.transactions, tx)
	return SettleResult{Won: true, NewBalance: newBalance, Transaction: tx}, nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, tx *models.DriverTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTxID++
	tx.ID = m.nextTxID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	m.transactions = append(m.transactions, *tx)
	return nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, driverID int64, limit int) ([]models.DriverTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DriverTransaction
	for _, tx := range m.transactions {
		if tx.DriverID == driverID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) EnsureDriver(_ context.Context, driverID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driverLocked(driverID)
	return nil
}

func (m *MemoryStore) GetDriver(_ context.Context, driverID int64) (models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return *d, nil
}

func (m *MemoryStore) ApplyBalance(_ context.Context, driverID, deltaCents int64, authorizedDebit bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.driverLocked(driverID)
	next := d.BalanceCents + deltaCents
	if next < 0 && !authorizedDebit {
		return d.BalanceCents, ErrInsufficientBalance
	}
	d.BalanceCents = next
	return next, nil
}

func (m *MemoryStore) driverLocked(driverID int64) *models.Driver {
	d, ok := m.drivers[driverID]
	if !ok {
		d = &models.Driver{ID: driverID}
		m.drivers[driverID] = d
	}
	return d
}
