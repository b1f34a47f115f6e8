package registry

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bpi-core/bpci-core/pkg/receipt"
)

// KV is the minimal key-value interface the registry persists receipts
// through. Implementations: an in-process map for tests, or
// pkg/kvdb.KVAdapter over a CometBFT-backed embedded database.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

var (
	ErrReceiptNotFound = errors.New("registry: receipt not found")
	ErrDuplicateReceipt = errors.New("registry: receipt_id already stored")
)

// ==== KV key layout ====
//
// registry:receipt:<receipt_id>                          -> StepReceipt (JSON)
// secondary indices are held in memory only; the KV store is the record of
// truth for the receipt itself, matching the ledger package's pattern of
// keeping the KV minimal and building richer views at the call site.

var keyReceiptPrefix = []byte("registry:receipt:")

func receiptKey(id string) []byte {
	return append(append([]byte(nil), keyReceiptPrefix...), []byte(id)...)
}

// indexEntry is one row in an in-memory secondary index, ordered by Key.
type indexEntry struct {
	Key       string // sort key: app_id, container_id+timestamp, or height
	ReceiptID string
}

// storedReceipt pairs a receipt with the block height it was committed at,
// so queries can filter by height range without a second lookup.
type storedReceipt struct {
	Receipt     *receipt.StepReceipt
	BlockHeight uint64
}

// Store is a single-writer receipt registry: one goroutine should call
// StoreReceipt, matching the ledger package's single-writer-from-consensus
// assumption, since receipts are committed in block order.
type Store struct {
	mu sync.RWMutex
	kv KV

	byID        map[string]storedReceipt
	byApp       []indexEntry // sorted by app_id
	byContainer []indexEntry // sorted by container_id+timestamp
	byHeight    []indexEntry // sorted by zero-padded decimal height
}

// NewStore creates a Store backed by kv. kv may be a pure in-memory map for
// tests or an embedded database adapter for a single-node deployment.
func NewStore(kv KV) *Store {
	return &Store{
		kv:   kv,
		byID: make(map[string]storedReceipt),
	}
}

// StoreReceipt inserts r, keyed by its ReceiptID, and maintains the
// secondary indices over app_id, (container, timestamp) and block_height.
// Re-inserting the same ReceiptID is rejected with ErrDuplicateReceipt; callers that
// need idempotent replay should check GetReceipt first.
func (s *Store) StoreReceipt(r *receipt.StepReceipt, blockHeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[r.ReceiptID]; exists {
		return ErrDuplicateReceipt
	}

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("registry: marshal receipt: %w", err)
	}
	if err := s.kv.Set(receiptKey(r.ReceiptID), b); err != nil {
		return fmt.Errorf("registry: persist receipt: %w", err)
	}

	s.byID[r.ReceiptID] = storedReceipt{Receipt: r, BlockHeight: blockHeight}
	s.insertSorted(&s.byApp, indexEntry{Key: r.AppID, ReceiptID: r.ReceiptID})
	s.insertSorted(&s.byContainer, indexEntry{Key: fmt.Sprintf("%s:%020d", r.ContainerID, r.Timestamp.UnixNano()), ReceiptID: r.ReceiptID})
	s.insertSorted(&s.byHeight, indexEntry{Key: fmt.Sprintf("%020d", blockHeight), ReceiptID: r.ReceiptID})
	return nil
}

func (s *Store) insertSorted(idx *[]indexEntry, e indexEntry) {
	i := sort.Search(len(*idx), func(i int) bool { return (*idx)[i].Key >= e.Key })
	*idx = append(*idx, indexEntry{})
	copy((*idx)[i+1:], (*idx)[i:])
	(*idx)[i] = e
}

// GetReceipt looks up a receipt by ID, first checking the in-memory index
// and falling back to the KV store for a cold read after restart.
func (s *Store) GetReceipt(id string) (*receipt.StepReceipt, error) {
	s.mu.RLock()
	if sr, ok := s.byID[id]; ok {
		s.mu.RUnlock()
		return sr.Receipt, nil
	}
	s.mu.RUnlock()

	b, err := s.kv.Get(receiptKey(id))
	if err != nil {
		return nil, fmt.Errorf("registry: read receipt: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrReceiptNotFound
	}
	var r receipt.StepReceipt
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("registry: unmarshal receipt: %w", err)
	}
	return &r, nil
}

// Query filters the stored receipts by params and returns a page bounded
// by params.PageSize, using an opaque cursor over the matching set's order.
func (s *Store) Query(params QueryParams) (*QueryResult, error) {
	start := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	offset, err := decodeCursor(params.Cursor)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	matches := make([]*receipt.StepReceipt, 0)
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		sr := s.byID[id]
		if !matchesQuery(sr.Receipt, sr.BlockHeight, params) {
			continue
		}
		matches = append(matches, sr.Receipt)
	}

	end := offset + pageSize
	hasMore := end < len(matches)
	if end > len(matches) {
		end = len(matches)
	}
	if offset > len(matches) {
		offset = len(matches)
	}
	page := matches[offset:end]

	result := &QueryResult{
		Receipts: page,
		Pagination: Pagination{
			PageSize: pageSize,
			HasMore:  hasMore,
		},
		QueryTimeMs: time.Since(start).Milliseconds(),
	}
	if hasMore {
		result.Pagination.NextCursor = encodeCursor(end)
	}
	return result, nil
}

func matchesQuery(r *receipt.StepReceipt, blockHeight uint64, p QueryParams) bool {
	if p.ReceiptID != "" && r.ReceiptID != p.ReceiptID {
		return false
	}
	if p.ExecutionID != "" && r.AppID != p.ExecutionID {
		return false
	}
	if !p.TimeFrom.IsZero() && r.Timestamp.Before(p.TimeFrom) {
		return false
	}
	if !p.TimeTo.IsZero() && r.Timestamp.After(p.TimeTo) {
		return false
	}
	if p.BlockHeightFrom > 0 && blockHeight < p.BlockHeightFrom {
		return false
	}
	if p.BlockHeightTo > 0 && blockHeight > p.BlockHeightTo {
		return false
	}
	if p.ComplianceOnly && r.Labels["policy_compliant"] == "false" {
		return false
	}
	return true
}

// heightKeyBytes renders a block height as a sortable big-endian key
// so range scans over the KV store return records in height order.
func heightKeyBytes(height uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, height)
	return b
}
