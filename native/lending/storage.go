package lending

import (
	"encoding/json"
	"errors"
	"strings"

	"lendpool/core/types"
	"lendpool/storage"
)

const (
	lenderKeyPrefix   = "lending/lender/"
	borrowerKeyPrefix = "lending/borrower/"
	poolKey           = "lending/pool"
)

// Store persists ledger state as JSON records in a key-value database. Get
// calls unmarshal fresh copies, so callers mutate working copies that reach
// storage only through Put.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func (s *Store) GetLender(addr types.Address) (*LenderPosition, error) {
	raw, err := s.db.Get([]byte(lenderKeyPrefix + addr.Hex()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	position := &LenderPosition{}
	if err := json.Unmarshal(raw, position); err != nil {
		return nil, err
	}
	return position, nil
}

func (s *Store) PutLender(position *LenderPosition) error {
	raw, err := json.Marshal(position)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(lenderKeyPrefix+position.Address.Hex()), raw)
}

func (s *Store) GetBorrower(addr types.Address) (*BorrowerPosition, error) {
	raw, err := s.db.Get([]byte(borrowerKeyPrefix + addr.Hex()))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	position := &BorrowerPosition{}
	if err := json.Unmarshal(raw, position); err != nil {
		return nil, err
	}
	return position, nil
}

func (s *Store) PutBorrower(position *BorrowerPosition) error {
	raw, err := json.Marshal(position)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(borrowerKeyPrefix+position.Address.Hex()), raw)
}

func (s *Store) ListBorrowers() ([]types.Address, error) {
	var addrs []types.Address
	var parseErr error
	err := s.db.Iterate([]byte(borrowerKeyPrefix), func(key, _ []byte) bool {
		hex := strings.TrimPrefix(string(key), borrowerKeyPrefix)
		addr, err := types.ParseAddress(hex)
		if err != nil {
			parseErr = err
			return false
		}
		addrs = append(addrs, addr)
		return true
	})
	if err != nil {
		return nil, err
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return addrs, nil
}

func (s *Store) GetPool() (*PoolState, error) {
	raw, err := s.db.Get([]byte(poolKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pool := &PoolState{}
	if err := json.Unmarshal(raw, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *Store) PutPool(pool *PoolState) error {
	raw, err := json.Marshal(pool)
	if err != nil {
		return err
	}
	return s.db.Put([]byte(poolKey), raw)
}
