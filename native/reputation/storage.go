package reputation

import (
	"encoding/json"
	"errors"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lendpool/core/types"
	"lendpool/storage"
)

var recordKeyPrefix = []byte("reputation/record/")

// recordKey derives the storage key for an account's interaction record. The
// keccak digest keeps keys fixed-width regardless of future identifier
// formats.
func recordKey(account types.Address) []byte {
	digest := ethcrypto.Keccak256(account[:])
	key := make([]byte, 0, len(recordKeyPrefix)+len(digest))
	key = append(key, recordKeyPrefix...)
	return append(key, digest...)
}

// store persists interaction records as JSON values.
type store struct {
	db storage.Database
}

func (s *store) get(account types.Address) (*InteractionRecord, error) {
	raw, err := s.db.Get(recordKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := &InteractionRecord{}
	if err := json.Unmarshal(raw, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *store) put(record *InteractionRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Put(recordKey(record.Account), raw)
}
