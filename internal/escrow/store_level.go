package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var (
	accountPrefix   = []byte("acct/")
	authorityPrefix = []byte("auth/")
)

// LevelStore persists records in an embedded LevelDB. The account payload and
// its domain tag live under separate keys and are always written in one batch.
type LevelStore struct {
	db    *leveldb.DB
	locks *keyedMutex
}

// NewLevelStore creates or opens a LevelDB database at path.
func NewLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelStore{db: db, locks: newKeyedMutex()}, nil
}

func (l *LevelStore) Close() error {
	return l.db.Close()
}

// Ping reports whether the database is still open.
func (l *LevelStore) Ping(context.Context) error {
	_, err := l.db.GetProperty("leveldb.stats")
	return err
}

func (l *LevelStore) Create(ctx context.Context, rec Record, onCreate func(context.Context) error) error {
	payload, err := rec.Account.MarshalBinary()
	if err != nil {
		return err
	}
	unlock := l.locks.Lock(rec.Address)
	defer unlock()

	exists, err := l.db.Has(accountKey(rec.Address), nil)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("create %s: %w", rec.Address.Hex(), ErrAlreadyExists)
	}
	if onCreate != nil {
		if err := onCreate(ctx); err != nil {
			return err
		}
	}
	return l.write(rec.Address, payload, rec.Domain)
}

func (l *LevelStore) Get(_ context.Context, addr common.Hash) (Record, error) {
	return l.read(addr)
}

func (l *LevelStore) Update(ctx context.Context, addr common.Hash, fn func(context.Context, *Record) error) error {
	unlock := l.locks.Lock(addr)
	defer unlock()

	current, err := l.read(addr)
	if err != nil {
		return err
	}
	next, changed, err := applyUpdate(ctx, current, fn)
	if err != nil || !changed {
		return err
	}
	payload, err := next.Account.MarshalBinary()
	if err != nil {
		return err
	}
	return l.write(addr, payload, next.Domain)
}

func (l *LevelStore) ListActive(_ context.Context, limit int) ([]Record, error) {
	iter := l.db.NewIterator(util.BytesPrefix(accountPrefix), nil)
	defer iter.Release()

	out := make([]Record, 0)
	for iter.Next() {
		addr := common.BytesToHash(iter.Key()[len(accountPrefix):])
		var acc Account
		if err := acc.UnmarshalBinary(iter.Value()); err != nil {
			return nil, fmt.Errorf("record %s: %w", addr.Hex(), err)
		}
		if !acc.LimitOrder.IsActive {
			continue
		}
		domain, err := l.domain(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, Record{Address: addr, Account: acc, Domain: domain})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *LevelStore) read(addr common.Hash) (Record, error) {
	payload, err := l.db.Get(accountKey(addr), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, fmt.Errorf("get %s: %w", addr.Hex(), ErrNotFound)
	}
	if err != nil {
		return Record{}, err
	}
	var acc Account
	if err := acc.UnmarshalBinary(payload); err != nil {
		return Record{}, fmt.Errorf("record %s: %w", addr.Hex(), err)
	}
	domain, err := l.domain(addr)
	if err != nil {
		return Record{}, err
	}
	return Record{Address: addr, Account: acc, Domain: domain}, nil
}

func (l *LevelStore) domain(addr common.Hash) (Domain, error) {
	raw, err := l.db.Get(authorityKey(addr), nil)
	if err != nil {
		return 0, fmt.Errorf("authority %s: %w", addr.Hex(), err)
	}
	if len(raw) != 1 || !Domain(raw[0]).Valid() {
		return 0, fmt.Errorf("authority %s: corrupt tag %x", addr.Hex(), raw)
	}
	return Domain(raw[0]), nil
}

func (l *LevelStore) write(addr common.Hash, payload []byte, domain Domain) error {
	batch := new(leveldb.Batch)
	batch.Put(accountKey(addr), payload)
	batch.Put(authorityKey(addr), []byte{byte(domain)})
	return l.db.Write(batch, nil)
}

func accountKey(addr common.Hash) []byte {
	return append(append([]byte{}, accountPrefix...), addr[:]...)
}

func authorityKey(addr common.Hash) []byte {
	return append(append([]byte{}, authorityPrefix...), addr[:]...)
}
