package state

import (
	"context"
	"encoding/json"
	"strconv"

	"govtoken/internal/domain"
)

// KeyCodec turns map keys into the strings used for persistence.
type KeyCodec[K comparable] struct {
	Encode func(K) string
	Decode func(string) (K, error)
}

var StringKeys = KeyCodec[string]{
	Encode: func(k string) string { return k },
	Decode: func(s string) (string, error) { return s, nil },
}

var AddressKeys = KeyCodec[domain.Address]{
	Encode: func(a domain.Address) string { return a.Hex() },
	Decode: domain.ParseAddress,
}

var MessageKeys = KeyCodec[domain.MessageID]{
	Encode: func(m domain.MessageID) string { return m.Hex() },
	Decode: domain.ParseMessageID,
}

var ChainKeys = KeyCodec[domain.ChainID]{
	Encode: func(c domain.ChainID) string { return strconv.FormatUint(uint64(c), 10) },
	Decode: func(s string) (domain.ChainID, error) {
		v, err := strconv.ParseUint(s, 10, 64)
		return domain.ChainID(v), err
	},
}

var AssetKeys = KeyCodec[domain.AssetID]{
	Encode: func(a domain.AssetID) string { return string(a) },
	Decode: func(s string) (domain.AssetID, error) { return domain.AssetID(s), nil },
}

// Map is a journaled key/value namespace.
type Map[K comparable, V any] struct {
	db    *DB
	name  string
	codec KeyCodec[K]
	data  map[K]V
}

// NewMap registers a namespace on db.
func NewMap[K comparable, V any](db *DB, namespace string, codec KeyCodec[K]) *Map[K, V] {
	m := &Map[K, V]{db: db, name: namespace, codec: codec, data: make(map[K]V)}
	db.register(m)
	return m
}

// Get returns the value for k and whether it is present.
func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.data[k]
	return v, ok
}

// Value returns the value for k, or the zero value.
func (m *Map[K, V]) Value(k K) V {
	return m.data[k]
}

// Set writes v under k inside the context's transaction.
func (m *Map[K, V]) Set(ctx context.Context, k K, v V) {
	tx := m.db.mustTx(ctx)
	prev, existed := m.data[k]
	tx.undo = append(tx.undo, func() {
		if existed {
			m.data[k] = prev
		} else {
			delete(m.data, k)
		}
	})
	tx.touch(m, k)
	m.data[k] = v
}

// Delete removes k inside the context's transaction.
func (m *Map[K, V]) Delete(ctx context.Context, k K) {
	prev, existed := m.data[k]
	if !existed {
		return
	}
	tx := m.db.mustTx(ctx)
	tx.undo = append(tx.undo, func() { m.data[k] = prev })
	tx.touch(m, k)
	delete(m.data, k)
}

func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// Range calls fn for every entry until fn returns false. Order is unspecified.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.data {
		if !fn(k, v) {
			return
		}
	}
}

func (m *Map[K, V]) namespace() string {
	return m.name
}

func (m *Map[K, V]) encodeEntry(key any) (string, []byte, bool, error) {
	k := key.(K)
	encoded := m.codec.Encode(k)
	v, ok := m.data[k]
	if !ok {
		return encoded, nil, false, nil
	}
	raw, err := json.Marshal(v)
	return encoded, raw, true, err
}

func (m *Map[K, V]) loadEntry(key string, raw []byte) error {
	k, err := m.codec.Decode(key)
	if err != nil {
		return err
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	m.data[k] = v
	return nil
}

// Value is a single-record namespace.
type Value[V any] struct {
	m *Map[string, V]
}

// NewValue registers a single-record namespace on db.
func NewValue[V any](db *DB, namespace string) *Value[V] {
	return &Value[V]{m: NewMap[string, V](db, namespace, StringKeys)}
}

func (v *Value[V]) Get() V {
	return v.m.Value("")
}

// Lookup returns the record and whether it was ever written.
func (v *Value[V]) Lookup() (V, bool) {
	return v.m.Get("")
}

func (v *Value[V]) Set(ctx context.Context, val V) {
	v.m.Set(ctx, "", val)
}
