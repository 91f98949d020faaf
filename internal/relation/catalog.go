package relation

import (
	"context"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"strata/internal/errs"
	"strata/internal/expr"
	"strata/internal/kv"
	"strata/internal/value"
)

// catalogRelationID is the system relation id spec.md §4.4/§6 reserves for
// the catalog itself: "Catalog entries live under relation_id = 0 with a
// single string column (the relation name) as the key, pointing either to a
// RelationHandle (MessagePack) or to a small integer id."
const catalogRelationID uint64 = 0

// counterKey is the catalog's own reserved name for the monotonic relation-id
// counter, "persisted as system record RelationId(0)". No user relation may
// be named this, since catalogSchema's key space is shared between the two.
const counterKey = "\x00relation_id_counter"

func catalogSchema() *RelationSchema {
	schema, err := NewRelationSchema(
		"_catalog",
		[]ColumnDef{{Name: "name", Type: value.ColumnType{Tag: value.TString}}},
		[]ColumnDef{{Name: "payload", Type: value.ColumnType{Tag: value.TBytes}}},
		Hidden,
		TriggerSet{},
	)
	if err != nil {
		// catalogSchema is a fixed literal shape; a failure here is a
		// programmer error, not a runtime condition.
		panic(err)
	}
	return schema
}

// Catalog is the name -> RelationHandle directory of spec.md §4.4, backed by
// a StoredRelation pinned to catalogRelationID, plus the monotonic counter
// new relation ids are allocated from.
type Catalog struct {
	rel *StoredRelation
}

func NewCatalog() *Catalog {
	return &Catalog{rel: New(catalogSchema(), catalogRelationID)}
}

// columnHandle is a ColumnDef stripped of its Default generator func, which
// cannot cross a MessagePack boundary; a relation reloaded from the catalog
// loses any Default it declared, same limitation spec.md leaves to the
// imperative layer (defaults are re-applied at the call site, not at rest).
type columnHandle struct {
	Name string           `msgpack:"name"`
	Type value.ColumnType `msgpack:"type"`
}

// RelationHandle is the persisted, MessagePack-safe shape of a
// RelationSchema: everything needed to reconstruct a StoredRelation on
// catalog lookup.
type RelationHandle struct {
	ID          uint64             `msgpack:"id"`
	Keys        []columnHandle     `msgpack:"keys"`
	NonKeys     []columnHandle     `msgpack:"non_keys"`
	AccessLevel uint8              `msgpack:"access_level"`
	OnPut       []string           `msgpack:"on_put,omitempty"`
	OnRm        []string           `msgpack:"on_rm,omitempty"`
	OnReplace   []string           `msgpack:"on_replace,omitempty"`
	Indexes     []indexHandle      `msgpack:"indexes,omitempty"`
}

// IndexKind names which Index implementation a persisted indexHandle
// rebuilds into.
type IndexKind uint8

const (
	IndexPlain IndexKind = iota
	IndexFTS
	IndexLSH
)

// indexHandle is the persisted shape of an IndexDef: just enough to
// rebuild the extractor as a single-column Binding on catalog reopen.
// Multi-column or expression extractors are a direct-construction-only
// feature (NewPlainIndex et al., called by a caller that holds the
// *expr.Bytecode itself); only the common single-column case round-trips
// through the catalog.
type indexHandle struct {
	Name   string    `msgpack:"name"`
	Kind   IndexKind `msgpack:"kind"`
	Column string    `msgpack:"column"`
}

// NewRelationHandle captures id and schema as a persistable handle.
func NewRelationHandle(id uint64, schema *RelationSchema) *RelationHandle {
	h := &RelationHandle{
		ID:          id,
		Keys:        make([]columnHandle, len(schema.Keys)),
		NonKeys:     make([]columnHandle, len(schema.NonKeys)),
		AccessLevel: uint8(schema.AccessLevel),
		OnPut:       schema.Triggers.OnPut,
		OnRm:        schema.Triggers.OnRm,
		OnReplace:   schema.Triggers.OnReplace,
	}
	for i, c := range schema.Keys {
		h.Keys[i] = columnHandle{Name: c.Name, Type: c.Type}
	}
	for i, c := range schema.NonKeys {
		h.NonKeys[i] = columnHandle{Name: c.Name, Type: c.Type}
	}
	return h
}

// Schema rebuilds a RelationSchema from h, naming it name (the catalog key
// the handle was stored under, not persisted inside the handle itself).
func (h *RelationHandle) Schema(name string) (*RelationSchema, error) {
	keys := make([]ColumnDef, len(h.Keys))
	for i, c := range h.Keys {
		keys[i] = ColumnDef{Name: c.Name, Type: c.Type}
	}
	nonKeys := make([]ColumnDef, len(h.NonKeys))
	for i, c := range h.NonKeys {
		nonKeys[i] = ColumnDef{Name: c.Name, Type: c.Type}
	}
	return NewRelationSchema(name, keys, nonKeys, AccessLevel(h.AccessLevel), TriggerSet{
		OnPut:     h.OnPut,
		OnRm:      h.OnRm,
		OnReplace: h.OnReplace,
	})
}

// StoredRelation rebuilds the live StoredRelation h describes, reattaching
// every persisted single-column index by kind.
func (h *RelationHandle) StoredRelation(name string) (*StoredRelation, error) {
	schema, err := h.Schema(name)
	if err != nil {
		return nil, err
	}
	rel := New(schema, h.ID)
	header := rowHeader(schema)
	for _, ih := range h.Indexes {
		def := IndexDef{
			Name:      ih.Name,
			RelID:     h.ID,
			Extractor: expr.Bytecode{{Code: expr.OpBinding, Bind: expr.Binding{Name: ih.Column}}},
			Header:    header,
		}
		switch ih.Kind {
		case IndexPlain:
			rel.Indexes = append(rel.Indexes, NewPlainIndex(def))
		case IndexFTS:
			rel.Indexes = append(rel.Indexes, NewFTSIndex(def, nil))
		case IndexLSH:
			rel.Indexes = append(rel.Indexes, NewLSHIndex(def, 0))
		default:
			return nil, errs.New(errs.Corrupt, "relation %q: unknown persisted index kind %d", name, ih.Kind)
		}
	}
	return rel, nil
}

// rowHeader maps every key then non-key column name to its position in a
// full (key||nonKey) row, the Header a single-column index extractor
// resolves its Binding against.
func rowHeader(schema *RelationSchema) map[string]int {
	header := make(map[string]int, len(schema.Keys)+len(schema.NonKeys))
	i := 0
	for _, c := range schema.Keys {
		header[c.Name] = i
		i++
	}
	for _, c := range schema.NonKeys {
		header[c.Name] = i
		i++
	}
	return header
}

// AddIndex declares a new single-column index on schema's column (by
// name), appending it to h so future StoredRelation rebuilds reattach it.
func (h *RelationHandle) AddIndex(name, column string, kind IndexKind) {
	h.Indexes = append(h.Indexes, indexHandle{Name: name, Kind: kind, Column: column})
}

func encodeHandle(h *RelationHandle) ([]byte, error) {
	buf, err := msgpack.Marshal(h)
	if err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "encoding relation handle")
	}
	return buf, nil
}

func decodeHandle(buf []byte) (*RelationHandle, error) {
	var h RelationHandle
	if err := msgpack.Unmarshal(buf, &h); err != nil {
		return nil, errs.Wrap(errs.Corrupt, err, "decoding relation handle")
	}
	return &h, nil
}

// NextRelationID allocates and persists the next free relation id, reading
// and incrementing the counter under counterKey in the same transaction so
// two concurrent creators can never collide (the write lock tx holds on the
// catalog's own row set per spec.md §4.8 covers this).
func (c *Catalog) NextRelationID(ctx context.Context, tx kv.StoreTx) (uint64, error) {
	key := value.Tuple{value.String(counterKey)}
	cur := uint64(1) // id 0 is reserved for the catalog itself.
	payload, ok, err := c.rel.Get(ctx, tx, key)
	if err != nil {
		return 0, err
	}
	if ok {
		raw, ok := payload[0].(value.Bytes)
		if !ok || len(raw) != 8 {
			return 0, errs.New(errs.Corrupt, "catalog relation-id counter is malformed")
		}
		cur = binary.BigEndian.Uint64(raw)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, cur+1)
	if err := c.rel.Put(ctx, tx, key, value.Tuple{value.Bytes(next)}, nil); err != nil {
		return 0, err
	}
	return cur, nil
}

// PutRelation records name -> h in the catalog, overwriting any prior entry.
func (c *Catalog) PutRelation(ctx context.Context, tx kv.StoreTx, name string, h *RelationHandle) error {
	buf, err := encodeHandle(h)
	if err != nil {
		return err
	}
	key := value.Tuple{value.String(name)}
	return c.rel.Put(ctx, tx, key, value.Tuple{value.Bytes(buf)}, nil)
}

// GetRelation looks up name, reporting (nil, false, nil) if absent.
func (c *Catalog) GetRelation(ctx context.Context, tx kv.StoreTx, name string) (*RelationHandle, bool, error) {
	key := value.Tuple{value.String(name)}
	payload, ok, err := c.rel.Get(ctx, tx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, ok := payload[0].(value.Bytes)
	if !ok {
		return nil, false, errs.New(errs.Corrupt, "catalog entry %q is malformed", name)
	}
	h, err := decodeHandle(raw)
	if err != nil {
		return nil, false, err
	}
	return h, true, nil
}

// DeleteRelation removes name's catalog entry. It does not purge the
// relation's data rows; that range delete is the caller's responsibility
// (internal/txn accumulates it for post-commit purge).
func (c *Catalog) DeleteRelation(ctx context.Context, tx kv.StoreTx, name string) error {
	return c.rel.Rm(ctx, tx, value.Tuple{value.String(name)}, nil)
}

// ListRelations scans every catalog entry except the reserved counter row,
// yielding (name, handle) pairs.
func (c *Catalog) ListRelations(ctx context.Context, tx kv.StoreTx) ([]string, []*RelationHandle, error) {
	it, err := c.rel.ScanAll(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()
	var names []string
	var handles []*RelationHandle
	for {
		key, payload, ok, err := it.Next()
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		name := string(key[0].(value.String))
		if name == counterKey {
			continue
		}
		raw, ok := payload[0].(value.Bytes)
		if !ok {
			return nil, nil, errs.New(errs.Corrupt, "catalog entry %q is malformed", name)
		}
		h, err := decodeHandle(raw)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, name)
		handles = append(handles, h)
	}
	return names, handles, nil
}
