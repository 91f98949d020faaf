package relation

import (
	"context"

	"strata/internal/codec"
	"strata/internal/errs"
	"strata/internal/expr"
	"strata/internal/kv"
	"strata/internal/value"
)

// Index is the secondary-index contract from spec.md §4.4: every primary
// write calls OnPut/OnDel so the index can maintain its own keyspace. Only
// the put/del contract is specified for FTS/LSH/HNSW — their internal
// tokenizer/hashing/graph algorithms stay out of scope.
type Index interface {
	Name() string
	OnPut(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error
	OnDel(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error
}

// IndexDef declares an index's extractor expression and backing kind.
type IndexDef struct {
	Name      string
	RelID     uint64
	Extractor expr.Bytecode
	Header    map[string]int
}

// PlainIndex maps the memcmp-encoded extractor output to the primary key,
// giving ordered secondary lookups for free by reusing internal/codec.
type PlainIndex struct {
	def IndexDef
}

func NewPlainIndex(def IndexDef) *PlainIndex { return &PlainIndex{def: def} }

func (p *PlainIndex) Name() string { return p.def.Name }

func (p *PlainIndex) indexKey(full value.Tuple) ([]byte, error) {
	v, err := p.def.Extractor.Eval(expr.Row{Tuple: full, Header: p.def.Header})
	if err != nil {
		return nil, err
	}
	buf := appendRelID(nil, p.def.RelID)
	buf = codec.EncodeValue(buf, v)
	return buf, nil
}

func (p *PlainIndex) OnPut(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	ik, err := p.indexKey(full)
	if err != nil {
		return err
	}
	return tx.Put(ctx, ik, codec.EncodeTuple(key))
}

func (p *PlainIndex) OnDel(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	ik, err := p.indexKey(full)
	if err != nil {
		return err
	}
	return tx.Del(ctx, ik)
}

// FTSIndex maintains a token -> posting-list mapping; the tokenizer is
// pluggable and the internals of ranking/scoring stay out of scope, per
// spec.md §1 non-goals — only the put/del contract is implemented.
type FTSIndex struct {
	def       IndexDef
	Tokenizer func(string) []string
}

func NewFTSIndex(def IndexDef, tokenizer func(string) []string) *FTSIndex {
	if tokenizer == nil {
		tokenizer = defaultTokenizer
	}
	return &FTSIndex{def: def, Tokenizer: tokenizer}
}

func defaultTokenizer(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = nil
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func (f *FTSIndex) Name() string { return f.def.Name }

func (f *FTSIndex) extractText(full value.Tuple) (string, error) {
	v, err := f.def.Extractor.Eval(expr.Row{Tuple: full, Header: f.def.Header})
	if err != nil {
		return "", err
	}
	s, ok := v.(value.String)
	if !ok {
		return "", errs.New(errs.Type, "fts index extractor must produce a string")
	}
	return string(s), nil
}

func (f *FTSIndex) OnPut(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	text, err := f.extractText(full)
	if err != nil {
		return err
	}
	pk := codec.EncodeTuple(key)
	for _, tok := range f.Tokenizer(text) {
		ik := appendRelID(nil, f.def.RelID)
		ik = codec.EncodeValue(ik, value.String(tok))
		ik = append(ik, pk...)
		if err := tx.Put(ctx, ik, nil); err != nil {
			return err
		}
	}
	return nil
}

func (f *FTSIndex) OnDel(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	text, err := f.extractText(full)
	if err != nil {
		return err
	}
	pk := codec.EncodeTuple(key)
	for _, tok := range f.Tokenizer(text) {
		ik := appendRelID(nil, f.def.RelID)
		ik = codec.EncodeValue(ik, value.String(tok))
		ik = append(ik, pk...)
		if err := tx.Del(ctx, ik); err != nil {
			return err
		}
	}
	return nil
}

// LSHIndex buckets a Vec column by splitting the vector's memcmp
// encoding into NumBands bands, one index entry per band; no minhash or
// other hashing is applied.
type LSHIndex struct {
	def      IndexDef
	NumBands int
}

func NewLSHIndex(def IndexDef, numBands int) *LSHIndex {
	if numBands <= 0 {
		numBands = 4
	}
	return &LSHIndex{def: def, NumBands: numBands}
}

func (l *LSHIndex) Name() string { return l.def.Name }

func (l *LSHIndex) signature(full value.Tuple) ([]byte, error) {
	v, err := l.def.Extractor.Eval(expr.Row{Tuple: full, Header: l.def.Header})
	if err != nil {
		return nil, err
	}
	vec, ok := v.(value.Vec)
	if !ok {
		return nil, errs.New(errs.Type, "lsh index extractor must produce a vector")
	}
	return codec.EncodeValue(nil, vec), nil
}

func (l *LSHIndex) bandKeys(sig []byte) [][]byte {
	if l.NumBands == 0 || len(sig) == 0 {
		return [][]byte{sig}
	}
	bandSize := (len(sig) + l.NumBands - 1) / l.NumBands
	var out [][]byte
	for i := 0; i < len(sig); i += bandSize {
		end := i + bandSize
		if end > len(sig) {
			end = len(sig)
		}
		out = append(out, append([]byte{byte(i / bandSize)}, sig[i:end]...))
	}
	return out
}

func (l *LSHIndex) OnPut(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	sig, err := l.signature(full)
	if err != nil {
		return err
	}
	pk := codec.EncodeTuple(key)
	for _, band := range l.bandKeys(sig) {
		ik := appendRelID(nil, l.def.RelID)
		ik = append(ik, band...)
		ik = append(ik, pk...)
		if err := tx.Put(ctx, ik, nil); err != nil {
			return err
		}
	}
	return nil
}

func (l *LSHIndex) OnDel(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	full := append(append(value.Tuple{}, key...), nonKey...)
	sig, err := l.signature(full)
	if err != nil {
		return err
	}
	pk := codec.EncodeTuple(key)
	for _, band := range l.bandKeys(sig) {
		ik := appendRelID(nil, l.def.RelID)
		ik = append(ik, band...)
		ik = append(ik, pk...)
		if err := tx.Del(ctx, ik); err != nil {
			return err
		}
	}
	return nil
}

// HNSWIndex is a stub: approximate-nearest-neighbor graph construction is
// explicitly out of scope (spec.md §1), so this type only exists to let
// callers satisfy the Index interface uniformly; OnPut and OnDel report
// ErrNotImplemented.
type HNSWIndex struct {
	def IndexDef
}

func NewHNSWIndex(def IndexDef) *HNSWIndex { return &HNSWIndex{def: def} }

func (h *HNSWIndex) Name() string { return h.def.Name }

var ErrNotImplemented = errs.New(errs.Invariant, "hnsw index: approximate-nearest-neighbor graph construction is out of scope")

func (h *HNSWIndex) OnPut(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	return ErrNotImplemented
}

func (h *HNSWIndex) OnDel(ctx context.Context, tx kv.StoreTx, key, nonKey value.Tuple) error {
	return ErrNotImplemented
}

func appendRelID(buf []byte, id uint64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(id)
		id >>= 8
	}
	return append(buf, tmp[:]...)
}
