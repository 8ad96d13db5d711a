// Copyright (C) 2024 The Project Authors.
// Use of this source code is governed by an MIT-style license.

// Package store persists resolved offset.Context values (and failed
// version markers) to a single on-disk goleveldb database, the same
// storage engine the teacher uses for its own block/file index
// (files/leveldb.go), with two key prefixes emulating the engine's two
// logical tables: "fv:" for found contexts, "xv:" for failed-version
// tombstones.
package store

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/binfuzz/binoffset/offset"
)

const (
	foundPrefix  = "fv:"
	failedPrefix = "xv:"
)

// Store is a goleveldb-backed key-value store of per-version offset
// resolution results.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// PutFound persists ctx under version, XDR-encoded and lz4-compressed.
// Any prior failed-version tombstone for the same version is removed,
// since a version cannot be both found and failed.
func (s *Store) PutFound(version string, ctx *offset.Context) error {
	compressed, err := compress(ctx.MarshalXDR())
	if err != nil {
		return fmt.Errorf("store: compress %s: %w", version, err)
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(foundPrefix+version), compressed)
	batch.Delete([]byte(failedPrefix + version))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("store: put found %s: %w", version, err)
	}
	return nil
}

// PutFailed records that version's extraction failed entirely. Any
// prior found context for the same version is removed.
func (s *Store) PutFailed(version string) error {
	batch := new(leveldb.Batch)
	batch.Put([]byte(failedPrefix+version), []byte{1})
	batch.Delete([]byte(foundPrefix + version))
	if err := s.db.Write(batch, nil); err != nil {
		return fmt.Errorf("store: put failed %s: %w", version, err)
	}
	return nil
}

// Found returns the stored context for version, or ok=false if none is
// recorded.
func (s *Store) Found(version string) (*offset.Context, bool, error) {
	raw, err := s.db.Get([]byte(foundPrefix+version), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s: %w", version, err)
	}
	plain, err := decompress(raw)
	if err != nil {
		return nil, false, fmt.Errorf("store: decompress %s: %w", version, err)
	}
	ctx := &offset.Context{}
	if err := ctx.UnmarshalXDR(plain); err != nil {
		return nil, false, fmt.Errorf("store: decode %s: %w", version, err)
	}
	return ctx, true, nil
}

// AllFound returns every stored found context, keyed by version.
func (s *Store) AllFound() (map[string]*offset.Context, error) {
	out := make(map[string]*offset.Context)
	iter := s.db.NewIterator(util.BytesPrefix([]byte(foundPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		version := strings.TrimPrefix(string(iter.Key()), foundPrefix)
		plain, err := decompress(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("store: decompress %s: %w", version, err)
		}
		ctx := &offset.Context{}
		if err := ctx.UnmarshalXDR(plain); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", version, err)
		}
		out[version] = ctx
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate found: %w", err)
	}
	return out, nil
}

// FailedVersions returns every version recorded as having failed
// entirely.
func (s *Store) FailedVersions() ([]string, error) {
	var out []string
	iter := s.db.NewIterator(util.BytesPrefix([]byte(failedPrefix)), nil)
	defer iter.Release()
	for iter.Next() {
		out = append(out, strings.TrimPrefix(string(iter.Key()), failedPrefix))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("store: iterate failed: %w", err)
	}
	return out, nil
}

func compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(plain); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(compressed))
	return io.ReadAll(zr)
}
