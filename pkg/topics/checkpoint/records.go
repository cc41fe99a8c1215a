// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Key layout. Ids are zero-padded so prefix scans return topics in id
// order.
//
//	seq/topic             topic id sequence
//	t/{id}                topicHeader
//	a/{id}/{key}          attributeValue
//	r/{id}/{key}          referenceValue
//	n/{id}/{namespace}    relationshipValue
const (
	sequenceKey        = "seq/topic"
	topicPrefix        = "t/"
	attributePrefix    = "a/"
	referencePrefix    = "r/"
	relationshipPrefix = "n/"
)

// NoParent is the ParentID of a root topic.
const NoParent = -1

type topicHeader struct {
	ID       int       `msgpack:"id"`
	ParentID int       `msgpack:"parent_id"`
	Version  time.Time `msgpack:"version"`
}

type attributeValue struct {
	Value   string    `msgpack:"value"`
	Version time.Time `msgpack:"version"`
}

type referenceValue struct {
	TargetID int       `msgpack:"target_id"`
	Version  time.Time `msgpack:"version"`
}

type relationshipValue struct {
	TargetIDs []int     `msgpack:"target_ids"`
	Version   time.Time `msgpack:"version"`
}

func formatID(id int) string {
	return fmt.Sprintf("%010d", id)
}

func topicKey(id int) []byte {
	return []byte(topicPrefix + formatID(id))
}

// recordKey builds a/{id}/{key}, r/{id}/{key} or n/{id}/{key}.
func recordKey(prefix string, id int, key string) []byte {
	return []byte(prefix + formatID(id) + "/" + key)
}

// recordPrefix is the scan prefix for every record of one topic.
func recordPrefix(prefix string, id int) []byte {
	return []byte(prefix + formatID(id) + "/")
}

// splitRecordKey parses a record key back into topic id and record key.
func splitRecordKey(prefix string, raw []byte) (int, string, error) {
	rest, ok := strings.CutPrefix(string(raw), prefix)
	if !ok {
		return 0, "", fmt.Errorf("%w: key %q lacks prefix %q", ErrCorrupt, raw, prefix)
	}
	idPart, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return 0, "", fmt.Errorf("%w: malformed key %q", ErrCorrupt, raw)
	}
	id, err := strconv.Atoi(idPart)
	if err != nil {
		return 0, "", fmt.Errorf("%w: key %q: %v", ErrCorrupt, raw, err)
	}
	return id, key, nil
}

func putValue(txn *badger.Txn, key []byte, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

func decodeItem(item *badger.Item, v any) error {
	return item.Value(func(val []byte) error {
		if err := msgpack.Unmarshal(val, v); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, item.Key(), err)
		}
		return nil
	})
}

// deleteKey deletes key, treating an absent key as done.
func deleteKey(txn *badger.Txn, key []byte) error {
	if err := txn.Delete(key); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// deletePrefix deletes every key under prefix and returns how many.
func deletePrefix(txn *badger.Txn, prefix []byte) (int, error) {
	var keys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return 0, fmt.Errorf("deleting %s: %w", k, err)
		}
	}
	return len(keys), nil
}

// scan calls fn for every item under prefix.
func scan(txn *badger.Txn, prefix string, fn func(item *badger.Item) error) error {
	p := []byte(prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = p
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}
