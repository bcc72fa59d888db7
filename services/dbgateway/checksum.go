// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dbgateway

import (
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Value tags keep, for example, NULL, the empty string and the empty
// binary value distinct.
const (
	tagNull byte = iota
	tagBytes
	tagString
	tagTime
	tagOther
)

// checksumRows hashes a result set independently of row order. Each row is
// hashed on its own; the row digests are summed lane-wise (four uint64
// lanes, wrapping) so that permutations of the same rows produce the same
// accumulator. The column names and row count are folded into the final
// SHA-256.
func checksumRows(rows *sql.Rows) (string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return "", err
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var lanes [4]uint64
	var count uint64
	rowHash := sha256.New()
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		rowHash.Reset()
		for _, v := range values {
			writeValue(rowHash, v)
		}
		digest := rowHash.Sum(nil)
		for i := range lanes {
			lanes[i] += binary.BigEndian.Uint64(digest[i*8:])
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	final := sha256.New()
	final.Write([]byte(strings.Join(columns, "\x00")))
	var buf [8]byte
	for _, l := range lanes {
		binary.BigEndian.PutUint64(buf[:], l)
		final.Write(buf[:])
	}
	binary.BigEndian.PutUint64(buf[:], count)
	final.Write(buf[:])
	return strings.ToUpper(hex.EncodeToString(final.Sum(nil))), nil
}

// writeValue writes a tagged, length-prefixed encoding of v.
func writeValue(h hash.Hash, v any) {
	var tag byte
	var data []byte
	switch x := v.(type) {
	case nil:
		tag = tagNull
	case []byte:
		tag, data = tagBytes, x
	case string:
		tag, data = tagString, []byte(x)
	case time.Time:
		tag, data = tagTime, []byte(x.UTC().Format(time.RFC3339Nano))
	default:
		tag, data = tagOther, []byte(fmt.Sprint(x))
	}

	var prefix [9]byte
	prefix[0] = tag
	binary.BigEndian.PutUint64(prefix[1:], uint64(len(data)))
	h.Write(prefix[:])
	h.Write(data)
}
