// Copyright (C) 2025, Ava Labs, Inc. All rights reserved.
// See the file LICENSE.md for licensing terms.

package replay

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxSegmentSize bounds the length prefix accepted by [Decode].
const MaxSegmentSize = 64 << 20

var errSegmentTooLarge = errors.New("segment too large")

// Decode reads every segment from r until EOF.
func Decode(r io.Reader) ([]Log, error) {
	var logs []Log
	for {
		var segLen uint64
		if err := binary.Read(r, binary.LittleEndian, &segLen); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("reading segment length: %w", err)
		}

		if segLen == 0 {
			continue
		}
		if segLen > MaxSegmentSize {
			return nil, fmt.Errorf("%w: %d bytes", errSegmentTooLarge, segLen)
		}

		seg := make([]byte, segLen)
		if _, err := io.ReadFull(r, seg); err != nil {
			return nil, fmt.Errorf("reading segment payload: %w", err)
		}

		var log Log
		if err := msgpack.Unmarshal(seg, &log); err != nil {
			return nil, fmt.Errorf("decoding segment %d: %w", len(logs), err)
		}
		logs = append(logs, log)
	}

	return logs, nil
}
