// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/taskvault/core"
)

// snapshotCodecVersion prefixes every encoded snapshot.
const snapshotCodecVersion byte = 1

// ErrCorruptEncoding indicates bytes that do not decode as a snapshot.
var ErrCorruptEncoding = errors.New("corrupt snapshot encoding")

// encodedTime splits a timestamp so that any year round-trips.
type encodedTime struct {
	sec  int64
	nsec int
}

func splitTime(t time.Time) encodedTime {
	return encodedTime{sec: t.Unix(), nsec: t.Nanosecond()}
}

func (e encodedTime) toTime() time.Time {
	return time.Unix(e.sec, int64(e.nsec)).UTC()
}

func timeSize(e encodedTime) int {
	return varint.Int64.Size(e.sec) + varint.Int.Size(e.nsec)
}

// MarshalSnapshot serializes a TaskSnapshot to bytes.
func MarshalSnapshot(s *core.TaskSnapshot) []byte {
	created, updated := splitTime(s.CreatedAt), splitTime(s.UpdatedAt)
	var due encodedTime
	if s.DueDate != nil {
		due = splitTime(*s.DueDate)
	}

	size := 1 +
		ord.String.Size(s.ID) +
		ord.String.Size(s.Name) +
		ord.String.Size(s.Details) +
		ord.String.Size(string(s.Status)) +
		varint.Int.Size(int(s.Priority)) +
		ord.Bool.Size(s.DueDate != nil) +
		timeSize(created) +
		timeSize(updated)
	if s.DueDate != nil {
		size += varint.Int64.Size(due.sec)
	}

	buf := make([]byte, size)
	buf[0] = snapshotCodecVersion
	n := 1
	n += ord.String.Marshal(s.ID, buf[n:])
	n += ord.String.Marshal(s.Name, buf[n:])
	n += ord.String.Marshal(s.Details, buf[n:])
	n += ord.String.Marshal(string(s.Status), buf[n:])
	n += varint.Int.Marshal(int(s.Priority), buf[n:])
	n += ord.Bool.Marshal(s.DueDate != nil, buf[n:])
	if s.DueDate != nil {
		n += varint.Int64.Marshal(due.sec, buf[n:])
	}
	n += varint.Int64.Marshal(created.sec, buf[n:])
	n += varint.Int.Marshal(created.nsec, buf[n:])
	n += varint.Int64.Marshal(updated.sec, buf[n:])
	varint.Int.Marshal(updated.nsec, buf[n:])
	return buf
}

// snapshotDecoder walks an encoded snapshot, remembering the first error.
type snapshotDecoder struct {
	buf []byte
	off int
	err error
}

func (d *snapshotDecoder) readString() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.buf[d.off:])
	d.off += n
	d.err = err
	return v
}

func (d *snapshotDecoder) readInt() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.buf[d.off:])
	d.off += n
	d.err = err
	return v
}

func (d *snapshotDecoder) readInt64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.buf[d.off:])
	d.off += n
	d.err = err
	return v
}

func (d *snapshotDecoder) readBool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.buf[d.off:])
	d.off += n
	d.err = err
	return v
}

// UnmarshalSnapshot deserializes a TaskSnapshot from bytes.
// The result is not validated; callers run core.ValidateSnapshot.
func UnmarshalSnapshot(data []byte) (*core.TaskSnapshot, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty value", ErrCorruptEncoding)
	}
	if data[0] != snapshotCodecVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorruptEncoding, data[0])
	}

	d := &snapshotDecoder{buf: data, off: 1}
	s := &core.TaskSnapshot{
		ID:      d.readString(),
		Name:    d.readString(),
		Details: d.readString(),
		Status:  core.Status(d.readString()),
	}
	s.Priority = core.Priority(d.readInt())
	if d.readBool() {
		due := encodedTime{sec: d.readInt64()}.toTime()
		s.DueDate = &due
	}
	s.CreatedAt = encodedTime{sec: d.readInt64(), nsec: d.readInt()}.toTime()
	s.UpdatedAt = encodedTime{sec: d.readInt64(), nsec: d.readInt()}.toTime()

	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEncoding, d.err)
	}
	if d.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptEncoding, len(data)-d.off)
	}
	return s, nil
}
