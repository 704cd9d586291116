// Copyright 2018-2019 The logrange Authors
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

package container

import (
	"fmt"
	"sort"

	"github.com/logrange/lrfeed/api"
)

type (
	// Buffer keeps records ordered by their sequence numbers. Every sequence
	// number is stored at most once, inserting a record with an already known
	// sequence is a no-op. Gaps between the lowest and the highest records are
	// allowed.
	//
	// The Buffer is not safe for concurrent use, the owner must synchronize
	// access to it.
	Buffer struct {
		recs []api.Record
	}
)

// NewBuffer returns new empty Buffer
func NewBuffer() *Buffer {
	return new(Buffer)
}

// Insert merges recs into the buffer. The records could come in any order and
// could contain duplicates. Returns the number of records actually added. Will
// panic if a record has zero sequence number.
func (b *Buffer) Insert(recs []api.Record) int {
	batch := normalize(recs)
	if len(batch) == 0 {
		return 0
	}

	n := len(b.recs)
	switch {
	case n == 0:
		b.recs = batch
		return len(batch)
	case batch[0].Sequence > b.recs[n-1].Sequence:
		b.recs = append(b.recs, batch...)
		return len(batch)
	case batch[len(batch)-1].Sequence < b.recs[0].Sequence:
		res := make([]api.Record, 0, n+len(batch))
		res = append(res, batch...)
		b.recs = append(res, b.recs...)
		return len(batch)
	}

	res := make([]api.Record, 0, n+len(batch))
	added := 0
	i, j := 0, 0
	for i < n && j < len(batch) {
		s1, s2 := b.recs[i].Sequence, batch[j].Sequence
		switch {
		case s1 < s2:
			res = append(res, b.recs[i])
			i++
		case s1 > s2:
			res = append(res, batch[j])
			added++
			j++
		default:
			// the buffered one wins
			res = append(res, b.recs[i])
			i++
			j++
		}
	}
	res = append(res, b.recs[i:]...)
	added += len(batch) - j
	res = append(res, batch[j:]...)
	b.recs = res
	return added
}

// Prepend does the same as Insert, it is used for records which are expected
// to be older than everything in the buffer. The second returned value is false
// if some of recs were not below the lowest buffered record.
func (b *Buffer) Prepend(recs []api.Record) (int, bool) {
	below := true
	if low, ok := b.Lowest(); ok {
		for _, r := range recs {
			if r.Sequence >= low {
				below = false
				break
			}
		}
	}
	return b.Insert(recs), below
}

// RangeBelow returns up to limit records with sequence less than seq, which
// are the closest to seq. The records are in ascending order.
func (b *Buffer) RangeBelow(seq api.Sequence, limit int) []api.Record {
	if limit <= 0 {
		return nil
	}
	idx := sort.Search(len(b.recs), func(i int) bool { return b.recs[i].Sequence >= seq })
	start := idx - limit
	if start < 0 {
		start = 0
	}
	return copyRecs(b.recs[start:idx])
}

// RangeAbove returns up to limit records with sequence greater than seq in
// ascending order
func (b *Buffer) RangeAbove(seq api.Sequence, limit int) []api.Record {
	if limit <= 0 {
		return nil
	}
	idx := sort.Search(len(b.recs), func(i int) bool { return b.recs[i].Sequence > seq })
	end := idx + limit
	if end > len(b.recs) {
		end = len(b.recs)
	}
	return copyRecs(b.recs[idx:end])
}

// Last returns up to limit records with the highest sequence numbers in
// ascending order
func (b *Buffer) Last(limit int) []api.Record {
	if limit <= 0 {
		return nil
	}
	start := len(b.recs) - limit
	if start < 0 {
		start = 0
	}
	return copyRecs(b.recs[start:])
}

// Lowest returns the lowest buffered sequence, false is returned if the
// buffer is empty
func (b *Buffer) Lowest() (api.Sequence, bool) {
	if len(b.recs) == 0 {
		return 0, false
	}
	return b.recs[0].Sequence, true
}

// Highest returns the highest buffered sequence, false is returned if the
// buffer is empty
func (b *Buffer) Highest() (api.Sequence, bool) {
	if len(b.recs) == 0 {
		return 0, false
	}
	return b.recs[len(b.recs)-1].Sequence, true
}

// HighestRecord returns the record with the highest sequence
func (b *Buffer) HighestRecord() (api.Record, bool) {
	if len(b.recs) == 0 {
		return api.Record{}, false
	}
	return b.recs[len(b.recs)-1], true
}

// Contiguous returns bounds of the longest gap-free run of sequences, which
// ends at the highest record. ok is false for the empty buffer.
func (b *Buffer) Contiguous() (lo, hi api.Sequence, ok bool) {
	n := len(b.recs)
	if n == 0 {
		return 0, 0, false
	}
	i := n - 1
	for i > 0 && b.recs[i-1].Sequence+1 == b.recs[i].Sequence {
		i--
	}
	return b.recs[i].Sequence, b.recs[n-1].Sequence, true
}

// Len returns number of records in the buffer
func (b *Buffer) Len() int {
	return len(b.recs)
}

// Snapshot returns a copy of the buffered records in ascending order
func (b *Buffer) Snapshot() []api.Record {
	return copyRecs(b.recs)
}

// Clear drops all the records
func (b *Buffer) Clear() {
	b.recs = nil
}

func (b *Buffer) String() string {
	lo, _ := b.Lowest()
	hi, _ := b.Highest()
	return fmt.Sprintf("{len: %d, lowest: %d, highest: %d}", len(b.recs), lo, hi)
}

// normalize returns sorted copy of recs with no duplicates
func normalize(recs []api.Record) []api.Record {
	if len(recs) == 0 {
		return nil
	}
	res := make([]api.Record, len(recs))
	copy(res, recs)
	sorted := true
	for i, r := range res {
		if r.Sequence == 0 {
			panic("record sequence must be positive")
		}
		if i > 0 && res[i-1].Sequence >= r.Sequence {
			sorted = false
		}
	}
	if sorted {
		return res
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].Sequence < res[j].Sequence })
	j := 0
	for i := 1; i < len(res); i++ {
		if res[i].Sequence != res[j].Sequence {
			j++
			res[j] = res[i]
		}
	}
	return res[:j+1]
}

func copyRecs(recs []api.Record) []api.Record {
	res := make([]api.Record, len(recs))
	copy(res, recs)
	return res
}
