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

package api

import (
	"context"
	"fmt"
)

type (
	// PageRequest describes a request for a page of historical records
	PageRequest struct {
		// Before is the exclusive upper bound of the page. 0 means no bound,
		// the newest records are requested
		Before Sequence

		// Limit is the maximum number of records in the page
		Limit int
	}

	// FeedSource is the transport used by the consolidator. Implementations
	// must be safe for concurrent use.
	FeedSource interface {
		// FetchPage returns records matching f in descending sequence order. The
		// result contains at most req.Limit records, and if req.Before is set,
		// only records with sequence < req.Before.
		FetchPage(ctx context.Context, f *Filter, req PageRequest) ([]Record, error)

		// Subscribe starts delivering records matching f with sequence > from to
		// the listener. The subscription lives until the returned handle is
		// closed or one of OnComplete and OnError is called. ctx bounds the
		// subscription request only.
		Subscribe(ctx context.Context, f *Filter, from Sequence, l LiveListener) (LiveHandle, error)
	}

	// LiveListener receives notifications of a live subscription. The calls
	// are never made concurrently for one subscription. A stream is ended by
	// exactly one of OnComplete or OnError.
	LiveListener interface {
		// OnReady is called when the subscription is established
		OnReady()

		// OnBatch delivers records in ascending sequence order
		OnBatch(recs []Record)

		// OnComplete is called when the source ends the feed deliberately
		OnComplete()

		// OnError is called when the stream is broken
		OnError(err error)
	}

	// LiveHandle allows to cancel a subscription
	LiveHandle interface {
		// Close stops the subscription. The listener receives no calls after
		// Close() returns.
		Close() error
	}

	// Appender allows to add new log lines to a source. Sequence numbers
	// are assigned by the source.
	Appender interface {
		Append(ctx context.Context, o Origin, lines []LogLine) ([]Record, error)
	}
)

func (pr PageRequest) String() string {
	return fmt.Sprintf("{Before: %d, Limit: %d}", pr.Before, pr.Limit)
}
