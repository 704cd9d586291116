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

package feed

import (
	rerrors "github.com/logrange/range/pkg/utils/errors"
	"github.com/pkg/errors"
)

var (
	// ErrBackfillFailed is the cause of errors returned when a page of
	// historical records could not be fetched. The buffer is not touched then.
	ErrBackfillFailed = errors.New("backfill failed")

	// ErrLiveAttachFailed is the cause of errors reported when a live
	// subscription could not be established or was dropped.
	ErrLiveAttachFailed = errors.New("live attach failed")

	// ErrCompleted is returned by Attach when the feed is already completed
	ErrCompleted = errors.New("the feed is completed")

	// ErrNotStarted is returned by the consolidator operations which need
	// the initial page to be loaded. Its cause is rerrors.WrongState
	ErrNotStarted = errors.Wrap(rerrors.WrongState, "the initial page is not loaded")
)

// IsBackfillFailed returns whether err is caused by a failed page fetch
func IsBackfillFailed(err error) bool {
	return err != nil && errors.Cause(err) == ErrBackfillFailed
}

// IsLiveAttachFailed returns whether err is caused by a failed or dropped
// live subscription
func IsLiveAttachFailed(err error) bool {
	return err != nil && errors.Cause(err) == ErrLiveAttachFailed
}

// IsWrongState returns whether the operation was rejected because of the
// component state. ErrNotStarted is one of them.
func IsWrongState(err error) bool {
	return err != nil && errors.Cause(err) == rerrors.WrongState
}

// IsClosed returns whether the operation was interrupted by Stop()
func IsClosed(err error) bool {
	return err != nil && errors.Cause(err) == rerrors.ClosedState
}
