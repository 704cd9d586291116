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

package utils

import (
	"context"
	"time"
)

// Sleep waits for the duration t or until ctx is closed. It returns false
// if ctx is closed.
func Sleep(ctx context.Context, t time.Duration) bool {
	tmr := time.NewTimer(t)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-tmr.C:
		return true
	}
}
