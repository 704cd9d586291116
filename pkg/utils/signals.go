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
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// NewNotifierOnIntTermSignal calls f in a separate goroutine when SIGINT or
// SIGTERM is received. The returned function stops the notification, f is
// not called after it returns.
func NewNotifierOnIntTermSignal(f func(s os.Signal)) func() {
	sigChan := make(chan os.Signal, 1)
	doneCh := make(chan struct{})
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer signal.Stop(sigChan)
		select {
		case s := <-sigChan:
			f(s)
		case <-doneCh:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(doneCh)
			wg.Wait()
		})
	}
}
