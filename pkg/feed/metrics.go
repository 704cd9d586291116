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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	originBackfill = "backfill"
	originLive     = "live"
)

var (
	recordsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lrfeed_records_added_total",
		Help: "Number of records added to feed buffers",
	}, []string{"origin"})

	recordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lrfeed_records_dropped_total",
		Help: "Number of received records dropped as duplicates or out of the requested range",
	}, []string{"origin"})

	pagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrfeed_backfill_pages_total",
		Help: "Number of historical pages fetched",
	})

	failures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lrfeed_failures_total",
		Help: "Number of failed page fetches and live subscriptions",
	}, []string{"origin"})

	liveFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lrfeed_live_subscriptions",
		Help: "Current number of attached live subscriptions",
	})
)
