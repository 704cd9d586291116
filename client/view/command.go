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

package view

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/pkg/feed"
	"github.com/logrange/lrfeed/pkg/fql"
)

type (
	command struct {
		name    string
		matcher *regexp.Regexp
		cmdFn   cmdFn
		help    string
	}

	// config is shared between the commands of one viewer session
	config struct {
		c        *feed.Consolidator
		newFltr  func(q string) (*api.Filter, error)
		prnt     *printer
		out      io.Writer
		pageSize int

		// lowShown is the lowest sequence shown by show or more
		lowShown api.Sequence

		// the command arguments
		count  int
		onOff  string
		fltr   string
		follow func(ctx context.Context, cfg *config) error

		beforeQuit func()
	}

	cmdFn func(ctx context.Context, cfg *config) error
)

const (
	cmdMoreName   = "more"
	cmdFollowName = "follow"
	cmdShowName   = "show"
	cmdStateName  = "state"
	cmdFilterName = "filter"
	cmdQuitName   = "quit"
	cmdHelpName   = "help"

	rgCountGrp = "count"
	rgOnOffGrp = "onoff"
	rgFltrGrp  = "fltr"
)

var commands []command

func init() {
	commands = []command{
		{
			name:    cmdMoreName,
			matcher: regexp.MustCompile(`(?i)^more(?:\s+(?P<count>\d+))?$`),
			cmdFn:   moreFn,
			help:    "load and show older records, e.g. 'more' or 'more 50'",
		},
		{
			name:    cmdFollowName,
			matcher: regexp.MustCompile(`(?i)^follow(?:\s+(?P<onoff>on|off))?$`),
			cmdFn:   followFn,
			help:    "'follow on' prints live records until Ctrl+C, 'follow off' detaches the live feed",
		},
		{
			name:    cmdShowName,
			matcher: regexp.MustCompile(`(?i)^show(?:\s+(?P<count>\d+))?$`),
			cmdFn:   showFn,
			help:    "show the newest records, e.g. 'show 100'",
		},
		{
			name:    cmdStateName,
			matcher: regexp.MustCompile(`(?i)^state$`),
			cmdFn:   stateFn,
			help:    "show the feed state",
		},
		{
			name:    cmdFilterName,
			matcher: regexp.MustCompile(`(?i)^filter(?:\s+(?P<fltr>.+))?$`),
			cmdFn:   filterFn,
			help:    "show the filter or start a new feed, e.g. 'filter service=api, level>=WARN'",
		},
		{
			name:    cmdQuitName,
			matcher: regexp.MustCompile("(?i)^(?:quit|exit)$"),
			cmdFn:   quitFn,
			help:    "exit the program",
		},
		{
			name:    cmdHelpName,
			matcher: regexp.MustCompile("(?i)^help$"),
			cmdFn:   helpFn,
			help:    "show help",
		},
	}
}

func execCmd(ctx context.Context, input string, cfg *config) error {
	for _, d := range commands {
		if !d.matcher.MatchString(input) {
			if strings.HasPrefix(strings.ToLower(input), d.name) {
				return fmt.Errorf("command %s - invalid syntax", d.name)
			}
			continue
		}
		vars := getInputVars(d.matcher, input)
		cfg.count = 0
		if cnt, ok := vars[rgCountGrp]; ok && cnt != "" {
			cfg.count, _ = strconv.Atoi(cnt)
		}
		cfg.onOff = strings.ToLower(vars[rgOnOffGrp])
		cfg.fltr = strings.TrimSpace(vars[rgFltrGrp])
		return d.cmdFn(ctx, cfg)
	}
	return fmt.Errorf("unknown command=%v", input)
}

func getInputVars(re *regexp.Regexp, input string) map[string]string {
	match := re.FindStringSubmatch(input)
	varsMap := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i > 0 && i < len(match) {
			varsMap[name] = match[i]
		}
	}
	return varsMap
}

func (cfg *config) limit() int {
	if cfg.count > 0 {
		return cfg.count
	}
	return cfg.pageSize
}

//===================== more =====================

func moreFn(ctx context.Context, cfg *config) error {
	if !cfg.c.State().Started {
		return feed.ErrNotStarted
	}

	if cfg.lowShown == 0 {
		// nothing is shown yet, starting from the newest record
		if st := cfg.c.State(); st.Len > 0 {
			cfg.lowShown = st.Highest + 1
		}
	}

	lim := cfg.limit()
	recs := cfg.c.RangeBelow(cfg.lowShown, lim)
	for len(recs) < lim && cfg.c.State().Backfill != feed.BackfillExhausted {
		if err := cfg.c.LoadOlder(ctx); err != nil {
			return err
		}
		recs = cfg.c.RangeBelow(cfg.lowShown, lim)
	}

	if len(recs) == 0 {
		cfg.prnt.notice("no older records")
		return nil
	}
	cfg.prnt.print(recs)
	cfg.lowShown = recs[0].Sequence
	if len(recs) < lim {
		cfg.prnt.notice("the beginning of the feed")
	}
	return nil
}

//===================== follow =====================

func followFn(ctx context.Context, cfg *config) error {
	st := cfg.c.State()
	if !st.Started {
		return feed.ErrNotStarted
	}

	switch cfg.onOff {
	case "off":
		cfg.c.Detach()
		fmt.Fprintln(cfg.out, "the live feed is detached")
		return nil
	case "", "on":
	}

	if st.Live == feed.LiveCompleted {
		cfg.prnt.printNew(cfg.c)
		cfg.prnt.notice("the feed is completed")
		return nil
	}
	if st.Live == feed.LiveDetached {
		if err := cfg.c.Attach(ctx); err != nil {
			return err
		}
	}
	return cfg.follow(ctx, cfg)
}

// followLive prints the live records until the feed is completed or ctx is
// closed. The live feed stays attached when it returns.
func followLive(ctx context.Context, cfg *config) error {
	eq := newEventsQueue()
	defer cfg.c.AddListener(eq.onEvent)()

	for {
		for _, ev := range eq.take() {
			switch ev.Type {
			case feed.EventPossibleGap:
				cfg.prnt.printNew(cfg.c)
				cfg.prnt.notice("records after %d could be missed", ev.Seq)
			case feed.EventLiveFailed:
				cfg.prnt.notice("the live feed is dropped: %v", ev.Err)
			}
		}
		cfg.prnt.printNew(cfg.c)

		st := cfg.c.State()
		if st.Live == feed.LiveCompleted {
			// the last records could come after the previous print
			cfg.prnt.printNew(cfg.c)
			cfg.prnt.notice("the feed is completed")
			return nil
		}
		if st.Live == feed.LiveDetached {
			if err := cfg.c.Attach(ctx); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-eq.sigCh:
		}
	}
}

//===================== show =====================

func showFn(_ context.Context, cfg *config) error {
	if !cfg.c.State().Started {
		return feed.ErrNotStarted
	}
	recs := cfg.c.Last(cfg.limit())
	if len(recs) == 0 {
		cfg.prnt.notice("no records")
		return nil
	}
	cfg.prnt.print(recs)
	cfg.lowShown = recs[0].Sequence
	return nil
}

//===================== state =====================

func stateFn(_ context.Context, cfg *config) error {
	fmt.Fprintf(cfg.out, "\n%s%-16s %s\n\n", describe(cfg.c.State()), "printed:", cfg.prnt.stats())
	return nil
}

//===================== filter =====================

func filterFn(ctx context.Context, cfg *config) error {
	if cfg.fltr == "" {
		st := cfg.c.State()
		if st.Filter == nil {
			fmt.Fprintln(cfg.out, "no filter")
		} else {
			fmt.Fprintln(cfg.out, fql.Format(st.Filter))
		}
		return nil
	}

	f, err := cfg.newFltr(cfg.fltr)
	if err != nil {
		return err
	}
	return startFeed(ctx, cfg, f)
}

// startFeed restarts the consolidator with the filter and prints the first
// page of the feed
func startFeed(ctx context.Context, cfg *config, f *api.Filter) error {
	cfg.c.Stop()
	cfg.prnt = newPrinter(cfg.out, cfg.prnt.fp)
	cfg.lowShown = 0

	err := cfg.c.Start(ctx, f)
	if !cfg.c.State().Started {
		return err
	}
	if err != nil {
		cfg.prnt.notice("could not attach the live feed: %v", err)
	}
	recs := cfg.c.Last(cfg.pageSize)
	cfg.prnt.print(recs)
	if len(recs) > 0 {
		cfg.lowShown = recs[0].Sequence
	}
	return nil
}

//===================== quit =====================

func quitFn(_ context.Context, cfg *config) error {
	cfg.beforeQuit()
	return errQuit
}

//===================== help =====================

func helpFn(_ context.Context, cfg *config) error {
	fmt.Fprintf(cfg.out, "\n\t%-10s\n", "[HELP]")
	for _, c := range commands {
		fmt.Fprintf(cfg.out, "\n\t%-10s %s", c.name, c.help)
	}
	fmt.Fprint(cfg.out, "\n\n")
	return nil
}
