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
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/logrange/lrfeed/client"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
)

type (
	shell struct {
		cfg   *config
		hfile string
	}
)

const (
	shellHistoryFileName = ".lrfeed_history"
	defaultPageSize      = 20
)

var errQuit = errors.New("quit")

// Run starts the interactive viewer of the feed defined by fql, the
// configured filter is used if fql is empty. It returns when the user quits.
func Run(ctx context.Context, fs client.Feeds, fql, hfile string) error {
	f, err := fs.Filter(fql)
	if err != nil {
		return err
	}

	if hfile == "" {
		hfile = historyFilePath()
	}

	cfg := newConfig(fs, os.Stdout)
	defer cfg.c.Stop()

	printLogo()
	if err := startFeed(ctx, cfg, f); err != nil {
		printError(err)
	}
	newShell(cfg, hfile).run()
	return nil
}

func newConfig(fs client.Feeds, out io.Writer) *config {
	cfg := new(config)
	cfg.c = fs.NewConsolidator()
	cfg.newFltr = fs.Filter
	cfg.out = out
	cfg.prnt = newPrinter(out, nil)
	cfg.pageSize = defaultPageSize
	cfg.follow = followLive
	cfg.beforeQuit = func() {}
	return cfg
}

func historyFilePath() string {
	var fileDir = os.TempDir()
	usr, err := user.Current()
	if err == nil {
		fileDir = usr.HomeDir
	}
	return filepath.Join(fileDir, shellHistoryFileName)
}

func printLogo() {
	fmt.Print("" +
		" _       __             _ \n" +
		"| |_ _  / _|___ ___  __| |\n" +
		"| | '_||  _/ -_) -_)/ _` |\n" +
		"|_|_|  |_| \\___\\___|\\__,_|\n\n")
}

func printError(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
}

//===================== shell =====================

func newShell(cfg *config, hFile string) *shell {
	s := new(shell)
	s.cfg = cfg
	s.hfile = hFile
	return s
}

func (s *shell) run() {
	lnr := liner.NewLiner()
	lnr.SetCtrlCAborts(true)

	s.loadHistory(lnr)
	s.cfg.beforeQuit = func() {
		s.saveHistory(lnr)
	}
	defer func() {
		_ = lnr.Close()
		fmt.Println("bye!")
	}()

	for {
		inp, err := lnr.Prompt("lrfeed>")
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				s.saveHistory(lnr)
				break
			}
			printError(err)
		}

		inp = strings.TrimSpace(inp)
		if inp == "" {
			continue
		}

		lnr.AppendHistory(inp)
		ctx, cancel := context.WithCancel(context.Background())
		stop := utils.NewNotifierOnIntTermSignal(func(s os.Signal) {
			cancel()
		})

		err = execCmd(ctx, inp, s.cfg)
		stop()
		cancel()
		if err == errQuit {
			break
		}
		if err != nil {
			printError(err)
		}
	}
}

func (s *shell) loadHistory(lnr *liner.State) {
	f, err := os.OpenFile(s.hfile, os.O_RDONLY|os.O_CREATE, 0640)
	if err != nil {
		printError(err)
		return
	}
	defer f.Close()
	if _, err = lnr.ReadHistory(f); err != nil {
		printError(err)
	}
}

func (s *shell) saveHistory(lnr *liner.State) {
	f, err := os.OpenFile(s.hfile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		printError(err)
		return
	}
	defer f.Close()
	if _, err = lnr.WriteHistory(f); err != nil {
		printError(err)
	}
}
