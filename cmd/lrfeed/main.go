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

package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/jrivets/log4g"
	"github.com/logrange/lrfeed/api"
	"github.com/logrange/lrfeed/client"
	"github.com/logrange/lrfeed/client/view"
	"github.com/logrange/lrfeed/pkg/source"
	"github.com/logrange/lrfeed/pkg/utils"
	"github.com/logrange/lrfeed/pkg/utils/kvstring"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ucli "gopkg.in/urfave/cli.v2"
)

const (
	Version = "0.1.0"
)

const (
	argCfgFile     = "config-file"
	argLogCfgFile  = "log-config-file"
	argSourceType  = "source-type"
	argSourceParam = "source-param"
	argFilter      = "filter"
	argLimit       = "limit"

	argTailNoFollow    = "no-follow"
	argTailFormat      = "format"
	argTailMetricsAddr = "metrics-addr"

	argAppendOrigin = "origin"
	argAppendLevel  = "level"
	argAppendUnit   = "unit"
	argAppendTerm   = "terminate"
)

var (
	logger = log4g.GetLogger("lrfeed")
)

// main is the entry point of lrfeed, the log feed viewer. The commands are:
//		view	- interactive viewer of a feed
//		tail	- prints the feed and follows its live records
//		append	- adds log lines to the source
func main() {
	defer log4g.Shutdown()

	cmnFlags := []ucli.Flag{
		&ucli.StringFlag{
			Name:  argCfgFile,
			Usage: "configuration file path, JSON or YAML",
		},
		&ucli.StringFlag{
			Name:  argLogCfgFile,
			Usage: "log4g configuration file path",
		},
		&ucli.StringFlag{
			Name:  argSourceType,
			Usage: "source type, one of: \"inmem\", \"file\" or \"sqlite\"",
		},
		&ucli.StringSliceFlag{
			Name:  argSourceParam,
			Usage: "source parameters, e.g. \"dir=/var/lib/lrfeed,pollIntervalMs=200\"",
		},
	}

	feedFlags := append([]ucli.Flag{
		&ucli.StringFlag{
			Name:  argFilter,
			Usage: "feed filter, e.g. 'service=api, level>=WARN, from=-1h'",
		},
		&ucli.IntFlag{
			Name:  argLimit,
			Usage: "backfill page size",
		},
	}, cmnFlags...)

	tailFlags := append([]ucli.Flag{
		&ucli.BoolFlag{
			Name:  argTailNoFollow,
			Usage: "print the newest records and exit",
		},
		&ucli.StringFlag{
			Name:  argTailFormat,
			Usage: "record format, e.g. \"{ts:15:04:05} {level} {msg}\\n\"",
		},
		&ucli.StringFlag{
			Name:  argTailMetricsAddr,
			Usage: "address to serve prometheus metrics on, e.g. \":9100\"",
		},
	}, feedFlags...)

	appendFlags := append([]ucli.Flag{
		&ucli.StringFlag{
			Name:  argAppendOrigin,
			Usage: "origin of the lines, e.g. \"service=api,instance=api-1\"",
		},
		&ucli.StringFlag{
			Name:  argAppendLevel,
			Usage: "level of the lines",
			Value: "INFO",
		},
		&ucli.StringFlag{
			Name:  argAppendUnit,
			Usage: "unit of the lines",
		},
		&ucli.StringFlag{
			Name:  argAppendTerm,
			Usage: "marks the last line as terminal, one of: \"success\" or \"failure\"",
		},
	}, cmnFlags...)

	app := &ucli.App{
		Name:    "lrfeed",
		Version: Version,
		Usage:   "Log feed viewer",
		Commands: []*ucli.Command{
			{
				Name:      "view",
				Usage:     "Run interactive feed viewer",
				UsageText: "lrfeed view [command options]",
				Action:    runView,
				Flags:     feedFlags,
			},
			{
				Name:      "tail",
				Usage:     "Print the feed and follow new records",
				UsageText: "lrfeed tail [command options]",
				Action:    runTail,
				Flags:     tailFlags,
			},
			{
				Name:      "append",
				Usage:     "Append log lines to the source",
				UsageText: "lrfeed append [command options] [lines...]",
				Action:    runAppend,
				Flags:     appendFlags,
			},
		},
	}

	for _, c := range app.Commands {
		sort.Sort(ucli.FlagsByName(c.Flags))
	}
	sort.Sort(ucli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initCfg(c *ucli.Context) (*client.Config, error) {
	var (
		err error
		cfg = client.NewDefaultConfig()
	)

	logCfgFile := c.String(argLogCfgFile)
	if logCfgFile != "" {
		err = log4g.ConfigF(logCfgFile)
		if err != nil {
			return nil, err
		}
	}

	cfgFile := c.String(argCfgFile)
	if cfgFile != "" {
		logger.Info("Loading config from=", cfgFile)
		config, err := client.LoadCfgFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg.Apply(config)
	}

	err = applyArgsToCfg(c, cfg)
	return cfg, err
}

func applyArgsToCfg(c *ucli.Context, cfg *client.Config) error {
	other := &client.Config{}
	if st := c.String(argSourceType); st != "" || len(c.StringSlice(argSourceParam)) > 0 {
		other.Source = &source.Config{Type: source.Type(st), Params: make(map[string]interface{})}
		for _, sp := range c.StringSlice(argSourceParam) {
			mp, err := kvstring.ToMap(sp)
			if err != nil {
				return err
			}
			for k, v := range mp {
				other.Source.Params[k] = v
			}
		}
	}

	if c.IsSet(argFilter) {
		other.Filter = c.String(argFilter)
	}
	other.PageLimit = c.Int(argLimit)
	cfg.Apply(other)
	return nil
}

func newCtx() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	stop := utils.NewNotifierOnIntTermSignal(func(s os.Signal) {
		logger.Warn("Handling signal=", s)
		cancel()
	})
	return ctx, func() {
		stop()
		cancel()
	}
}

func newApp(c *ucli.Context, withArgs bool) (*client.App, error) {
	cfg, err := initCfg(c)
	if err != nil {
		return nil, err
	}
	if c.Args().Len() > 0 && !withArgs {
		return nil, fmt.Errorf("no arguments expected, but %s", c.Args())
	}
	return client.NewApp(context.Background(), cfg)
}

func runView(c *ucli.Context) error {
	log4g.SetLogLevel("", log4g.FATAL)
	app, err := newApp(c, false)
	if err != nil {
		return err
	}
	defer app.Shutdown()
	return view.Run(context.Background(), app.Feeds, "", app.Config.HistoryFile)
}

func runTail(c *ucli.Context) error {
	app, err := newApp(c, false)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	if addr := c.String(argTailMetricsAddr); addr != "" {
		go func() {
			logger.Info("Serving metrics on ", addr)
			if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
				logger.Error("Could not serve metrics, err=", err)
			}
		}()
	}

	f, err := app.Feeds.Filter("")
	if err != nil {
		return err
	}

	ctx, cancel := newCtx()
	defer cancel()
	return view.Tail(ctx, app.Feeds.NewConsolidator(), view.TailConfig{
		Filter:       f,
		Follow:       !c.Bool(argTailNoFollow),
		Format:       unescape(c.String(argTailFormat)),
		PollInterval: app.Feeds.PollInterval(),
	}, os.Stdout)
}

func runAppend(c *ucli.Context) error {
	app, err := newApp(c, true)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	var o api.Origin
	if ostr := c.String(argAppendOrigin); ostr != "" {
		mp, err := kvstring.ToMap(ostr)
		if err != nil {
			return err
		}
		if o, err = toOrigin(mp); err != nil {
			return err
		}
	}

	msgs, err := getLines(c)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no lines to append")
	}

	lines := make([]api.LogLine, len(msgs))
	for i, m := range msgs {
		lines[i] = api.LogLine{Level: strings.ToUpper(c.String(argAppendLevel)), Unit: c.String(argAppendUnit), Message: m}
	}
	switch strings.ToLower(c.String(argAppendTerm)) {
	case "":
	case "success":
		lines[len(lines)-1].TerminationStatus = utils.BoolPtr(true)
	case "failure":
		lines[len(lines)-1].TerminationStatus = utils.BoolPtr(false)
	default:
		return fmt.Errorf("unknown %s value %q, expected success or failure", argAppendTerm, c.String(argAppendTerm))
	}

	ctx, cancel := newCtx()
	defer cancel()
	recs, err := app.Feeds.Appender().Append(ctx, o, lines)
	if err != nil {
		return err
	}
	fmt.Printf("%d lines appended, sequences %d..%d\n", len(recs), recs[0].Sequence, recs[len(recs)-1].Sequence)
	return nil
}

func toOrigin(mp map[string]string) (api.Origin, error) {
	var o api.Origin
	for k, v := range mp {
		switch strings.ToLower(k) {
		case "service":
			o.Service = v
		case "instance":
			o.Instance = v
		case "directory", "dir":
			o.Directory = v
		case "process":
			o.Process = v
		case "task":
			o.Task = v
		default:
			return o, fmt.Errorf("unknown origin field %s, expected one of service, instance, directory, process, task", k)
		}
	}
	return o, nil
}

// getLines returns the command arguments, or the stdin lines if no arguments
// are provided
func getLines(c *ucli.Context) ([]string, error) {
	if c.Args().Len() > 0 {
		return c.Args().Slice(), nil
	}

	var lines []string
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if t := strings.TrimRight(scanner.Text(), "\r"); strings.TrimSpace(t) != "" {
			lines = append(lines, t)
		}
	}
	return lines, scanner.Err()
}

// unescape allows to provide the new line in the format from the command line
func unescape(s string) string {
	return strings.Replace(s, `\n`, "\n", -1)
}
