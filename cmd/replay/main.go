// Command replay is the thin CLI front-end over replay.Engine: a single
// command taking a contract id and printing its post-fold state and
// validity table as JSON. Everything the original CLI did beyond that
// (serving a node, benchmarking, saving to disk) is out of scope here —
// spec.md excludes a CLI surface beyond a minimal entrypoint.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/smartweave-go/replay/log"
	"github.com/smartweave-go/replay/replay"
	"github.com/smartweave-go/replay/statecache"
)

var (
	heightFlag = &cli.Uint64Flag{
		Name:  "height",
		Usage: "bound fetched interactions to this block height or below",
	}
	noCacheFlag = &cli.BoolFlag{
		Name:  "no-cache",
		Usage: "bypass the state cache entirely for this run",
	}
	ledgerURLFlag = &cli.StringFlag{
		Name:  "ledger-url",
		Usage: "base URL of the ledger gateway",
		Value: replay.DefaultConfig.LedgerBaseURL,
	}
	cacheBackendFlag = &cli.StringFlag{
		Name:  "cache-backend",
		Usage: "state cache backend: memory, dir, leveldb, pebble, bbolt",
		Value: string(replay.DefaultConfig.CacheBackend),
	}
	cacheDirFlag = &cli.StringFlag{
		Name:  "cache-dir",
		Usage: "on-disk location for the dir/leveldb/pebble/bbolt cache backends",
		Value: replay.DefaultConfig.CacheDir,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value: 3,
	}
)

func main() {
	app := &cli.App{
		Name:      "replay",
		Usage:     "replay a contract's interactions against the ledger",
		ArgsUsage: "<contract-id>",
		Flags:     []cli.Flag{heightFlag, noCacheFlag, ledgerURLFlag, cacheBackendFlag, cacheDirFlag, verbosityFlag},
		Action:    run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return cli.Exit("expected exactly one argument: the contract id", 1)
	}
	contractID := c.Args().Get(0)

	glog := log.NewGlogHandler(log.NewTerminalHandler(os.Stderr, false))
	glog.Verbosity(log.Level(12 - 4*c.Int("verbosity")))
	log.SetDefault(log.NewLogger(glog))

	cfg := replay.DefaultConfig
	cfg.LedgerBaseURL = c.String("ledger-url")
	cfg.CacheBackend = statecache.Backend(c.String("cache-backend"))
	cfg.CacheDir = c.String("cache-dir")
	cfg.HTTPTimeout = 30 * time.Second

	engine, err := replay.New(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("constructing engine: %v", err), 1)
	}

	opts := replay.ExecuteOptions{CacheEnabled: !c.Bool("no-cache")}
	if c.IsSet("height") {
		h := c.Uint64("height")
		opts.CeilingHeight = &h
	}

	result, err := engine.Execute(c.Context, contractID, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("execute %s: %v", contractID, err), 1)
	}

	out := struct {
		Kind     string          `json:"kind"`
		State    json.RawMessage `json:"state"`
		Validity map[string]bool `json:"validity"`
	}{Kind: result.Kind.String(), State: result.State, Validity: result.Validity}

	encoded, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return cli.Exit(fmt.Sprintf("encoding result: %v", err), 1)
	}
	fmt.Println(string(encoded))
	return nil
}
