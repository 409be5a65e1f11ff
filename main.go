// Package main is the entry point of the marznode stats agent. It attributes
// per-user traffic reported by the proxy core to the addresses seen in the
// core's access log and serves the result over HTTP.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/konstpic/marznode-stats/config"
	"github.com/konstpic/marznode-stats/database"
	"github.com/konstpic/marznode-stats/database/redisstore"
	"github.com/konstpic/marznode-stats/logger"
	"github.com/konstpic/marznode-stats/tail"
	"github.com/konstpic/marznode-stats/util/common"
	"github.com/konstpic/marznode-stats/web"
	"github.com/konstpic/marznode-stats/web/service"
	"github.com/konstpic/marznode-stats/xray"
)

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger.InitLogger(logger.ParseLevel(string(cfg.LogLevel)))
	return cfg
}

// openCursorStore opens the configured cursor backend. The database is also
// opened when traffic history is kept. The returned func releases everything.
func openCursorStore(cfg *config.Config) (tail.CursorStore, func(), error) {
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.CursorBackend == config.CursorBackendDB || cfg.KeepHistory {
		if err := database.InitDB(cfg.DBType, cfg.DBDSN, cfg.IsDebug()); err != nil {
			return nil, nil, common.NewErrorf("init database: %v", err)
		}
		closers = append(closers, func() {
			if err := database.CloseDB(); err != nil {
				logger.Warning("close database:", err)
			}
		})
	}

	if cfg.CursorBackend == config.CursorBackendRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := redisstore.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { client.Close() })
		return redisstore.NewCursorStore(client, cfg.RedisKeyPrefix), closeAll, nil
	}
	return database.CursorStore{}, closeAll, nil
}

func runServer() {
	cfg := loadConfig()
	logger.Noticef("Starting %s %s", config.GetName(), config.GetVersion())

	cursors, closeStore, err := openCursorStore(cfg)
	if err != nil {
		logger.Error(err)
		os.Exit(1)
	}
	defer closeStore()

	source, err := service.NewCounterSource(cfg.CoreType, cfg.APIAddr)
	if err != nil {
		logger.Error("init core stats API:", err)
		closeStore()
		os.Exit(1)
	}

	server := web.NewServer(cfg, cursors, source)
	if err := server.Start(); err != nil {
		logger.Error("start server:", err)
		closeStore()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			// only the log level can change without losing the in-memory store
			next, err := config.Load()
			if err != nil {
				logger.Warning("reload config:", err)
				continue
			}
			logger.InitLogger(logger.ParseLevel(string(next.LogLevel)))
			logger.Info("Log level reloaded:", next.LogLevel)
		default:
			logger.Notice("Shutting down:", sig)
			if err := server.Stop(); err != nil {
				logger.Warning("stop server:", err)
			}
			return
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

// showStats reads the core's counters once without resetting them. The
// scheduled collector stays the only caller that resets.
func showStats(raw bool) error {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CollectTimeout.Std())
	defer cancel()

	if raw && cfg.CoreType == config.CoreTypeXray {
		api := &xray.XrayAPI{}
		if err := api.Init(cfg.APIAddr); err != nil {
			return err
		}
		defer api.Close()
		counters, err := api.QueryCounters(ctx, false)
		if err != nil {
			return err
		}
		return printJSON(counters)
	}

	source, err := service.NewCounterSource(cfg.CoreType, cfg.APIAddr)
	if err != nil {
		return err
	}
	defer source.Close()

	counters, err := source.GetUserCounters(ctx, false)
	if err != nil {
		return err
	}
	return printJSON(counters)
}

type parseSummary struct {
	Parsed       int
	Failed       int
	Unattributed int
}

// parseLog parses every line of r, including a last line without a
// terminator. Records go to out as JSON and failures to errOut; either may be
// nil to stay quiet.
func parseLog(r io.Reader, out, errOut io.Writer) (parseSummary, error) {
	var summary parseSummary
	reader := bufio.NewReader(r)
	for {
		line, readErr := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			rec, err := xray.ParseAccessLine(line)
			switch {
			case err != nil:
				summary.Failed++
				if errOut != nil {
					fmt.Fprintln(errOut, err)
				}
			default:
				summary.Parsed++
				if rec.UserID == "" {
					summary.Unattributed++
				}
				if out != nil {
					if err := writeJSON(out, rec); err != nil {
						return summary, err
					}
				}
			}
		}
		if readErr == io.EOF {
			return summary, nil
		}
		if readErr != nil {
			return summary, readErr
		}
	}
}

// parseFile parses an access log and prints the records it yields.
func parseFile(path string, quiet bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var out, errOut io.Writer
	if !quiet {
		out, errOut = os.Stdout, os.Stderr
	}
	summary, err := parseLog(f, out, errOut)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "parsed: %d, failed: %d, without user: %d\n", summary.Parsed, summary.Failed, summary.Unattributed)
	return nil
}

// showCursor prints, or with reset deletes, the persisted cursor of the
// configured access log.
func showCursor(reset bool) error {
	cfg := loadConfig()
	cursors, closeStore, err := openCursorStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := context.Background()
	if reset {
		if err := cursors.DeleteCursor(ctx, cfg.AccessLog); err != nil {
			return err
		}
		fmt.Println("cursor reset for", cfg.AccessLog)
		return nil
	}

	c, found, err := cursors.LoadCursor(ctx, cfg.AccessLog)
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("no cursor stored for", cfg.AccessLog)
		return nil
	}
	return printJSON(c)
}

func main() {
	if len(os.Args) < 2 {
		runServer()
		return
	}

	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "show version")

	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	var raw bool
	statsCmd.BoolVar(&raw, "raw", false, "print raw counter names (xray only)")

	parseCmd := flag.NewFlagSet("parse", flag.ExitOnError)
	var quiet bool
	parseCmd.BoolVar(&quiet, "q", false, "only print the summary")

	cursorCmd := flag.NewFlagSet("cursor", flag.ExitOnError)
	var reset bool
	cursorCmd.BoolVar(&reset, "reset", false, "delete the stored cursor so the log is read from the start")

	oldUsage := flag.Usage
	flag.Usage = func() {
		oldUsage()
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("    run            run the stats agent")
		fmt.Println("    stats          read the core's per-user counters once")
		fmt.Println("    parse <file>   parse an access log and print the records")
		fmt.Println("    cursor         show or reset the stored access log cursor")
	}

	flag.Parse()
	if showVersion {
		fmt.Println(config.GetVersion())
		return
	}

	var err error
	switch os.Args[1] {
	case "run":
		runServer()
	case "stats":
		statsCmd.Parse(os.Args[2:])
		err = showStats(raw)
	case "parse":
		parseCmd.Parse(os.Args[2:])
		if parseCmd.NArg() != 1 {
			parseCmd.Usage()
			os.Exit(2)
		}
		err = parseFile(parseCmd.Arg(0), quiet)
	case "cursor":
		cursorCmd.Parse(os.Args[2:])
		err = showCursor(reset)
	default:
		fmt.Println("Invalid subcommands")
		fmt.Println()
		flag.Usage()
		fmt.Println()
		statsCmd.Usage()
		parseCmd.Usage()
		cursorCmd.Usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
