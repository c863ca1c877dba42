// Command odataquery reads entries from an OData service and prints them
// as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	odata "github.com/nlstn/go-odataclient"
)

func main() {
	baseURL := flag.String("url", "", "Service root URL")
	set := flag.String("set", "", "Entity set or singleton to read")
	filter := flag.String("filter", "", "Raw $filter expression")
	orderBy := flag.String("orderby", "", "Comma separated properties to order by")
	selects := flag.String("select", "", "Comma separated properties to select")
	expand := flag.String("expand", "", "Comma separated navigation paths to expand")
	top := flag.Int("top", -1, "Maximum number of entries")
	all := flag.Bool("all", false, "Follow next links until the last page")
	count := flag.Bool("count", false, "Print only the number of matching entries")
	version := flag.String("version", "", "Force the protocol version, e.g. 4.0")
	timeout := flag.Duration("timeout", 30*time.Second, "Timeout for the whole query")
	verbose := flag.Bool("v", false, "Log requests")

	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *baseURL == "" || *set == "" {
		logger.Error("Both -url and -set are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := odata.Config{BaseURL: *baseURL, Logger: logger}
	if *version != "" {
		v, err := odata.ParseVersion(*version)
		if err != nil {
			logger.Error("Invalid version", "error", err)
			os.Exit(2)
		}
		cfg.Version = v
	}
	client, err := odata.NewClient(cfg)
	if err != nil {
		logger.Error("Failed to create client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	cmd := odata.For(*set)
	if *filter != "" {
		cmd = cmd.FilterText(*filter)
	}
	if names := split(*orderBy); len(names) > 0 {
		cmd = cmd.OrderBy(names...)
	}
	if names := split(*selects); len(names) > 0 {
		cmd = cmd.Select(names...)
	}
	if paths := split(*expand); len(paths) > 0 {
		cmd = cmd.Expand(paths...)
	}
	if *top >= 0 {
		cmd = cmd.Top(*top)
	}

	if *count {
		n, err := client.GetCount(ctx, cmd)
		if err != nil {
			logger.Error("Count failed", "set", *set, "error", err)
			os.Exit(1)
		}
		if err := json.NewEncoder(os.Stdout).Encode(n); err != nil {
			logger.Error("Failed to write count", "error", err)
			os.Exit(1)
		}
		return
	}

	var entries []map[string]any
	if *all {
		entries, err = client.FindEntriesAll(ctx, cmd)
	} else {
		entries, err = client.FindEntries(ctx, cmd)
	}
	if err != nil {
		logger.Error("Query failed", "set", *set, "status", odata.StatusCode(err), "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			logger.Error("Failed to write entry", "error", err)
			os.Exit(1)
		}
	}
	logger.Debug("Query finished", "set", *set, "entries", len(entries))
}

func split(list string) []string {
	var out []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
