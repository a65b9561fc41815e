package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ngoyal88/mimasaka/pkg/cache"
	"github.com/ngoyal88/mimasaka/pkg/config"
	"github.com/ngoyal88/mimasaka/pkg/requestmsg"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args))
}

// run executes the command in args and returns the process exit code.
func run(args []string) int {
	if len(args) < 2 {
		usage(os.Stderr)
		return 1
	}

	fs := pflag.NewFlagSet(args[1], pflag.ContinueOnError)
	configDir := fs.String("config", config.DefaultConfigDir, "directory holding config.yaml")
	if err := fs.Parse(args[2:]); err != nil {
		log.Printf("failed to parse flags: %v", err)
		return 1
	}

	cfg := mustLoadConfig(*configDir)
	rdb := mustRedis(cfg)
	defer rdb.Close()

	store := storage.NewRedisStore(rdb, cfg.Storage.RecordTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := execute(ctx, requestmsg.New(store), store, args[1], fs.Args(), os.Stdout)
	if errors.Is(err, errUsage) {
		usage(os.Stderr)
		return 1
	} else if err != nil {
		log.Print(err)
		return 1
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "mimasaka-admin commands (redis backend):")
	fmt.Fprintln(w, "  ping                 Check the record store is reachable")
	fmt.Fprintln(w, "  count                Print the number of stored request messages")
	fmt.Fprintln(w, "  get <id>             Print a request message as JSON")
	fmt.Fprintln(w, "  delete <id>          Delete a request message")
	fmt.Fprintln(w, "flags: --config <dir>")
}

func mustLoadConfig(dir string) *config.Config {
	cfg, err := config.Load(dir)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func mustRedis(cfg *config.Config) *cache.Client {
	if !cfg.Redis.Enabled {
		log.Fatal("redis is not enabled in config")
	}
	rdb, err := cache.NewRedis(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	return rdb
}

// execute runs one admin command against the record store.
func execute(ctx context.Context, messages *requestmsg.Manager, store storage.Store, cmd string, args []string, out io.Writer) error {
	switch cmd {
	case "ping":
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		fmt.Fprintln(out, "OK")
	case "count":
		n, err := store.Count(ctx)
		if err != nil {
			return fmt.Errorf("count: %w", err)
		}
		fmt.Fprintln(out, n)
	case "get":
		if len(args) != 1 {
			return errUsage
		}
		msg, err := messages.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get %s: %w", args[0], err)
		}
		b, err := json.MarshalIndent(msg, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s: %w", args[0], err)
		}
		fmt.Fprintln(out, string(b))
	case "delete":
		if len(args) != 1 {
			return errUsage
		}
		if err := messages.Delete(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "deleted %s\n", args[0])
	default:
		return errUsage
	}
	return nil
}
