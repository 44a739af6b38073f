package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/qnetctl/qnetctl/internal/client"
	"github.com/qnetctl/qnetctl/internal/config"
	"github.com/qnetctl/qnetctl/internal/database"
	"github.com/qnetctl/qnetctl/internal/logging"
	"github.com/qnetctl/qnetctl/internal/mcptools"
)

// version is stamped by the build; "dev" otherwise.
var version = "dev"

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to qnetctl.toml (optional)")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime("qnetctl-mcp")

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "qnetctl-mcp: %v\n", err)
		os.Exit(1)
	}
}

// run loads the catalog, connects the session and serves MCP over stdio
// until the transport closes or a signal arrives.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := database.NewLoader(cfg.Database.URL, cfg.Database.CachePath, cfg.Database.CacheOnly)
	db := database.New(loader)
	db.ApplyTypeMap(cfg.TypeMap)
	for _, f := range cfg.Filters {
		if err := db.EnableFilter(f.Name, f.Args); err != nil {
			return err
		}
	}
	if err := db.Load(ctx); err != nil {
		return err
	}

	cli, err := client.New(cfg.ClientConfig())
	if err != nil {
		return err
	}
	defer cli.Close()
	if err := cli.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("addr", cli.Config().Addr()).Str("version", version).Msg("session ready, serving MCP on stdio")

	srv := mcptools.New(cli, db, mcptools.Config{
		Version:  version,
		TypeMap:  cfg.TypeMap,
		Synonyms: cfg.Synonyms,
	})
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}
