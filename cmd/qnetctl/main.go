package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/qnetctl/qnetctl/internal/client"
	"github.com/qnetctl/qnetctl/internal/config"
	"github.com/qnetctl/qnetctl/internal/logging"
	"github.com/qnetctl/qnetctl/internal/protocol"
)

func main() {
	var (
		configPath string
		watch      bool
		settle     time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to qnetctl.toml (optional)")
	flag.BoolVar(&watch, "watch", false, "stay connected and print every inbound line")
	flag.DurationVar(&settle, "settle", time.Second, "how long to wait for replies after the last sent line")
	flag.Parse()

	_ = godotenv.Load()
	logging.ConfigureRuntime("qnetctl")

	if err := run(configPath, watch, settle, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "qnetctl: %v\n", err)
		os.Exit(1)
	}
}

// run connects, replays the given command lines (or stdin when none and
// not watching), and either waits out the settle window or stays attached
// to the inbound firehose until interrupted.
func run(configPath string, watch bool, settle time.Duration, lines []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cli, err := client.New(cfg.ClientConfig())
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Connect(ctx); err != nil {
		return err
	}
	log.Info().Str("addr", cli.Config().Addr()).Msg("connected")

	token := cli.Subscribe(protocol.TopicAllEvents, func(data any) {
		switch v := data.(type) {
		case string:
			fmt.Println(v)
		case []any:
			parts := make([]string, len(v))
			for i, field := range v {
				parts[i] = fmt.Sprint(field)
			}
			fmt.Println(strings.Join(parts, ","))
		}
	})
	defer cli.Unsubscribe(token)

	if len(lines) == 0 && !watch {
		return sendFromStdin(ctx, cli)
	}
	for _, line := range lines {
		if err := cli.SendRaw(ctx, line); err != nil {
			return err
		}
	}
	if watch {
		<-ctx.Done()
		return nil
	}
	select {
	case <-ctx.Done():
	case <-time.After(settle):
	}
	return nil
}

// sendFromStdin forwards stdin lines to the controller until EOF.
func sendFromStdin(ctx context.Context, cli *client.Client) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := cli.SendRaw(ctx, line); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}
