package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tullo/moddash/config"
	"github.com/tullo/moddash/internal/apperr"
	"github.com/tullo/moddash/internal/export"
	"github.com/tullo/moddash/internal/logging"
	"github.com/tullo/moddash/internal/remote"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/export/main.go <guild-id> [output-file | -]")
		os.Exit(1)
	}
	guildID := os.Args[1]

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := remote.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIToken, cfg.Remote.RequestTimeout, log)
	job := export.NewJob(client, cfg.Dashboard.ExportLimit, log)

	var buf bytes.Buffer
	n, err := job.Run(ctx, guildID, &buf)
	switch {
	case errors.Is(err, apperr.ErrNothingToDo):
		log.Info("no violations to export", "guild_id", guildID)
		return
	case err != nil:
		log.Error("export failed", "guild_id", guildID, "error", err)
		os.Exit(1)
	}

	out := export.Filename(time.Now())
	if len(os.Args) > 2 {
		out = os.Args[2]
	}

	if out == "-" {
		_, err = os.Stdout.Write(buf.Bytes())
	} else {
		err = os.WriteFile(out, buf.Bytes(), 0o644)
	}
	if err != nil {
		log.Error("failed to write export", "path", out, "error", err)
		os.Exit(1)
	}
	log.Info("export written", "path", out, "rows", n)
}
