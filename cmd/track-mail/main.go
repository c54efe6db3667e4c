package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
)

func main() {
	app := mustBootstrapTrackMail()

	err := app.Run()
	app.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-mail stopped", "error", err.Error())
		os.Exit(1)
	}
}
