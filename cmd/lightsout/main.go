package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lightsout/internal/app"
)

func main() {
	var (
		cfgPath   string
		authorize string
		history   int
	)
	flag.StringVar(&cfgPath, "config", "", "path to config json/yaml (optional when env carries everything)")
	flag.StringVar(&authorize, "authorize", "", "comma separated telegram user ids to allow, then exit")
	flag.IntVar(&history, "history", 0, "print the newest N outages, then exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if authorize != "" || history > 0 {
		if err := runAdmin(ctx, cfgPath, authorize, history); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		return
	}

	a, err := app.NewApp(ctx, cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		_ = a.Stop(context.Background(), app.StopFatalError)
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	sctx, scancel := context.WithTimeout(context.Background(), a.ShutdownTimeout()+15*time.Second)
	defer scancel()
	_ = a.Stop(sctx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runAdmin(ctx context.Context, cfgPath, authorize string, history int) error {
	if authorize != "" {
		ids, err := app.ParseUserIDs(authorize)
		if err != nil {
			return err
		}
		added, err := app.AuthorizeUsers(ctx, cfgPath, ids)
		if err != nil {
			return err
		}
		fmt.Printf("authorized %d new of %d\n", added, len(ids))
	}
	if history > 0 {
		list, err := app.OutageHistory(ctx, cfgPath, history)
		if err != nil {
			return err
		}
		for _, o := range list {
			ended := "open"
			if !o.Open() {
				ended = o.Ended.Format(time.DateTime)
			}
			fmt.Printf("%d\t%s\t%s\n", o.ID, o.Started.Format(time.DateTime), ended)
		}
	}
	return nil
}
