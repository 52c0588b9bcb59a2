// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/orvale/readingroom/internal/app"
	"github.com/orvale/readingroom/internal/config"
)

var (
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("version", false, "Show version")
	dirFlag    = flag.String("dir", "", "Profile directory (default: ~/.readingroom)")
	configFlag = flag.String("config", "", "Config file path (default: <dir>/config.json)")
	startFlag  = flag.Bool("start", false, "Start a new session immediately and print the share link")
	joinFlag   = flag.String("join", "", "Join an existing session by share link or session id")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return
	}
	if *version {
		fmt.Println("readingroom", appVersion)
		return
	}
	if *startFlag && *joinFlag != "" {
		log.Fatal("MAIN: -start and -join are mutually exclusive")
	}

	dir := *dirFlag
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("MAIN: resolve home directory: %v", err)
		}
		dir = filepath.Join(home, ".readingroom")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("MAIN: create profile directory: %v", err)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = filepath.Join(dir, "config.json")
	}

	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("MAIN: load config: %v", err)
	}
	if created {
		log.Printf("MAIN: wrote default config to %s", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = app.Run(ctx, app.Options{
		Dir:        dir,
		ConfigPath: cfgPath,
		Config:     cfg,
		StartNow:   *startFlag,
		JoinRef:    *joinFlag,
	})
	if err != nil {
		log.Fatalf("MAIN: %v", err)
	}
}
