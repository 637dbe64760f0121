package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epokhe/qdb/core"
	"github.com/epokhe/qdb/remote"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  server -path <data-dir>\n")
	os.Exit(1)
}

func main() {
	var (
		path             = flag.String("path", "", "path to the buffer's data directory")
		addr             = flag.String("addr", ":1729", "RPC listen address")
		maxSize          = flag.Int64("max-size", 0, "ring total size cap in bytes (0 = default)")
		segmentCount     = flag.Int("segment-count", 0, "number of segments the ring is divided into (0 = default)")
		autoSyncInterval = flag.Duration("auto-sync-interval", 0, "checkpoint interval after an unsynced append (0 = default)")
	)
	flag.Parse()

	if *path == "" {
		usage()
	}

	var opts []core.Option
	if *maxSize > 0 {
		opts = append(opts, core.WithMaxSize(*maxSize))
	}
	if *segmentCount > 0 {
		opts = append(opts, core.WithSegmentCount(*segmentCount))
	}
	if *autoSyncInterval > 0 {
		opts = append(opts, core.WithAutoSyncInterval(*autoSyncInterval))
	}

	buf, err := core.Open(*path, opts...)
	if err != nil {
		log.Fatalf("could not open buffer: %v", err)
	}

	listenAddr, cleanup, err := remote.StartRPC(buf, *addr)
	if err != nil {
		log.Fatalf("could not start RPC server: %v", err)
	}
	log.Printf("RPC server listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Printf("received %v, shutting down", sig)
			cleanup()
			return
		case <-ticker.C:
			log.Printf("size=%d messages=%d next_id=%d", buf.Size(), buf.MessageCount(), buf.NextMessageID())
		}
	}
}
