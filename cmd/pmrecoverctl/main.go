// Command pmrecoverctl drives the sorted-collection recovery engine
// against a heap file, and browses a recovered collection afterward.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	pmrecover "github.com/mattkeenan/pmrecover/pkg"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "rebuild":
		runRebuild(os.Args[2:])
	case "ls":
		runLs(os.Args[2:])
	case "-h", "--help", "help":
		showHelp()
	default:
		fmt.Fprintf(os.Stderr, "pmrecoverctl: unknown command %q\n", os.Args[1])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Fprintln(os.Stderr, "usage: pmrecoverctl <rebuild|ls> [options] <heap-file>")
}

func showHelp() {
	showUsage()
	fmt.Fprintln(os.Stderr, `
commands:
  rebuild <heap-file>   run recovery against heap-file and report the result
  ls <heap-file>        browse a recovered collection

options (rebuild):
  -threads N            override num_rebuild_threads
  -checkpoint TS         override checkpoint_timestamp
  -list-mode             force list-based rebuild instead of segment-based
  -verbose N             set verbose level (0-3)
  -debug FLAGS           enable debug toggles (segment,tower,reclaim)

options (ls):
  -collection ID         only list entries for this collection id
  -prefix STR            only list keys with this prefix`)
}

func runRebuild(args []string) {
	var heapPath string
	var overrides []string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-threads":
			i++
			overrides = append(overrides, "num_rebuild_threads:"+args[i])
		case "-checkpoint":
			i++
			overrides = append(overrides, "checkpoint_timestamp:"+args[i])
		case "-list-mode":
			overrides = append(overrides, "segment_based_rebuild:false")
		case "-verbose":
			i++
			overrides = append(overrides, "verbose_level:"+args[i])
		case "-debug":
			i++
			overrides = append(overrides, "debug_flags:"+args[i])
		default:
			heapPath = args[i]
		}
	}

	if heapPath == "" {
		showUsage()
		os.Exit(1)
	}

	cfg, err := pmrecover.LoadConfig(".")
	if err != nil {
		fatal("loading config: %v", err)
	}
	if err := cfg.ApplyOverrides(overrides); err != nil {
		fatal("applying overrides: %v", err)
	}

	h, err := pmrecover.OpenHeap(heapPath, 0)
	if err != nil {
		fatal("opening heap: %v", err)
	}
	defer h.Close()

	rb := pmrecover.NewRebuilder(h, cfg)
	rb.SetNow(uint64(time.Now().Unix()))
	if err := rb.ScanHeap(); err != nil {
		fatal("scanning heap: %v", err)
	}
	result, err := rb.Rebuild()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("status=%s max_id=%d collections=%d records_freed=%d\n",
		result.Status, result.MaxID, len(result.RebuildSkiplists), len(result.Freed))
}

func runLs(args []string) {
	var heapPath, prefix string
	var collectionFilter uint64
	haveFilter := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-collection":
			i++
			n, err := strconv.ParseUint(args[i], 10, 64)
			if err == nil {
				collectionFilter = n
				haveFilter = true
			}
		case "-prefix":
			i++
			prefix = args[i]
		default:
			heapPath = args[i]
		}
	}
	if heapPath == "" {
		showUsage()
		os.Exit(1)
	}

	cfg, err := pmrecover.LoadConfig(".")
	if err != nil {
		fatal("loading config: %v", err)
	}

	h, err := pmrecover.OpenHeap(heapPath, 0)
	if err != nil {
		fatal("opening heap: %v", err)
	}
	defer h.Close()

	rb := pmrecover.NewRebuilder(h, cfg)
	rb.SetNow(uint64(time.Now().Unix()))
	if err := rb.ScanHeap(); err != nil {
		fatal("scanning heap: %v", err)
	}
	result, err := rb.Rebuild()
	if err != nil {
		fatal("rebuild failed: %v", err)
	}

	idx := pmrecover.NewBrowseIndex(16)
	for id, list := range result.RebuildSkiplists {
		if haveFilter && id != collectionFilter {
			continue
		}
		idx.IndexList(strconv.FormatUint(id, 10), list)
	}

	for id := range result.RebuildSkiplists {
		if haveFilter && id != collectionFilter {
			continue
		}
		ctx := strconv.FormatUint(id, 10)
		idx.ForEachInContext(ctx, func(key, value []byte) bool {
			if prefix != "" && !strings.HasPrefix(string(key), prefix) {
				return true
			}
			fmt.Printf("%s\t%s\t%s\n", ctx, string(key), string(value))
			return true
		})
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "pmrecoverctl: "+format+"\n", args...)
	os.Exit(1)
}
