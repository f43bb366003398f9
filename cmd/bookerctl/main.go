// Command bookerctl is a read-only inspector for booker document
// directories: it prints the result of the recovery loader (component G)
// and can tail a document's files for changes during development.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/docopt/docopt-go"
	"github.com/fsnotify/fsnotify"
	json "github.com/goccy/go-json"

	"github.com/bugsnag/booker"
)

const version = "0.1.0"

func main() {
	usage := `bookerctl inspects and watches booker document directories.

Usage:
    bookerctl inspect [--type=<tag>] [--ver=<v>] <base_path>
    bookerctl watch [--type=<tag>] [--ver=<v>] <base_path>

Options:
    -h --help        Show this screen.
    --version         Show version.
    --type=<tag>      Journal type tag to expect [default: bookerctl].
    --ver=<v>         Journal version to expect [default: 1].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	basePath, _ := opts.String("<base_path>")
	typeTag, _ := opts.String("--type")
	verStr, _ := opts.String("--ver")
	ver, err := strconv.ParseUint(verStr, 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bookerctl: invalid --ver %q: %v\n", verStr, err)
		os.Exit(2)
	}

	log := booker.NewLogger(true)

	if inspect, _ := opts.Bool("inspect"); inspect {
		if err := runInspect(basePath, typeTag, uint32(ver)); err != nil {
			log.Error("inspect failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if err := runWatch(basePath, typeTag, uint32(ver), log); err != nil {
		log.Error("watch failed", "err", err)
		os.Exit(1)
	}
}

func runInspect(basePath, typeTag string, ver uint32) error {
	hasNew := fileExists(basePath + ".snapshot.new")
	doc, err := booker.LoadDocumentContents(basePath, typeTag, ver)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("# snapshot.new present: %v\n", hasNew)
	fmt.Printf("# top-level fields: %v\n", sortedKeys(doc))
	fmt.Println(string(out))
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runWatch(basePath, typeTag string, ver uint32, log *slog.Logger) error {
	dir := filepath.Dir(basePath)
	base := filepath.Base(basePath)
	watched := map[string]bool{
		base + ".snapshot":     true,
		base + ".snapshot.new": true,
		base + ".journal":      true,
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	prev, _ := booker.LoadDocumentContents(basePath, typeTag, ver)
	printDiff(nil, prev)

	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Base(event.Name)] {
				continue
			}
			doc, err := booker.LoadDocumentContents(basePath, typeTag, ver)
			if err != nil {
				log.Warn("reload failed", "err", err)
				continue
			}
			printDiff(prev, doc)
			prev = doc
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)
		}
	}
}

func printDiff(prev, cur map[string]any) {
	keys := map[string]bool{}
	for k := range prev {
		keys[k] = true
	}
	for k := range cur {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		oldV, hadOld := prev[k]
		newV, hasNew := cur[k]
		switch {
		case !hadOld && hasNew:
			fmt.Printf("+ %s = %v\n", k, newV)
		case hadOld && !hasNew:
			fmt.Printf("- %s\n", k)
		case !equalJSON(oldV, newV):
			fmt.Printf("~ %s = %v\n", k, newV)
		}
	}
}

func equalJSON(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
