package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	fileintegrity "github.com/mattkeenan/fileintegrity/pkg"
)

// globalOptions are accepted by every subcommand
type globalOptions struct {
	dir       string
	verbose   int
	debug     string
	logJSON   bool
	overrides []string
}

func main() {
	if len(os.Args) < 2 {
		showUsage(os.Stderr)
		os.Exit(1)
	}

	command := os.Args[1]
	if command == "--help" || command == "-h" || command == "help" {
		showUsage(os.Stdout)
		return
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	if err := run(ctx, command, os.Args[2:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fit: %v\n", err)
		os.Exit(1)
	}
}

func showUsage(w io.Writer) {
	fmt.Fprintf(w, "Usage: fit <command> [options]\n\n")
	fmt.Fprintf(w, "COMMANDS:\n")
	fmt.Fprintf(w, "  init [comment]    Create the repository and save the first state\n")
	fmt.Fprintf(w, "  commit [comment]  Save a new state when anything changed\n")
	fmt.Fprintf(w, "  status            Compare the tree with the last state\n")
	fmt.Fprintf(w, "  check             Look for content corrupted without a date change\n")
	fmt.Fprintf(w, "  dupes             List duplicate files\n")
	fmt.Fprintf(w, "  log               List saved states\n\n")
	fmt.Fprintf(w, "GLOBAL OPTIONS:\n")
	fmt.Fprintf(w, "  -C, --dir DIR           Run as if started in DIR\n")
	fmt.Fprintf(w, "  -v, --verbose N         Verbose level 0-3\n")
	fmt.Fprintf(w, "      --debug FLAGS       Debug flags: scan,reconcile,scaler,dupes\n")
	fmt.Fprintf(w, "      --log-json          Log as JSON lines\n")
	fmt.Fprintf(w, "  -c, --config KEY:VALUE  Override a configuration value (repeatable)\n")
}

func newFlagSet(name string, global *globalOptions) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&global.dir, "dir", "C", ".", "run as if started in this directory")
	fs.IntVarP(&global.verbose, "verbose", "v", -1, "verbose level 0-3")
	fs.StringVar(&global.debug, "debug", "", "comma-separated debug flags")
	fs.BoolVar(&global.logJSON, "log-json", false, "log as JSON lines")
	fs.StringArrayVarP(&global.overrides, "config", "c", nil, "override a configuration value (key:value)")
	return fs
}

func run(ctx context.Context, command string, args []string, out io.Writer) error {
	var global globalOptions
	fs := newFlagSet(command, &global)

	var mode string
	var rehash bool
	var message string
	switch command {
	case "init", "commit":
		fs.StringVarP(&message, "message", "m", "", "state comment")
	case "status":
		fs.StringVar(&mode, "mode", "", "hash mode for this run: none, small, medium, full")
		fs.BoolVar(&rehash, "rehash", false, "re-hash files matched by content when the last state is stronger")
	case "check", "dupes", "log":
	default:
		showUsage(os.Stderr)
		return fmt.Errorf("unknown command '%s'", command)
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if message == "" && fs.NArg() > 0 {
		message = strings.Join(fs.Args(), " ")
	}

	if global.logJSON {
		fileintegrity.SetLogOutput(os.Stderr, true)
	}

	if command == "init" {
		tracker, err := fileintegrity.NewTracker(global.dir)
		if err != nil {
			return err
		}
		applyVerbose(global, nil)
		n, err := tracker.Init(ctx, message)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Repository initialised in %s, state #%d saved\n", tracker.RepoDir, n)
		return nil
	}

	tracker, cwdRel, err := openTracker(global)
	if err != nil {
		return err
	}

	switch command {
	case "commit":
		n, result, err := tracker.Commit(ctx, message)
		if err != nil {
			return err
		}
		printComparison(out, result)
		if n == 0 {
			fmt.Fprintf(out, "Nothing committed\n")
		} else {
			fmt.Fprintf(out, "State #%d saved\n", n)
		}
	case "status":
		opts := fileintegrity.StatusOptions{Subdir: cwdRel, Rehash: rehash}
		if mode != "" {
			m, err := fileintegrity.ParseHashMode(mode)
			if err != nil {
				return err
			}
			opts.Mode = &m
		}
		result, err := tracker.Status(ctx, opts)
		if err != nil {
			return err
		}
		printComparison(out, result)
	case "check":
		result, err := tracker.CorruptionScan(ctx)
		if err != nil {
			return err
		}
		printComparison(out, result)
	case "dupes":
		sets, err := tracker.FindDuplicates(ctx)
		if err != nil {
			return err
		}
		printDuplicates(out, sets)
	case "log":
		headers, err := tracker.States()
		if err != nil {
			return err
		}
		for _, h := range headers {
			fmt.Fprintf(out, "State #%d: %s (%d files - %s - hash mode: %s)\n",
				h.Number, h.Timestamp.Local().Format(time.DateTime), h.FileCount,
				humanize.IBytes(uint64(h.FilesContentLength)), h.HashMode)
			if h.Comment != "" {
				fmt.Fprintf(out, "\tComment: %s\n", h.Comment)
			}
		}
	}
	return nil
}

// openTracker finds the repository above the working directory and returns
// the tracker with the working directory relative to the root
func openTracker(global globalOptions) (*fileintegrity.Tracker, string, error) {
	cwd, err := filepath.Abs(global.dir)
	if err != nil {
		return nil, "", err
	}
	if real, err := filepath.EvalSymlinks(cwd); err == nil {
		cwd = real
	}
	root, err := fileintegrity.FindRoot(cwd)
	if err != nil {
		return nil, "", err
	}
	tracker, err := fileintegrity.NewTracker(root)
	if err != nil {
		return nil, "", err
	}
	if err := tracker.Open(); err != nil {
		return nil, "", err
	}
	if len(global.overrides) > 0 {
		if err := tracker.ApplyConfigOverrides(global.overrides); err != nil {
			return nil, "", err
		}
	}
	applyVerbose(global, tracker.Config())

	rel, err := filepath.Rel(root, cwd)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		rel = ""
	}
	return tracker, filepath.ToSlash(rel), nil
}

// applyVerbose sets the log level from the flags, falling back to the configuration
func applyVerbose(global globalOptions, config *fileintegrity.Config) {
	level, debug := 0, ""
	if config != nil {
		verbose := config.GetVerboseConfig()
		level, debug = verbose.Level, verbose.Debug
	}
	if global.verbose >= 0 {
		level = global.verbose
	}
	if global.debug != "" {
		debug = global.debug
	}
	fileintegrity.SetVerboseLevel(level)
	fileintegrity.SetDebugFlags(debug)
}

func printComparison(out io.Writer, result *fileintegrity.StatusResult) {
	c := result.Comparison
	for _, w := range c.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if result.Previous == nil {
		fmt.Fprintf(out, "No previous state to compare with\n")
	} else {
		fmt.Fprintf(out, "Comparing with state #%d (%s), hash mode %s\n",
			result.PreviousNumber, result.Previous.Timestamp.Local().Format(time.DateTime), c.CommonMode)
	}

	for _, d := range c.Differences() {
		switch {
		case d.Previous != nil && d.Previous.Path != d.Record.Path:
			fmt.Fprintf(out, "%-20s %s -> %s\n", d.Kind.String()+":", d.Previous.Path, d.Record.Path)
		default:
			fmt.Fprintf(out, "%-20s %s\n", d.Kind.String()+":", d.Record.Path)
		}
	}

	if !c.Modified() {
		fmt.Fprintf(out, "Nothing modified\n")
	}
	var parts []string
	for _, kind := range fileintegrity.Modifications {
		if n := c.Count(kind); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, kind))
		}
	}
	parts = append(parts, fmt.Sprintf("%d unchanged", c.Unchanged))
	fmt.Fprintf(out, "%s\n", strings.Join(parts, ", "))
	fmt.Fprintf(out, "Scanned %d files, hashed %s in %s with %d workers\n",
		result.Stats.Files, humanize.IBytes(uint64(result.Stats.BytesHashed)),
		result.Stats.Duration.Round(time.Millisecond), result.Stats.Workers)
}

func printDuplicates(out io.Writer, sets []fileintegrity.DuplicateSet) {
	if len(sets) == 0 {
		fmt.Fprintf(out, "No duplicate files found\n")
		return
	}
	for _, set := range sets {
		fmt.Fprintf(out, "- %d files of %s, %s wasted\n",
			set.Count(), humanize.IBytes(uint64(set.Size())), humanize.IBytes(uint64(set.WastedSpace())))
		for _, f := range set.Files {
			fmt.Fprintf(out, "      %s\n", f.Path)
		}
	}
	fmt.Fprintf(out, "%d duplicate sets, %s wasted\n", len(sets), humanize.IBytes(uint64(fileintegrity.TotalWasted(sets))))
}
