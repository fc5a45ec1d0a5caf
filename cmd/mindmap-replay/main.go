// Command mindmap-replay rebuilds a mindmap from recorded turn streams and
// prints it as a tree.
//
// A transcript is an event stream as produced by the assistant endpoint.
// Lines of the form ": turn <text>" start a new turn for <text>; it hangs
// under the newest node with that content, or under the previous turn.
//
//	: turn what is go?
//	data: Go is a language.
//	data: [[goroutines, channels]] rocket
//	data: SEARCH_VOLUMES{"goroutines": 1200}
//	data: [END]
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ritzau/mindmap/pkg/annotation"
	"github.com/ritzau/mindmap/pkg/config"
	"github.com/ritzau/mindmap/pkg/logging"
	"github.com/ritzau/mindmap/pkg/mindmap"
	"github.com/ritzau/mindmap/pkg/output"
)

const turnPrefix = ": turn "

func main() {
	flags := pflag.NewFlagSet("mindmap-replay", pflag.ExitOnError)
	flags.StringP("config", "c", "", "Config file with layout tunables")
	flags.String("verbosity", "warn", "Log level")
	flags.Bool("strict", false, "Fail on invalid node references")
	asJSON := flags.Bool("json", false, "Print the rendered scene as JSON instead of a tree")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mindmap-replay [flags] [transcript...]\n")
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !flags.Changed("verbosity") && cfg.Verbosity == "" {
		cfg.Verbosity = "warn"
	}
	level, err := logging.ParseLevel(cfg.Verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.Configure(os.Stderr, level, false)

	session := mindmap.NewSession(cfg.Options(), nil)
	defer session.Close()

	inputs := flags.Args()
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}
	for _, name := range inputs {
		if err := replayFile(session, name); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(session.Scene()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	session.Read(func(c *mindmap.Controller) {
		output.PrintTree(os.Stdout, "Mindmap", c)
	})
}

func replayFile(session *mindmap.Session, name string) error {
	var r io.Reader = os.Stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return replay(session, r)
}

// replay feeds one transcript into the session. A turn still open at the
// end of the input is ended.
func replay(session *mindmap.Session, r io.Reader) error {
	var (
		turn    int64
		open    bool
		lineNum int
	)
	end := func() error {
		if !open {
			return nil
		}
		open = false
		_, err := session.EndTurn(turn)
		return err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if text, ok := strings.CutPrefix(line, turnPrefix); ok {
			if err := end(); err != nil {
				return err
			}
			id, err := startTurn(session, strings.TrimSpace(text))
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
			turn, open = id, true
			continue
		}

		frame, ok := annotation.DecodeLine(line)
		if !ok {
			continue
		}
		switch frame.Kind {
		case annotation.FrameEnd:
			if err := end(); err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
		case annotation.FrameVolumes:
			if _, err := session.FeedVolumesRaw([]byte(frame.Data)); err != nil {
				logging.Warn("skipping volume payload", "line", lineNum, "error", err)
			}
		case annotation.FrameText:
			if !open {
				return fmt.Errorf("line %d: %w", lineNum, errNoTurn)
			}
			if err := session.FeedChunk(turn, frame.Data); err != nil {
				return fmt.Errorf("line %d: %w", lineNum, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return end()
}

var errNoTurn = errors.New("response text before the first turn line")

// startTurn attaches a turn to the newest node with the same content, the
// way a click on a keyword does
func startTurn(session *mindmap.Session, text string) (int64, error) {
	var parent int64
	session.Read(func(c *mindmap.Controller) {
		for _, n := range c.Nodes() {
			if n.Content == text {
				parent = n.ID
			}
		}
	})
	if parent != 0 {
		return session.StartTurnAt(text, parent)
	}
	return session.StartTurn(text)
}
