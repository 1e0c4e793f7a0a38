package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// argvBatchSize bounds how many file paths one ripgrep invocation
// carries on its argv. Candidate lists larger than this run as
// several sequential passes.
const argvBatchSize = 500

// stderrCap bounds captured stderr per invocation.
const stderrCap = 64 * 1024

// scanBufSize is the line scanner's ceiling; backend output lines are
// as long as the longest matched source line.
const scanBufSize = 1 << 20

// ugrepFormat renders one match per line as a JSON object. %h is the
// quoted pathname, %J the JSON-escaped line text.
const ugrepFormat = `{"path":%h,"line":%n,"column":%k,"size":%d,"text":%J}%~`

// execBackend shells out to a grep binary.
type execBackend struct {
	bin   string
	kind  Kind
	major int
}

func newExecBackend(bin string, kind Kind, major int) *execBackend {
	return &execBackend{bin: bin, kind: kind, major: major}
}

func (b *execBackend) Kind() Kind { return b.kind }

func (b *execBackend) ID() string {
	return fmt.Sprintf("%s@%d", b.kind, b.major)
}

func (b *execBackend) Search(ctx context.Context, inv Invocation) (*RawResult, error) {
	if b.kind == KindRipgrep && len(inv.Files) > argvBatchSize {
		return b.searchBatched(ctx, inv)
	}
	return b.searchOnce(ctx, inv, inv.Files)
}

// searchBatched runs sequential bounded-argv passes and merges them.
// Event order across batches is irrelevant; the caller sorts.
func (b *execBackend) searchBatched(ctx context.Context, inv Invocation) (*RawResult, error) {
	merged := &RawResult{Outcome: OutcomeNoMatches}
	for off := 0; off < len(inv.Files); off += argvBatchSize {
		end := off + argvBatchSize
		if end > len(inv.Files) {
			end = len(inv.Files)
		}
		res, err := b.searchOnce(ctx, inv, inv.Files[off:end])
		if err != nil {
			return nil, err
		}
		base := len(merged.Events)
		for _, ev := range res.Events {
			ev.parseIdx += base
			merged.Events = append(merged.Events, ev)
		}
		switch res.Outcome {
		case OutcomeBackendError, OutcomeTimedOut:
			// A failed or expired batch means coverage of the
			// remaining candidates is unknown; stop here.
			merged.Outcome = res.Outcome
			merged.Stderr = res.Stderr
			return merged, nil
		case OutcomeMatches:
			merged.Outcome = OutcomeMatches
		}
	}
	return merged, nil
}

func (b *execBackend) searchOnce(ctx context.Context, inv Invocation, files []string) (*RawResult, error) {
	var args []string
	var fromFile string
	var err error

	switch b.kind {
	case KindRipgrep:
		args = ripgrepArgs(inv, files)
	case KindUgrep:
		args, fromFile, err = ugrepArgs(inv, files)
		if err != nil {
			return nil, err
		}
		if fromFile != "" {
			defer os.Remove(fromFile)
		}
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if !inv.Deadline.IsZero() {
		runCtx, cancel = context.WithDeadline(ctx, inv.Deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, b.bin, args...)
	cmd.Dir = inv.Root
	cmd.WaitDelay = 2 * time.Second

	var stderr cappedBuffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping backend output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", b.bin, err)
	}

	var events []Event
	var parseErr error
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 64*1024), scanBufSize)
	idx := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var ev *Event
		if b.kind == KindRipgrep {
			ev, parseErr = parseRipgrepLine(line)
		} else {
			ev, parseErr = parseUgrepLine(line)
		}
		if parseErr != nil {
			break
		}
		if ev != nil {
			ev.parseIdx = idx
			idx++
			events = append(events, *ev)
		}
	}
	waitErr := cmd.Wait()

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	res := &RawResult{Events: events, Stderr: stderr.String()}
	switch {
	case timedOut:
		res.Outcome = OutcomeTimedOut
	case parseErr != nil:
		res.Outcome = OutcomeBackendError
		res.Stderr = "output parse: " + parseErr.Error()
	case waitErr == nil:
		res.Outcome = outcomeForEvents(events)
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == 1 {
			// Exit 1 is the grep convention for a clean zero-match run.
			res.Outcome = outcomeForEvents(events)
		} else {
			res.Outcome = OutcomeBackendError
		}
	}
	return res, nil
}

func outcomeForEvents(events []Event) Outcome {
	for _, ev := range events {
		if ev.Kind == KindMatch {
			return OutcomeMatches
		}
	}
	return OutcomeNoMatches
}

// ripgrepArgs renders the rg invocation. Paths ride the argv after
// the pattern terminator.
func ripgrepArgs(inv Invocation, files []string) []string {
	args := []string{"--json"}
	if inv.Context > 0 {
		args = append(args, "-C", strconv.Itoa(inv.Context))
	}
	if inv.CaseInsensitive {
		args = append(args, "-i", "--no-unicode")
	}
	if inv.FixedStrings {
		args = append(args, "-F")
	}
	if inv.WordRegexp {
		args = append(args, "-w")
	}
	if inv.Hidden {
		args = append(args, "--hidden")
	}
	if inv.Follow {
		args = append(args, "-L")
	}
	if inv.NoIgnore {
		args = append(args, "--no-ignore")
	}
	if inv.MaxFileSize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(inv.MaxFileSize, 10))
	}
	if !inv.Recursive {
		args = append(args, "--max-depth", "1")
	}
	args = append(args, "--", inv.Pattern)
	for _, f := range files {
		args = append(args, filepath.FromSlash(f))
	}
	return args
}

// ugrepArgs renders the ugrep invocation. A candidate list goes
// through a temp file to keep argv bounded.
func ugrepArgs(inv Invocation, files []string) ([]string, string, error) {
	args := []string{"--format=" + ugrepFormat}
	if inv.CaseInsensitive {
		args = append(args, "-i")
	}
	if inv.FixedStrings {
		args = append(args, "-F")
	}
	if inv.WordRegexp {
		args = append(args, "-w")
	}
	if inv.Hidden {
		args = append(args, "--hidden")
	}
	if inv.NoIgnore {
		args = append(args, "--no-ignore-files")
	} else {
		args = append(args, "--ignore-files")
	}
	if inv.Fuzzy > 0 {
		args = append(args, "-Z"+strconv.Itoa(inv.Fuzzy))
	}

	var fromFile string
	if len(files) > 0 {
		tmp, err := os.CreateTemp("", "amangrep-files-*")
		if err != nil {
			return nil, "", fmt.Errorf("creating candidate list file: %w", err)
		}
		for _, f := range files {
			if _, err := fmt.Fprintln(tmp, filepath.FromSlash(f)); err != nil {
				tmp.Close()
				os.Remove(tmp.Name())
				return nil, "", fmt.Errorf("writing candidate list: %w", err)
			}
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return nil, "", fmt.Errorf("closing candidate list: %w", err)
		}
		fromFile = tmp.Name()
		args = append(args, "--from="+fromFile)
	} else {
		if inv.Follow {
			args = append(args, "-R")
		} else {
			args = append(args, "-r")
		}
		if !inv.Recursive {
			args = append(args, "--depth=1")
		}
	}
	args = append(args, "--", inv.Pattern)
	return args, fromFile, nil
}

// rg --json event structure, only the fields this adapter reads.
type rgLine struct {
	Type string `json:"type"`
	Data struct {
		Path struct {
			Text string `json:"text"`
		} `json:"path"`
		LineNumber int `json:"line_number"`
		Lines      struct {
			Text string `json:"text"`
		} `json:"lines"`
		Submatches []struct {
			Match struct {
				Text string `json:"text"`
			} `json:"match"`
			Start int `json:"start"`
		} `json:"submatches"`
	} `json:"data"`
}

func parseRipgrepLine(line []byte) (*Event, error) {
	var rec rgLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	switch rec.Type {
	case "match":
		ev := &Event{
			Kind: KindMatch,
			Path: filepath.ToSlash(rec.Data.Path.Text),
			Line: rec.Data.LineNumber,
			Text: strings.TrimRight(rec.Data.Lines.Text, "\r\n"),
		}
		if len(rec.Data.Submatches) > 0 {
			ev.Column = rec.Data.Submatches[0].Start + 1
			ev.MatchText = rec.Data.Submatches[0].Match.Text
		}
		return ev, nil
	case "context":
		return &Event{
			Kind: KindContext,
			Path: filepath.ToSlash(rec.Data.Path.Text),
			Line: rec.Data.LineNumber,
			Text: strings.TrimRight(rec.Data.Lines.Text, "\r\n"),
		}, nil
	}
	// begin/end/summary markers carry no line content.
	return nil, nil
}

// ugrep formatted event, one JSON object per line.
type ugLine struct {
	Path   string `json:"path"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Size   int64  `json:"size"`
	Text   string `json:"text"`
}

func parseUgrepLine(line []byte) (*Event, error) {
	var rec ugLine
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, err
	}
	return &Event{
		Kind:   KindMatch,
		Path:   filepath.ToSlash(rec.Path),
		Line:   rec.Line,
		Column: rec.Column,
		Text:   strings.TrimRight(rec.Text, "\r\n"),
	}, nil
}

// cappedBuffer keeps the first stderrCap bytes and drops the rest.
type cappedBuffer struct {
	buf bytes.Buffer
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := stderrCap - c.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		c.buf.Write(p)
	}
	return n, nil
}

func (c *cappedBuffer) String() string {
	return strings.TrimSpace(c.buf.String())
}
