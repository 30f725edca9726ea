package enforcement

import (
	"bufio"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/storegrid/engine/internal/execx"
	appErr "github.com/storegrid/engine/pkg/errors"
)

// DiskMeter measures the bytes a workspace tree occupies.
type DiskMeter interface {
	Usage(ctx context.Context, path string) (int64, error)
}

// NewDiskMeter prefers a filesystem-quota command when one is configured —
// a full directory walk is costly on large stores — and falls back to
// walking the tree.
func NewDiskMeter(runner execx.Runner, quotaCmd string) DiskMeter {
	if quotaCmd != "" {
		return &quotaMeter{runner: runner, cmd: quotaCmd}
	}
	return walkMeter{}
}

// quotaMeter invokes the configured quota reporter with the path as its
// final argument and reads the used-bytes figure from the first integer on
// stdout.
type quotaMeter struct {
	runner execx.Runner
	cmd    string
}

func (m *quotaMeter) Usage(ctx context.Context, path string) (int64, error) {
	res, err := m.runner.Run(ctx, execx.Cmd{
		Bin:     m.cmd,
		Args:    []string{path},
		Timeout: 30 * time.Second,
	})
	if err != nil {
		return 0, err
	}
	for _, field := range strings.Fields(res.Stdout) {
		if n, err := strconv.ParseInt(field, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, appErr.New(appErr.CodeExternalToolFailure, "no byte count in quota output")
}

type walkMeter struct{}

func (walkMeter) Usage(ctx context.Context, path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "walk workspace failed")
	}
	return total, nil
}

const accessLogTimeLayout = "02/Jan/2006:15:04:05 -0700"

// DayBytes sums the response-byte column of an edge-router access log
// (combined format) for entries stamped on the given UTC day. A missing log
// file means no traffic yet.
func DayBytes(logPath string, day time.Time) (int64, error) {
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, appErr.Wrap(err, appErr.CodeInternal, "open access log failed")
	}
	defer f.Close()

	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	var total int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		ts, bytes, ok := parseAccessLogLine(sc.Text())
		if !ok {
			continue
		}
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		total += bytes
	}
	if err := sc.Err(); err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "read access log failed")
	}
	return total, nil
}

// parseAccessLogLine extracts the timestamp and body-byte count from one
// combined-format line. Malformed lines are skipped rather than failing the
// whole measurement.
func parseAccessLogLine(line string) (time.Time, int64, bool) {
	tsStart := strings.IndexByte(line, '[')
	tsEnd := strings.IndexByte(line, ']')
	if tsStart < 0 || tsEnd < tsStart {
		return time.Time{}, 0, false
	}
	ts, err := time.Parse(accessLogTimeLayout, line[tsStart+1:tsEnd])
	if err != nil {
		return time.Time{}, 0, false
	}

	// Status and byte count follow the quoted request:
	// `"GET / HTTP/1.1" 200 1234 "referer" "agent"`.
	rest := line[tsEnd+1:]
	reqStart := strings.IndexByte(rest, '"')
	if reqStart < 0 {
		return time.Time{}, 0, false
	}
	reqEnd := strings.IndexByte(rest[reqStart+1:], '"')
	if reqEnd < 0 {
		return time.Time{}, 0, false
	}
	fields := strings.Fields(rest[reqStart+1+reqEnd+1:])
	if len(fields) < 2 {
		return time.Time{}, 0, false
	}
	if fields[1] == "-" {
		return ts.UTC(), 0, true
	}
	n, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return time.Time{}, 0, false
	}
	return ts.UTC(), n, true
}
