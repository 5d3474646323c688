package objectstore

import (
	"context"
	"os"
	"strings"
	"time"
)

// Fingerprint returns the well-known progress-file name for a pull of the
// given coordinates (spec.md §4.3): `channel-id-version-arch-module`.
func Fingerprint(channel, id, version, arch, module string) string {
	return strings.Join([]string{channel, id, version, arch, module}, "-")
}

// ProgressPath returns the path the external executor writes pull
// progress to, for the given fingerprint.
func ProgressPath(fingerprint string) string {
	return "/tmp/." + fingerprint
}

// PollProgress reads the well-known progress file for fingerprint,
// returning its latest line, or "" if the file does not yet exist. The
// Installer calls this on an interval to derive progress messages for
// GetDownloadStatus (spec.md §4.5.4); this function only defines the
// polling side, not the writer.
func PollProgress(fingerprint string) (string, error) {
	b, err := os.ReadFile(ProgressPath(fingerprint))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	return lines[len(lines)-1], nil
}

// WatchProgress polls fingerprint's progress file every interval,
// sending each observed non-empty line on the returned channel, until ctx
// is canceled. The channel is closed when polling stops.
func WatchProgress(ctx context.Context, fingerprint string, interval time.Duration) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		t := time.NewTicker(interval)
		defer t.Stop()
		var last string
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				line, err := PollProgress(fingerprint)
				if err != nil || line == "" || line == last {
					continue
				}
				last = line
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
