package composer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// fieldCodes are the Exec key's desktop-entry-spec field codes that
// carry no meaning for a containerized launch (no file manager handed
// us a URL or file list); they're stripped rather than substituted
// (spec.md §4.6).
var fieldCodes = []string{
	"%f", "%F", "%u", "%U", "%d", "%D", "%n", "%N", "%i", "%c", "%k", "%v", "%m",
}

// resolveDesktopExec finds the single `.desktop` file under dir and
// returns its Exec line split into argv, with field codes stripped.
func resolveDesktopExec(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &NoDesktopEntryError{Dir: dir}
	}
	var desktopFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".desktop") {
			desktopFiles = append(desktopFiles, filepath.Join(dir, e.Name()))
		}
	}
	switch len(desktopFiles) {
	case 0:
		return nil, &NoDesktopEntryError{Dir: dir}
	case 1:
		return parseDesktopExec(desktopFiles[0])
	default:
		return nil, &MultipleDesktopEntriesError{Dir: dir}
	}
}

// parseDesktopExec reads path's [Desktop Entry] group and returns its
// Exec value, field codes stripped, split on whitespace.
func parseDesktopExec(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var inEntry bool
	var exec string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "[Desktop Entry]":
			inEntry = true
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			inEntry = false
		case inEntry && strings.HasPrefix(line, "Exec="):
			exec = strings.TrimPrefix(line, "Exec=")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if exec == "" {
		return nil, &NoDesktopEntryError{Dir: filepath.Dir(path)}
	}

	for _, code := range fieldCodes {
		exec = strings.ReplaceAll(exec, code, "")
	}
	return strings.Fields(exec), nil
}
