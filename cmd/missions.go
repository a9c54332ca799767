package cmd

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// readMissions reads one mission per line. Blank lines and lines starting
// with '#' are skipped. path "-" reads stdin.
func readMissions(path string) ([]string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseMissions(r)
}

func parseMissions(r io.Reader) ([]string, error) {
	var missions []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		missions = append(missions, line)
	}
	return missions, sc.Err()
}
