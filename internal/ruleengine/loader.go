// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleengine

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Loader fetches the raw line-oriented contents of a DOMAIN-SET or
// RULE-SET external resource.
type Loader interface {
	Load(url string) ([]byte, error)
}

// HTTPLoader fetches http(s):// URLs and falls back to a local file read
// for anything else, so profiles can reference either a hosted list or a
// path on disk.
type HTTPLoader struct {
	Client *http.Client
}

// NewHTTPLoader builds an HTTPLoader with a bounded request timeout.
func NewHTTPLoader() *HTTPLoader {
	return &HTTPLoader{Client: &http.Client{Timeout: 15 * time.Second}}
}

func (l *HTTPLoader) Load(url string) ([]byte, error) {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		resp, err := l.Client.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	}
	return os.ReadFile(url)
}

// splitLines parses raw content into trimmed, non-empty, non-comment
// lines. Comment lines start with "#" or ";", matching spec.md §4.2.
func splitLines(raw []byte) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(string(raw)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		out = append(out, line)
	}
	return out
}
