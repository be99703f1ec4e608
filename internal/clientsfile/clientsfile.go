// Package clientsfile reads the client-list text file format of spec.md §6:
// one non-blank, non-comment "HOST PORT" entry per line.
package clientsfile

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/hervehildenbrand/aggie/internal/models"
)

// Load reads path and returns the addresses it names, in file order.
func Load(path string) ([]models.Address, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var addrs []models.Address
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := ParseAddress(line)
		if err != nil {
			return nil, fmt.Errorf("clientsfile: %s:%d: %w", path, lineNo, err)
		}
		addrs = append(addrs, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return addrs, nil
}

// ParseAddress parses either "host port" (any run of ASCII whitespace) or
// "host:port" per spec.md §3's Address entity. Port is kept as text.
func ParseAddress(entry string) (models.Address, error) {
	if fields := strings.Fields(entry); len(fields) == 2 {
		return models.Address{Host: fields[0], Port: fields[1]}, nil
	}
	if idx := strings.LastIndex(entry, ":"); idx > 0 && idx < len(entry)-1 {
		return models.Address{Host: entry[:idx], Port: entry[idx+1:]}, nil
	}
	return models.Address{}, fmt.Errorf("clientsfile: malformed entry %q", entry)
}
