package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Wyydra/yacall/internal/core/port"
)

// DefaultSTUNURLs are used when no ICE servers are configured.
var DefaultSTUNURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ParseICEServers validates a list of STUN URLs and groups them into a single
// ICE server entry. TURN relays are not supported.
func ParseICEServers(urls []string) ([]port.ICEServer, error) {
	clean := make([]string, 0, len(urls))
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		if err := validateICEURL(url); err != nil {
			return nil, err
		}
		clean = append(clean, url)
	}
	if len(clean) == 0 {
		return nil, errors.New("no ice server urls")
	}
	return []port.ICEServer{{URLs: clean}}, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func validateICEURL(url string) error {
	switch {
	case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		if len(url) == strings.Index(url, ":")+1 {
			return fmt.Errorf("missing host: %q", url)
		}
		return nil
	case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
		return fmt.Errorf("turn servers are not supported: %q", url)
	default:
		return fmt.Errorf("unsupported url scheme: %q", url)
	}
}
