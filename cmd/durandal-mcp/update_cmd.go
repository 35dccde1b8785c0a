package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/durandal-labs/durandal-mcp/internal/config"
)

const releasesURL = "https://api.github.com/repos/durandal-labs/durandal-mcp/releases/latest"

// runUpdateCheck fetches the latest GitHub release tag and compares it
// against the build-time version. Network failures degrade to a plain
// "update check failed" line rather than a non-zero exit; an update
// notifier should never be the reason a tool invocation fails.
func runUpdateCheck(version string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.UpdateCheck.Enabled {
		fmt.Println("update checks are disabled (NO_UPDATE_CHECK or update_check.enabled=false)")
		return nil
	}
	if version == "dev" {
		fmt.Println("durandal-mcp dev (built from source, no version check)")
		return nil
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(releasesURL)
	if err != nil {
		fmt.Printf("durandal-mcp %s (update check failed: %v)\n", version, err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("durandal-mcp %s (no releases found)\n", version)
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("durandal-mcp %s\n", version)
		return nil
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(body, &release); err != nil {
		fmt.Printf("durandal-mcp %s\n", version)
		return nil
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	current := strings.TrimPrefix(version, "v")
	if compareSemver(latest, current) > 0 {
		fmt.Printf("durandal-mcp update available: %s -> %s\n", current, latest)
		fmt.Printf("  %s\n", release.HTMLURL)
	} else {
		fmt.Printf("durandal-mcp %s is up to date\n", version)
	}
	return nil
}

// compareSemver compares two dotted version strings (major[.minor[.patch]]),
// ignoring any pre-release suffix. Returns -1, 0, or 1.
func compareSemver(a, b string) int {
	pa, okA := parseSemver(a)
	pb, okB := parseSemver(b)
	if !okA || !okB {
		return strings.Compare(a, b)
	}
	for i := 0; i < 3; i++ {
		if pa[i] != pb[i] {
			if pa[i] < pb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseSemver(s string) ([3]int, bool) {
	if idx := strings.IndexByte(s, '-'); idx >= 0 {
		s = s[:idx]
	}
	parts := strings.Split(s, ".")
	if len(parts) == 0 || len(parts) > 3 {
		return [3]int{}, false
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return [3]int{}, false
		}
		out[i] = n
	}
	return out, true
}
