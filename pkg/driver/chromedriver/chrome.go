package chromedriver

import (
	"os/exec"

	"github.com/jmylchreest/pagewalk/internal/logger"
)

// Common Chrome/Chromium binary names across different systems
var chromeBinaryNames = []string{
	"google-chrome-stable",
	"google-chrome",
	"chromium",
	"chromium-browser",
	"chrome",
	// macOS
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	// Linux
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/snap/bin/chromium",
	// Windows
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// FindChromePath returns the first Chrome/Chromium binary found on PATH or
// at a well-known install location, or "" when there is none.
func FindChromePath() string {
	return findBinary(chromeBinaryNames, exec.LookPath)
}

func findBinary(names []string, lookPath func(string) (string, error)) string {
	for _, name := range names {
		if path, err := lookPath(name); err == nil {
			logger.Debug("found Chrome binary", "name", name, "path", path)
			return path
		}
	}
	logger.Warn("no Chrome binary found, chromedp will use its default lookup")
	return ""
}
