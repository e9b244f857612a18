package browser

import (
	"runtime"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/formpilot/internal/config"
)

// allocatorFlags assembles the command line flags for a launched browser.
// A false value removes a flag set by chromedp's defaults.
func allocatorFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"headless":               cfg.Headless,
		"enable-automation":      false,
		"disable-extensions":     true,
		"disable-gpu":            cfg.Headless,
		"disable-blink-features": "AutomationControlled",
		// Keep cross-site iframes in the tab's renderer so capabilities reach
		// them through the tab session.
		"disable-site-isolation-trials": true,
		"disable-features":              "IsolateOrigins,site-per-process",
	}

	// Add custom arguments from config.yaml.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// DefaultAllocatorOptions returns the exec allocator options used when
// formpilot launches its own browser.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := DefaultAllocatorOptionsBase()

	flags := allocatorFlags(cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	return opts
}

// DefaultAllocatorOptionsBase returns chromedp's stock exec allocator options.
func DefaultAllocatorOptionsBase() []chromedp.ExecAllocatorOption {
	return append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
}
