package supervisor

import (
	"regexp"
	"sync"
)

// Startup banners a subset of runtime versions print on stderr before the
// program's own output. They would confuse a client expecting only program
// stderr, so they are stripped until real output appears.
var (
	listeningBanner   = regexp.MustCompile(`^Debugger listening on (ws://|port )`)
	deprecatedBanner  = regexp.MustCompile(`(--debug-brk|--debug) is deprecated`)
	helpBannerTrailer = regexp.MustCompile(`^For help,? see:? http`)
)

// NoiseFilter strips well-known startup banners from early stderr. Once a
// banner has been observed the filter disables itself and every later line
// passes through untouched. In no-debug or raw-capture mode the filter is
// constructed disabled.
type NoiseFilter struct {
	mu            sync.Mutex
	active        bool
	expectTrailer bool
}

// NewNoiseFilter returns a filter; active=false forwards everything verbatim.
func NewNoiseFilter(active bool) *NoiseFilter {
	return &NoiseFilter{active: active}
}

// Forward reports whether line should be passed on to the client.
func (f *NoiseFilter) Forward(line string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.active {
		// The help trailer follows the banner on its own line.
		if f.expectTrailer && helpBannerTrailer.MatchString(line) {
			f.expectTrailer = false
			return false
		}
		f.expectTrailer = false
		return true
	}

	if listeningBanner.MatchString(line) || deprecatedBanner.MatchString(line) {
		f.active = false
		f.expectTrailer = true
		return false
	}
	if helpBannerTrailer.MatchString(line) {
		return false
	}
	return true
}

// Active reports whether early-noise handling is still in effect.
func (f *NoiseFilter) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}
