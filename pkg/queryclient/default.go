package queryclient

import (
	"errors"
	"sync"

	"github.com/shashiranjanraj/kashvi-query/config"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

// ErrNotInitialized is returned by Default when Init has not yet
// completed successfully.
var ErrNotInitialized = errors.New("queryclient: Init has not been called")

var (
	defaultOnce   sync.Once
	defaultClient *QueryClient
	defaultErr    error
)

// Init builds the process-wide default QueryClient backed by s, using
// config.QueryStaleDuration/config.QueryCacheDuration for its fallback
// durations. Mirrors the source library's module-level singleton, but
// keeps initialization explicit: Default panics-free only once Init has
// run, so a binary that forgets to call it fails loudly at the first
// Default() rather than silently hydrating against a zero-value client.
// Safe to call more than once; only the first call takes effect.
func Init(s store.Store) error {
	defaultOnce.Do(func() {
		if err := config.Load(); err != nil {
			defaultErr = err
			return
		}
		defaultClient = New(s, config.QueryStaleDuration(), config.QueryCacheDuration())
	})
	return defaultErr
}

// Default returns the process-wide QueryClient created by Init. It
// returns ErrNotInitialized if Init has not yet been called, or has not
// yet completed successfully, so callers can surface a clear startup
// error instead of a nil-pointer panic deep in a request handler.
func Default() (*QueryClient, error) {
	if defaultClient == nil {
		if defaultErr != nil {
			return nil, defaultErr
		}
		return nil, ErrNotInitialized
	}
	return defaultClient, nil
}

// resetDefaultForTest clears the singleton so tests can exercise Init in
// isolation.
func resetDefaultForTest() {
	defaultOnce = sync.Once{}
	defaultClient = nil
	defaultErr = nil
}
