package fetch

import (
	"net/http"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Fetcher performs the HTTP calls generated resolvers make.
type Fetcher interface {
	Fetch(req *http.Request) (*http.Response, error)
}

type FetcherFunc func(req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(req *http.Request) (*http.Response, error) {
	return f(req)
}

// FromClient adapts an http.Client. A nil client uses http.DefaultClient.
func FromClient(client *http.Client) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return FetcherFunc(client.Do)
}

var (
	ErrUnknownFetcher = errors.New("unknown custom fetch")

	registryMu sync.RWMutex
	registry   = make(map[string]Fetcher)
)

// Register makes a Fetcher available by name for the customFetch setting.
// It panics if name is registered twice or f is nil.
func Register(name string, f Fetcher) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("fetch: Register fetcher is nil")
	}
	if _, dup := registry[name]; dup {
		panic("fetch: Register called twice for " + name)
	}
	registry[name] = f
}

// Unregister removes a named Fetcher.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, name)
}

func Lookup(name string) (Fetcher, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownFetcher, "%q is not registered", name)
	}
	return f, nil
}

// Registered lists the registered names.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
