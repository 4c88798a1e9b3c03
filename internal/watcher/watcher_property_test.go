//go:build property

package watcher

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates the coalescing contract of the debouncer
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Property: a burst yields exactly one request holding the sorted union
	properties.Property("burst coalesces to sorted union", prop.ForAll(
		func(paths []string) bool {
			if len(paths) == 0 {
				return true
			}

			in := make(chan ChangeEvent, len(paths))
			out := make(chan RebuildRequest, len(paths))
			for _, path := range paths {
				in <- ChangeEvent{Type: EventTypeModified, Path: path}
			}
			close(in)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			NewDebouncer(time.Minute).Run(ctx, in, out)

			if len(out) != 1 {
				return false
			}
			req := <-out

			unique := make(map[string]struct{})
			for _, path := range paths {
				unique[path] = struct{}{}
			}
			return len(req.Paths) == len(unique) && sort.StringsAreSorted(req.Paths)
		},
		gen.SliceOf(gen.OneConstOf("a.rs", "b.scss", "c.css", "index.html", "assets/logo.png")),
	))

	properties.TestingRun(t)
}
