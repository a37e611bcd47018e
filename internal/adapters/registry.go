// Package adapters assembles the closed set of platform adapters.
package adapters

import (
	"fmt"

	"github.com/janekbaraniewski/tokenaudit/internal/adapters/claudecode"
	"github.com/janekbaraniewski/tokenaudit/internal/adapters/codexcli"
	"github.com/janekbaraniewski/tokenaudit/internal/adapters/geminicli"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/estimator"
)

// All returns every known adapter. The estimator backs sources that do
// not report exact per-call counts.
func All(est *estimator.Estimator) []core.Adapter {
	return []core.Adapter{
		claudecode.New(),
		codexcli.New(),
		geminicli.New(est),
	}
}

// ForPlatform resolves one adapter by platform tag.
func ForPlatform(platform core.Platform, est *estimator.Estimator) (core.Adapter, error) {
	for _, a := range All(est) {
		if a.Platform() == platform {
			return a, nil
		}
	}
	return nil, fmt.Errorf("adapters: unknown platform %q", platform)
}
