package installplaywright

import (
	"context"
	"fmt"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/runner"
)

type installer struct{}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeInstallPlaywright {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	return &installer{}, nil
}

func (i *installer) Run(context.Context) error {
	return fetcher.InstallBrowsers()
}

func (i *installer) Close(context.Context) error {
	return nil
}
