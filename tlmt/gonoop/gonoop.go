package gonoop

import (
	"context"

	"github.com/gosom/exposure-monitor/tlmt"
)

type service struct{}

func New() tlmt.Telemetry {
	return service{}
}

func (service) Send(context.Context, tlmt.Event) error {
	return nil
}

func (service) Close() error {
	return nil
}
