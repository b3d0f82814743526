package goposthog

import (
	"context"
	"runtime"

	"github.com/posthog/posthog-go"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/gosom/exposure-monitor/tlmt"
)

type service struct {
	client     posthog.Client
	distinctID string
	platform   string
}

func New(apiKey, endpoint string) (tlmt.Telemetry, error) {
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}

	ans := service{
		client:   client,
		platform: runtime.GOOS + "/" + runtime.GOARCH,
	}

	if id, err := host.HostID(); err == nil && id != "" {
		ans.distinctID = id
	} else {
		ans.distinctID = "unknown"
	}

	if info, err := host.Info(); err == nil {
		ans.platform = info.Platform + " " + info.PlatformVersion + " " + runtime.GOARCH
	}

	return &ans, nil
}

func (s *service) Send(_ context.Context, event tlmt.Event) error {
	props := posthog.NewProperties()
	for k, v := range event.Properties {
		props.Set(k, v)
	}

	props.Set("platform", s.platform)

	return s.client.Enqueue(posthog.Capture{
		DistinctId: s.distinctID,
		Event:      event.Name,
		Properties: props,
	})
}

func (s *service) Close() error {
	return s.client.Close()
}
