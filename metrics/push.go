package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// PushConfig configures pushing metrics to a prometheus push gateway. Embedded
// clients that cannot be scraped use it.
type PushConfig struct {
	URL      string            `mapstructure:"push-url"`
	Username string            `mapstructure:"push-username"`
	Password string            `mapstructure:"push-password"`
	Headers  map[string]string `mapstructure:"push-headers"`
	Period   time.Duration     `mapstructure:"push-period"`
}

// StartPushingMetrics pushes the default gatherer to cfg.URL every
// cfg.Period until ctx is done.
func StartPushingMetrics(
	ctx context.Context,
	cfg PushConfig,
	instance string,
	logger *zap.Logger,
	clock clockwork.Clock,
) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Add(k, v)
	}
	pusher := push.New(cfg.URL, Namespace).Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", instance).
		Header(header)
	if cfg.Username != "" && cfg.Password != "" {
		pusher = pusher.BasicAuth(cfg.Username, cfg.Password)
	}
	ticker := clock.NewTicker(cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := pusher.PushContext(ctx); err != nil {
				logger.Warn("failed to push metrics", zap.Error(err))
			}
		}
	}
}
