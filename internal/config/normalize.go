package config

import "strings"

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)

	for _, endpoint := range []*ServiceEndpoint{&c.Balance, &c.Storage, &c.Catalog, &c.Pitch} {
		endpoint.BaseURL = strings.TrimRight(strings.TrimSpace(endpoint.BaseURL), "/")
		endpoint.APIKey = strings.TrimSpace(endpoint.APIKey)
		if endpoint.RequestTimeout <= 0 {
			endpoint.RequestTimeout = defaultRequestTimeout
		}
	}

	c.ProviderA.BaseURL = strings.TrimRight(strings.TrimSpace(c.ProviderA.BaseURL), "/")
	c.ProviderA.APIToken = strings.TrimSpace(c.ProviderA.APIToken)
	c.ProviderA.ModelVersion = strings.TrimSpace(c.ProviderA.ModelVersion)
	if c.ProviderA.RequestTimeout <= 0 {
		c.ProviderA.RequestTimeout = defaultProviderARequestTimeout
	}

	c.ProviderB.BaseURL = strings.TrimRight(strings.TrimSpace(c.ProviderB.BaseURL), "/")
	c.ProviderB.APIToken = strings.TrimSpace(c.ProviderB.APIToken)
	c.ProviderB.PodID = strings.TrimSpace(c.ProviderB.PodID)
	if c.ProviderB.RequestTimeout <= 0 {
		c.ProviderB.RequestTimeout = defaultProviderBRequestTimeout
	}

	c.Dispatch.Provider = strings.ToLower(strings.TrimSpace(c.Dispatch.Provider))
	if c.Dispatch.Provider == "" {
		c.Dispatch.Provider = defaultDispatchProvider
	}

	c.Webhook.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Webhook.PublicBaseURL), "/")
	if c.Webhook.OutboundTimeout <= 0 {
		c.Webhook.OutboundTimeout = defaultOutboundTimeout
	}

	if c.Sweeper.IntervalSeconds <= 0 {
		c.Sweeper.IntervalSeconds = defaultSweepInterval
	}
	if c.Sweeper.ProcessingTimeoutSeconds <= 0 {
		c.Sweeper.ProcessingTimeoutSeconds = defaultProcessingTimeout
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	if c.Pricing.CoinsPerMinute <= 0 {
		c.Pricing.CoinsPerMinute = defaultCoinsPerMinute
	}

	return nil
}
