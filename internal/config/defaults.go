package config

const (
	defaultDataDir                 = "~/.local/share/resonate"
	defaultLogDir                  = "~/.local/share/resonate/logs"
	defaultAPIBind                 = "127.0.0.1:7642"
	defaultCoinsPerMinute          = 3.0
	defaultRequestTimeout          = 30
	defaultOutboundTimeout         = 10
	defaultSweepInterval           = 10
	defaultProcessingTimeout       = 120
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultDispatchProvider        = "prediction"
	defaultProviderARequestTimeout = 30
	defaultProviderBRequestTimeout = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Pricing: Pricing{
			CoinsPerMinute: defaultCoinsPerMinute,
		},
		Balance: ServiceEndpoint{
			RequestTimeout: defaultRequestTimeout,
		},
		Storage: ServiceEndpoint{
			RequestTimeout: defaultRequestTimeout,
		},
		Catalog: ServiceEndpoint{
			RequestTimeout: defaultRequestTimeout,
		},
		Pitch: ServiceEndpoint{
			RequestTimeout: defaultRequestTimeout,
		},
		ProviderA: ProviderA{
			RequestTimeout: defaultProviderARequestTimeout,
		},
		ProviderB: ProviderB{
			RequestTimeout: defaultProviderBRequestTimeout,
		},
		Dispatch: Dispatch{
			Provider: defaultDispatchProvider,
		},
		Webhook: Webhook{
			OutboundTimeout: defaultOutboundTimeout,
		},
		Sweeper: Sweeper{
			IntervalSeconds:          defaultSweepInterval,
			ProcessingTimeoutSeconds: defaultProcessingTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
