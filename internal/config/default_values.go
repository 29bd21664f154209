package config

const (
	DefaultProviderMaxRetries = 3

	DefaultLoopIntervalMS  = 2000
	DefaultSummaryKeep     = 30
	DefaultSummarySend     = 15
	DefaultHistoryCap      = 10
	DefaultLoopMaxTokens   = 1024
	DefaultLoopTokenBudget = 6000
)
