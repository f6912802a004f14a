package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ TokenProvider       = (*Service)(nil)
	_ CredentialExchanger = (*Service)(nil)
	_ ReplayLedger        = (*MemoryReplayLedger)(nil)
	_ ReplayReleaser      = (*MemoryReplayLedger)(nil)
	_ CredentialCodec     = JSONCredentialCodec{}
	_ CredentialCodec     = RawTokenCredentialCodec{}
	_ MetricsRecorder     = NopMetricsRecorder{}
	_ ConfigProvider      = (*CfgxConfigProvider)(nil)
	_ OptionsResolver     = GoOptionsResolver{}
	_ RawConfigLoader     = YAMLConfigLoader{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
