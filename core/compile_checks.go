package core

import glog "github.com/goliatone/go-logger/glog"

var (
	_ AuthorizationStore = (*MemoryAuthorizationStore)(nil)
	_ RecordLocker       = (*MemoryRecordLocker)(nil)
	_ BackoffScheduler   = ExponentialBackoffScheduler{}
	_ ConfigProvider     = (*CfgxConfigProvider)(nil)
	_ OptionsResolver    = GoOptionsResolver{}
	_ RawConfigLoader    = StaticConfigLoader{}
	_ MetricsRecorder    = NopMetricsRecorder{}

	_ Logger         = glog.Nop()
	_ LoggerProvider = glog.ProviderFromLogger(glog.Nop())
)
