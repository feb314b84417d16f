package config

type AppConfig struct {
	Server    ServerConfig
	Log       LogConfig
	Economics EconomicsConfig
	Chain     ChainConfig
	Monitor   MonitorConfig
	Notify    NotifyConfig
	Redis     RedisConfig
	Tracing   TracingConfig
}

func LoadApp() (AppConfig, error) {
	var out AppConfig
	var err error
	if out.Log, err = LoadLog(); err != nil {
		return AppConfig{}, err
	}
	if out.Server, err = LoadServer(); err != nil {
		return AppConfig{}, err
	}
	if out.Economics, err = LoadEconomics(); err != nil {
		return AppConfig{}, err
	}
	if out.Chain, err = LoadChain(); err != nil {
		return AppConfig{}, err
	}
	if out.Monitor, err = LoadMonitor(); err != nil {
		return AppConfig{}, err
	}
	if out.Notify, err = LoadNotify(); err != nil {
		return AppConfig{}, err
	}
	if out.Redis, err = LoadRedis(); err != nil {
		return AppConfig{}, err
	}
	if out.Tracing, err = LoadTracing(); err != nil {
		return AppConfig{}, err
	}
	return out, nil
}
