package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Configuration holds process-wide settings. Populated once by InitConfig,
// read-only afterwards.
type Configuration struct {
	Port      int    `mapstructure:"port"`
	DataDir   string `mapstructure:"data_dir"`
	DefaultDB string `mapstructure:"default_db"`
	MaxPoints int    `mapstructure:"max_points"`
	TimeZone  string `mapstructure:"time_zone"`
	LogLevel  string `mapstructure:"log_level"`
}

var Config Configuration

// InitConfig loads configuration from an optional config file and the
// CHARTSQL_* environment. path may be empty, in which case only defaults
// and the environment apply.
func InitConfig(path string) error {
	v := viper.New()

	v.SetDefault("port", 7972)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("default_db", "mydb")
	v.SetDefault("max_points", 1000)
	v.SetDefault("time_zone", "UTC")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("chartsql")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}

	return v.Unmarshal(&Config)
}
