package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// ReadConfigFile loads path in the given format (yaml, toml or json),
// fills in defaults and validates the result.
func ReadConfigFile(path, format string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if format != "" {
		v.SetConfigType(format)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "can't read config file %s", path)
	}
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	c := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(c, hook); err != nil {
		return nil, errors.Wrap(err, "can't decode config")
	}
	if err := SetDefaultConfigValues(v, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return c, nil
}
