package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/vango-dev/duplex/internal/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DUPLEX"

// envOverrides lists the overridable keys. Unset variables leave fields nil.
type envOverrides struct {
	Host           *string        `split_words:"true"`
	Path           *string        `split_words:"true"`
	Secure         *bool          `split_words:"true"`
	ReconnectDelay *time.Duration `split_words:"true"`
	ReconnectMode  *string        `split_words:"true"`
	LogLevel       *string        `split_words:"true"`
	LogFormat      *string        `split_words:"true"`
	AllowEval      *bool          `split_words:"true"`
	MetricsAddr    *string        `split_words:"true"`
}

// ApplyEnv applies DUPLEX_* environment variables on top of c.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.New("C002").WithDetail("environment: " + err.Error())
	}
	setString(&c.Server.Host, env.Host)
	setString(&c.Server.Path, env.Path)
	if env.Secure != nil {
		c.Server.Secure = *env.Secure
	}
	if env.ReconnectDelay != nil {
		c.Reconnect.Delay = Duration(*env.ReconnectDelay)
	}
	setString(&c.Reconnect.Mode, env.ReconnectMode)
	setString(&c.Log.Level, env.LogLevel)
	setString(&c.Log.Format, env.LogFormat)
	if env.AllowEval != nil {
		c.Eval.Allow = *env.AllowEval
	}
	setString(&c.Metrics.Addr, env.MetricsAddr)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
