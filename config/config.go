package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"

	"sqrl_server/internal/utils/log"
)

type Config struct {
	Server     Server
	Sqrl       Sqrl
	Redis      Redis
	Mongo      Mongo
	LoggerMode LoggerMode
}

type Server struct {
	Addr string
}

type Sqrl struct {
	LocalDomainName string
	Port            int
	URLPath         string
	DomainExtension int
	SuccessURL      string
	CancelURL       string
	NutTTL          time.Duration
	// NutKey switches the server to encrypted, IP-bound nuts when set
	// (64 hex chars).
	NutKey    string
	PollRate  float64
	PollBurst int64
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Mongo struct {
	URI      string
	Database string
}

type LoggerMode struct {
	Development bool
}

func LoadConfig(filename string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(filename)
	v.SetConfigType("yaml")
	v.AddConfigPath("config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	err := v.Unmarshal(&c)
	if err != nil {
		log.Error("unable to unmarshal config")
		return nil, err
	}

	if c.Sqrl.URLPath == "" {
		c.Sqrl.URLPath = "/sqrl"
	}
	if c.Sqrl.NutTTL == 0 {
		c.Sqrl.NutTTL = 12 * time.Hour
	}
	if c.Sqrl.PollRate == 0 {
		c.Sqrl.PollRate = 50
	}
	if c.Sqrl.PollBurst == 0 {
		c.Sqrl.PollBurst = 100
	}
	return &c, nil
}
