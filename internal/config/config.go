package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/flexprice/invoicer/internal/types"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Logging    LoggingConfig    `validate:"required"`
	Invoicing  InvoicingConfig  `validate:"required"`
	Dispatcher DispatcherConfig `validate:"required"`
	Consumer   ConsumerConfig   `validate:"required"`
	PubSub     PubSubConfig     `mapstructure:"pubsub" validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

// InvoicingConfig carries the rounding policy and the generation horizon.
// It is passed by value into every component that rounds amounts.
type InvoicingConfig struct {
	RoundingMode      types.RoundingMode `mapstructure:"rounding_mode" validate:"required"`
	NumberOfDecimals  int32              `mapstructure:"number_of_decimals" validate:"gte=0,lte=8"`
	MaxMonthsInFuture int                `mapstructure:"max_months_in_future" validate:"gte=0"`
}

type DispatcherConfig struct {
	Workers              int           `validate:"gte=1"`
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxElapsed      time.Duration `mapstructure:"retry_max_elapsed"`
	DedupTTL             time.Duration `mapstructure:"dedup_ttl"`
	Topic                string        `validate:"required"`
	DryRun               bool          `mapstructure:"dry_run"`
}

type PubSubConfig struct {
	OutputChannelBuffer int64 `mapstructure:"output_channel_buffer" validate:"gte=0"`
}

func NewConfig() (*Configuration, error) {
	// .env is optional, real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Error loading .env file: %v\n", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/invoicer")

	v.SetEnvPrefix("INVOICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults registers every key so that AutomaticEnv can override values
// even when no config file is present
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("invoicing.rounding_mode", d.Invoicing.RoundingMode)
	v.SetDefault("invoicing.number_of_decimals", d.Invoicing.NumberOfDecimals)
	v.SetDefault("invoicing.max_months_in_future", d.Invoicing.MaxMonthsInFuture)
	v.SetDefault("dispatcher.workers", d.Dispatcher.Workers)
	v.SetDefault("dispatcher.retry_initial_interval", d.Dispatcher.RetryInitialInterval)
	v.SetDefault("dispatcher.retry_max_elapsed", d.Dispatcher.RetryMaxElapsed)
	v.SetDefault("dispatcher.dedup_ttl", d.Dispatcher.DedupTTL)
	v.SetDefault("dispatcher.topic", d.Dispatcher.Topic)
	v.SetDefault("dispatcher.dry_run", d.Dispatcher.DryRun)
	v.SetDefault("consumer.enabled", d.Consumer.Enabled)
	v.SetDefault("consumer.request_topic", d.Consumer.RequestTopic)
	v.SetDefault("consumer.poison_topic", d.Consumer.PoisonTopic)
	v.SetDefault("pubsub.output_channel_buffer", d.PubSub.OutputChannelBuffer)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	return c.Invoicing.RoundingMode.Validate()
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts, tests or other non-server applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Logging:   LoggingConfig{Level: types.LogLevelDebug},
		Invoicing: DefaultInvoicingConfig(),
		Dispatcher: DispatcherConfig{
			Workers:              4,
			RetryInitialInterval: 200 * time.Millisecond,
			RetryMaxElapsed:      10 * time.Second,
			DedupTTL:             time.Minute,
			Topic:                "invoice.generated",
		},
		Consumer: ConsumerConfig{
			RequestTopic: "invoice.requests",
			PoisonTopic:  "invoice.requests.poison",
		},
		PubSub: PubSubConfig{OutputChannelBuffer: 100},
	}
}

// DefaultInvoicingConfig rounds half up to two decimals and refuses targets more than three years ahead
func DefaultInvoicingConfig() InvoicingConfig {
	return InvoicingConfig{
		RoundingMode:      types.RoundingModeHalfUp,
		NumberOfDecimals:  2,
		MaxMonthsInFuture: 36,
	}
}
