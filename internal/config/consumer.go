package config

// ConsumerConfig drives the consumer of generation requests
type ConsumerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	RequestTopic string `mapstructure:"request_topic" validate:"required"`
	// PoisonTopic receives the requests that could not be processed
	PoisonTopic string `mapstructure:"poison_topic" validate:"required"`
}
