// Package config loads typed configuration structs from environment
// variables, with an optional .env file picked up once per process.
//
// Example:
//
//	type HTTPConfig struct {
//		Addr string `env:"HTTP_ADDR" envDefault:":8080"`
//	}
//
//	var cfg HTTPConfig
//	config.MustLoad(&cfg)
package config
