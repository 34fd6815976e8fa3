// Package config provides configuration loading and validation for the
// auth client.
//
// It uses Viper to load configuration from files and environment
// variables. Files are resolved from the working directory first and the
// user's ~/.authkit directory second; a .env file, when present, is
// loaded with godotenv before environment binding.
//
// # Usage
//
//	var cfg config.AppConfig
//	err := config.LoadConfig("authctl", &cfg)
//
// Environment variables override file values using dotted or
// underscore-separated paths (e.g., API_BASE_URL -> api.base_url).
package config
