package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExchangeKeys holds one venue's API credentials.
type ExchangeKeys struct {
	APIKey     Secret `yaml:"api_key"`
	SecretKey  Secret `yaml:"secret_key"`
	Passphrase Secret `yaml:"passphrase"`
}

// Keyfile maps exchange identifiers to their credentials.
type Keyfile map[string]ExchangeKeys

// LoadKeyfile reads exchange credentials from a YAML keyfile.
func LoadKeyfile(filename string) (Keyfile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read keyfile: %w", err)
	}

	var kf Keyfile
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &kf); err != nil {
		return nil, fmt.Errorf("failed to parse keyfile: %w", err)
	}
	if len(kf) == 0 {
		return nil, fmt.Errorf("keyfile contains no exchange credentials")
	}
	return kf, nil
}

// Keys returns the credentials for an exchange identifier.
func (kf Keyfile) Keys(exchange string) (ExchangeKeys, error) {
	keys, ok := kf[exchange]
	if !ok {
		return ExchangeKeys{}, fmt.Errorf("no credentials for exchange: %s", exchange)
	}
	return keys, nil
}

// DBConfig locates the relational store.
type DBConfig struct {
	Path string `yaml:"db_path"`
}

// LoadDBConfig reads the store configuration from a YAML file.
func LoadDBConfig(filename string) (*DBConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read db config: %w", err)
	}

	var cfg DBConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse db config: %w", err)
	}
	if cfg.Path == "" {
		return nil, ValidationError{Field: "db_path", Message: "database path is required"}
	}
	return &cfg, nil
}

// EmailConfig holds SMTP notification settings.
type EmailConfig struct {
	Host       string   `yaml:"host"`
	Port       int      `yaml:"port"`
	Username   Secret   `yaml:"username"`
	Password   Secret   `yaml:"password"`
	From       string   `yaml:"from"`
	Recipients []string `yaml:"recipients"`
}

// TwilioConfig holds voice/SMS notification settings.
type TwilioConfig struct {
	AccountSID Secret   `yaml:"account_sid"`
	AuthToken  Secret   `yaml:"auth_token"`
	FromNumber string   `yaml:"from_number"`
	ToNumbers  []string `yaml:"to_numbers"`
	IsMock     bool     `yaml:"is_mock"`
}

// LoadEmailConfig reads SMTP settings from a YAML file.
func LoadEmailConfig(filename string) (*EmailConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read email config: %w", err)
	}
	var cfg EmailConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse email config: %w", err)
	}
	return &cfg, nil
}

// LoadTwilioConfig reads Twilio settings from a YAML file.
func LoadTwilioConfig(filename string) (*TwilioConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read twilio config: %w", err)
	}
	var cfg TwilioConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse twilio config: %w", err)
	}
	return &cfg, nil
}
