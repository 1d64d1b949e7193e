package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SubscriptionFile is a standalone list of subscriptions kept apart from the
// main configuration, e.g. a large watch list maintained by another team.
type SubscriptionFile struct {
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
}

// LoadSubscriptionFile loads subscription entries from the given path.
func LoadSubscriptionFile(path string) (*SubscriptionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscriptions file: %w", err)
	}
	var file SubscriptionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse subscriptions file: %w", err)
	}
	return &file, nil
}
