package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// FieldRuleConfig selects one profile field from the detail page.
type FieldRuleConfig struct {
	Field     string `mapstructure:"field" json:"field"`
	Selector  string `mapstructure:"selector" json:"selector"`
	Attribute string `mapstructure:"attribute" json:"attribute"`
}

// ListingRulesConfig selects listing rows and pagination links.
type ListingRulesConfig struct {
	Row         string `mapstructure:"row" json:"row"`
	Name        string `mapstructure:"name" json:"name"`
	Location    string `mapstructure:"location" json:"location"`
	ProfileLink string `mapstructure:"profile_link" json:"profile_link"`
	NextPage    string `mapstructure:"next_page" json:"next_page"`
}

// RulesConfig is the optional crawl rules file. Sections left empty fall
// back to the built-in selectors.
type RulesConfig struct {
	Profile []FieldRuleConfig  `mapstructure:"profile" json:"profile"`
	Listing ListingRulesConfig `mapstructure:"listing" json:"listing"`
}

// LoadRules reads the crawl rules file at path. An empty path means no file
// is configured and returns nil, nil. Viper resolves the format from the
// file extension, so YAML, JSON, and TOML all work.
func LoadRules(path string) (*RulesConfig, error) {
	if path == "" {
		return nil, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read crawl rules file %s: %w", path, err)
	}

	var rules RulesConfig
	if err := v.Unmarshal(&rules); err != nil {
		return nil, fmt.Errorf("failed to parse crawl rules file %s: %w", path, err)
	}
	return &rules, nil
}
