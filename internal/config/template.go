package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"
)

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	code := 4000
	code2 := 403
	cfg := Config{
		LogLevel:  "info",
		DedupSize: DefaultDedupSize,

		Options: Options{
			FlowExpr:  "~u /ws$",
			Code:      &code,
			FlowExpr2: "~u /blocked$",
			Code2:     &code2,
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile("config.yaml", data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
