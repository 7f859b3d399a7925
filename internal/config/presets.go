package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SessionPreset is a named session_settings payload sent after connect.
type SessionPreset struct {
	SystemPrompt string            `yaml:"system_prompt"`
	Variables    map[string]string `yaml:"variables"`
}

type presetsFile struct {
	Presets map[string]SessionPreset `yaml:"presets"`
}

// LoadSessionPresets reads the optional YAML presets file. A missing path
// returns an empty map rather than an error.
func LoadSessionPresets(path string) (map[string]SessionPreset, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]SessionPreset{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session presets: %w", err)
	}

	var file presetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse session presets: %w", err)
	}
	if file.Presets == nil {
		file.Presets = map[string]SessionPreset{}
	}
	for name, preset := range file.Presets {
		if strings.TrimSpace(preset.SystemPrompt) == "" && len(preset.Variables) == 0 {
			return nil, fmt.Errorf("session preset %q is empty", name)
		}
	}
	return file.Presets, nil
}
