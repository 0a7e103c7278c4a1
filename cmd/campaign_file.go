package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BetterCallFirewall/Intruder/internal/driven"
	"gopkg.in/yaml.v3"
)

// campaignFile is the YAML layout accepted by "intruder run"
type campaignFile struct {
	driven.Draft `yaml:",inline"`

	// TemplateFile is read instead of Template, relative to the campaign file
	TemplateFile string `yaml:"template_file,omitempty"`
}

// loadCampaignFile reads a campaign file. Relative template and wordlist paths resolve against its directory.
func loadCampaignFile(path string) (driven.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return driven.Draft{}, fmt.Errorf("failed to read campaign file: %w", err)
	}

	var file campaignFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return driven.Draft{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if file.TemplateFile != "" {
		if file.Template != "" {
			return driven.Draft{}, fmt.Errorf("%s: template and template_file are mutually exclusive", path)
		}
		raw, err := os.ReadFile(resolvePath(dir, file.TemplateFile))
		if err != nil {
			return driven.Draft{}, fmt.Errorf("failed to read template: %w", err)
		}
		file.Template = string(raw)
	}

	for name, src := range file.PayloadSets {
		if src.File != "" {
			src.File = resolvePath(dir, src.File)
			file.PayloadSets[name] = src
		}
	}
	return file.Draft, nil
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
