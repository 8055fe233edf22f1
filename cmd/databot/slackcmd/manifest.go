package slackcmd

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// appManifest is the subset of a Slack app manifest this command validates
// at startup: the bot scopes and socket mode flag the runtime depends on.
type appManifest struct {
	DisplayInformation struct {
		Name string `yaml:"name"`
	} `yaml:"display_information"`
	OauthConfig struct {
		Scopes struct {
			Bot []string `yaml:"bot"`
		} `yaml:"scopes"`
	} `yaml:"oauth_config"`
	Settings struct {
		SocketModeEnabled bool `yaml:"socket_mode_enabled"`
		Interactivity     struct {
			IsEnabled bool `yaml:"is_enabled"`
		} `yaml:"interactivity"`
	} `yaml:"settings"`
}

var requiredBotScopes = []string{
	"chat:write",
	"files:write",
	"commands",
}

func loadManifest(path string) (appManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return appManifest{}, err
	}
	var manifest appManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return appManifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return manifest, nil
}

// verifyManifest reports what the manifest is missing for this runtime to
// work; an empty slice means the app is configured correctly.
func verifyManifest(manifest appManifest) []string {
	var problems []string
	have := make(map[string]bool, len(manifest.OauthConfig.Scopes.Bot))
	for _, scope := range manifest.OauthConfig.Scopes.Bot {
		have[strings.TrimSpace(scope)] = true
	}
	for _, scope := range requiredBotScopes {
		if !have[scope] {
			problems = append(problems, "missing bot scope: "+scope)
		}
	}
	if !manifest.Settings.SocketModeEnabled {
		problems = append(problems, "socket_mode_enabled is false")
	}
	if !manifest.Settings.Interactivity.IsEnabled {
		problems = append(problems, "interactivity.is_enabled is false")
	}
	return problems
}
