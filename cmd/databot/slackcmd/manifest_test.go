package slackcmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goodManifest = `display_information:
  name: Data
oauth_config:
  scopes:
    bot:
      - chat:write
      - files:write
      - commands
settings:
  socket_mode_enabled: true
  interactivity:
    is_enabled: true
`

func TestVerifyManifestComplete(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "manifest.yml")
	if err := os.WriteFile(path, []byte(goodManifest), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	manifest, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest() error = %v", err)
	}
	if manifest.DisplayInformation.Name != "Data" {
		t.Fatalf("manifest name = %q, want Data", manifest.DisplayInformation.Name)
	}
	if problems := verifyManifest(manifest); len(problems) != 0 {
		t.Fatalf("verifyManifest() = %v, want no problems", problems)
	}
}

func TestVerifyManifestMissingPieces(t *testing.T) {
	t.Parallel()

	manifest := appManifest{}
	manifest.OauthConfig.Scopes.Bot = []string{"chat:write"}

	problems := verifyManifest(manifest)
	joined := strings.Join(problems, "; ")
	for _, want := range []string{"files:write", "commands", "socket_mode_enabled", "interactivity"} {
		if !strings.Contains(joined, want) {
			t.Errorf("problems %q missing mention of %q", joined, want)
		}
	}
	if strings.Contains(joined, "chat:write") {
		t.Errorf("problems %q should not flag the granted scope", joined)
	}
}

func TestLoadManifestMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := loadManifest(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("loadManifest() error = nil, want missing-file failure")
	}
}
