package bundler

import (
	"bytes"
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
)

var (
	globalRspackPath string
	rspackInitOnce   sync.Once
	rspackInitError  error
)

// OutputFile is the bundle name rspack emits, matching the sandbox's script name
const OutputFile = "bundle.js"

// Bundler handles TypeScript to JavaScript transformation using Rspack/SWC
type Bundler struct {
	rspackPath string
}

// embeddedRspackConfig is the bundler configuration embedded in the binary
//
//go:embed rspack.config.ts
var embeddedRspackConfig string

// Initialize finds and caches the rspack executable path
// Should be called once at application startup
func Initialize() error {
	rspackInitOnce.Do(func() {
		globalRspackPath, rspackInitError = findRspack()
	})
	return rspackInitError
}

// GetRspackPath returns the cached rspack path
func GetRspackPath() (string, error) {
	if globalRspackPath == "" {
		return "", fmt.Errorf("rspack not initialized - call Initialize() first")
	}
	return globalRspackPath, nil
}

// New creates a new bundler instance with pre-located rspack
func New() (*Bundler, error) {
	rspackPath, err := GetRspackPath()
	if err != nil {
		return nil, err
	}

	return &Bundler{
		rspackPath: rspackPath,
	}, nil
}

// GetEmbeddedConfig returns the embedded rspack configuration
func GetEmbeddedConfig() string {
	return embeddedRspackConfig
}

// findRspack attempts to locate the rspack executable
func findRspack() (string, error) {
	// Try common locations
	candidates := []string{
		"rspack", // In PATH
		"npx",    // Use npx to run @rspack/cli
		filepath.Join(os.Getenv("HOME"), ".nvm", "versions", "node", "*", "bin", "rspack"),
	}

	for _, candidate := range candidates {
		if candidate == "npx" {
			// Check if npx is available
			if _, err := exec.LookPath("npx"); err == nil {
				return "npx", nil
			}
		} else {
			if path, err := exec.LookPath(candidate); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("rspack executable not found")
}

// Bundle bundles TypeScript code inside workspaceDir. The session's config is
// written on first use. The returned source map uses the bundle's own
// file name so crash frames can be mapped back to the entry source.
func (b *Bundler) Bundle(workspaceDir, code string) (js string, sourceMap string, err error) {
	configPath := filepath.Join(workspaceDir, "rspack.config.ts")
	if err := ensureConfig(configPath); err != nil {
		return "", "", err
	}

	// Create unique work directory for this request
	workID, err := generateWorkID()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate work ID: %w", err)
	}

	workDir := filepath.Join(workspaceDir, "work", workID)
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return "", "", fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Write user code
	indexPath := filepath.Join(workDir, "index.ts")
	if err := os.WriteFile(indexPath, []byte(code), 0644); err != nil {
		return "", "", fmt.Errorf("failed to write user code: %w", err)
	}

	outputDir := filepath.Join(workDir, "dist")

	// Execute Rspack
	var cmd *exec.Cmd
	if b.rspackPath == "npx" {
		cmd = exec.Command("npx", "-y", "@rspack/cli", "--entry", indexPath, "--config", configPath, "--output-path", outputDir)
	} else {
		cmd = exec.Command(b.rspackPath, "--entry", indexPath, "--config", configPath, "--output-path", outputDir)
	}

	var stdout bytes.Buffer
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stdout

	if err := cmd.Run(); err != nil {
		return "", "", fmt.Errorf("rspack failed: %w\nOutput: %s", err, stdout.String())
	}

	// Read outputs
	jsBytes, err := os.ReadFile(filepath.Join(outputDir, OutputFile))
	if err != nil {
		return "", "", fmt.Errorf("failed to read bundled JS: %w", err)
	}

	sourceMapBytes, err := os.ReadFile(filepath.Join(outputDir, OutputFile+".map"))
	if err != nil {
		return "", "", fmt.Errorf("failed to read source map: %w", err)
	}

	return string(jsBytes), string(sourceMapBytes), nil
}

// ensureConfig writes the embedded config to path unless it already exists
func ensureConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := os.WriteFile(path, []byte(embeddedRspackConfig), 0644); err != nil {
		return fmt.Errorf("failed to write rspack config: %w", err)
	}
	return nil
}

// generateWorkID creates a unique identifier for a work directory
func generateWorkID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
