package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	getter "github.com/hashicorp/go-getter"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "registry").Logger()
}

// FileReader defines the interface for reading files
type FileReader interface {
	// ReadFile reads the file at the given path and returns the contents
	ReadFile(path string) ([]byte, error)
}

// DefaultFileReader implements FileReader using os.ReadFile
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// RegistryLoader fetches the chain registry file and decodes it.
type RegistryLoader struct {
	fileReader FileReader
	workDir    string
	timeout    time.Duration
}

// NewRegistryLoader creates a loader that downloads into workDir.
func NewRegistryLoader(fileReader FileReader, workDir string) *RegistryLoader {
	return &RegistryLoader{fileReader: fileReader, workDir: workDir, timeout: 120 * time.Second}
}

// NewDefaultRegistryLoader creates a loader that downloads into a temp directory.
func NewDefaultRegistryLoader() *RegistryLoader {
	return NewRegistryLoader(&DefaultFileReader{}, os.TempDir())
}

/*
Load downloads the registry from source and parses it.

Params:
  - ctx: bounds the download
  - source: local path, http(s) url or git url of the registry toml

Returns:
  - *RegistryConfig: the verified registry
  - error: if the download, the parsing or the verification fails
*/
func (l *RegistryLoader) Load(ctx context.Context, source string) (*RegistryConfig, error) {
	path, err := l.download(ctx, source)
	if err != nil {
		return nil, err
	}
	body, err := l.fileReader.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return ParseRegistry(body)
}

func (l *RegistryLoader) download(ctx context.Context, source string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to resolve working dir: %w", err)
	}
	dst := filepath.Join(l.workDir, fmt.Sprintf("hydradx-registry-%d.toml", time.Now().UnixNano()))

	client := getter.Client{
		Ctx:  ctx,
		Src:  source,
		Dst:  dst,
		Pwd:  pwd,
		Mode: getter.ClientModeFile,
		Detectors: []getter.Detector{
			&getter.GitHubDetector{},
			&getter.GitDetector{},
			&getter.FileDetector{},
		},
		Getters: map[string]getter.Getter{
			"file":  &getter.FileGetter{Copy: true},
			"http":  &getter.HttpGetter{},
			"https": &getter.HttpGetter{},
			"git":   &getter.GitGetter{},
		},
	}
	log.Info().Str("source", source).Str("dst", dst).Msg("Downloading chain registry")
	if err := client.Get(); err != nil {
		return "", fmt.Errorf("failed to download registry: %w", err)
	}
	return dst, nil
}

// ParseRegistry decodes and verifies a registry toml document.
func ParseRegistry(body []byte) (*RegistryConfig, error) {
	var registry RegistryConfig
	if err := toml.Unmarshal(body, &registry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal registry: %w", err)
	}
	if err := verifyRegistry(&registry); err != nil {
		return nil, fmt.Errorf("failed to verify registry: %w", err)
	}
	return &registry, nil
}

func verifyRegistry(registry *RegistryConfig) error {
	if registry.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if len(registry.Assets) == 0 {
		return fmt.Errorf("at least one asset is required")
	}

	seen := make(map[uint32]bool, len(registry.Assets))
	nativeListed := false
	for _, asset := range registry.Assets {
		if seen[asset.LocalID] {
			return fmt.Errorf("duplicate local asset id %d", asset.LocalID)
		}
		seen[asset.LocalID] = true
		if asset.RemoteID == registry.NativeAsset {
			nativeListed = true
		}
	}
	if !nativeListed {
		return fmt.Errorf("native asset %d is not listed", registry.NativeAsset)
	}

	if len(registry.Runtimes) == 0 {
		return fmt.Errorf("at least one runtime table is required")
	}
	for _, rt := range registry.Runtimes {
		for name, index := range rt.Calls {
			if len(index) != 2 {
				return fmt.Errorf("runtime %d: call %s must be [pallet, call]", rt.SpecVersion, name)
			}
		}
		for name, index := range rt.Events {
			if len(index) != 2 {
				return fmt.Errorf("runtime %d: event %s must be [pallet, event]", rt.SpecVersion, name)
			}
		}
		if rt.MinAssetFee >= 1_000_000 || rt.MinProtocolFee >= 1_000_000 {
			return fmt.Errorf("runtime %d: fee minimums must be below 100%%", rt.SpecVersion)
		}
	}
	return nil
}
