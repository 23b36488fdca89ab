package manifest

import (
	"fmt"
	"os"

	"dmsp/internal/stats"

	"github.com/pelletier/go-toml/v2"
)

// Suffix is appended to the predictions path to name its manifest.
const Suffix = ".info.toml"

// Version of the manifest layout.
const Version uint8 = 1

// Model identifies the classifier a run used.
type Model struct {
	Backend string `toml:"backend"`
	Name    string `toml:"name,omitempty"`
	Version string `toml:"version,omitempty"`
	Command string `toml:"command,omitempty"`
}

// Info summarises one predictions file.
type Info struct {
	MainVersion     uint8        `toml:"main-version" comment:"Manifest format"`
	RunID           string       `toml:"run-id,omitempty"`
	AlphabetVersion int          `toml:"alphabet-version" comment:"Encoding"`
	Alphabet        string       `toml:"alphabet"`
	MaxLength       int          `toml:"max-length"`
	ChunkSize       int          `toml:"chunk-size" comment:"Input"`
	Input           string       `toml:"input"`
	Lines           int          `toml:"lines"`
	Chunks          int          `toml:"chunks"`
	Output          string       `toml:"output" comment:"Output"`
	Rows            int          `toml:"rows"`
	Model           Model        `toml:"model"`
	Totals          stats.Counts `toml:"totals"`
}

// Path returns the manifest path for a predictions file.
func Path(output string) string { return output + Suffix }

// Write stores info next to its predictions file.
func Write(info *Info) error {
	if info.MainVersion == 0 {
		info.MainVersion = Version
	}
	data, err := toml.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(Path(info.Output), data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Read loads a manifest file.
func Read(file string) (*Info, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	v := &Info{}
	if err := toml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", file, err)
	}
	return v, nil
}
