package resolve

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/jensholdgaard/discord-fa-bot/internal/store"
)

//go:embed aliases.yaml
var defaultAliases []byte

// DefaultAliases returns the built-in nickname and spelling table.
func DefaultAliases() []store.PlayerAlias {
	aliases, err := parseAliases(defaultAliases)
	if err != nil {
		panic(fmt.Sprintf("resolve: embedded alias table: %v", err))
	}
	return aliases
}

// LoadAliases reads a YAML document mapping canonical names to lists of
// aliases.
func LoadAliases(r io.Reader) ([]store.PlayerAlias, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading alias table: %w", err)
	}
	return parseAliases(data)
}

// LoadAliasFile is LoadAliases for a file path.
func LoadAliasFile(path string) ([]store.PlayerAlias, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening alias file: %w", err)
	}
	defer f.Close()
	return LoadAliases(f)
}

func parseAliases(data []byte) ([]store.PlayerAlias, error) {
	var table map[string][]string
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing alias table: %w", err)
	}

	var aliases []store.PlayerAlias
	for canonical, spellings := range table {
		for _, s := range spellings {
			aliases = append(aliases, store.PlayerAlias{Alias: Normalize(s), CanonicalName: canonical})
		}
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].Alias < aliases[j].Alias })
	return aliases, nil
}
