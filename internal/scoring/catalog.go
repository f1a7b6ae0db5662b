package scoring

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	yaml "gopkg.in/yaml.v3"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

//go:embed tiers.yaml
var defaultTiers embed.FS

// Tier names recognized in prize tables.
const (
	TierWinner        = "winner"
	TierRunnerUp      = "runner_up"
	TierThird         = "third"
	TierParticipation = "participation"
)

// TierCatalog resolves reward tiers per battle type. Defaults are
// embedded; an optional override directory layers yaml files on top.
type TierCatalog struct {
	mu   sync.RWMutex
	data map[string]map[string]domain.RewardTier // battle type -> tier -> reward
}

// NewTierCatalog loads the embedded defaults and then applies overrides
// from dir if provided.
func NewTierCatalog(overrideDir string) (*TierCatalog, error) {
	c := &TierCatalog{data: make(map[string]map[string]domain.RewardTier)}
	raw, err := fs.ReadFile(defaultTiers, "tiers.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded tiers: %w", err)
	}
	if err := c.applyYAML(raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(overrideDir) != "" {
		if err := c.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	if _, ok := c.data["default"]; !ok {
		return nil, fmt.Errorf("tier catalog missing default table")
	}
	return c, nil
}

func (c *TierCatalog) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read tier override dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := c.applyYAML(b); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (c *TierCatalog) applyYAML(b []byte) error {
	var m map[string]map[string]domain.RewardTier
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	c.mu.Lock()
	for btype, tiers := range m {
		if c.data[btype] == nil {
			c.data[btype] = make(map[string]domain.RewardTier)
		}
		for tier, reward := range tiers {
			c.data[btype][tier] = reward
		}
	}
	c.mu.Unlock()
	return nil
}

// Table returns the tier table for a battle type, falling back to the
// default table for unknown types.
func (c *TierCatalog) Table(t domain.BattleType) map[string]domain.RewardTier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if tbl, ok := c.data[string(t)]; ok {
		return tbl
	}
	return c.data["default"]
}
