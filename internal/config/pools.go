package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/afroash/baeder-monitor/internal/models"
)

// ErrUnknownSensor is returned by Lookup for a tile that is not configured.
var ErrUnknownSensor = errors.New("unknown sensor")

// Pool is one facility with its tiles.
type Pool struct {
	Key        string `yaml:"-"`
	Name       string `yaml:"name"`
	ChannelID  int    `yaml:"channel_id"`
	ReadAPIKey string `yaml:"read_api_key"`
	Tiles      []Tile `yaml:"tiles"`
}

// Tile binds a dashboard tile to a channel field. ChannelID and ReadAPIKey
// override the pool's when set.
type Tile struct {
	Key        string `yaml:"key"`
	Name       string `yaml:"name"`
	Field      int    `yaml:"field"`
	Unit       string `yaml:"unit"`
	ChannelID  int    `yaml:"channel_id"`
	ReadAPIKey string `yaml:"read_api_key"`
}

// Pools keeps the order pools appear in the YAML mapping.
type Pools []Pool

func (p *Pools) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: pools must be a mapping of pool key to pool", value.Line)
	}

	out := make(Pools, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, body := value.Content[i], value.Content[i+1]

		var pool Pool
		if err := body.Decode(&pool); err != nil {
			return fmt.Errorf("pool %q: %w", keyNode.Value, err)
		}
		pool.Key = keyNode.Value
		out = append(out, pool)
	}
	*p = out
	return nil
}

func (p Pools) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i, pool := range p {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s(channel=%d key=%s tiles=%d)", pool.Key, pool.ChannelID, maskToken(pool.ReadAPIKey), len(pool.Tiles))
	}
	b.WriteString("]")
	return b.String()
}

func (p Pools) validate() error {
	if len(p) == 0 {
		return fmt.Errorf("at least one pool is required")
	}
	seenPools := make(map[string]bool, len(p))
	for _, pool := range p {
		if pool.Key == "" {
			return fmt.Errorf("pool key must not be empty")
		}
		if seenPools[pool.Key] {
			return fmt.Errorf("duplicate pool %q", pool.Key)
		}
		seenPools[pool.Key] = true

		if len(pool.Tiles) == 0 {
			return fmt.Errorf("pool %q has no tiles", pool.Key)
		}
		seenTiles := make(map[string]bool, len(pool.Tiles))
		for _, tile := range pool.Tiles {
			if tile.Key == "" {
				return fmt.Errorf("pool %q: tile key must not be empty", pool.Key)
			}
			if seenTiles[tile.Key] {
				return fmt.Errorf("pool %q: duplicate tile %q", pool.Key, tile.Key)
			}
			seenTiles[tile.Key] = true

			if tile.Field < 1 || tile.Field > 8 {
				return fmt.Errorf("%s/%s: field must be between 1 and 8, got %d", pool.Key, tile.Key, tile.Field)
			}
			if ch := tile.channel(pool); ch.ID <= 0 {
				return fmt.Errorf("%s/%s: channel_id is required on the pool or the tile", pool.Key, tile.Key)
			}
		}
	}
	return nil
}

func (t Tile) channel(pool Pool) models.Channel {
	ch := models.Channel{ID: pool.ChannelID, ReadAPIKey: pool.ReadAPIKey}
	if t.ChannelID > 0 {
		ch = models.Channel{ID: t.ChannelID, ReadAPIKey: t.ReadAPIKey}
	}
	return ch
}

// Catalog flattens the pools into bindings in configuration order.
func (ac *AppConfig) Catalog() []models.Binding {
	var out []models.Binding
	for _, pool := range ac.Pools {
		name := pool.Name
		if name == "" {
			name = pool.Key
		}
		for _, tile := range pool.Tiles {
			tileName := tile.Name
			if tileName == "" {
				tileName = tile.Key
			}
			out = append(out, models.Binding{
				Sensor:   models.SensorID{Pool: pool.Key, Tile: tile.Key},
				PoolName: name,
				Name:     tileName,
				Unit:     tile.Unit,
				Channel:  tile.channel(pool),
				Field:    tile.Field,
			})
		}
	}
	return out
}

// Lookup finds the binding of one tile.
func (ac *AppConfig) Lookup(id models.SensorID) (models.Binding, error) {
	for _, b := range ac.Catalog() {
		if b.Sensor == id {
			return b, nil
		}
	}
	return models.Binding{}, fmt.Errorf("%w: %s", ErrUnknownSensor, id)
}
