package models

// Channel addresses a ThingSpeak channel. ReadAPIKey is empty for public channels.
type Channel struct {
	ID         int    `json:"id"`
	ReadAPIKey string `json:"-"`
}

// Binding ties a tile to the telemetry field it displays.
type Binding struct {
	Sensor   SensorID `json:"sensor"`
	PoolName string   `json:"pool_name"`
	Name     string   `json:"name"`
	Unit     string   `json:"unit"`
	Channel  Channel  `json:"channel"`
	Field    int      `json:"field"`
}

// PoolInfo describes a pool and its tiles in display order.
type PoolInfo struct {
	Key   string     `json:"key"`
	Name  string     `json:"name"`
	Tiles []TileInfo `json:"tiles"`
}

// TileInfo describes one tile of a pool.
type TileInfo struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	Field     int    `json:"field"`
	ChannelID int    `json:"channel_id"`
}

// GroupByPool rebuilds the pool/tile tree from an ordered binding list,
// keeping first-seen order for pools and tiles.
func GroupByPool(bindings []Binding) []PoolInfo {
	var pools []PoolInfo
	index := make(map[string]int)
	for _, b := range bindings {
		i, ok := index[b.Sensor.Pool]
		if !ok {
			i = len(pools)
			index[b.Sensor.Pool] = i
			pools = append(pools, PoolInfo{Key: b.Sensor.Pool, Name: b.PoolName})
		}
		pools[i].Tiles = append(pools[i].Tiles, TileInfo{
			Key:       b.Sensor.Tile,
			Name:      b.Name,
			Unit:      b.Unit,
			Field:     b.Field,
			ChannelID: b.Channel.ID,
		})
	}
	return pools
}
