package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is looked up in the directory passed to Load.
const ConfigFileName = "territory.cfg.json"

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type   string       `json:"type" mapstructure:"type"`
	SQLite SQLiteConfig `json:"sqlite" mapstructure:"sqlite"`
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`
}

// MemoryConfig holds the in-process backend settings. An empty
// SnapshotPath disables the snapshot written on shutdown.
type MemoryConfig struct {
	SnapshotPath string `json:"snapshotPath" mapstructure:"snapshotPath"`
}

// SQLiteConfig holds the in-memory SQLite backend settings.
type SQLiteConfig struct {
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
	DumpPath     string        `json:"dumpPath" mapstructure:"dumpPath"`
}

// DBConfig holds the connection settings shared by the Postgres and MySQL backends.
type DBConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// ServerConfig holds the HTTP listener and per-player action limits.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ActionRate   float64 // combat/economy actions per second per player
	ActionBurst  int
}

// InfluxConfig holds InfluxDB event metric settings.
type InfluxConfig struct {
	Enabled    bool
	Host       string
	Port       string
	Protocol   string
	Token      string
	Org        string
	Bucket     string
	BackupPath string
}

// NotifyConfig holds the event fan-out settings.
type NotifyConfig struct {
	BufferSize      int
	OutboxSize      int
	WebsocketURL    string
	WebsocketSecret string
}

// WalletConfig selects the wallet collaborator.
type WalletConfig struct {
	Type         string // "memory" or "http"
	URL          string
	APIKey       string
	StartingGold float64
}

// GraylogConfig holds the optional GELF log sink.
type GraylogConfig struct {
	Enabled bool
	Address string
}

// LevelConfig is one row of the level table.
type LevelConfig struct {
	Radius            float64 `json:"radius" mapstructure:"radius"`
	MaxHP             int     `json:"maxHp" mapstructure:"maxHp"`
	RevenueMultiplier float64 `json:"revenueMultiplier" mapstructure:"revenueMultiplier"`
	UpkeepCost        float64 `json:"upkeepCost" mapstructure:"upkeepCost"`
}

// GameConfig holds every game-balance constant.
type GameConfig struct {
	Levels              []LevelConfig
	BaseRate            float64
	LocationBonus       float64
	PlacementCost       float64
	UpgradeBaseCost     float64
	UpgradeGrowth       float64
	UpgradeDuration     time.Duration
	MinSeparation       float64
	CaptureWindow       time.Duration
	Protection          time.Duration
	AssaultWindow       time.Duration
	UpkeepPeriod        time.Duration
	GracePeriod         time.Duration
	DecayHPPerDay       int
	RevenueVariance     float64
	LocalStep           float64
	MaxDamage           int
	ConflictStrategy    string
	ResetLevelOnCapture bool
	CaptureLootFraction float64
	RepairCostPerHP     float64
	HexSnap             bool
	HexSize             float64
	IndexCellDegrees    float64
	SweepInterval       time.Duration
	RetryAttempts       int
	RetryBackoff        time.Duration
}

// DefaultLevels is the stock level table.
var DefaultLevels = []LevelConfig{
	{Radius: 200, MaxHP: 100, RevenueMultiplier: 1.0, UpkeepCost: 50},
	{Radius: 300, MaxHP: 150, RevenueMultiplier: 1.4, UpkeepCost: 100},
	{Radius: 400, MaxHP: 225, RevenueMultiplier: 1.8, UpkeepCost: 150},
	{Radius: 500, MaxHP: 300, RevenueMultiplier: 2.3, UpkeepCost: 200},
	{Radius: 600, MaxHP: 400, RevenueMultiplier: 3.0, UpkeepCost: 250},
}

// SetDefaults registers the default value of every key.
func SetDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./territorylogs")
	viper.SetDefault("instanceName", "territoryd")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "10s")
	viper.SetDefault("server.actionRate", 2.0)
	viper.SetDefault("server.actionBurst", 5)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "territory")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.sqlite.dumpPath", "./territory.db")
	viper.SetDefault("storage.memory.snapshotPath", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "territory-metrics")
	viper.SetDefault("influx.bucket", "territory_events")
	viper.SetDefault("influx.backupPath", "./territory_events.lp.gz")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "territoryd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("notify.bufferSize", 1000)
	viper.SetDefault("notify.outboxSize", 10000)
	viper.SetDefault("notify.websocket.url", "")
	viper.SetDefault("notify.websocket.secret", "")

	viper.SetDefault("wallet.type", "memory")
	viper.SetDefault("wallet.url", "http://localhost:5000")
	viper.SetDefault("wallet.apiKey", "")
	viper.SetDefault("wallet.startingGold", 1000.0)

	viper.SetDefault("terrain.exclusions", []string{})

	levels := make([]map[string]any, len(DefaultLevels))
	for i, l := range DefaultLevels {
		levels[i] = map[string]any{
			"radius":            l.Radius,
			"maxHp":             l.MaxHP,
			"revenueMultiplier": l.RevenueMultiplier,
			"upkeepCost":        l.UpkeepCost,
		}
	}
	viper.SetDefault("game.levels", levels)
	viper.SetDefault("game.baseRate", 30.0)
	viper.SetDefault("game.locationBonus", 1.0)
	viper.SetDefault("game.placementCost", 100.0)
	viper.SetDefault("game.upgradeBaseCost", 500.0)
	viper.SetDefault("game.upgradeGrowth", 2.2)
	viper.SetDefault("game.upgradeDuration", "0s")
	viper.SetDefault("game.minSeparation", 400.0)
	viper.SetDefault("game.captureWindow", "30m")
	viper.SetDefault("game.protection", "10m")
	viper.SetDefault("game.assaultWindow", "2m")
	viper.SetDefault("game.upkeepPeriod", "24h")
	viper.SetDefault("game.gracePeriod", "72h")
	viper.SetDefault("game.decayHpPerDay", 10)
	viper.SetDefault("game.revenueVariance", 0.2)
	viper.SetDefault("game.localStep", 100.0)
	viper.SetDefault("game.maxDamage", 1000)
	viper.SetDefault("game.conflictStrategy", "distance")
	viper.SetDefault("game.resetLevelOnCapture", false)
	viper.SetDefault("game.captureLootFraction", 0.5)
	viper.SetDefault("game.repairCostPerHp", 5.0)
	viper.SetDefault("game.hexSnap", false)
	viper.SetDefault("game.hexSize", 250.0)
	viper.SetDefault("game.indexCellDegrees", 0.02)
	viper.SetDefault("game.sweepInterval", "1m")
	viper.SetDefault("game.retryAttempts", 3)
	viper.SetDefault("game.retryBackoff", "20ms")
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	SetDefaults()

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetStorageConfig returns the storage backend configuration.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		SQLite: SQLiteConfig{
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
			DumpPath:     viper.GetString("storage.sqlite.dumpPath"),
		},
		Memory: MemoryConfig{
			SnapshotPath: viper.GetString("storage.memory.snapshotPath"),
		},
	}
}

// GetDBConfig returns the SQL server connection settings.
func GetDBConfig() DBConfig {
	return DBConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetOTelConfig returns the OpenTelemetry configuration.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetServerConfig returns the HTTP server configuration.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Address:      viper.GetString("server.address"),
		ReadTimeout:  viper.GetDuration("server.readTimeout"),
		WriteTimeout: viper.GetDuration("server.writeTimeout"),
		ActionRate:   viper.GetFloat64("server.actionRate"),
		ActionBurst:  viper.GetInt("server.actionBurst"),
	}
}

// GetInfluxConfig returns the InfluxDB configuration.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:    viper.GetBool("influx.enabled"),
		Host:       viper.GetString("influx.host"),
		Port:       viper.GetString("influx.port"),
		Protocol:   viper.GetString("influx.protocol"),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		Bucket:     viper.GetString("influx.bucket"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// GetNotifyConfig returns the event fan-out configuration.
func GetNotifyConfig() NotifyConfig {
	return NotifyConfig{
		BufferSize:      viper.GetInt("notify.bufferSize"),
		OutboxSize:      viper.GetInt("notify.outboxSize"),
		WebsocketURL:    viper.GetString("notify.websocket.url"),
		WebsocketSecret: viper.GetString("notify.websocket.secret"),
	}
}

// GetWalletConfig returns the wallet collaborator configuration.
func GetWalletConfig() WalletConfig {
	return WalletConfig{
		Type:         viper.GetString("wallet.type"),
		URL:          viper.GetString("wallet.url"),
		APIKey:       viper.GetString("wallet.apiKey"),
		StartingGold: viper.GetFloat64("wallet.startingGold"),
	}
}

// GetTerrainExclusions returns the WKT polygons where flags may not be placed.
func GetTerrainExclusions() []string {
	return viper.GetStringSlice("terrain.exclusions")
}

// GetGraylogConfig returns the GELF sink configuration.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetGameConfig returns the game-balance configuration.
func GetGameConfig() (GameConfig, error) {
	var levels []LevelConfig
	if err := viper.UnmarshalKey("game.levels", &levels); err != nil {
		return GameConfig{}, fmt.Errorf("error decoding game.levels: %w", err)
	}

	return GameConfig{
		Levels:              levels,
		BaseRate:            viper.GetFloat64("game.baseRate"),
		LocationBonus:       viper.GetFloat64("game.locationBonus"),
		PlacementCost:       viper.GetFloat64("game.placementCost"),
		UpgradeBaseCost:     viper.GetFloat64("game.upgradeBaseCost"),
		UpgradeGrowth:       viper.GetFloat64("game.upgradeGrowth"),
		UpgradeDuration:     viper.GetDuration("game.upgradeDuration"),
		MinSeparation:       viper.GetFloat64("game.minSeparation"),
		CaptureWindow:       viper.GetDuration("game.captureWindow"),
		Protection:          viper.GetDuration("game.protection"),
		AssaultWindow:       viper.GetDuration("game.assaultWindow"),
		UpkeepPeriod:        viper.GetDuration("game.upkeepPeriod"),
		GracePeriod:         viper.GetDuration("game.gracePeriod"),
		DecayHPPerDay:       viper.GetInt("game.decayHpPerDay"),
		RevenueVariance:     viper.GetFloat64("game.revenueVariance"),
		LocalStep:           viper.GetFloat64("game.localStep"),
		MaxDamage:           viper.GetInt("game.maxDamage"),
		ConflictStrategy:    viper.GetString("game.conflictStrategy"),
		ResetLevelOnCapture: viper.GetBool("game.resetLevelOnCapture"),
		CaptureLootFraction: viper.GetFloat64("game.captureLootFraction"),
		RepairCostPerHP:     viper.GetFloat64("game.repairCostPerHp"),
		HexSnap:             viper.GetBool("game.hexSnap"),
		HexSize:             viper.GetFloat64("game.hexSize"),
		IndexCellDegrees:    viper.GetFloat64("game.indexCellDegrees"),
		SweepInterval:       viper.GetDuration("game.sweepInterval"),
		RetryAttempts:       viper.GetInt("game.retryAttempts"),
		RetryBackoff:        viper.GetDuration("game.retryBackoff"),
	}, nil
}
