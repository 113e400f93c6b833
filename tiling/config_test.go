package tiling

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func floatPtr(v float64) *float64 { return &v }

func intPtr(v int) *int { return &v }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file not found")
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	require.NoError(t, err)

	assert.Equal(t, TileSize{Height: 80, Width: 145}, cfg.Tile)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1, cfg.Workers)
	require.NotNil(t, cfg.Denoise.Epochs)
	assert.Equal(t, 2, *cfg.Denoise.Epochs)
	assert.Equal(t, "/v1/classify", cfg.Classifier.Path)
	assert.Equal(t, "predictions.db", cfg.Store.Path)
	assert.Equal(t, "tilemap", cfg.MQTT.PublishPrefix)
	assert.Equal(t, 7, cfg.ClassN())

	d := cfg.NewDenoiser()
	assert.Equal(t, 1.0, d.Unary)
	assert.Equal(t, 10.0, d.Pairwise)

	timeout, err := cfg.ClassifierTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	policy, err := cfg.PartitionPolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, policy.Factor(10000))
}

func TestLoadConfig_Full(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `tile: {height: 40, width: 60}
batchSize: 16
fill: 255
workers: 3
partition:
  steps:
    - {minDimension: 0, factor: 1}
    - {minDimension: 2000, factor: 3}
denoise: {epochs: 5, unaryWeight: 2, pairwiseWeight: 4}
classifier: {url: "http://model:9000", timeout: "5s"}
classes:
  - {name: background, color: "#000"}
  - {name: tissue, color: "#ff8800"}
`))
	require.NoError(t, err)

	assert.Equal(t, TileSize{Height: 40, Width: 60}, cfg.Tile)
	assert.Equal(t, uint8(255), cfg.Fill)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2, cfg.ClassN())

	policy, err := cfg.PartitionPolicy()
	require.NoError(t, err)
	assert.Equal(t, 1, policy.Factor(1999))
	assert.Equal(t, 3, policy.Factor(2400))

	d := cfg.NewDenoiser()
	assert.Equal(t, 5, d.Epochs)
	assert.Equal(t, 2.0, d.Unary)
	assert.Equal(t, 4.0, d.Pairwise)
	assert.Equal(t, 2, d.ClassN)

	timeout, err := cfg.ClassifierTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative tile", "tile: {height: -1, width: 10}\n", "tile.height"},
		{"negative batch", "batchSize: -4\n", "batchSize"},
		{"negative override", "partition: {override: -2}\n", "partition.override"},
		{"decreasing steps", "partition: {steps: [{minDimension: 0, factor: 4}, {minDimension: 10, factor: 2}]}\n", "partition.steps"},
		{"bad timeout", "classifier: {timeout: soon}\n", "classifier.timeout"},
		{"bad color", "classes: [{name: a, color: '#zzzzzz'}]\n", "classes"},
		{"unnamed class", "classes: [{color: '#ffffff'}]\n", "classes"},
		{"negative epochs", "denoise: {epochs: -1}\n", "denoise.epochs"},
		{"negative unary weight", "denoise: {unaryWeight: -1}\n", "denoise.unaryWeight"},
		{"negative pairwise weight", "denoise: {pairwiseWeight: -10}\n", "denoise.pairwiseWeight"},
		{"NaN pairwise weight", "denoise: {pairwiseWeight: .nan}\n", "denoise.pairwiseWeight"},
		{"infinite unary weight", "denoise: {unaryWeight: .inf}\n", "denoise.unaryWeight"},
		{"bad qos", "mqtt: {qos: 3}\n", "mqtt.qos"},
		{"missing classes file", "classesFile: nope.yaml\n", "classesFile"},
		{"bad yaml", "tile: [\n", "parsing config YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig_ZeroEpochsDisablesDenoising(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "denoise:\n  epochs: 0\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.Denoise.Epochs)
	assert.Equal(t, 0, *cfg.Denoise.Epochs)
	assert.Equal(t, 0, cfg.NewDenoiser().Epochs)
}

func TestLoadConfig_ZeroWeightsAllowed(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "denoise: {unaryWeight: 0, pairwiseWeight: 0}\n"))
	require.NoError(t, err)

	d := cfg.NewDenoiser()
	assert.Equal(t, 0.0, d.Unary)
	assert.Equal(t, 0.0, d.Pairwise)
}

func TestLoadConfig_ClassesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classes.yaml"),
		[]byte("- {name: background, color: '#000000'}\n- {name: tumour, color: '#ff0000'}\n"), 0644))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("classesFile: classes.yaml\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ClassN())
	assert.Equal(t, "tumour", cfg.Classes[1].Name)
}

func TestLoadConfig_InlineClassesWinOverFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "classesFile: missing.yaml\nclasses: [{name: only}]\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.ClassN())
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Denoise.PairwiseWeight = floatPtr(3.5)
	cfg.Denoise.Epochs = intPtr(0)
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfig(path, cfg))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_USERNAME", "svc")
	t.Setenv("MQTT_PUBLISH_PREFIX", "slides")
	t.Setenv("MQTT_CLIENT_ID", "")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "svc", cfg.MQTT.Username)
	assert.Equal(t, "slides", cfg.MQTT.PublishPrefix)
	assert.Equal(t, DefaultMQTTClientID, cfg.MQTT.ClientID)
}
