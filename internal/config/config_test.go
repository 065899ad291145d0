package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
experiment: edvr_x4
is_train: false
dataset:
  name: reds4
  lq_root: data/lq
  gt_root: data/gt
engine:
  type: bicubic
  scale: 4
validation:
  save_images: true
  suffix: ""
  metrics:
    - name: psnr
      type: psnr
      crop_border: 4
    - name: psnr_y
      type: psnr
      crop_border: 4
      test_y_channel: true
    - type: ssim
paths:
  visualization: results/vis
  events: results/events.jsonl
cluster:
  peers: ["127.0.0.1:9101", "127.0.0.1:9102"]
  rank: 1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "edvr_x4", cfg.Experiment)
	assert.False(t, cfg.IsTrain)
	assert.Equal(t, EngineBicubic, cfg.Engine.Type)
	assert.Equal(t, 1, cfg.Cluster.Rank)

	scorers, err := cfg.Scorers()
	require.NoError(t, err)
	require.Len(t, scorers, 3)
	// Order follows the config; unnamed metrics fall back to their type.
	assert.Equal(t, "psnr", scorers[0].Name())
	assert.Equal(t, "psnr_y", scorers[1].Name())
	assert.Equal(t, "ssim", scorers[2].Name())
}

func TestLoadRejectsUnknownMetric(t *testing.T) {
	body := `
experiment: e
dataset: {name: d, lq_root: lq}
engine: {type: bicubic, scale: 2}
validation:
  metrics:
    - {name: niqe, type: niqe}
cluster: {peers: ["127.0.0.1:9101"], rank: 0}
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown metric type: "niqe"`)
}

func TestLoadRejectsDuplicateMetric(t *testing.T) {
	body := `
experiment: e
dataset: {name: d, lq_root: lq}
engine: {type: bicubic, scale: 2}
validation:
  metrics:
    - {name: psnr, type: psnr}
    - {name: psnr, type: psnr}
cluster: {peers: ["127.0.0.1:9101"], rank: 0}
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate metric "psnr"`)
}

func TestLoadRejectsUnknownEngine(t *testing.T) {
	body := `
experiment: e
dataset: {name: d, lq_root: lq}
engine: {type: tensorrt}
cluster: {peers: ["127.0.0.1:9101"], rank: 0}
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown engine type "tensorrt"`)
}

func TestLoadRejectsOutOfRangeRank(t *testing.T) {
	body := `
experiment: e
dataset: {name: d, lq_root: lq}
engine: {type: bicubic, scale: 2}
cluster: {peers: ["127.0.0.1:9101"], rank: 1}
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadRejectsHTTPEngineWithoutEndpoint(t *testing.T) {
	body := `
experiment: e
dataset: {name: d, lq_root: lq}
engine: {type: http}
cluster: {peers: ["127.0.0.1:9101"], rank: 0}
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}
