package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	cfg, err := Load(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 500, cfg.Analysis.Impact.LocCap)
	assert.Equal(t, 10.0, cfg.Analysis.Impact.CoreModuleCap)
	assert.Equal(t, 3.0, cfg.Analysis.Impact.HotfixBonus)
	assert.Equal(t, 3, cfg.Analysis.Scanner.MaxRetries)

	// 关键路径权重表有默认值，配置文件省略时不至于全员零加成
	require.NotEmpty(t, cfg.Analysis.Impact.CriticalPaths)
	assert.Equal(t, 3.0, cfg.Analysis.Impact.CriticalPaths["auth"])
	assert.Equal(t, 4.0, cfg.Analysis.Impact.CriticalPaths["payment"])
	assert.Equal(t, 2.0, cfg.Analysis.Impact.CriticalPaths["migrations"])
}

func TestLoad_CriticalPathsOverride(t *testing.T) {
	viper.Reset()
	cfg, err := Load(writeConfig(t, `
analysis:
  impact:
    critical_paths:
      internal/core: 5
`))
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Analysis.Impact.CriticalPaths["internal/core"])
}
