package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GitThaisen/tv-automation-media-management/internal/config"
)

const sampleYAML = `
workerPoolSize: 8
mediaScanner:
  host: scanner.local
  port: 8008
storages:
  - id: incoming
    kind: localfs
    watchFolder: true
    watchFolderTargetId: nearline
    localfs:
      root: /mnt/incoming
  - id: nearline
    kind: objectstore
    objectstore:
      bucket: media-nearline
      region: eu-west-1
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mediamgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesStoragesAndMediaScanner(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	settings, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, 8, settings.WorkerPoolSize)
	require.Equal(t, "scanner.local", settings.MediaScanner.Host)
	require.Equal(t, 8008, settings.MediaScanner.Port)
	require.Len(t, settings.Storages, 2)
	require.Equal(t, "incoming", settings.Storages[0].ID)
	require.True(t, settings.Storages[0].WatchFolder)
	require.Equal(t, "nearline", settings.Storages[0].WatchFolderTargetID)
	require.Equal(t, "/mnt/incoming", settings.Storages[0].LocalFS.Root)
	require.Equal(t, "media-nearline", settings.Storages[1].ObjectStore.Bucket)
}

func TestLoadDefaultsWorkerPoolSizeWhenUnset(t *testing.T) {
	path := writeConfig(t, "storages: []\n")

	settings, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, settings.WorkerPoolSize)
}

func TestLoadMissingExplicitFileIsAnError(t *testing.T) {
	dir := t.TempDir()
	settings, err := config.Load(filepath.Join(dir, "does-not-exist.yaml"))
	require.Error(t, err) // an explicit path that does not exist is a hard failure
	_ = settings
}
