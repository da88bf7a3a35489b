package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	c, err := Load(write(t, "store:\n  driver: memory\n"))
	require.NoError(t, err)
	require.Equal(t, ":8080", c.HTTPAddr)
	require.Equal(t, 3*time.Second, c.PollInterval())
	require.Equal(t, "snovault", c.Elastic.Index)
}

func TestLoadFullConfig(t *testing.T) {
	c, err := Load(write(t, `
http_addr: ":9000"
poll_seconds: 10
store:
  driver: leveldb
  path: /var/lib/snovault
elastic:
  url: http://localhost:9200
  index: prod
queue:
  region: us-east-1
  env: prod
`))
	require.NoError(t, err)
	require.Equal(t, "leveldb", c.Store.Driver)
	require.Equal(t, 10*time.Second, c.PollInterval())
	require.Equal(t, "prod", c.Elastic.Index)
	require.Equal(t, "us-east-1", c.Queue.Region)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	for _, body := range []string{
		"store:\n  driver: mongo\n",
		"store:\n  driver: leveldb\n",
		"store:\n  driver: memory\nelastic:\n  url: http://localhost:9200\n  index: \"\"\n",
		"store:\n  driver: memory\npoll_seconds: -1\n",
		"no_such_key: true\n",
	} {
		_, err := Load(write(t, body))
		require.Error(t, err, body)
	}
}
