// Package config loads the chunkserver's daemon configuration from
// environment variables, following the HDD_CONF_FILENAME folder-list
// convention plus the usual CSSERV_*/MASTER_* connection settings.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// FolderConfig is one line of the hdd list file: a path, whether it's
// marked for drain with a leading "*", and an optional "|leave_free"
// suffix.
type FolderConfig struct {
	Path      string
	ToDelete  bool
	LeaveFree int64
}

// Config is the full set of daemon settings, sourced from the environment
// with the same names the teacher fleet already uses for CSSERV_*/MASTER_*.
type Config struct {
	ListenHost string
	ListenPort int

	ClientTimeout time.Duration
	PeerTimeout   time.Duration

	MasterHost             string
	MasterPort             int
	MasterTimeout          time.Duration
	MasterReconnectionDelay time.Duration

	HDDConfPath string
	Folders     []FolderConfig

	BackLogs int
	DataPath string
	LockFile string

	AdminListenHost string
	AdminListenPort int
	MetricsPort     int

	ChunkIndexBoltPath string
	StatsDBPath        string

	OTelJaegerEndpoint string

	WorkerCount int
	QueueDepth  int
}

// FromEnv reads every setting from the environment, applying the same
// defaults the fleet ships with.
func FromEnv() (*Config, error) {
	c := &Config{
		ListenHost:              getEnv("CSSERV_LISTEN_HOST", "0.0.0.0"),
		ListenPort:              getEnvInt("CSSERV_LISTEN_PORT", 9422),
		ClientTimeout:           getEnvSeconds("CSSERV_TIMEOUT", 10),
		PeerTimeout:             getEnvSeconds("CSTOCS_TIMEOUT", 10),
		MasterHost:              getEnv("MASTER_HOST", "mfsmaster"),
		MasterPort:              getEnvInt("MASTER_PORT", 9420),
		MasterTimeout:           getEnvSeconds("MASTER_TIMEOUT", 10),
		MasterReconnectionDelay: getEnvSeconds("MASTER_RECONNECTION_DELAY", 5),
		HDDConfPath:             getEnv("HDD_CONF_FILENAME", "/etc/mfshdd.cfg"),
		BackLogs:                getEnvInt("BACK_LOGS", 50),
		DataPath:                getEnv("DATA_PATH", "/var/lib/chunkserver"),
		LockFile:                getEnv("LOCK_FILE", "/var/run/chunkserver.lock"),
		AdminListenHost:         getEnv("ADMIN_LISTEN_HOST", "127.0.0.1"),
		AdminListenPort:         getEnvInt("ADMIN_LISTEN_PORT", 9425),
		MetricsPort:             getEnvInt("METRICS_LISTEN_PORT", 9426),
		ChunkIndexBoltPath:      getEnv("CHUNK_INDEX_BOLT_PATH", ""),
		StatsDBPath:             getEnv("STATS_DB_PATH", ""),
		OTelJaegerEndpoint:      getEnv("OTEL_EXPORTER_JAEGER_ENDPOINT", ""),
		WorkerCount:             getEnvInt("WORKER_COUNT", 8),
		QueueDepth:              getEnvInt("QUEUE_DEPTH", 64),
	}

	folders, err := ParseHDDConf(c.HDDConfPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.Folders = folders
	return c, nil
}

// ParseHDDConf reads the hdd list file: one folder path per line, blank
// lines and lines starting with "#" ignored. A leading "*" marks the
// folder to-delete (drain only, never receives new chunks). An optional
// "|<bytes>" suffix sets LeaveFree.
func ParseHDDConf(path string) ([]FolderConfig, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []FolderConfig
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fc := FolderConfig{}
		if strings.HasPrefix(line, "*") {
			fc.ToDelete = true
			line = line[1:]
		}
		if idx := strings.IndexByte(line, '|'); idx >= 0 {
			leaveFree, err := strconv.ParseInt(strings.TrimSpace(line[idx+1:]), 10, 64)
			if err == nil {
				fc.LeaveFree = leaveFree
			}
			line = line[:idx]
		}
		fc.Path = strings.TrimSpace(line)
		if fc.Path == "" {
			continue
		}
		out = append(out, fc)
	}
	return out, sc.Err()
}

func getEnv(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(name string, def int) int {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvSeconds(name string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(name, defSeconds)) * time.Second
}
