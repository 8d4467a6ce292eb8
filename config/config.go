// Package config loads a DPool's server list and tunables from a YAML
// file, the way tiny_grpc.yaml drove the teacher framework's client/server
// config. Unlike that framework, Load never calls log.Fatal: a pool is a
// library, so a bad config file is returned as an error for the caller to
// act on, not a reason to kill the host process.
package config

import (
	"fmt"
	"io/ioutil"

	log "github.com/golang/glog"
	yaml "gopkg.in/yaml.v2"

	"github.com/WangXijue/dpool"
)

// ServerConf is one YAML-declared backend endpoint.
type ServerConf struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PoolConf mirrors dpool.PoolConfig's fields for YAML decoding. A zero
// value for any numeric field means "use the default", matching
// dpool.DefaultPoolConfig().
type PoolConf struct {
	MaxIdle       int  `yaml:"max_idle"`
	MaxActive     int  `yaml:"max_active"`
	MaxFails      int  `yaml:"max_fails"`
	ConnTimeoutMs int  `yaml:"conn_timeout_ms"`
	DataTimeoutMs int  `yaml:"data_timeout_ms"`
	Wait          bool `yaml:"wait"`
	MaxWaitMs     int  `yaml:"max_wait_ms"`
}

// FileConfig is the top-level shape of a DPool YAML config file.
type FileConfig struct {
	Servers []ServerConf `yaml:"servers"`
	Pool    PoolConf     `yaml:"pool"`
}

// Load reads and parses path, returning the server list and PoolConfig
// ready to hand to dpool.New.
func Load(path string) ([]dpool.ServerAddress, dpool.PoolConfig, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, dpool.PoolConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return nil, dpool.PoolConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if len(fc.Servers) == 0 {
		return nil, dpool.PoolConfig{}, fmt.Errorf("config: %s declares no servers", path)
	}

	servers := make([]dpool.ServerAddress, len(fc.Servers))
	for i, s := range fc.Servers {
		servers[i] = dpool.ServerAddress{Host: s.Host, Port: s.Port}
	}

	cfg := dpool.DefaultPoolConfig()
	applyOverrides(&cfg, fc.Pool)

	log.Infof("config: loaded %d servers from %s", len(servers), path)
	return servers, cfg, nil
}

func applyOverrides(cfg *dpool.PoolConfig, p PoolConf) {
	if p.MaxIdle > 0 {
		cfg.MaxIdle = p.MaxIdle
	}
	if p.MaxActive > 0 {
		cfg.MaxActive = p.MaxActive
	}
	if p.MaxFails > 0 {
		cfg.MaxFails = p.MaxFails
	}
	if p.ConnTimeoutMs > 0 {
		cfg.ConnTimeoutMs = p.ConnTimeoutMs
	}
	if p.DataTimeoutMs > 0 {
		cfg.DataTimeoutMs = p.DataTimeoutMs
	}
	cfg.Wait = p.Wait
	if p.MaxWaitMs > 0 {
		cfg.MaxWaitMs = p.MaxWaitMs
	}
}
