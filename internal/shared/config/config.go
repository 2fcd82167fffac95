package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
	"nlink_desk/internal/shared/types"
)

// LoadIni 加载 nlink.ini 配置文件。
// 文件不存在时保留 cfg 中已有的默认值，只应用环境变量覆盖。
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat config file: %w", err)
		}
	} else {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return err
		}
	}
	overrideFromEnvInt(&cfg.UIConf.WebPort, "NLINK_WEB_PORT")
	overrideFromEnvString(&cfg.BackendConf.URL, "NLINK_BACKEND_URL")
	overrideFromEnvString(&cfg.LogConf.Level, "NLINK_LOG_LEVEL")
	return nil
}

// Load builds the effective configuration from the defaults and <configDir>/nlink.ini.
// Relative profile and log paths are resolved against configDir.
func Load(configDir string) (*types.Config, error) {
	cfg := types.DefaultConfig()
	if err := LoadIni(cfg, filepath.Join(configDir, "nlink.ini")); err != nil {
		return nil, err
	}
	cfg.ProfileConf.Path = resolvePath(configDir, cfg.ProfileConf.Path)
	if cfg.LogConf.File != "" {
		cfg.LogConf.File = resolvePath(configDir, cfg.LogConf.File)
	}
	if cfg.BackendConf.GeoIPDB != "" {
		cfg.BackendConf.GeoIPDB = resolvePath(configDir, cfg.BackendConf.GeoIPDB)
	}
	return cfg, nil
}

func resolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
