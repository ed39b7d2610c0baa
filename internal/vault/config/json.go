package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/akorchagin/passvault/internal/flagx"
	"github.com/akorchagin/passvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "60s"
// or as integer nanoseconds.
type JsonConfig struct {
	DatabaseDSN    string         `json:"database_dsn"`
	RemoteAddr     string         `json:"remote_addr"`
	ServiceKey     string         `json:"service_key"`
	DeviceName     string         `json:"device_name"`
	UnlockAttempts int            `json:"unlock_attempts"`
	UnlockWindow   timex.Duration `json:"unlock_window"`
	SyncInterval   timex.Duration `json:"sync_interval"`

	Backup struct {
		Endpoint        string `json:"endpoint"`
		Region          string `json:"region"`
		Bucket          string `json:"bucket"`
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
	} `json:"backup"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// the -c/-config flag. Absent file path means no JSON layer. Fields left
// empty in the JSON keep their current values.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.RemoteAddr != "" {
		cfg.RemoteAddr = jc.RemoteAddr
	}
	if jc.ServiceKey != "" {
		cfg.ServiceKey = jc.ServiceKey
	}
	if jc.DeviceName != "" {
		cfg.DeviceName = jc.DeviceName
	}
	if jc.UnlockAttempts > 0 {
		cfg.UnlockAttempts = jc.UnlockAttempts
	}
	if jc.UnlockWindow.Duration > 0 {
		cfg.UnlockWindow = time.Duration(jc.UnlockWindow.Duration)
	}
	if jc.SyncInterval.Duration > 0 {
		cfg.SyncInterval = time.Duration(jc.SyncInterval.Duration)
	}

	if jc.Backup.Endpoint != "" {
		cfg.Backup.Endpoint = jc.Backup.Endpoint
	}
	if jc.Backup.Region != "" {
		cfg.Backup.Region = jc.Backup.Region
	}
	if jc.Backup.Bucket != "" {
		cfg.Backup.Bucket = jc.Backup.Bucket
	}
	if jc.Backup.AccessKeyID != "" {
		cfg.Backup.AccessKeyID = jc.Backup.AccessKeyID
	}
	if jc.Backup.SecretAccessKey != "" {
		cfg.Backup.SecretAccessKey = jc.Backup.SecretAccessKey
	}
}
