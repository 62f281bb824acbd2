package configs

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SaveTOML writes data to filePath, creating parent directories.
func SaveTOML(filePath string, data interface{}) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(data)
}

// LoadTOML decodes filePath into data and returns keys it did not recognise.
func LoadTOML(filePath string, data interface{}) ([]string, error) {
	meta, err := toml.DecodeFile(filePath, data)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return unknown, nil
}
