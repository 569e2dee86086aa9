package sink

import (
	"os"
	"path/filepath"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// createFile truncates or creates path, making parent directories first.
func createFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &models.ConfigError{Field: "sink.output", Msg: "create directory: " + err.Error()}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, &models.ConfigError{Field: "sink.output", Msg: err.Error()}
	}
	return f, nil
}
