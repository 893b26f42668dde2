package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// readInput reads path, or stdin when path is "-", and returns the bytes
// with the content type the server should parse them as.
func readInput(cmd *cobra.Command, path string) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return data, "application/yaml", nil
	}
	return data, "application/json", nil
}

// readObject reads a JSON or YAML mapping from path.
func readObject(cmd *cobra.Command, path string) (map[string]any, error) {
	data, _, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	var obj map[string]any
	if err := yaml.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}
