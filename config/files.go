package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360/dataports/errors"
)

// Limits on port graph files and environment overrides
const (
	maxConfigSize  = 1 << 20
	maxNesting     = 32
	maxPathLen     = 4096
	maxEnvValueLen = 4096
)

// fileFormat is the encoding of a port graph file, chosen by extension
type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

func (f fileFormat) String() string {
	if f == formatYAML {
		return "yaml"
	}
	return "json"
}

func formatOf(path string) (fileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("%w: %s is neither a .json nor a .yaml graph file", errors.ErrInvalidConfig, path)
	}
}

// checkGraphPath resolves the format of a graph file path. Relative paths
// must stay inside the working directory.
func checkGraphPath(path string) (fileFormat, error) {
	switch {
	case path == "":
		return 0, fmt.Errorf("%w: empty config path", errors.ErrInvalidConfig)
	case len(path) > maxPathLen:
		return 0, fmt.Errorf("%w: config path longer than %d bytes", errors.ErrInvalidConfig, maxPathLen)
	}
	if !filepath.IsAbs(path) {
		if rel := filepath.Clean(path); rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return 0, fmt.Errorf("%w: %s leaves the working directory", errors.ErrInvalidConfig, path)
		}
	}
	return formatOf(path)
}

// readGraphFile reads a graph file and checks its size and nesting
func readGraphFile(path string) ([]byte, fileFormat, error) {
	format, err := checkGraphPath(path)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.WrapTransient(err, "Loader", "LoadFile", "open graph file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, errors.WrapTransient(err, "Loader", "LoadFile", "stat graph file")
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("%w: %s is not a regular file", errors.ErrInvalidConfig, path)
	}

	// Read one byte past the limit so growth after Stat is caught too.
	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, 0, errors.WrapTransient(err, "Loader", "LoadFile", "read graph file")
	}
	if len(data) > maxConfigSize {
		return nil, 0, fmt.Errorf("%w: %s exceeds %d bytes", errors.ErrInvalidConfig, path, maxConfigSize)
	}
	if err := checkNesting(data, format); err != nil {
		return nil, 0, err
	}
	return data, format, nil
}

// writeGraphFile replaces path atomically so a watching loader never sees a
// partial file
func writeGraphFile(path string, data []byte) error {
	if _, err := checkGraphPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("%w: encoded configuration exceeds %d bytes", errors.ErrInvalidConfig, maxConfigSize)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.WrapTransient(err, "Config", "SaveToFile", "create temporary file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "Config", "SaveToFile", "write temporary file")
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return errors.WrapTransient(err, "Config", "SaveToFile", "chmod temporary file")
	}
	if err := tmp.Close(); err != nil {
		return errors.WrapTransient(err, "Config", "SaveToFile", "close temporary file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.WrapTransient(err, "Config", "SaveToFile", "replace graph file")
	}
	return nil
}

// checkEnvValue rejects override values no config field could hold
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvValueLen {
		return fmt.Errorf("%s longer than %d bytes", key, maxEnvValueLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a null byte", key)
	}
	return nil
}

// checkNesting bounds the depth of a graph document before it is decoded
// into maps
func checkNesting(data []byte, format fileFormat) error {
	var depth int
	var err error
	if format == formatYAML {
		depth, err = yamlDepth(data)
	} else {
		depth, err = jsonDepth(data)
	}
	if err != nil {
		return fmt.Errorf("%w: malformed %s: %v", errors.ErrInvalidData, format, err)
	}
	if depth > maxNesting {
		return fmt.Errorf("%w: %s nesting %d exceeds %d", errors.ErrInvalidData, format, depth, maxNesting)
	}
	return nil
}

func jsonDepth(data []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth, deepest := 0, 0
	for {
		tok, err := dec.Token()
		if stderrors.Is(err, io.EOF) {
			if depth != 0 {
				return deepest, io.ErrUnexpectedEOF
			}
			return deepest, nil
		}
		if err != nil {
			return deepest, err
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > deepest {
				deepest = depth
			}
			if deepest > maxNesting {
				return deepest, nil
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}

func yamlDepth(data []byte) (int, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return 0, err
	}
	var walk func(n *yaml.Node, depth int) int
	walk = func(n *yaml.Node, depth int) int {
		if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
			depth++
		}
		deepest := depth
		if depth > maxNesting {
			return deepest
		}
		for _, c := range n.Content {
			if d := walk(c, depth); d > deepest {
				deepest = d
			}
		}
		return deepest
	}
	return walk(&root, 0), nil
}
