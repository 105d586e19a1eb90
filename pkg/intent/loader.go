package intent

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads YAML intent documents from a reader. Multiple documents
// separated by "---" are supported; empty documents are skipped. The source
// name is used in error messages only.
func Load(r io.Reader, source string) ([]*Document, error) {
	dec := yaml.NewDecoder(r)

	var docs []*Document
	for i := 0; ; i++ {
		var doc Document
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s document %d: %w", source, i+1, err)
		}
		if doc.Kind == "" && doc.Name == "" && len(doc.Parameters) == 0 {
			continue
		}
		docs = append(docs, &doc)
	}

	return docs, nil
}

// LoadFile reads all intent documents from a YAML file.
func LoadFile(path string) ([]*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Load(f, path)
}

// LoadDir reads all intent documents from the .yaml and .yml files directly
// in a directory, in lexical filename order.
func LoadDir(dir string) ([]*Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)

	var docs []*Document
	for _, file := range files {
		fileDocs, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, fileDocs...)
	}

	return docs, nil
}

// LoadPath loads intent documents from a file or directory path.
func LoadPath(path string) ([]*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}
