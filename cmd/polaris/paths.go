package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// resolveModelPath picks the model file. An explicit path wins; otherwise
// the models directory is scanned for .gguf files and, when there are
// several, the user chooses one. An empty result means no model, which the
// auto backend resolves to the toy model.
func resolveModelPath(model, modelsDir string, interactive bool, in io.Reader, errOut io.Writer) (string, error) {
	if model = strings.TrimSpace(model); model != "" {
		return filepath.Clean(model), nil
	}
	if modelsDir = strings.TrimSpace(modelsDir); modelsDir == "" {
		return "", nil
	}

	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no .gguf models found in %s", modelsDir)
	case 1:
		_, _ = fmt.Fprintf(errOut, "using model %s\n", models[0])
		return models[0], nil
	}
	if !interactive {
		return "", fmt.Errorf("%d models found in %s and stdin is not interactive; set --model", len(models), modelsDir)
	}
	return pickModel(modelsDir, models, in, errOut)
}

func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var models []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".gguf") {
			continue
		}
		models = append(models, filepath.Join(dir, e.Name()))
	}
	slices.Sort(models)
	return models, nil
}

func pickModel(dir string, models []string, in io.Reader, errOut io.Writer) (string, error) {
	_, _ = fmt.Fprintf(errOut, "models in %s:\n", dir)
	for i, m := range models {
		_, _ = fmt.Fprintf(errOut, "%3d. %s\n", i+1, filepath.Base(m))
	}
	r := bufio.NewReader(in)
	for {
		_, _ = fmt.Fprintf(errOut, "select [1-%d]: ", len(models))
		line, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		choice := strings.TrimSpace(line)
		if n, convErr := strconv.Atoi(choice); convErr == nil && n >= 1 && n <= len(models) {
			return models[n-1], nil
		}
		if errors.Is(err, io.EOF) {
			return "", errors.New("no model selected; set --model")
		}
		if choice != "" {
			_, _ = fmt.Fprintf(errOut, "invalid selection %q\n", choice)
		}
	}
}
