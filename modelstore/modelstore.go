// Copyright 2025 The contributors of Fenwick.
// This file is part of Fenwick, a LLM chat-completion server under the MIT License.
// SPDX-License-Identifier: MIT

// Package modelstore discovers GGUF model files on disk for the /models
// listing endpoint. It has no bearing on the chat-completion pipeline
// itself, which takes its model name from the request body.
package modelstore

import (
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
)

// Dir is a ':'-separated list of directories to search recursively.
type Dir string

// Search walks every directory in dir and returns the paths of every
// *.gguf file found.
func (dir Dir) Search() ([]string, error) {
	var files []string
	for root := range strings.SplitSeq(string(dir), ":") {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		err := walk(&files, root)
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func walk(files *[]string, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".gguf") {
			*files = append(*files, path)
		}
		return nil
	})
}

// Handler serves GET /models: the list of discovered model files.
func (dir Dir) Handler(c echo.Context) error {
	files, err := dir.Search()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": "failed to search models: " + err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"models": files,
		"count":  len(files),
	})
}
