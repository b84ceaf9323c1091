package server

import (
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

//go:embed static/*
var staticFiles embed.FS

// consoleAssets is the stylesheet and image set the console pages link to.
var consoleAssets = mustSub(staticFiles, "static")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic("Failed to open embedded " + dir + ": " + err.Error())
	}
	return sub
}

// assetPath maps the wildcard of RouteStatic to a file in consoleAssets.
// Directories and paths escaping the asset root are rejected.
func assetPath(r *http.Request) (string, error) {
	name := path.Clean(strings.TrimPrefix(chi.URLParam(r, "*"), "/"))
	if name == "." || !fs.ValidPath(name) {
		return "", fs.ErrNotExist
	}
	info, err := fs.Stat(consoleAssets, name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fs.ErrNotExist
	}
	return name, nil
}

// AssetHandler serves embedded console assets (GET /static/*)
func (s *Server) AssetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name, err := assetPath(r)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				logError(r.Method, r.URL.Path, err.Error())
			}
			http.NotFound(w, r)
			return
		}
		http.ServeFileFS(w, r, consoleAssets, name)
	}
}
