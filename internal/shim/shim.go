package shim

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// ScriptName is the client script's file name under the mount point.
const ScriptName = "webble.js"

// Assets returns the embedded web assets rooted at web/.
// Panics if the embedded assets cannot be loaded (build error).
func Assets() fs.FS {
	webFS, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("shim: failed to load embedded web assets: %v", err))
	}
	return webFS
}

// Handler returns an http.Handler serving the shim assets.
//
// When dir is non-empty and exists, files are read from disk; otherwise the
// embedded copy is used. Unknown paths are 404: there is no client-side
// routing to fall back to.
func Handler(dir string) http.Handler {
	var fileSystem http.FileSystem
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			fileSystem = http.Dir(dir)
		}
	}
	if fileSystem == nil {
		fileSystem = http.FS(Assets())
	}

	fileServer := http.FileServer(fileSystem)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upath := path.Clean("/" + r.URL.Path)

		// Directory listings are never exposed.
		if upath != "/" && strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		if upath != "/" {
			f, err := fileSystem.Open(strings.TrimPrefix(upath, "/"))
			if err != nil {
				http.NotFound(w, r)
				return
			}
			info, err := f.Stat()
			f.Close()
			if err != nil || info.IsDir() {
				http.NotFound(w, r)
				return
			}
		}

		// The script changes with the bridge version; pages must revalidate.
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")
		if path.Base(upath) == ScriptName {
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		}
		fileServer.ServeHTTP(w, r)
	})
}
