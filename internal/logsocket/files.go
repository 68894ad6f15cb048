package logsocket

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/protocol"
)

// FileHandler serves GET /api/servers/logs/<name>.txt as the whole current
// log of the named service.
type FileHandler struct {
	root string
	log  *slog.Logger
}

// NewFileHandler serves logs found under root.
func NewFileHandler(root string) *FileHandler {
	return &FileHandler{root: root, log: logger.Logger()}
}

func (h *FileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutPrefix(r.URL.Path, protocol.FilePathPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	name, ok = strings.CutSuffix(name, ".txt")
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !protocol.ValidServerName(name) {
		http.Error(w, protocol.ErrInvalidServerName.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(logPath(h.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.log.Error("Failed to open log", "server", name, "error", err)
		http.Error(w, "log unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.Copy(w, f); err != nil {
		h.log.Debug("Log download interrupted", "server", name, "error", err)
	}
}
