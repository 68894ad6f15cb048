package logsocket

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/lawnchairsociety/logsocket/internal/logclient"
	"github.com/lawnchairsociety/logsocket/internal/logger"
	"github.com/lawnchairsociety/logsocket/internal/protocol"
	"github.com/lawnchairsociety/logsocket/internal/view"
)

// PageHandler serves GET /api/servers/<name>/log.html: an empty log
// container for the named service plus its start/stop control.
type PageHandler struct {
	root string
	log  *slog.Logger
}

// NewPageHandler serves pages for logs found under root.
func NewPageHandler(root string) *PageHandler {
	return &PageHandler{root: root, log: logger.Logger()}
}

func (h *PageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutPrefix(r.URL.Path, protocol.PagePathPrefix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	name, ok = strings.CutSuffix(name, protocol.PagePathSuffix)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !protocol.ValidServerName(name) {
		http.Error(w, protocol.ErrInvalidServerName.Error(), http.StatusBadRequest)
		return
	}

	if _, err := os.Stat(logPath(h.root, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		h.log.Error("Failed to stat log", "server", name, "error", err)
		http.Error(w, "log unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := view.RenderPage(w, view.NewContainer(name), logclient.LabelStop); err != nil {
		h.log.Debug("Page write failed", "server", name, "error", err)
	}
}
