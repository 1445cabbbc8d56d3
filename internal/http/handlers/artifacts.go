package handlers

import (
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"floorplan/internal/domain"
)

// artifactName matches "{job_id}.png". Anything else in the output
// directory, such as in-flight ".pending-*" files, is not served.
var artifactName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*\.png$`)

// Artifact serves a generated image from the flat artifact directory.
func (a *App) Artifact(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "file")
	if !artifactName.MatchString(name) {
		a.fail(w, r, fmt.Errorf("%w: artifact %q", domain.ErrNotFound, name))
		return
	}
	f, err := a.Artifacts.Open(name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		a.fail(w, r, err)
		return
	}
	// Artifacts never change once written.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
