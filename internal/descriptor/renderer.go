// Package descriptor renders the container-group descriptor (a compose
// file) for one stack from a platform template and tenant configuration.
// Rendering is pure and deterministic: identical inputs produce an identical
// file, which is what allows the descriptor to be re-rendered in place when
// the allocated port changes between allocation and container start.
package descriptor

import (
	"bytes"
	"embed"
	"os"
	"path/filepath"
	"text/template"

	"github.com/storegrid/engine/internal/models"
	appErr "github.com/storegrid/engine/pkg/errors"
)

//go:embed templates/*.yml.tmpl
var templateFS embed.FS

// FileName is the descriptor file written into each workspace.
const FileName = "docker-compose.yml"

// Input is the tenant configuration substituted into a platform template.
type Input struct {
	Project     string // compose project name, unique per stack
	Domain      string
	Port        int
	DBName      string
	DBUser      string
	DBPassword  string
	MemoryLimit string
	CPULimit    string
}

type Renderer struct {
	templates *template.Template
}

func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.yml.tmpl")
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "parse descriptor templates failed")
	}
	return &Renderer{templates: t}, nil
}

// Render writes the descriptor for platform into workspaceDir and returns
// its path. No side effects beyond the file write.
func (r *Renderer) Render(platform models.Platform, workspaceDir string, in Input) (string, error) {
	name := string(platform) + ".yml.tmpl"
	if r.templates.Lookup(name) == nil {
		return "", appErr.New(appErr.CodeInvalid, "no descriptor template for platform "+string(platform))
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, in); err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "render descriptor failed")
	}

	path := filepath.Join(workspaceDir, FileName)
	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "write descriptor failed")
	}
	return path, nil
}
