package chain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest does not parse or fails
// validation.
var ErrInvalidManifest = errors.New("chain: invalid manifest")

var validate = validator.New()

// Manifest lists the archives of a chain.
//
//	archives:
//	  - path: base.mpq
//	    priority: 0
//	  - path: patch.mpq
//	    priority: 1
type Manifest struct {
	Archives []ManifestArchive `yaml:"archives" validate:"required,min=1,dive"`
}

// ManifestArchive is one archive of a Manifest. Relative paths are resolved
// against the directory of the manifest file.
type ManifestArchive struct {
	Path     string `yaml:"path" validate:"required"`
	Priority int    `yaml:"priority" validate:"gte=0"`
}

// ParseManifest decodes and validates a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidManifest, formatValidationError(err))
	}
	return &m, nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.TrimPrefix(e.Namespace(), "Manifest.")
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s needs at least %s entries", field, e.Param()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be >= %s", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// LoadManifest reads the manifest at path and opens every archive it lists.
// On error, archives opened so far are closed.
func LoadManifest(path string, opts ...Option) (*Chain, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("chain: read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	c := New(opts...)
	dir := filepath.Dir(path)
	for _, a := range m.Archives {
		p := a.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		if err := c.AddArchive(p, a.Priority); err != nil {
			_ = c.Close() //nolint:errcheck // best-effort cleanup
			return nil, err
		}
	}
	c.log().Info("manifest loaded", "path", path, "archives", len(m.Archives))
	return c, nil
}
