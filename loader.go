package kernel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest file names recognized inside a module directory, in lookup
// order. Exactly one must be present per directory.
var manifestFileNames = []string{"module.yaml", "module.yml", "module.toml"}

// Discover walks the immediate subdirectories of root and parses one
// manifest per directory. Discovery is one level deep; nothing below a
// module directory is examined.
//
// Malformed manifests (unparseable file, missing required field,
// self-dependency, duplicate name) do not abort discovery: each failure is
// collected as a *ManifestError and the remaining directories proceed.
// Returned manifests are sorted by module name for stable downstream
// behavior.
func Discover(root string) ([]*ModuleManifest, []error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, []error{fmt.Errorf("reading module root %s: %w", root, err)}
	}

	var (
		manifests []*ModuleManifest
		errs      []error
		byName    = make(map[string]string) // name -> manifest path
	)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		manifest, err := loadManifestDir(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if manifest == nil {
			// Directory without a manifest; not a module, skipped silently.
			continue
		}
		if prev, dup := byName[manifest.Name]; dup {
			errs = append(errs, &ManifestError{
				Path: manifest.Path,
				Name: manifest.Name,
				Err:  fmt.Errorf("%w: already declared by %s", ErrManifestDuplicateName, prev),
			})
			continue
		}
		byName[manifest.Name] = manifest.Path
		manifests = append(manifests, manifest)
	}

	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, errs
}

// loadManifestDir locates and parses the single manifest inside dir.
// Returns (nil, nil) when the directory holds no manifest at all.
func loadManifestDir(dir string) (*ModuleManifest, error) {
	var found []string
	for _, name := range manifestFileNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return LoadManifest(found[0])
	default:
		return nil, &ManifestError{Path: dir, Err: ErrManifestAmbiguous}
	}
}

// LoadManifest parses and validates a single manifest file. The format is
// chosen by extension: .yaml/.yml or .toml. Unknown fields are ignored so
// module directories can carry extra configuration for subsystems the
// kernel does not know about.
func LoadManifest(path string) (*ModuleManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Path: path, Err: err}
	}

	manifest := &ModuleManifest{}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, manifest); err != nil {
			return nil, &ManifestError{Path: path, Err: err}
		}
	case ".toml":
		if err := toml.Unmarshal(data, manifest); err != nil {
			return nil, &ManifestError{Path: path, Err: err}
		}
	default:
		return nil, &ManifestError{Path: path, Err: fmt.Errorf("unsupported manifest format %q", filepath.Ext(path))}
	}

	manifest.Path = path
	manifest.applyDefaults()
	if err := manifest.Validate(); err != nil {
		return nil, &ManifestError{Path: path, Name: manifest.Name, Err: err}
	}
	return manifest, nil
}
