package validate

import (
	"sceneport/internal/logging"
	"sceneport/internal/watch"
)

// CatalogWatcher reloads the incompatibility catalog when its file changes,
// same discipline as the rewrite rule watcher.
type CatalogWatcher struct {
	*watch.Watcher
}

// NewCatalogWatcher creates a watcher feeding validator.
func NewCatalogWatcher(catalogPath string, validator *Validator) (*CatalogWatcher, error) {
	w, err := watch.New(catalogPath, logging.CategoryValidate, func(path string) error {
		catalog, err := LoadCatalog(path)
		if err != nil {
			return err
		}
		validator.SetCatalog(catalog)
		logging.Validate("incompatibility catalog reloaded: %d signatures", len(catalog.Signatures))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CatalogWatcher{Watcher: w}, nil
}
