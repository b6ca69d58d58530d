package rewrite

import (
	"sceneport/internal/logging"
	"sceneport/internal/watch"
)

// CatalogWatcher reloads the rule catalog when its file changes, so a batch
// run picks up rule edits without a restart.
type CatalogWatcher struct {
	*watch.Watcher
}

// NewCatalogWatcher creates a watcher for the catalog file feeding engine.
func NewCatalogWatcher(catalogPath string, engine *Engine) (*CatalogWatcher, error) {
	w, err := watch.New(catalogPath, logging.CategoryRewrite, func(path string) error {
		catalog, err := LoadCatalog(path)
		if err != nil {
			return err
		}
		engine.SetCatalog(catalog)
		logging.Rewrite("rule catalog reloaded: %d rules", len(catalog.Rules))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &CatalogWatcher{Watcher: w}, nil
}
