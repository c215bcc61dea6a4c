// iface.go defines the StoreInterface for dependency injection and testing.
//
// The concrete *Store type satisfies this interface. The cmd layer accepts
// StoreInterface so commands can be tested against any implementation.
package store

import "github.com/daviddao/pathclock/pkg/deploy"

// StoreInterface defines the full set of store operations.
type StoreInterface interface {
	// Close closes the database connection.
	Close() error

	// SaveDeployment stores a planned deployment and returns its id.
	SaveDeployment(d *deploy.Deployment) (int64, error)

	// LoadDeployment reads a deployment back; ErrNotFound if missing.
	LoadDeployment(id int64) (*deploy.Deployment, error)

	// LatestDeployment loads the newest deployment; ErrNotFound if none.
	LatestDeployment() (*deploy.Deployment, error)

	// ListDeployments returns summaries, newest first.
	ListDeployments(limit int) ([]Summary, error)

	// DeleteDeployment removes a deployment; ErrNotFound if missing.
	DeleteDeployment(id int64) error
}

// Compile-time check that *Store implements StoreInterface.
var _ StoreInterface = (*Store)(nil)
