package upgrade

import (
	"context"
	"log/slog"

	"limscore/internal/catalog"
	"limscore/pkg/domain"
)

// DefaultProgressEvery is the logging interval for long iterations.
const DefaultProgressEvery = 100

// Context is handed to every procedure of a running step.
type Context struct {
	Product string
	Version string
	// From is the installed version when the step started, empty when the
	// product had none.
	From    string
	Store   domain.PersistentStore
	Catalog *catalog.Tool
	Logger  *slog.Logger

	progressEvery int
}

// Update runs fn in its own store transaction. Each successful call is a
// checkpoint that survives a later failure of the step.
func (c *Context) Update(ctx context.Context, fn func(tx domain.Transaction) error) error {
	_, err := c.Store.RunInTransaction(ctx, fn)
	return err
}

// View runs fn against the committed state.
func (c *Context) View(ctx context.Context, fn func(view domain.TransactionView) error) error {
	return c.Store.View(ctx, fn)
}

// Progress logs msg when num is a multiple of the progress interval.
func (c *Context) Progress(num, total int, msg string) {
	every := c.progressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	if num > 0 && num%every == 0 {
		c.Logger.Info(msg, "num", num, "total", total)
	}
}

// AddIndex adds the index to the catalog and indexes every object into it.
// An index that already exists is left alone.
func (c *Context) AddIndex(ctx context.Context, catalogID, name string, typ domain.IndexType) (bool, error) {
	c.Logger.Info("adding index", "index", name, "catalog", catalogID)
	added := false
	err := c.Update(ctx, func(tx domain.Transaction) error {
		var err error
		added, err = c.Catalog.AddIndex(tx, catalogID, name, typ)
		if err != nil || !added {
			return err
		}
		c.Logger.Info("indexing new index", "index", name)
		_, err = c.Catalog.ReindexIndex(tx, catalogID, name)
		return err
	})
	if err != nil {
		return false, err
	}
	return added, nil
}
