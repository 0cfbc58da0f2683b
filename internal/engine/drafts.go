package engine

import (
	"errors"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/store"
)

// SaveDraft keeps text typed for code but not yet submitted, in the device
// scope so it outlives the session scope.
func (c *Controller) SaveDraft(code, text string) error {
	if err := c.checkActive(); err != nil {
		return err
	}
	if _, ok := c.set.Lookup(code); !ok {
		return ErrNoSuchQuestion
	}
	drafts := c.loadDrafts()
	if text == "" {
		delete(drafts, code)
	} else {
		drafts[code] = text
	}
	c.saveDrafts(drafts)
	return nil
}

// Draft returns the saved draft for code, or "".
func (c *Controller) Draft(code string) string {
	return c.loadDrafts()[code]
}

func (c *Controller) clearDraft(code string) {
	drafts := c.loadDrafts()
	if _, ok := drafts[code]; !ok {
		return
	}
	delete(drafts, code)
	c.saveDrafts(drafts)
}

func (c *Controller) clearDrafts() {
	if c.d.Store.Device == nil {
		return
	}
	if err := c.d.Store.Device.Delete(c.ctx, config.StorageKey.Drafts.String()); err != nil {
		c.log.Warn().Err(err).Msg("Drafts not cleared")
	}
}

func (c *Controller) loadDrafts() map[string]string {
	drafts := make(map[string]string)
	if c.d.Store.Device == nil {
		return drafts
	}
	err := store.GetJSON(c.ctx, c.d.Store.Device, config.StorageKey.Drafts, &drafts)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		c.log.Warn().Err(err).Msg("Drafts unreadable")
		return make(map[string]string)
	}
	return drafts
}

func (c *Controller) saveDrafts(drafts map[string]string) {
	if c.d.Store.Device == nil {
		return
	}
	var err error
	if len(drafts) == 0 {
		err = c.d.Store.Device.Delete(c.ctx, config.StorageKey.Drafts.String())
	} else {
		err = store.SetJSON(c.ctx, c.d.Store.Device, config.StorageKey.Drafts, drafts)
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("Drafts not saved")
	}
}
