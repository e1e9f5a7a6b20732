// Package syncer owns the client-side sync lifecycle: download and unlock
// the encrypted database, debounce local mutations into whole-database
// saves, and stop dead on version conflicts instead of merging.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/moneyvault/internal/localdb"
	"github.com/jask/moneyvault/internal/vaultcrypto"
)

// DefaultDebounce is the quiet period after the last mutation before a
// save is pushed.
const DefaultDebounce = 3 * time.Second

// Controller drives one user's database session. All state transitions
// happen under one mutex; network and crypto work runs outside it.
type Controller struct {
	client   *BlobClient
	keyHex   string
	debounce time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	state       State
	db          localdb.Adapter
	expected    int64
	timer       *time.Timer
	pendingSave bool
	lastErr     error
}

// NewController wires a controller; debounce <= 0 selects the default.
func NewController(client *BlobClient, keyHex string, debounce time.Duration, log zerolog.Logger) *Controller {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Controller{
		client:   client,
		keyHex:   keyHex,
		debounce: debounce,
		log:      log,
		state:    StateUninitialized,
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Version is the server version this session last synchronized with.
func (c *Controller) Version() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expected
}

// DB exposes the unlocked database. Nil until Open succeeds.
func (c *Controller) DB() localdb.Adapter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.db
}

func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Open downloads and unlocks the remote database, or bootstraps a fresh
// one when the user has none. On a bootstrap the initial save is
// scheduled so other sessions can download the result.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("syncer: open in state %s", st)
	}
	c.state = StateLoading
	c.mu.Unlock()

	blob, version, err := c.client.Download(ctx)
	switch {
	case err == nil:
		return c.finishOpen(blob, version, true)

	case errors.Is(err, ErrNoBlob):
		template, ierr := c.client.Init(ctx)
		var race *BootstrapRaceError
		if errors.As(ierr, &race) {
			// another session finished bootstrapping between our download
			// and init; theirs is now the database
			c.log.Warn().Int64("serverVersion", race.Server).Msg("sync: lost bootstrap race, adopting remote")
			blob, version, err = c.client.Download(ctx)
			if err != nil {
				return c.fail(err)
			}
			return c.finishOpen(blob, version, true)
		}
		if ierr != nil {
			return c.fail(ierr)
		}
		return c.finishOpen(template, 0, false)

	default:
		return c.fail(err)
	}
}

// finishOpen decrypts (for real blobs; the bootstrap template is plain),
// loads the engine and moves to Ready.
func (c *Controller) finishOpen(blob []byte, version int64, sealed bool) error {
	plain := blob
	if sealed {
		p, err := vaultcrypto.Decrypt(blob, c.keyHex)
		if err != nil {
			return c.fail(err)
		}
		plain = p
	}
	db, err := localdb.Load(plain)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	c.db = db
	c.expected = version
	c.state = StateReady
	if version == 0 {
		c.scheduleLocked(c.debounce)
	}
	c.mu.Unlock()
	c.log.Info().Int64("version", version).Msg("sync: database open")
	return nil
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateErrored
	c.lastErr = err
	c.mu.Unlock()
	return err
}

// NotifyMutation restarts the debounce window. Called after every local
// write; a burst of mutations collapses into one upload.
func (c *Controller) NotifyMutation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady && c.state != StateSaving {
		return
	}
	c.scheduleLocked(c.debounce)
}

func (c *Controller) scheduleLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, func() {
		// Save reports failures through state and lastErr
		_ = c.Save(context.Background())
	})
}

// Vacuum compacts the local engine and schedules (not forces) a save, so
// compaction piggybacks on the normal debounce instead of racing it.
func (c *Controller) Vacuum() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return fmt.Errorf("syncer: vacuum in state %s", c.state)
	}
	if err := c.db.Vacuum(); err != nil {
		return err
	}
	c.scheduleLocked(c.debounce)
	return nil
}

// Compact purges excluded transactions, reclaims space and schedules a
// save. Returns how many rows were removed.
func (c *Controller) Compact() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return 0, fmt.Errorf("syncer: compact in state %s", c.state)
	}
	if err := c.db.Run(`DELETE FROM transactions WHERE excluded = 1`); err != nil {
		return 0, err
	}
	row, err := c.db.Get(`SELECT changes() AS n`)
	if err != nil {
		return 0, err
	}
	removed, _ := row["n"].(int64)
	if err := c.db.Vacuum(); err != nil {
		return int(removed), err
	}
	c.scheduleLocked(c.debounce)
	c.log.Info().Int64("removed", removed).Msg("sync: compacted")
	return int(removed), nil
}

// Save exports, seals and uploads the database now. Saves are
// single-flight: a Save while one is in flight sets a pending flag that
// triggers one follow-up save. A network failure keeps the session Ready
// and retries after the debounce window; a version conflict (past
// bootstrap) is terminal.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateSaving:
		c.pendingSave = true
		c.mu.Unlock()
		return nil
	case StateReady:
	default:
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("syncer: save in state %s", st)
	}
	c.state = StateSaving
	expected := c.expected
	plain, err := c.db.Export()
	if err != nil {
		c.state = StateErrored
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	sealed, err := vaultcrypto.Encrypt(plain, c.keyHex)
	if err != nil {
		return c.fail(err)
	}

	newVersion, err := c.client.Upload(ctx, sealed, expected)

	var conflict *VersionConflictError
	var netErr *NetworkError
	switch {
	case err == nil:
		c.mu.Lock()
		c.expected = newVersion
		c.state = StateReady
		if c.pendingSave {
			c.pendingSave = false
			c.scheduleLocked(0)
		}
		c.mu.Unlock()
		c.log.Info().Int64("version", newVersion).Int("bytes", len(sealed)).Msg("sync: saved")
		return nil

	case errors.As(err, &conflict) && expected == 0:
		// bootstrap race on the first save: the other session's database
		// wins, this session's empty bootstrap is discarded
		c.log.Warn().Int64("serverVersion", conflict.Server).Msg("sync: bootstrap save lost race, adopting remote")
		return c.adoptRemote(ctx)

	case errors.As(err, &conflict):
		c.mu.Lock()
		c.state = StateConflict
		c.lastErr = err
		c.mu.Unlock()
		c.log.Error().Int64("expected", conflict.Expected).Int64("serverVersion", conflict.Server).
			Msg("sync: version conflict, saves stopped")
		return err

	case errors.As(err, &netErr):
		c.mu.Lock()
		c.state = StateReady
		c.lastErr = err
		c.scheduleLocked(c.debounce) // retry
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("sync: save failed, will retry")
		return err

	default:
		return c.fail(err)
	}
}

// adoptRemote replaces the local engine with the server's current blob.
// Only reachable from the bootstrap race, where local state is an empty
// template at most seconds old.
func (c *Controller) adoptRemote(ctx context.Context) error {
	blob, version, err := c.client.Download(ctx)
	if err != nil {
		return c.fail(err)
	}
	plain, err := vaultcrypto.Decrypt(blob, c.keyHex)
	if err != nil {
		return c.fail(err)
	}
	db, err := localdb.Load(plain)
	if err != nil {
		return c.fail(err)
	}

	c.mu.Lock()
	old := c.db
	c.db = db
	c.expected = version
	c.state = StateReady
	c.pendingSave = false
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close stops the debounce timer and releases the local engine. Pending
// unsaved changes are dropped; call Save first for a clean shutdown.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = StateUninitialized
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}
