package remote

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/goccy/go-json"

	"github.com/reynalivan/emm-core/internal/fsutil"
	"github.com/reynalivan/emm-core/naming"
	"github.com/reynalivan/emm-core/repository"
)

// etagsFile remembers the mirror version of every installed reference file.
const etagsFile = "etags.json"

// Updater refreshes a local reference directory from a mirror. Every
// download is validated before it replaces the previous version, so a mirror
// serving garbage can never break the installed set.
type Updater struct {
	client Client
	dir    string

	mu    sync.Mutex
	etags map[string]string
}

// NewUpdater returns an updater installing into dir, normally the reference
// database directory from the system configuration. Etags remembered by a
// previous run are loaded when present.
func NewUpdater(client Client, dir string) *Updater {
	u := &Updater{client: client, dir: dir, etags: make(map[string]string)}
	if b, err := os.ReadFile(filepath.Join(dir, etagsFile)); err == nil {
		_ = json.Unmarshal(b, &u.etags)
	}
	return u
}

// Refresh updates the shared schema and the database of every given game
// type. Each file fails independently and the combined error reports all of
// them, a healthy game still gets its update when another one breaks.
func (u *Updater) Refresh(ctx context.Context, games []string) error {
	var errs []error
	if err := u.refreshSchema(ctx); err != nil {
		errs = append(errs, errors.WrapIf(err, "remote: failed to refresh schema"))
	}

	seen := make(map[string]struct{}, len(games))
	for _, game := range games {
		game = strings.ToLower(game)
		if _, ok := seen[game]; ok {
			continue
		}
		seen[game] = struct{}{}
		if err := u.refreshDatabase(ctx, game); err != nil {
			errs = append(errs, errors.WrapIff(err, "remote: failed to refresh %s database", game))
		}
	}

	if err := u.saveETags(); err != nil {
		errs = append(errs, err)
	}
	return errors.Combine(errs...)
}

func (u *Updater) refreshDatabase(ctx context.Context, game string) error {
	key := game + "/" + naming.DatabaseFile
	d, err := u.client.FetchDatabase(ctx, game, u.etag(key))
	if errors.Is(err, ErrNotModified) {
		log.WithField("game", game).Debug("reference database unchanged on mirror")
		return nil
	}
	if err != nil {
		return err
	}

	target := filepath.Join(u.dir, game, naming.DatabaseFile)
	if err := u.install(target, d.Body, func(staging string) error {
		_, err := repository.Load(staging)
		return err
	}); err != nil {
		return err
	}

	u.setETag(key, d.ETag)
	log.WithFields(log.Fields{"game": game, "bytes": len(d.Body)}).Info("installed updated reference database")
	return nil
}

func (u *Updater) refreshSchema(ctx context.Context) error {
	d, err := u.client.FetchSchema(ctx, u.etag(naming.SchemaFile))
	if errors.Is(err, ErrNotModified) {
		log.Debug("schema unchanged on mirror")
		return nil
	}
	// Plenty of mirrors ship plain per-game databases and no schema at all.
	var rerr *RequestError
	if errors.As(err, &rerr) && rerr.StatusCode == http.StatusNotFound {
		log.Debug("mirror serves no schema file")
		return nil
	}
	if err != nil {
		return err
	}

	target := filepath.Join(u.dir, naming.SchemaFile)
	if err := u.install(target, d.Body, func(staging string) error {
		_, err := repository.LoadSchema(staging)
		return err
	}); err != nil {
		return err
	}

	u.setETag(naming.SchemaFile, d.ETag)
	log.WithField("bytes", len(d.Body)).Info("installed updated schema")
	return nil
}

// install lands body next to the target, runs the validator against the
// staged copy and only then moves it over the previous version.
func (u *Updater) install(target string, body []byte, validate func(staging string) error) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, "remote: failed to create reference directory")
	}

	staging := target + ".download"
	if err := os.WriteFile(staging, body, 0o644); err != nil {
		return errors.Wrap(err, "remote: failed to stage download")
	}
	defer os.Remove(staging)

	if err := validate(staging); err != nil {
		return errors.WrapIf(err, "remote: mirror served an unusable file")
	}
	return fsutil.Rename(staging, target)
}

func (u *Updater) etag(key string) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.etags[key]
}

func (u *Updater) setETag(key, value string) {
	if value == "" {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.etags[key] = value
}

func (u *Updater) saveETags() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.etags) == 0 {
		return nil
	}
	b, err := json.MarshalIndent(u.etags, "", "  ")
	if err != nil {
		return errors.WithStackIf(err)
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return errors.Wrap(err, "remote: failed to create reference directory")
	}
	return fsutil.AtomicWriteFile(filepath.Join(u.dir, etagsFile), b, 0o644)
}
