package config

import (
	"bytes"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/asaskevich/govalidator"
	"github.com/creasty/defaults"
	"github.com/icza/dyno"
	"gopkg.in/yaml.v2"
)

// DefaultLocation is set dynamically based on the platform
var DefaultLocation = GetDefaultConfigLocation()

var (
	mu            sync.RWMutex
	_config       *Configuration
	_debugViaFlag bool
)

// Locker specific to writing the configuration to the disk, this happens
// in areas that might already be locked, so we don't want to crash the process.
var _writeLock sync.Mutex

// GameType identifies which model-importer family a library belongs to. The
// type decides which reference database and schema files apply to a library.
type GameType = string

const (
	GameTypeGIMI GameType = "gimi"
	GameTypeSRMI GameType = "srmi"
	GameTypeZZMI GameType = "zzmi"
	GameTypeWWMI GameType = "wwmi"
)

// GameConfiguration describes a single managed mod library: the folder tree
// that a model importer loads mods from, plus enough identity to look up the
// matching reference database and schema.
type GameConfiguration struct {
	// A unique identifier for this library, generated when it is first added.
	ID string `json:"id" yaml:"id"`

	// A human readable label, shown in logs and reports.
	Name string `json:"name" yaml:"name"`

	// The importer family for this library (gimi, srmi, zzmi, wwmi).
	Type GameType `json:"type" yaml:"type"`

	// ModsPath is the root of the mod folder tree that gets scanned and
	// managed. This is usually the "Mods" directory of the importer.
	ModsPath string `json:"mods_path" yaml:"mods_path"`

	// LauncherPath optionally points at the XXMI launcher installation the
	// library was detected from. Informational only.
	LauncherPath string `json:"launcher_path,omitempty" yaml:"launcher_path,omitempty"`
}

// MatchingConfiguration tunes how discovered folders are matched against
// reference database entries during reconciliation.
type MatchingConfiguration struct {
	// ConfidenceThreshold is the minimum similarity score for a fuzzy name
	// match to be accepted. Scores below this leave the folder unmatched.
	ConfidenceThreshold float64 `default:"0.8" json:"confidence_threshold" yaml:"confidence_threshold"`

	// TagBonus is added to the similarity score when the folder name appears
	// in one of the database entry's tags.
	TagBonus float64 `default:"0.2" json:"tag_bonus" yaml:"tag_bonus"`
}

// WorkflowConfiguration controls the bulk operation executor.
type WorkflowConfiguration struct {
	// Workers is the number of tasks that may run concurrently. When zero or
	// omitted this defaults to the number of CPU threads, capped at eight.
	Workers int `json:"workers" yaml:"workers"`

	// TaskTimeout is the amount of time in seconds a single task may run
	// before it is considered failed. Archive extraction of very large mods
	// is the slowest common task, keep this generous.
	TaskTimeout int `default:"300" json:"task_timeout" yaml:"task_timeout"`

	// ProgressInterval is the minimum time in milliseconds between progress
	// events published while a workflow runs. Keeps UI consumers from being
	// flooded by very fast tasks.
	ProgressInterval int `default:"300" json:"progress_interval" yaml:"progress_interval"`
}

// RemoteDatabaseConfiguration defines where updated reference databases can
// be downloaded from. When no URL is set all remote functionality is off.
type RemoteDatabaseConfiguration struct {
	// The base location serving database_object.json files per game type.
	URL string `json:"url" yaml:"url"`

	// The amount of time in seconds that a download request may take before
	// it is marked as failed.
	Timeout int `default:"30" yaml:"timeout"`

	// CustomHeaders is a map of custom headers that will be included in all
	// download requests. Useful for mirrors behind access services.
	CustomHeaders map[string]string `yaml:"custom_headers"`

	// RefreshInterval is the number of hours between scheduled refreshes of
	// the reference databases. Zero disables scheduled refreshes.
	RefreshInterval int `default:"0" yaml:"refresh_interval"`
}

type Backups struct {
	// WriteLimit imposes a Disk I/O write limit on backup archives.
	//
	// If the value is less than 1, the write speed is unlimited,
	// if the value is greater than 0, the write speed is the value in MiB/s.
	//
	// Defaults to 0 (unlimited)
	WriteLimit int `default:"0" yaml:"write_limit"`

	// CompressionLevel determines how much backup archives are compressed.
	//
	// "none" -> no compression will be applied
	// "best_speed" -> uses gzip level 1 for fast speed
	// "best_compression" -> uses gzip level 9 for minimal disk space useage
	//
	// Defaults to "best_speed" (level 1)
	CompressionLevel string `default:"best_speed" yaml:"compression_level"`
}

// ThumbnailConfiguration controls the on-disk thumbnail cache index.
type ThumbnailConfiguration struct {
	// Directory where cached thumbnails are stored. Defaults to a
	// subdirectory of the cache directory.
	Directory string `json:"-" yaml:"directory"`

	// MemoryEntries is the number of resolved thumbnail paths held in the
	// in-memory index before older entries are evicted.
	MemoryEntries int `default:"512" yaml:"memory_entries"`
}

type UpdateConfiguration struct {
	// EnableURL controls whether URL driven self-updates are permitted.
	EnableURL bool `default:"true" yaml:"enable_url"`

	// DisableChecksum skips checksum verification for all self-updates.
	DisableChecksum bool `yaml:"disable_checksum"`

	// RestartCommand, when set, is executed after a successful self-update.
	// Desktop installations normally leave this empty and relaunch manually.
	RestartCommand string `yaml:"restart_command"`

	// RepoOwner defines the default GitHub repository owner used for self-updates.
	RepoOwner string `default:"reynalivan" yaml:"repo_owner"`

	// RepoName defines the default GitHub repository name used for self-updates.
	RepoName string `default:"emm-core" yaml:"repo_name"`

	// GitHubBinaryTemplate defines the asset name template (supports {os} and
	// {arch} placeholders).
	GitHubBinaryTemplate string `default:"emm-core_{os}_{arch}" yaml:"github_binary_template"`

	// DefaultURL, when set, is used as the fallback direct download source for URL based updates.
	DefaultURL string `yaml:"default_url"`

	// DefaultSHA256 optionally provides a checksum for DefaultURL.
	DefaultSHA256 string `yaml:"default_sha256"`
}

// SystemConfiguration defines basic system configuration settings.
type SystemConfiguration struct {
	// The root directory where all engine data is stored at. Holds the
	// activity database, trashed mods and downloaded reference databases.
	RootDirectory string `json:"-" yaml:"root_directory"`

	// Directory where the engine logs are written.
	LogDirectory string `json:"-" yaml:"log_directory"`

	// Directory for regenerable data such as thumbnail caches and parse
	// caches. Safe to delete while the engine is not running.
	CacheDirectory string `json:"-" yaml:"cache_directory"`

	// Directory that deleted mods are moved into instead of being removed
	// from the disk outright.
	TrashDirectory string `json:"-" yaml:"trash_directory"`

	// TmpDirectory specifies where temporary files, such as archives that
	// are in the middle of being extracted, should be created.
	TmpDirectory string `json:"-" yaml:"tmp_directory"`

	// The timezone for this instance. Detected automatically if possible and
	// falls back to UTC. Used for activity timestamps and log output.
	Timezone string `yaml:"timezone"`

	// ActivitySendInterval is the number of seconds between flushes of the
	// buffered activity log to the local activity database.
	ActivitySendInterval int `default:"60" yaml:"activity_send_interval"`

	// ActivitySendCount is the number of activity events to write per flush.
	ActivitySendCount int `default:"100" yaml:"activity_send_count"`

	// If set to false the engine will not attempt to write a log rotate
	// configuration to the disk when it boots and one is not detected.
	EnableLogRotate bool `default:"true" yaml:"enable_log_rotate"`

	Backups Backups `yaml:"backups"`

	Thumbnails ThumbnailConfiguration `yaml:"thumbnails"`

	// Updates controls runtime update capabilities.
	Updates UpdateConfiguration `yaml:"updates"`
}

type Configuration struct {
	// The location from which this configuration instance was instantiated.
	path string

	// Determines if the engine should be running in debug mode. This value
	// is ignored if the debug flag is passed through the command line
	// arguments.
	Debug bool

	AppName string `default:"EMM" json:"app_name" yaml:"app_name"`

	// A unique identifier for this installation, generated on first boot.
	Uuid string `json:"uuid" yaml:"uuid"`

	System   SystemConfiguration   `json:"system" yaml:"system"`
	Matching MatchingConfiguration `json:"matching" yaml:"matching"`
	Workflow WorkflowConfiguration `json:"workflow" yaml:"workflow"`

	// RemoteDatabase configures downloads of updated reference databases.
	RemoteDatabase RemoteDatabaseConfiguration `json:"remote_database" yaml:"remote_database"`

	// Games is the list of managed mod libraries.
	Games []GameConfiguration `json:"games" yaml:"games"`

	SearchRecursion SearchRecursion `yaml:"search"`
}

// SearchRecursion holds the configuration for directory search recursion settings.
type SearchRecursion struct {
	// BlacklistedDirs is a list of directory names that should be excluded from the recursion.
	BlacklistedDirs []string `default:"[\".git\", \"__MACOSX\", \"node_modules\"]" yaml:"blacklisted_dirs" json:"blacklisted_dirs"`

	// MaxRecursionDepth specifies the maximum depth for directory recursion.
	// Model importers only load ini files within a few levels of the library
	// root, matching that keeps scans fast on very large libraries.
	MaxRecursionDepth int `default:"4" yaml:"max_recursion_depth" json:"max_recursion_depth"`
}

// NewAtPath creates a new struct and set the path where it should be stored.
// This function does not modify the currently stored global configuration.
func NewAtPath(path string) (*Configuration, error) {
	var c Configuration
	// Configures the default values for many of the configuration options present
	// in the structs. Values set in the configuration file take priority over the
	// default values.
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	// Apply platform-specific defaults (Windows paths differ from Linux)
	applyPlatformDefaults(&c)
	// Track the location where we created this configuration.
	c.path = path
	return &c, nil
}

// Set the global configuration instance. This is a blocking operation such that
// anything trying to set a different configuration value, or read the configuration
// will be paused until it is complete.
func Set(c *Configuration) {
	mu.Lock()
	defer mu.Unlock()
	_config = c
}

// SetDebugViaFlag tracks if the application is running in debug mode because of
// a command line flag argument. If so we do not want to store that configuration
// change to the disk.
func SetDebugViaFlag(d bool) {
	mu.Lock()
	defer mu.Unlock()
	_config.Debug = d
	_debugViaFlag = d
}

// Get returns the global configuration instance. This is a thread-safe operation
// that will block if the configuration is presently being modified.
//
// Be aware that you CANNOT make modifications to the currently stored configuration
// by modifying the struct returned by this function. The only way to make
// modifications is by using the Update() function and passing data through in
// the callback.
func Get() *Configuration {
	mu.RLock()
	// Create a copy of the struct so that all modifications made beyond this
	// point are immutable.
	//goland:noinspection GoVetCopyLock
	c := *_config
	mu.RUnlock()
	return &c
}

// Update performs an in-situ update of the global configuration object using
// a thread-safe mutex lock. This is the correct way to make modifications to
// the global configuration.
func Update(callback func(c *Configuration)) {
	mu.Lock()
	defer mu.Unlock()
	callback(_config)
}

// Path returns the file path where this configuration is stored.
func (c *Configuration) Path() string {
	return c.path
}

// Game returns the configured library with the given identifier.
func (c *Configuration) Game(id string) (GameConfiguration, bool) {
	for _, g := range c.Games {
		if g.ID == id {
			return g, true
		}
	}
	return GameConfiguration{}, false
}

// Validate checks the configuration for values that would put the engine in a
// broken state, such as libraries without a root path or duplicated ids.
func (c *Configuration) Validate() error {
	if c.Matching.ConfidenceThreshold < 0 || c.Matching.ConfidenceThreshold > 1 {
		return errors.New("config: matching.confidence_threshold must be between 0 and 1")
	}
	seen := make(map[string]struct{}, len(c.Games))
	for _, g := range c.Games {
		if !govalidator.IsUUIDv4(g.ID) {
			return errors.Errorf("config: game %q has an invalid id, expected a v4 uuid", g.Name)
		}
		if _, ok := seen[g.ID]; ok {
			return errors.Errorf("config: game id %s is configured more than once", g.ID)
		}
		seen[g.ID] = struct{}{}
		if govalidator.IsNull(g.ModsPath) {
			return errors.Errorf("config: game %q has no mods_path configured", g.Name)
		}
		switch g.Type {
		case GameTypeGIMI, GameTypeSRMI, GameTypeZZMI, GameTypeWWMI:
		default:
			return errors.Errorf("config: game %q has unknown type %q", g.Name, g.Type)
		}
	}
	return nil
}

// WriteToDisk writes the configuration to the disk. This is a thread safe operation
// and will only allow one write at a time. Additional calls while writing are
// queued up.
func WriteToDisk(c *Configuration) error {
	_writeLock.Lock()
	defer _writeLock.Unlock()

	//goland:noinspection GoVetCopyLock
	ccopy := *c
	// If debugging is set with the flag, don't save that to the configuration file,
	// otherwise you'll always end up in debug mode.
	if _debugViaFlag {
		ccopy.Debug = false
	}
	if c.path == "" {
		return errors.New("cannot write configuration, no path defined in struct")
	}
	b, err := yaml.Marshal(&ccopy)
	if err != nil {
		return err
	}
	// When a file already exists on disk, graft the new values onto it so a
	// rewrite keeps the comments and key order of a hand-edited file.
	if prev, err := os.ReadFile(c.path); err == nil {
		if merged, err := preserveComments(prev, b); err == nil {
			b = merged
		}
	}
	if err := os.WriteFile(c.path, b, 0o600); err != nil {
		return err
	}
	return nil
}

// FromFile reads the configuration from the provided file and stores it in the
// global singleton for this instance.
func FromFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := NewAtPath(path)
	if err != nil {
		return err
	}

	// Check if a worker count was explicitly set in the YAML before
	// unmarshaling, the zero value is indistinguishable afterwards.
	var rawConfig interface{}
	workersSet := false
	if err := yaml.Unmarshal(b, &rawConfig); err == nil {
		if _, err := dyno.Get(dyno.ConvertMapI2MapS(rawConfig), "workflow", "workers"); err == nil {
			workersSet = true
		}
	}

	if err := yaml.Unmarshal(b, c); err != nil {
		return err
	}

	// The remote database location may reference an environment variable or
	// a credentials file rather than a plain URL.
	c.RemoteDatabase.URL, err = Expand(c.RemoteDatabase.URL)
	if err != nil {
		return err
	}

	// Scale the executor with the host unless the user pinned a value.
	if !workersSet || c.Workflow.Workers <= 0 {
		c.Workflow.Workers = defaultWorkerCount()
	}

	// Store this configuration in the global state.
	Set(c)
	return nil
}

func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ConfigureDirectories ensures that all the system directories exist on the
// system. These directories are created so that only the owner can read the data,
// and no other users.
//
// This function IS NOT thread-safe.
func ConfigureDirectories() error {
	root := _config.System.RootDirectory
	log.WithField("path", root).Debug("ensuring root data directory exists")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return err
	}

	log.WithField("path", _config.System.LogDirectory).Debug("ensuring log directory exists")
	if err := os.MkdirAll(_config.System.LogDirectory, 0o700); err != nil {
		return err
	}

	log.WithField("path", _config.System.CacheDirectory).Debug("ensuring cache directory exists")
	if err := os.MkdirAll(_config.System.CacheDirectory, 0o700); err != nil {
		return err
	}

	log.WithField("path", _config.System.Thumbnails.Directory).Debug("ensuring thumbnail cache directory exists")
	if err := os.MkdirAll(_config.System.Thumbnails.Directory, 0o700); err != nil {
		return err
	}

	log.WithField("path", _config.System.TrashDirectory).Debug("ensuring trash directory exists")
	if err := os.MkdirAll(_config.System.TrashDirectory, 0o700); err != nil {
		return err
	}

	log.WithField("path", _config.System.TmpDirectory).Debug("ensuring temporary data directory exists")
	if err := os.MkdirAll(_config.System.TmpDirectory, 0o700); err != nil {
		return err
	}

	// There are a non-trivial number of users out there whose mod libraries are
	// actually a symlink to another location on the disk. If we do not resolve
	// that final destination at this point things will appear to work, but
	// endless errors will be encountered when we try to verify accessed paths
	// since they will all end up resolving outside the expected library root.
	//
	// For the sake of automating away as much of this as possible, see if each
	// library root is a symlink, and if so resolve to its final real path, and
	// then update the configuration to use that.
	for i, g := range _config.Games {
		if d, err := filepath.EvalSymlinks(g.ModsPath); err != nil {
			if !os.IsNotExist(err) {
				return err
			}
		} else if d != g.ModsPath {
			log.WithFields(log.Fields{"library": g.Name, "path": g.ModsPath, "resolved": d}).
				Info("library root is a symlink, updating configuration to use resolved path")
			_config.Games[i].ModsPath = d
		}
	}

	return nil
}

// GetActivityDatabasePath returns the location of the SQLite database file
// that holds the local activity log.
func (sc *SystemConfiguration) GetActivityDatabasePath() string {
	return path.Join(sc.RootDirectory, "activity.db")
}

// GetReferenceDatabaseDirectory returns the directory downloaded reference
// databases are installed into, one file per game type.
func (sc *SystemConfiguration) GetReferenceDatabaseDirectory() string {
	return path.Join(sc.RootDirectory, "databases")
}

// GetBackupDirectory returns the directory backup archives are written into.
func (sc *SystemConfiguration) GetBackupDirectory() string {
	return path.Join(sc.RootDirectory, "backups")
}

// Expand expands an input string by calling [os.ExpandEnv] to expand all
// environment variables, then checks if the value is prefixed with `file://`
// to support reading the value from a file.
//
// NOTE: the order of expanding environment variables first then checking if
// the value references a file is important. This behaviour allows a user to
// pass a value like `file://${CREDENTIALS_DIRECTORY}/token` to allow us to
// work with credentials loaded by systemd's `LoadCredential` (or `LoadCredentialEncrypted`)
// options without the user needing to assume the path of `CREDENTIALS_DIRECTORY`
// or use a preStart script to read the files for us.
func Expand(v string) (string, error) {
	// Expand environment variables within the string.
	//
	// NOTE: this may cause issues if the string contains `$` and doesn't intend
	// on getting expanded, however we are using this for our tokens which are
	// all alphanumeric characters only.
	v = os.ExpandEnv(v)

	// Handle files.
	const filePrefix = "file://"
	if strings.HasPrefix(v, filePrefix) {
		p := v[len(filePrefix):]

		b, err := os.ReadFile(p)
		if err != nil {
			return "", nil
		}
		v = string(bytes.TrimRight(bytes.TrimRight(b, "\r"), "\n"))
	}

	return v, nil
}
