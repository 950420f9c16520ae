// Package recorder turns "about to auto-update" notifications from the
// host into update log records.
package recorder

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/gwest/autoupdate-report/internal/sitemeta"
	"github.com/gwest/autoupdate-report/internal/updatelog"
)

// Name and label recorded for core updates.
const (
	CoreName        = "wordpress_core"
	CoreDisplayName = "WordPress Core"
)

// Item is the host's description of a pending update. Which fields are
// set depends on the kind: core updates carry Version, plugin and theme
// updates carry NewVersion plus Plugin or Theme.
type Item struct {
	Version    string `json:"version"`
	NewVersion string `json:"new_version"`
	Plugin     string `json:"plugin"`
	Theme      string `json:"theme"`
	URL        string `json:"url"`
}

// Appender is where records go.
type Appender interface {
	Append(ev updatelog.Event) error
}

// Metadata answers questions about what is installed right now.
type Metadata interface {
	CoreVersion() (string, error)
	PluginData(path string) (sitemeta.Info, error)
	Theme(slug string) (sitemeta.Info, error)
}

// Recorder records each pending core, plugin or theme update.
type Recorder struct {
	log  Appender
	meta Metadata
	now  func() time.Time
}

// New creates a recorder.
func New(log Appender, meta Metadata) *Recorder {
	return &Recorder{log: log, meta: meta, now: time.Now}
}

// Record appends a record for one pending update and reports whether it
// did. Translation and unknown kinds are ignored. Metadata that cannot be
// read is left empty rather than failing the record.
func (r *Recorder) Record(kind updatelog.Kind, item Item, contextPath string) (bool, error) {
	if !kind.Recordable() {
		logger.Debugf("ignoring %q update", kind)
		return false, nil
	}

	ev := updatelog.Event{
		OccurredAt: r.now().Truncate(time.Second),
		Kind:       kind,
		URL:        item.URL,
	}

	switch kind {
	case updatelog.KindCore:
		ev.Name = CoreName
		ev.DisplayName = CoreDisplayName
		ev.VersionTo = item.Version
		v, err := r.meta.CoreVersion()
		if err != nil {
			logger.Warnf("reading installed core version: %v", err)
		}
		ev.VersionFrom = v

	case updatelog.KindPlugin:
		ev.Name = item.Plugin
		ev.VersionTo = item.NewVersion
		if !filepath.IsLocal(item.Plugin) {
			logger.Warnf("refusing plugin path %q outside %s", item.Plugin, contextPath)
			break
		}
		info, err := r.meta.PluginData(filepath.Join(contextPath, item.Plugin))
		if err != nil {
			logger.Warnf("reading plugin %s: %v", item.Plugin, err)
		}
		ev.DisplayName = info.Name
		ev.VersionFrom = info.Version

	case updatelog.KindTheme:
		ev.Name = item.Theme
		ev.VersionTo = item.NewVersion
		info, err := r.meta.Theme(item.Theme)
		if err != nil {
			logger.Warnf("reading theme %s: %v", item.Theme, err)
		}
		ev.DisplayName = info.Name
		ev.VersionFrom = info.Version
	}

	if ev.DisplayName == "" {
		ev.DisplayName = ev.Name
	}
	checkDirection(ev)

	if err := r.log.Append(ev); err != nil {
		return false, fmt.Errorf("recording %s update of %s: %w", kind, ev.Name, err)
	}
	logger.Infof("recorded %s update of %s (%s -> %s)", kind, ev.Name, ev.VersionFrom, ev.VersionTo)
	return true, nil
}

// checkDirection warns when an update does not move to a newer version.
func checkDirection(ev updatelog.Event) {
	if ev.VersionFrom == "" || ev.VersionTo == "" {
		return
	}
	from, err := semver.NewVersion(ev.VersionFrom)
	if err != nil {
		return
	}
	to, err := semver.NewVersion(ev.VersionTo)
	if err != nil {
		return
	}
	if !to.GreaterThan(from) {
		logger.Warnf("%s update of %s does not increase the version (%s -> %s)", ev.Kind, ev.Name, ev.VersionFrom, ev.VersionTo)
	}
}
