package status

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
)

// storedPrefs the on-disk shape of the client preference file
type storedPrefs struct {
	// MuteNotifications suppresses new-entity toasts without affecting the
	// underlying data updates
	MuteNotifications bool `json:"mute_notifications"`
}

// Preferences the persisted client preferences. The file is read once at
// construction and rewritten on every toggle.
type Preferences interface {
	// Muted report the notification mute preference
	Muted() bool
	// SetMuted update and persist the notification mute preference
	SetMuted(muted bool) error
}

// preferencesImpl implements Preferences
type preferencesImpl struct {
	common.Component
	path  string
	prefs storedPrefs
	lock  *sync.Mutex
}

// GetPreferencesInstance define a Preferences store backed by path. A missing
// or unreadable file silently yields the defaults; this surface must never
// block the client from starting.
func GetPreferencesInstance(path string) (Preferences, error) {
	logTags := log.Fields{
		"module": "status", "component": "preferences", "instance": path,
	}
	instance := &preferencesImpl{
		Component: common.Component{LogTags: logTags},
		path:      path,
		prefs:     storedPrefs{},
		lock:      &sync.Mutex{},
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		log.WithFields(logTags).Info("No existing preference file, using defaults")
		return instance, nil
	}
	if err := json.Unmarshal(raw, &instance.prefs); err != nil {
		log.WithError(err).WithFields(logTags).Warn(
			"Corrupt preference file, using defaults",
		)
		instance.prefs = storedPrefs{}
	}
	return instance, nil
}

// Muted report the notification mute preference
func (p *preferencesImpl) Muted() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.prefs.MuteNotifications
}

// SetMuted update and persist the notification mute preference
func (p *preferencesImpl) SetMuted(muted bool) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.prefs.MuteNotifications = muted
	serialized, err := json.MarshalIndent(&p.prefs, "", "  ")
	if err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to marshal preferences")
		return err
	}
	if err := os.WriteFile(p.path, serialized, 0o644); err != nil {
		log.WithError(err).WithFields(p.LogTags).Error("Failed to persist preferences")
		return err
	}
	log.WithFields(p.LogTags).Infof("Mute preference now %t", muted)
	return nil
}
