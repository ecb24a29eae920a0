package status

import (
	"sync"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
)

// ToastCB delivers one short notification to whatever UI surface hosts the
// client
type ToastCB func(message string)

// Notifier emits notification side effects. The mute preference suppresses
// new-entity toasts only; it never touches the data updates those events
// drive, and connectivity toasts always show.
type Notifier interface {
	// NotifyEntityCreated toast for newly created entities, subject to mute
	NotifyEntityCreated(count int)
	// NotifyConnectivity toast for genuine connectivity changes, never muted
	NotifyConnectivity(message string)
	// ToastCount report how many toasts were shown
	ToastCount() int
}

// notifierImpl implements Notifier
type notifierImpl struct {
	common.Component
	prefs      Preferences
	toast      ToastCB
	toastCount int
	lock       *sync.Mutex
}

// GetNotifierInstance define a new Notifier. The toast callback is optional;
// without one, notifications only reach the log.
func GetNotifierInstance(instance string, prefs Preferences, toast ToastCB) (Notifier, error) {
	logTags := log.Fields{
		"module": "status", "component": "notifier", "instance": instance,
	}
	return &notifierImpl{
		Component:  common.Component{LogTags: logTags},
		prefs:      prefs,
		toast:      toast,
		toastCount: 0,
		lock:       &sync.Mutex{},
	}, nil
}

// NotifyEntityCreated toast for newly created entities, subject to mute
func (n *notifierImpl) NotifyEntityCreated(count int) {
	if n.prefs != nil && n.prefs.Muted() {
		log.WithFields(n.LogTags).Debugf("Muted notification for %d new entit(ies)", count)
		return
	}
	message := "New item received"
	if count > 1 {
		message = "New items received"
	}
	n.show(message)
}

// NotifyConnectivity toast for genuine connectivity changes, never muted
func (n *notifierImpl) NotifyConnectivity(message string) {
	n.show(message)
}

// ToastCount report how many toasts were shown
func (n *notifierImpl) ToastCount() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.toastCount
}

func (n *notifierImpl) show(message string) {
	n.lock.Lock()
	n.toastCount++
	n.lock.Unlock()
	log.WithFields(n.LogTags).Infof("Toast: %s", message)
	if n.toast != nil {
		n.toast(message)
	}
}
