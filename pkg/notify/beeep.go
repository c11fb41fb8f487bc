package notify

import "github.com/gen2brain/beeep"

// BeeepNotifier delivers notifications through the desktop notification
// daemon. It stands in for the mobile local-notification scheduler on
// development hosts.
type BeeepNotifier struct {
	Icon string
}

// NewBeeepNotifier creates a desktop notifier with an optional icon path.
func NewBeeepNotifier(icon string) *BeeepNotifier {
	return &BeeepNotifier{Icon: icon}
}

// Deliver shows the notification.
func (b *BeeepNotifier) Deliver(n Notification) error {
	return beeep.Notify(n.Title, n.Message, b.Icon)
}
