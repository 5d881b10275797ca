package models

import (
	"fmt"
	"strings"
	"time"
)

// Service identifies an external streaming provider.
type Service string

const (
	ServiceTwitch  Service = "twitch"
	ServiceKick    Service = "kick"
	ServiceYouTube Service = "youtube"
)

var serviceOrder = []Service{ServiceTwitch, ServiceKick, ServiceYouTube}

// Services returns every known provider in display order.
func Services() []Service {
	return append([]Service(nil), serviceOrder...)
}

// ParseService resolves a provider name case-insensitively.
func ParseService(raw string) (Service, error) {
	candidate := Service(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range serviceOrder {
		if candidate == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown service %q", raw)
}

// Valid reports whether s is one of the known providers.
func (s Service) Valid() bool {
	_, err := ParseService(string(s))
	return err == nil
}

// Rank orders services for stable output.
func (s Service) Rank() int {
	for i, known := range serviceOrder {
		if s == known {
			return i
		}
	}
	return len(serviceOrder)
}

// ServiceAccount links a streamer to its handle on a provider.
type ServiceAccount struct {
	Service  Service `json:"service"`
	Username string  `json:"username"`
}

// Streamer is the catalog entry resolved from a provider username.
type Streamer struct {
	ID       int64            `json:"id"`
	Name     string           `json:"name"`
	LogoURL  string           `json:"logoUrl,omitempty"`
	Services []ServiceAccount `json:"services"`
}

// Account returns the streamer's handle on the given service.
func (s Streamer) Account(service Service) (ServiceAccount, bool) {
	for _, account := range s.Services {
		if account.Service == service {
			return account, true
		}
	}
	return ServiceAccount{}, false
}

// LiveStatusEvent is the provider-agnostic output of webhook normalization.
type LiveStatusEvent struct {
	Username   string    `json:"username"`
	Service    Service   `json:"service"`
	IsLive     bool      `json:"isLive"`
	ObservedAt time.Time `json:"timestamp"`
}

// NotificationMethod selects how a subscriber wants to be reached.
type NotificationMethod string

const (
	NotifyPush  NotificationMethod = "push"
	NotifyEmail NotificationMethod = "email"
	NotifyBoth  NotificationMethod = "both"
)

// WantsPush reports whether push endpoints should be used.
func (m NotificationMethod) WantsPush() bool {
	return m == NotifyPush || m == NotifyBoth || m == ""
}

// WantsEmail reports whether the subscriber's email should be used.
func (m NotificationMethod) WantsEmail() bool {
	return m == NotifyEmail || m == NotifyBoth
}

// PushEndpoint is a single browser or device push subscription.
type PushEndpoint struct {
	ID       int64  `json:"id"`
	DeviceID int64  `json:"deviceId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Subscriber is an active UserStreamerSubscription joined with its user's
// delivery targets.
type Subscriber struct {
	SubscriptionID int64              `json:"subscriptionId"`
	UserID         int64              `json:"userId"`
	Email          string             `json:"email,omitempty"`
	Locale         string             `json:"locale,omitempty"`
	Method         NotificationMethod `json:"notificationMethod"`
	Endpoints      []PushEndpoint     `json:"endpoints,omitempty"`
}

// Notification is the rendered message delivered to one recipient.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}
