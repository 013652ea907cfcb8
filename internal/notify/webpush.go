package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Subscription is a browser push subscription.
type Subscription struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	P256dh   string `yaml:"p256dh" json:"p256dh"`
	Auth     string `yaml:"auth" json:"auth"`
}

// WebPushConfig holds VAPID keys and the subscriptions to notify.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string
	Subscriptions   []Subscription
	TTL             int
}

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// WebPush delivers notices as web push messages.
type WebPush struct {
	cfg        WebPushConfig
	httpClient webpush.HTTPClient
}

// NewWebPush creates a web push deliverer. httpClient may be nil.
func NewWebPush(cfg WebPushConfig, httpClient webpush.HTTPClient) *WebPush {
	if cfg.Subscriber == "" {
		cfg.Subscriber = "mailto:noreply@studycal.local"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &WebPush{cfg: cfg, httpClient: httpClient}
}

// Deliver sends the notice to every subscription.
func (w *WebPush) Deliver(ctx context.Context, n Notice) error {
	data, err := json.Marshal(Payload{Title: n.Title, Body: n.Body, Tag: "studycal"})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	var errs []error
	for _, sub := range w.cfg.Subscriptions {
		if err := w.send(ctx, sub, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *WebPush) send(ctx context.Context, sub Subscription, data []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      w.httpClient,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		Subscriber:      w.cfg.Subscriber,
		TTL:             w.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// GenerateVAPIDKeys returns a new VAPID key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return "", "", fmt.Errorf("generate VAPID keys: %w", err)
	}
	return publicKey, privateKey, nil
}
