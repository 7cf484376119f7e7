package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const webhookTimeout = 5 * time.Second

// Webhook posts events to a configured URL, fire-and-forget. A nil poster
// (no URL configured) swallows everything.
type Webhook struct {
	url string
	hc  *http.Client
}

// NewWebhook builds a poster; url may be empty to disable posting.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		hc:  &http.Client{Timeout: webhookTimeout},
	}
}

// Fire posts the event in a background goroutine. Failures are logged and
// never propagate: webhooks are strictly best-effort.
func (wh *Webhook) Fire(ev Event) {
	if wh == nil || wh.url == "" {
		return
	}
	go func() {
		body, err := json.Marshal(ev)
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := wh.hc.Do(req)
		if err != nil {
			log.Debugw("webhook post failed", "type", ev.Type, "err", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Debugw("webhook post rejected", "type", ev.Type, "status", resp.StatusCode)
		}
	}()
}

// Emitter bundles every fan-out target so callers publish once.
type Emitter struct {
	Registry *Registry
	Hub      *Hub
	Webhook  *Webhook
}

// NewEmitter wires the fan-out. Any field may be nil-equivalent (empty
// webhook URL, no hub) and is skipped.
func NewEmitter(registry *Registry, hub *Hub, webhook *Webhook) *Emitter {
	return &Emitter{Registry: registry, Hub: hub, Webhook: webhook}
}

// EmitPin publishes a pin event everywhere.
func (e *Emitter) EmitPin(wallet, cid string) {
	ev := NewEvent(TypePin)
	ev.Wallet = wallet
	ev.CID = cid
	e.Registry.RecordPin(wallet)
	e.publish(ev)
}

// EmitUnpin publishes an unpin event everywhere.
func (e *Emitter) EmitUnpin(wallet, cid string) {
	ev := NewEvent(TypeUnpin)
	ev.Wallet = wallet
	ev.CID = cid
	e.Registry.RecordUnpin(wallet)
	e.publish(ev)
}

// EmitIngest publishes a completed-import event everywhere.
func (e *Emitter) EmitIngest(wallet, planID string, uploadedBytes int64, roots []string) {
	ev := NewEvent(TypeIngest)
	ev.Wallet = wallet
	ev.PlanID = planID
	ev.UploadedBytes = uploadedBytes
	ev.Roots = roots
	e.Registry.RecordIngest(wallet, uploadedBytes)
	e.publish(ev)
}

func (e *Emitter) publish(ev Event) {
	if e.Hub != nil {
		e.Hub.Publish(ev)
	}
	e.Webhook.Fire(ev)
}
