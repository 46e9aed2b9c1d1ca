package main

import (
	"context"
	"log/slog"

	"eyecare-realtime/internal/client/consult"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// signalingMedia stands in for a camera; the command only exercises the
// signaling path.
type signalingMedia struct{}

func (signalingMedia) Acquire(ctx context.Context) (consult.MediaStream, error) {
	return nopStream{}, nil
}

type nopStream struct{}

func (nopStream) Stop() {}

// signalingPeer logs the negotiation instead of carrying media.
type signalingPeer struct {
	id string
}

func newSignalingPeer() *signalingPeer {
	return &signalingPeer{id: uuid.NewString()}
}

func (p *signalingPeer) Open(ctx context.Context) (string, error) {
	slog.Info("[PEER] Opened", "peer", p.id)
	return p.id, nil
}

func (p *signalingPeer) Call(ctx context.Context, remotePeerID string, local consult.MediaStream) error {
	slog.Info("[PEER] Calling", "peer", p.id, "remote", remotePeerID)
	return nil
}

func (p *signalingPeer) OnCall(handler func(consult.Call)) {}

func (p *signalingPeer) HandleSignal(eventType string, payload json.RawMessage) {
	slog.Info("[PEER] Signal received", "type", eventType, "bytes", len(payload))
}

func (p *signalingPeer) Destroy() {
	slog.Info("[PEER] Destroyed", "peer", p.id)
}
