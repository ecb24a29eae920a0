package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
)

// SelectPushChannel probe the configured transports in capability order and
// return an opened channel: the bidirectional channel is preferred, and the
// one-way channel is tried only when the bidirectional one cannot be
// established at all. An error means no push transport is available and the
// caller should fall back to its retry scheduling.
func SelectPushChannel(
	ctxt context.Context, rootCtxt context.Context, config common.PushChannelConfig,
) (PushChannel, error) {
	logTags := log.Fields{
		"module": "transport", "component": "channel-probe",
	}
	handshakeTimeout := time.Second * time.Duration(config.HandshakeTimeout)

	bidirectional, err := GetWebsocketChannel(rootCtxt, config.WebsocketURL, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := bidirectional.Open(ctxt); err == nil {
		log.WithFields(logTags).Info("Selected bidirectional channel")
		return bidirectional, nil
	}
	log.WithFields(logTags).Warn("Bidirectional channel unavailable, probing one-way channel")

	oneWay, err := GetStreamChannel(rootCtxt, config.StreamURL, handshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := oneWay.Open(ctxt); err != nil {
		return nil, fmt.Errorf("no push transport available: %s", err)
	}
	log.WithFields(logTags).Info("Selected one-way channel")
	return oneWay, nil
}

// ChannelFactory builds an opened push channel. The connection manager
// depends on this signature so tests can substitute a synthetic transport.
type ChannelFactory func(ctxt context.Context) (PushChannel, error)

// DefaultChannelFactory the production factory wrapping SelectPushChannel
func DefaultChannelFactory(
	rootCtxt context.Context, config common.PushChannelConfig,
) ChannelFactory {
	return func(ctxt context.Context) (PushChannel, error) {
		return SelectPushChannel(ctxt, rootCtxt, config)
	}
}
