package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// streamChannelImpl implements PushChannel over a long lived HTTP event
// stream. The server emits either standard "data:" framed server-sent events
// or bare newline-delimited JSON; both carry the same envelope.
type streamChannelImpl struct {
	common.Component
	url              string
	client           *http.Client
	response         *http.Response
	validate         *validator.Validate
	reading          bool
	lock             *sync.Mutex
	closedOnce       *sync.Once
	deliberateClose  bool
	operationContext context.Context
	contextCancel    context.CancelFunc
}

// GetStreamChannel define a new one-way push channel instance
func GetStreamChannel(
	rootCtxt context.Context, url string, handshakeTimeout time.Duration,
) (PushChannel, error) {
	logTags := log.Fields{
		"module": "transport", "component": "stream-channel", "instance": url,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &streamChannelImpl{
		Component: common.Component{LogTags: logTags},
		url:       url,
		client: &http.Client{
			// The body outlives the handshake, so bound only the header wait
			Transport: &http.Transport{ResponseHeaderTimeout: handshakeTimeout},
		},
		response:         nil,
		validate:         validator.New(),
		reading:          false,
		lock:             &sync.Mutex{},
		closedOnce:       &sync.Once{},
		deliberateClose:  false,
		operationContext: ctxt,
		contextCancel:    cancel,
	}, nil
}

// Open perform the stream handshake
func (c *streamChannelImpl) Open(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.response != nil {
		log.WithFields(c.LogTags).Debug("Already open")
		return nil
	}
	request, err := http.NewRequestWithContext(c.operationContext, http.MethodGet, c.url, nil)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Unable to build stream request")
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Cache-Control", "no-cache")
	response, err := c.client.Do(request)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Handshake failed")
		return err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		_ = response.Body.Close()
		err := fmt.Errorf("stream handshake rejected with %d", response.StatusCode)
		log.WithError(err).WithFields(c.LogTags).Error("Handshake failed")
		return err
	}
	c.response = response
	log.WithFields(c.LogTags).Info("Channel established")
	return nil
}

// Mode report the channel capability class
func (c *streamChannelImpl) Mode() ChannelMode {
	return ModeOneWay
}

// StartReading begin the channel read loop, forwarding each event frame
func (c *streamChannelImpl) StartReading(
	forwardCB ForwardEventHandlerCB,
	closedCB ChannelClosedHandlerCB,
	wg *sync.WaitGroup,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.response == nil {
		err := fmt.Errorf("channel not open")
		log.WithError(err).WithFields(c.LogTags).Error("Unable to start reading")
		return err
	}
	if c.reading {
		err := fmt.Errorf("already reading")
		log.WithError(err).WithFields(c.LogTags).Error("Unable to start reading")
		return err
	}
	c.reading = true
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithFields(c.LogTags).Info("Starting channel read loop")
		defer log.WithFields(c.LogTags).Info("Stopping channel read loop")
		reader := bufio.NewReader(c.response.Body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(line) > 0 {
				if frame, ok := extractStreamFrame(line); ok {
					c.handleFrame(frame, forwardCB)
				}
			}
			if err != nil {
				c.signalClosed(err, closedCB)
				return
			}
		}
	}()
	return nil
}

// extractStreamFrame strip SSE framing from one stream line. Comment lines,
// field lines other than "data", and blank event separators carry no payload.
func extractStreamFrame(line []byte) ([]byte, bool) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] == ':' {
		return nil, false
	}
	if bytes.HasPrefix(trimmed, []byte("data:")) {
		return bytes.TrimSpace(trimmed[len("data:"):]), true
	}
	if bytes.ContainsRune(trimmed[:1], '{') || bytes.ContainsRune(trimmed[:1], '[') {
		// Bare newline-delimited JSON
		return trimmed, true
	}
	return nil, false
}

// handleFrame parse and forward one extracted frame
func (c *streamChannelImpl) handleFrame(frame []byte, forwardCB ForwardEventHandlerCB) {
	envelope, err := events.ParseEnvelope(frame, c.validate)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Discarding malformed frame")
		return
	}
	if err := forwardCB(c.operationContext, envelope); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Unable to forward event")
	}
}

// signalClosed report channel termination at most once, and never for a
// deliberate close
func (c *streamChannelImpl) signalClosed(err error, closedCB ChannelClosedHandlerCB) {
	c.lock.Lock()
	deliberate := c.deliberateClose
	c.lock.Unlock()
	if deliberate {
		return
	}
	c.closedOnce.Do(func() {
		log.WithError(err).WithFields(c.LogTags).Warn("Channel closed")
		closedCB(err)
	})
}

// Close stop the channel
func (c *streamChannelImpl) Close(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.deliberateClose = true
	c.contextCancel()
	if c.response != nil {
		if err := c.response.Body.Close(); err != nil {
			log.WithError(err).WithFields(c.LogTags).Debug("Body close failed")
		}
	}
	log.WithFields(c.LogTags).Info("Channel closed by client")
	return nil
}
