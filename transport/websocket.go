package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// websocketChannelImpl implements PushChannel over a websocket connection
type websocketChannelImpl struct {
	common.Component
	url              string
	handshakeTimeout time.Duration
	conn             *websocket.Conn
	validate         *validator.Validate
	reading          bool
	lock             *sync.Mutex
	closedOnce       *sync.Once
	deliberateClose  bool
	operationContext context.Context
	contextCancel    context.CancelFunc
}

// GetWebsocketChannel define a new bidirectional push channel instance
func GetWebsocketChannel(
	rootCtxt context.Context, url string, handshakeTimeout time.Duration,
) (PushChannel, error) {
	logTags := log.Fields{
		"module": "transport", "component": "websocket-channel", "instance": url,
	}
	ctxt, cancel := context.WithCancel(rootCtxt)
	return &websocketChannelImpl{
		Component:        common.Component{LogTags: logTags},
		url:              url,
		handshakeTimeout: handshakeTimeout,
		conn:             nil,
		validate:         validator.New(),
		reading:          false,
		lock:             &sync.Mutex{},
		closedOnce:       &sync.Once{},
		deliberateClose:  false,
		operationContext: ctxt,
		contextCancel:    cancel,
	}, nil
}

// Open perform the websocket handshake
func (c *websocketChannelImpl) Open(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn != nil {
		log.WithFields(c.LogTags).Debug("Already open")
		return nil
	}
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctxt, c.url, nil)
	if err != nil {
		if resp != nil {
			log.WithError(err).WithFields(c.LogTags).Errorf(
				"Handshake rejected with %d", resp.StatusCode,
			)
		} else {
			log.WithError(err).WithFields(c.LogTags).Error("Handshake failed")
		}
		return err
	}
	c.conn = conn
	log.WithFields(c.LogTags).Info("Channel established")
	return nil
}

// Mode report the channel capability class
func (c *websocketChannelImpl) Mode() ChannelMode {
	return ModeBidirectional
}

// StartReading begin the channel read loop, forwarding each event frame
func (c *websocketChannelImpl) StartReading(
	forwardCB ForwardEventHandlerCB,
	closedCB ChannelClosedHandlerCB,
	wg *sync.WaitGroup,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
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
		for {
			_, frame, err := c.conn.ReadMessage()
			if err != nil {
				c.signalClosed(err, closedCB)
				return
			}
			envelope, err := events.ParseEnvelope(frame, c.validate)
			if err != nil {
				// A bad frame is discarded without tearing the channel down
				log.WithError(err).WithFields(c.LogTags).Error("Discarding malformed frame")
				continue
			}
			if err := c.forward(forwardCB, envelope); err != nil {
				log.WithError(err).WithFields(c.LogTags).Error("Unable to forward event")
			}
		}
	}()
	return nil
}

// forward hand an event to the pipeline, converting a handler panic into an error
func (c *websocketChannelImpl) forward(
	forwardCB ForwardEventHandlerCB, envelope events.Envelope,
) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("forward callback panic: %v", recovered)
		}
	}()
	return forwardCB(c.operationContext, envelope)
}

// signalClosed report channel termination at most once, and never for a
// deliberate close
func (c *websocketChannelImpl) signalClosed(err error, closedCB ChannelClosedHandlerCB) {
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
func (c *websocketChannelImpl) Close(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.deliberateClose = true
	c.contextCancel()
	if c.conn == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	if useDeadline, ok := ctxt.Deadline(); ok {
		deadline = useDeadline
	}
	if err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	); err != nil {
		log.WithError(err).WithFields(c.LogTags).Debug("Close frame send failed")
	}
	if err := c.conn.Close(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Connection close failed")
		return err
	}
	log.WithFields(c.LogTags).Info("Channel closed by client")
	return nil
}
