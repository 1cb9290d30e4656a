package acqcore

import (
	"encoding/json"
	"fmt"

	czmq "github.com/zeromq/goczmq"
)

// TagPublisher broadcasts tags and status updates over a ZMQ PUB socket,
// so out-of-process clients can observe acquisition progress without
// sitting on the dataflow graph itself. Grounded on dastard's
// ClientUpdater (client_updater.go) and PublishRecords (publish_data.go),
// both built on the same czmq.NewPub/SendFrame pattern; this merges their
// two responsibilities (arbitrary tagged JSON updates, and per-chunk
// publication) into one socket since acqcore's core has a single
// status-and-tag stream rather than dastard's separate trigger/status
// ports.
type TagPublisher struct {
	sock *czmq.Sock
}

// NewTagPublisher binds a PUB socket on the given port.
func NewTagPublisher(port int) (*TagPublisher, error) {
	sock, err := czmq.NewPub(fmt.Sprintf("tcp://*:%d", port))
	if err != nil {
		return nil, err
	}
	return &TagPublisher{sock: sock}, nil
}

// Close releases the underlying socket.
func (p *TagPublisher) Close() {
	p.sock.Destroy()
}

// publish sends a two-frame message: tag name, then JSON payload.
func (p *TagPublisher) publish(topic string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := p.sock.SendFrame([]byte(topic), czmq.FlagMore); err != nil {
		return err
	}
	return p.sock.SendFrame(body, czmq.FlagNone)
}

// PublishTag broadcasts one Tag under a topic naming its stream and kind.
func (p *TagPublisher) PublishTag(streamIdx int, tag Tag) error {
	topic := fmt.Sprintf("TAG.%d.%s", streamIdx, tag.Kind())
	return p.publish(topic, tag)
}

// StatusUpdate is the JSON payload broadcast on the "STATUS" topic.
type StatusUpdate struct {
	ArmID      string
	State      string
	Armed      bool
	LostChunks int
}

// PublishStatus broadcasts a StatusUpdate.
func (p *TagPublisher) PublishStatus(s StatusUpdate) error {
	return p.publish("STATUS", s)
}

// PublishingSink decorates an OutputSink so that every Tag call is also
// broadcast on a TagPublisher, without changing the data path itself.
type PublishingSink struct {
	OutputSink
	Pub *TagPublisher
}

// Tag forwards to the wrapped sink, then best-effort publishes. Publish
// failures are swallowed: a disconnected status client must never stall
// acquisition (same rationale as ring-buffer drop-oldest, spec.md §4.1).
func (s PublishingSink) Tag(streamIdx int, offset int, tag Tag) {
	s.OutputSink.Tag(streamIdx, offset, tag)
	_ = s.Pub.PublishTag(streamIdx, tag)
}
