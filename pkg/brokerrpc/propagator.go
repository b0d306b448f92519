package brokerrpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/migrationdriver/pkg/log"
	"github.com/cuemby/migrationdriver/pkg/metrics"
	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// updateMetadataMethod is invoked directly through grpc.ClientConn.Invoke,
// the same way the teacher's pkg/client dials a *grpc.ClientConn and calls
// through a generated stub — here there is no generated stub for the legacy
// broker wire protocol, so the method is addressed by its full path and the
// payload is a structpb.Struct instead of a generated request message.
const updateMetadataMethod = "/brokerrpc.BrokerService/UpdateMetadata"

const rpcTimeout = 10 * time.Second

// Propagator implements migration.Propagator by fanning UpdateMetadata RPCs
// out to every registered broker. Sends are fire-and-forget: the driver's
// event loop calls SendRPCsToBrokersFromImage/Delta synchronously, so each
// per-broker call runs on its own goroutine (connections are dialed lazily
// and without blocking on the caller's goroutine) and a failure is only
// logged and counted, mirroring how a Kafka-style controller pushes UpdateMetadataRequest
// without waiting on broker acknowledgement before continuing.
type Propagator struct {
	dialOpts []grpc.DialOption

	mu      sync.RWMutex
	conns   map[int32]*grpc.ClientConn
	addrs   map[int32]string
	version int32
}

// New creates a Propagator that dials brokers with insecure transport
// credentials (the legacy broker protocol this mirrors predates mTLS in
// this deployment; the package has no TLS-enabled constructor).
func New() *Propagator {
	return &Propagator{
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		conns:    map[int32]*grpc.ClientConn{},
		addrs:    map[int32]string{},
	}
}

// RegisterBroker records the dial address for a legacy broker id so future
// SendRPCsToBrokersFrom* calls can reach it. Re-registering with a new
// address closes any existing connection so the next send redials.
func (p *Propagator) RegisterBroker(id int32, addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[id]; ok {
		_ = existing.Close()
		delete(p.conns, id)
	}
	p.addrs[id] = addr
}

// DeregisterBroker drops a broker's dial address and closes any open
// connection to it.
func (p *Propagator) DeregisterBroker(id int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[id]; ok {
		_ = conn.Close()
		delete(p.conns, id)
	}
	delete(p.addrs, id)
}

// SetMetadataVersion implements migration.Propagator.
func (p *Propagator) SetMetadataVersion(version int32) {
	atomic.StoreInt32(&p.version, version)
}

// SendRPCsToBrokersFromImage implements migration.Propagator: it tells every
// broker the full cluster image, used on first entry to dual-write.
func (p *Propagator) SendRPCsToBrokersFromImage(image migration.MetadataImage, legacyControllerEpoch int64) {
	payload := imageToStruct(image, legacyControllerEpoch, atomic.LoadInt32(&p.version))
	p.broadcast(image.Cluster.BrokerIDs, payload)
}

// SendRPCsToBrokersFromDelta implements migration.Propagator: it tells every
// broker which groups changed, plus the current topics and broker ids, used
// for incremental dual-write publications.
func (p *Propagator) SendRPCsToBrokersFromDelta(delta migration.MetadataDelta, image migration.MetadataImage, legacyControllerEpoch int64) {
	payload := deltaToStruct(delta, image, legacyControllerEpoch, atomic.LoadInt32(&p.version))
	p.broadcast(image.Cluster.BrokerIDs, payload)
}

func (p *Propagator) broadcast(brokerIDs map[int32]bool, payload *structpb.Struct) {
	for id := range brokerIDs {
		id := id
		conn, addr, ok := p.connFor(id)
		if !ok {
			log.Logger.Warn().Int32("broker_id", id).Msg("brokerrpc: no dial address registered, dropping update")
			metrics.BrokerRPCsTotal.WithLabelValues("unreachable").Inc()
			continue
		}
		go p.sendOne(id, addr, conn, payload)
	}
}

func (p *Propagator) sendOne(id int32, addr string, conn *grpc.ClientConn, payload *structpb.Struct) {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	defer cancel()

	// correlationID ties this send's log lines together across the
	// goroutine boundary, the same way request ids are minted elsewhere
	// in the stack.
	correlationID := uuid.New().String()

	reply := &structpb.Struct{}
	if err := conn.Invoke(ctx, updateMetadataMethod, payload, reply); err != nil {
		log.Logger.Warn().Err(err).Str("correlation_id", correlationID).Int32("broker_id", id).Str("addr", addr).Msg("brokerrpc: UpdateMetadata failed")
		metrics.BrokerRPCsTotal.WithLabelValues("failed").Inc()
		return
	}
	log.Logger.Debug().Str("correlation_id", correlationID).Int32("broker_id", id).Msg("brokerrpc: UpdateMetadata sent")
	metrics.BrokerRPCsTotal.WithLabelValues("sent").Inc()
}

// connFor returns a cached connection for id, dialing lazily (and caching)
// the first time a broker is addressed.
func (p *Propagator) connFor(id int32) (*grpc.ClientConn, string, bool) {
	p.mu.RLock()
	conn, hasConn := p.conns[id]
	addr, hasAddr := p.addrs[id]
	p.mu.RUnlock()
	if hasConn {
		return conn, addr, true
	}
	if !hasAddr {
		return nil, "", false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[id]; ok {
		return conn, addr, true
	}
	conn, err := grpc.Dial(addr, p.dialOpts...)
	if err != nil {
		log.Logger.Warn().Err(err).Int32("broker_id", id).Str("addr", addr).Msg("brokerrpc: dial failed")
		return nil, addr, false
	}
	p.conns[id] = conn
	return conn, addr, true
}

// Close tears down every cached broker connection.
func (p *Propagator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, conn := range p.conns {
		_ = conn.Close()
		delete(p.conns, id)
	}
}
