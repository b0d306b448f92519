package logmeta

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/migrationdriver/pkg/migration"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the identity and storage location a Quorum is constructed
// with, mirroring pkg/manager.Config's NodeID/BindAddr/DataDir shape.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Quorum wraps a raft.Raft replicated log standing in for a LogMeta
// controller. Grounded on pkg/manager.Manager's raft wiring, with leadership
// observation added so migration.Driver.OnLeaderChange fires on every term
// change instead of being polled.
type Quorum struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft  *raft.Raft
	image *Image

	mu              sync.Mutex
	readyPeers      map[raft.ServerID]bool
	onLeaderChange  func(migration.LeaderAndEpoch)
	stopObserve     chan struct{}
	observeWg       sync.WaitGroup

	migrating bool
	pending   []func(error)
}

// New constructs a Quorum. Bootstrap or Join must be called to start raft.
func New(cfg Config) *Quorum {
	return &Quorum{
		nodeID:     cfg.NodeID,
		bindAddr:   cfg.BindAddr,
		dataDir:    cfg.DataDir,
		image:      NewImage(),
		readyPeers: map[raft.ServerID]bool{},
	}
}

// OnLeaderChange installs the callback invoked on every leadership
// observation; typically migration.Driver.OnLeaderChange.
func (q *Quorum) OnLeaderChange(fn func(migration.LeaderAndEpoch)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onLeaderChange = fn
}

// Publisher exposes the FSM's Subscribe hook so Config.InitialLoadCallback
// can register the driver once recovery completes.
func (q *Quorum) Publisher() *Image { return q.image }

// Bootstrap initializes a new single-node raft cluster, grounded on
// pkg/manager.Manager.Bootstrap.
func (q *Quorum) Bootstrap() error {
	r, err := q.newRaft()
	if err != nil {
		return err
	}
	q.raft = r

	configuration := raft.Configuration{
		Servers: []raft.Server{{ID: raft.ServerID(q.nodeID), Address: raft.ServerAddress(q.bindAddr)}},
	}
	future := r.BootstrapCluster(configuration)
	if err := future.Error(); err != nil {
		return fmt.Errorf("logmeta: bootstrap cluster: %w", err)
	}

	q.startObserving()
	return nil
}

// Join starts raft without bootstrapping; the caller arranges for the
// existing leader to AddVoter this node, mirroring pkg/manager.Manager.Join.
func (q *Quorum) Join() error {
	r, err := q.newRaft()
	if err != nil {
		return err
	}
	q.raft = r
	q.startObserving()
	return nil
}

func (q *Quorum) newRaft() (*raft.Raft, error) {
	if err := os.MkdirAll(q.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("logmeta: create data dir: %w", err)
	}

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(q.nodeID)

	addr, err := net.ResolveTCPAddr("tcp", q.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("logmeta: resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(q.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logmeta: create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(q.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("logmeta: create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(q.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("logmeta: create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(q.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("logmeta: create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, q.image, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("logmeta: create raft: %w", err)
	}
	return r, nil
}

// startObserving registers a raft.Observer translating leadership
// observations into migration.LeaderAndEpoch callbacks.
func (q *Quorum) startObserving() {
	ch := make(chan raft.Observation, 4)
	observer := raft.NewObserver(ch, true, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.LeaderObservation)
		return ok
	})
	q.raft.RegisterObserver(observer)

	q.stopObserve = make(chan struct{})
	q.observeWg.Add(1)
	go func() {
		defer q.observeWg.Done()
		for {
			select {
			case obs := <-ch:
				leaderObs, ok := obs.Data.(raft.LeaderObservation)
				if !ok {
					continue
				}
				term, _ := strconv.ParseInt(q.raft.Stats()["term"], 10, 64)
				q.mu.Lock()
				cb := q.onLeaderChange
				q.mu.Unlock()
				if cb != nil {
					cb(migration.LeaderAndEpoch{NodeID: string(leaderObs.LeaderID), Epoch: term})
				}
			case <-q.stopObserve:
				q.raft.DeregisterObserver(observer)
				return
			}
		}
	}()
}

// IsLeader reports whether this node currently holds raft leadership.
func (q *Quorum) IsLeader() bool { return q.raft.State() == raft.Leader }

// AddVoter admits a new peer to the raft configuration, mirroring
// pkg/manager.Manager.AddVoter.
func (q *Quorum) AddVoter(nodeID, address string) error {
	if !q.IsLeader() {
		return fmt.Errorf("logmeta: not the leader")
	}
	return q.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// SetPeerMigrationReady records whether a controller peer has advertised
// migration support, consumed by ReasonAllControllersMigrationNotReady.
func (q *Quorum) SetPeerMigrationReady(nodeID string, ready bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.readyPeers[raft.ServerID(nodeID)] = ready
}

// ReasonAllControllersMigrationNotReady implements migration.QuorumFeatures.
func (q *Quorum) ReasonAllControllersMigrationNotReady() (string, bool) {
	future := q.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return fmt.Sprintf("cannot read raft configuration: %v", err), true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, server := range future.Configuration().Servers {
		if !q.readyPeers[server.ID] {
			return fmt.Sprintf("peer %s has not advertised migration support", server.ID), true
		}
	}
	return "", false
}

// Shutdown stops the observer goroutine and the raft instance.
func (q *Quorum) Shutdown() error {
	if q.stopObserve != nil {
		close(q.stopObserve)
		q.observeWg.Wait()
	}
	if q.raft == nil {
		return nil
	}
	return q.raft.Shutdown().Error()
}
