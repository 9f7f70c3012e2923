// Package leader provides etcd-backed leader election for the
// scheduler. At most one scheduler process holds the lease at a time;
// every other instance stays hot-standby so horizontal scheduler
// redundancy does not violate the single-writer in-flight-set
// invariant ("if a second scheduler instance is ever run,
// correctness depends on the store's atomic move operation").
package leader

import (
	"context"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

const electionPrefix = "/sentineldispatch/scheduler/leader"

// Elector campaigns for leadership and reports whether this process
// currently holds it.
type Elector struct {
	client   *clientv3.Client
	session  *concurrency.Session
	election *concurrency.Election
	isLeader bool
}

// New connects to etcd and creates a session backing the election.
// sessionTTLSec controls how long a leader's lease survives after this
// process stops renewing it (e.g. on crash).
func New(endpoints []string, sessionTTLSec int) (*Elector, error) {
	cli, err := clientv3.New(clientv3.Config{Endpoints: endpoints})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}

	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(sessionTTLSec))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("new etcd session: %w", err)
	}

	return &Elector{
		client:   cli,
		session:  sess,
		election: concurrency.NewElection(sess, electionPrefix),
	}, nil
}

// Campaign blocks until this process wins leadership or ctx is
// cancelled. Call it once at startup in its own goroutine; it returns
// when the process becomes leader, and the caller should keep running
// rounds until Done() fires.
func (e *Elector) Campaign(ctx context.Context, nodeID string) error {
	if err := e.election.Campaign(ctx, nodeID); err != nil {
		return fmt.Errorf("campaign: %w", err)
	}
	e.isLeader = true
	return nil
}

// Done returns a channel that closes when this process's session
// expires — the signal to stop running rounds immediately.
func (e *Elector) Done() <-chan struct{} {
	return e.session.Done()
}

// IsLeader reports whether the last Campaign call succeeded and the
// session has not since expired.
func (e *Elector) IsLeader() bool {
	select {
	case <-e.session.Done():
		return false
	default:
		return e.isLeader
	}
}

// Resign gives up leadership cleanly, e.g. during graceful shutdown.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.isLeader {
		return nil
	}
	return e.election.Resign(ctx)
}

// Close releases the session and underlying etcd client.
func (e *Elector) Close() error {
	if err := e.session.Close(); err != nil {
		return err
	}
	return e.client.Close()
}
