package db

import (
	"time"

	"saltbox/internal/command"
	"saltbox/internal/logger"
	"saltbox/internal/resp"
)

// waitLapseMS is the re-check cadence of a pending WAIT.
const waitLapseMS = 100

// execWait implements the WAIT write barrier. On the first call (reqAcks)
// a single REPLCONF GETACK probe goes out to every replica; re-dispatches
// only re-count, since acks arrive on their own. Returns (value, true) when
// the barrier resolves now; otherwise schedules a WaitInternal re-dispatch
// carrying the same reply channel and returns false.
func (d *Db) execWait(nReplicas int64, reqAcks bool, timeoutMS int64, q Query, reply chan<- QueryResult) (resp.Value, bool) {
	if reqAcks && len(d.replicas) > 0 {
		probe := resp.EncodeToBytes(command.ReplConfGetAck{Arg: "*"}.ToValue())
		for addr, r := range d.replicas {
			r.egress.Send(probe, "getack probe to "+addr)
		}
	}

	target := d.backlog.Offset()
	acked := int64(0)
	for _, r := range d.replicas {
		if r.ackedOffset >= target {
			acked++
		}
	}

	if acked >= nReplicas || timeoutMS <= 0 {
		logger.Debugf("WAIT resolved: %d/%d replicas at offset %d", acked, nReplicas, target)
		return resp.Int(acked), true
	}

	lapse := int64(waitLapseMS)
	if timeoutMS < lapse {
		lapse = timeoutMS
	}
	next := Query{
		Cmd:    command.WaitInternal{NumReplicas: nReplicas, TimeoutMS: timeoutMS - waitLapseMS},
		Client: q.Client,
	}
	go func() {
		time.Sleep(time.Duration(lapse) * time.Millisecond)
		d.Submit(next, reply)
	}()
	return resp.Value{}, false
}
