package codec

import (
	"github.com/okian/shareview/internal/domain/event"
)

func (r *Registry) registerDefaults() {
	r.Register(NameSessionBound, V1240, 0, r.decodeSessionBound)
	r.Register(NameSessionUnbound, V1240, 0, r.decodeSessionUnbound)
	r.Register(NameSessionSettled, V1240, 0, r.decodeSessionSettled)
	r.Register(NameWorkerStarted, V1240, 0, r.decodeWorkerStarted)
	r.Register(NameWorkerStopped, V1240, 0, r.sessionOnly(func(id string) event.Event {
		return event.WorkerStopped{SessionID: id}
	}))
	r.Register(NameWorkerReclaimed, V1240, 0, r.decodeWorkerReclaimed)
	r.Register(NameWorkerEnterUnresponsive, V1240, 0, r.sessionOnly(func(id string) event.Event {
		return event.WorkerEnterUnresponsive{SessionID: id}
	}))
	r.Register(NameWorkerExitUnresponsive, V1240, 0, r.sessionOnly(func(id string) event.Event {
		return event.WorkerExitUnresponsive{SessionID: id}
	}))
	r.Register(NameBenchmarkUpdated, V1240, 0, r.decodeBenchmarkUpdated)

	r.Register(NameWorkerAdded, V1240, V1260-1, decodeWorkerAdded(false))
	r.Register(NameWorkerAdded, V1260, 0, decodeWorkerAdded(true))
	r.Register(NameWorkerUpdated, V1240, V1260-1, decodeWorkerUpdated(false))
	r.Register(NameWorkerUpdated, V1260, 0, decodeWorkerUpdated(true))
	r.Register(NameInitialScoreSet, V1240, 0, decodeInitialScoreSet)
}

func (r *Registry) session(a Args) (string, error) {
	s, err := a.String("session")
	if err != nil {
		return "", err
	}
	return SessionID(r.ss58Prefix, s)
}

func worker(a Args, key string) (string, error) {
	s, err := a.String(key)
	if err != nil {
		return "", err
	}
	return WorkerID(s)
}

func (r *Registry) sessionOnly(build func(id string) event.Event) DecodeFunc {
	return func(a Args) (event.Event, error) {
		id, err := r.session(a)
		if err != nil {
			return nil, err
		}
		return build(id), nil
	}
}

func (r *Registry) pair(a Args) (string, string, error) {
	sid, err := r.session(a)
	if err != nil {
		return "", "", err
	}
	wid, err := worker(a, "worker")
	if err != nil {
		return "", "", err
	}
	return sid, wid, nil
}

func (r *Registry) decodeSessionBound(a Args) (event.Event, error) {
	sid, wid, err := r.pair(a)
	if err != nil {
		return nil, err
	}
	return event.SessionBound{SessionID: sid, WorkerID: wid}, nil
}

func (r *Registry) decodeSessionUnbound(a Args) (event.Event, error) {
	sid, wid, err := r.pair(a)
	if err != nil {
		return nil, err
	}
	return event.SessionUnbound{SessionID: sid, WorkerID: wid}, nil
}

func (r *Registry) decodeSessionSettled(a Args) (event.Event, error) {
	sid, err := r.session(a)
	if err != nil {
		return nil, err
	}
	v, err := bitsArg(a, "v_bits")
	if err != nil {
		return nil, err
	}
	payout, err := bitsArg(a, "payout_bits")
	if err != nil {
		return nil, err
	}
	return event.SessionSettled{SessionID: sid, V: v, Payout: payout}, nil
}

func (r *Registry) decodeWorkerStarted(a Args) (event.Event, error) {
	sid, err := r.session(a)
	if err != nil {
		return nil, err
	}
	initV, err := bitsArg(a, "init_v")
	if err != nil {
		return nil, err
	}
	initP, err := a.Int64("init_p")
	if err != nil {
		return nil, err
	}
	return event.WorkerStarted{SessionID: sid, InitV: initV, InitP: initP}, nil
}

func (r *Registry) decodeWorkerReclaimed(a Args) (event.Event, error) {
	sid, err := r.session(a)
	if err != nil {
		return nil, err
	}
	stake, err := balanceArg(a, "original_stake")
	if err != nil {
		return nil, err
	}
	slashed, err := balanceArg(a, "slashed")
	if err != nil {
		return nil, err
	}
	return event.WorkerReclaimed{SessionID: sid, OriginalStake: stake, Slashed: slashed}, nil
}

func (r *Registry) decodeBenchmarkUpdated(a Args) (event.Event, error) {
	sid, err := r.session(a)
	if err != nil {
		return nil, err
	}
	p, err := a.Int64("p_instant")
	if err != nil {
		return nil, err
	}
	return event.BenchmarkUpdated{SessionID: sid, PInstant: p}, nil
}

// registryArgs decodes the pubkey and confidence level shared by
// WorkerAdded and WorkerUpdated. From v1260 the event also names the
// attestation provider, which the view does not keep.
func registryArgs(a Args, withProvider bool) (string, int64, error) {
	wid, err := worker(a, "pubkey")
	if err != nil {
		return "", 0, err
	}
	if withProvider {
		if _, ok := a["attestation_provider"]; !ok {
			return "", 0, errMissing("attestation_provider")
		}
	}
	level, err := a.Int64("confidence_level")
	if err != nil {
		return "", 0, err
	}
	return wid, level, nil
}

func decodeWorkerAdded(withProvider bool) DecodeFunc {
	return func(a Args) (event.Event, error) {
		wid, level, err := registryArgs(a, withProvider)
		if err != nil {
			return nil, err
		}
		return event.WorkerAdded{WorkerID: wid, ConfidenceLevel: level}, nil
	}
}

func decodeWorkerUpdated(withProvider bool) DecodeFunc {
	return func(a Args) (event.Event, error) {
		wid, level, err := registryArgs(a, withProvider)
		if err != nil {
			return nil, err
		}
		return event.WorkerUpdated{WorkerID: wid, ConfidenceLevel: level}, nil
	}
}

func decodeInitialScoreSet(a Args) (event.Event, error) {
	wid, err := worker(a, "pubkey")
	if err != nil {
		return nil, err
	}
	score, err := a.Int64("init_score")
	if err != nil {
		return nil, err
	}
	return event.InitialScoreSet{WorkerID: wid, InitialScore: score}, nil
}
