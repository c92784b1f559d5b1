package script

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

var snapshotEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(errors.Wrap(err, "script: failed to create CBOR enc mode"))
	}
	snapshotEncMode = em
}

type scriptRecord struct {
	SID       uint32  `cbor:"0,keyasint"`
	ProgramID uint32  `cbor:"1,keyasint"`
	Object    uint64  `cbor:"2,keyasint,omitempty"`
	LocalVars []int32 `cbor:"3,keyasint,omitempty"`
}

type snapshot struct {
	GlobalVars []int32        `cbor:"0,keyasint,omitempty"`
	MapVars    []int32        `cbor:"1,keyasint,omitempty"`
	Scripts    []scriptRecord `cbor:"2,keyasint,omitempty"`
	MapSID     *uint32        `cbor:"3,keyasint,omitempty"`
}

// Snapshot encodes the persistent script state: global and map variables
// and, per live instance, its program, object and local variables. External
// variables and suspended invocations are not saved.
func (s *Scripts) Snapshot() ([]byte, error) {
	snap := snapshot{
		GlobalVars: s.Vars.GlobalVars,
		MapVars:    s.Vars.MapVars,
	}
	for el := s.scripts.Front(); el != nil; el = el.Next() {
		sc := el.Value
		if sc.dead {
			continue
		}
		snap.Scripts = append(snap.Scripts, scriptRecord{
			SID:       uint32(sc.SID),
			ProgramID: uint32(sc.ProgramID),
			Object:    uint64(sc.Object),
			LocalVars: sc.LocalVars,
		})
	}
	if s.hasMap {
		sid := uint32(s.mapSID)
		snap.MapSID = &sid
	}
	data, err := snapshotEncMode.Marshal(snap)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal script snapshot")
	}
	return data, nil
}

// Restore replaces the current instances and variables with a snapshot.
// Programs are loaded from the database as needed. Undecodable data leaves
// the manager unchanged; any later error leaves it empty.
func (s *Scripts) Restore(data []byte) error {
	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, "failed to unmarshal script snapshot")
	}
	s.Reset()
	s.Vars.GlobalVars = snap.GlobalVars
	s.Vars.MapVars = snap.MapVars
	for _, rec := range snap.Scripts {
		sid, err := ParseScriptIID(rec.SID)
		if err != nil {
			s.Reset()
			return errors.Wrap(err, "restoring script")
		}
		if err := s.Instantiate(sid, ProgramID(rec.ProgramID)); err != nil {
			s.Reset()
			return errors.Wrapf(err, "restoring script %s", sid)
		}
		sc, _ := s.scripts.Get(sid)
		if len(rec.LocalVars) != len(sc.LocalVars) {
			s.Reset()
			return errors.Errorf("restoring script %s: %d local variables, program %s has %d",
				sid, len(rec.LocalVars), sc.program.Name(), len(sc.LocalVars))
		}
		copy(sc.LocalVars, rec.LocalVars)
		sc.Object = vm.ObjectHandle(rec.Object)
	}
	if snap.MapSID != nil {
		sid := ScriptIID(*snap.MapSID)
		if _, ok := s.scripts.Get(sid); !ok {
			s.Reset()
			return errors.Errorf("map script %s missing from snapshot", sid)
		}
		s.mapSID = sid
		s.hasMap = true
	}
	s.log.Info("script state restored", "scripts", s.scripts.Len())
	return nil
}
