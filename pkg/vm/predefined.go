package vm

// PredefinedProc is a lifecycle hook the host invokes by role rather than by
// procedure id. Scripts implement only the roles they care about.
type PredefinedProc int

const (
	ProcStart PredefinedProc = iota
	ProcSpatial
	ProcDescription
	ProcPickup
	ProcDrop
	ProcUse
	ProcUseObjOn
	ProcUseSkillOn
	ProcTalk
	ProcCritter
	ProcCombat
	ProcDamage
	ProcMapEnter
	ProcMapExit
	ProcCreate
	ProcDestroy
	ProcLookAt
	ProcTimedEvent
	ProcMapUpdate
	ProcPush
	ProcIsDropping
	ProcCombatIsStarting
	ProcCombatIsOver

	predefinedProcCount
)

var predefinedProcNames = [predefinedProcCount]string{
	ProcStart:            "start",
	ProcSpatial:          "spatial_p_proc",
	ProcDescription:      "description_p_proc",
	ProcPickup:           "pickup_p_proc",
	ProcDrop:             "drop_p_proc",
	ProcUse:              "use_p_proc",
	ProcUseObjOn:         "use_obj_on_p_proc",
	ProcUseSkillOn:       "use_skill_on_p_proc",
	ProcTalk:             "talk_p_proc",
	ProcCritter:          "critter_p_proc",
	ProcCombat:           "combat_p_proc",
	ProcDamage:           "damage_p_proc",
	ProcMapEnter:         "map_enter_p_proc",
	ProcMapExit:          "map_exit_p_proc",
	ProcCreate:           "create_p_proc",
	ProcDestroy:          "destroy_p_proc",
	ProcLookAt:           "look_at_p_proc",
	ProcTimedEvent:       "timed_event_p_proc",
	ProcMapUpdate:        "map_update_p_proc",
	ProcPush:             "push_p_proc",
	ProcIsDropping:       "is_dropping_p_proc",
	ProcCombatIsStarting: "combat_is_starting_p_proc",
	ProcCombatIsOver:     "combat_is_over_p_proc",
}

// Name returns the procedure name scripts use for the role.
func (p PredefinedProc) Name() string {
	if p < 0 || p >= predefinedProcCount {
		return ""
	}
	return predefinedProcNames[p]
}

func (p PredefinedProc) String() string { return p.Name() }

// PredefinedProcs returns every role in declaration order.
func PredefinedProcs() []PredefinedProc {
	r := make([]PredefinedProc, predefinedProcCount)
	for i := range r {
		r[i] = PredefinedProc(i)
	}
	return r
}

// PredefinedProcByName returns the role whose procedure name is name.
func PredefinedProcByName(name string) (PredefinedProc, bool) {
	for i, n := range predefinedProcNames {
		if n == name {
			return PredefinedProc(i), true
		}
	}
	return 0, false
}
