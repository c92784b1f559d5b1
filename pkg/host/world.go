// Package host provides the in-memory game services scripts talk to: the
// object store, the rules, the message log and timed events.
package host

import (
	"fmt"
	"log/slog"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/pingw33n/vault13-sub000/pkg/logger"
	"github.com/pingw33n/vault13-sub000/pkg/vm"
)

// Proto is an object prototype.
type Proto struct {
	PID     int32
	Name    string
	Critter bool
}

// Object is a live map object.
type Object struct {
	Handle    vm.ObjectHandle
	PID       int32
	Name      string
	Tile      int32
	Elevation int32
	Critter   bool
}

// World is a minimal object store. It implements vm.World.
type World struct {
	log     *slog.Logger
	protos  map[int32]Proto
	objects *orderedmap.OrderedMap[vm.ObjectHandle, *Object]
	next    vm.ObjectHandle
	dude    vm.ObjectHandle
}

// NewWorld creates an empty world.
func NewWorld(log *slog.Logger) *World {
	if log == nil {
		log = logger.GetLogger()
	}
	return &World{
		log:     log,
		protos:  make(map[int32]Proto),
		objects: orderedmap.NewOrderedMap[vm.ObjectHandle, *Object](),
		next:    1,
	}
}

// AddProto registers a prototype.
func (w *World) AddProto(p Proto) {
	w.protos[p.PID] = p
}

// Spawn creates an object from prototype pid.
func (w *World) Spawn(pid, tile, elevation int32) (*Object, error) {
	p, ok := w.protos[pid]
	if !ok {
		return nil, fmt.Errorf("unknown prototype %d", pid)
	}
	obj := &Object{
		Handle:    w.next,
		PID:       pid,
		Name:      p.Name,
		Tile:      tile,
		Elevation: elevation,
		Critter:   p.Critter,
	}
	w.next++
	w.objects.Set(obj.Handle, obj)
	w.log.Debug("object created", "obj", obj.Handle, "pid", pid, "name", obj.Name, "tile", tile)
	return obj, nil
}

// SetDude makes obj the player character.
func (w *World) SetDude(obj vm.ObjectHandle) {
	w.dude = obj
}

// Object returns the object addressed by h.
func (w *World) Object(h vm.ObjectHandle) (*Object, bool) {
	return w.objects.Get(h)
}

// Objects returns every object in creation order.
func (w *World) Objects() []*Object {
	r := make([]*Object, 0, w.objects.Len())
	for el := w.objects.Front(); el != nil; el = el.Next() {
		r = append(r, el.Value)
	}
	return r
}

// Len returns the number of objects.
func (w *World) Len() int { return w.objects.Len() }

func (w *World) DudeObj() vm.ObjectHandle { return w.dude }

func (w *World) ObjectName(obj vm.ObjectHandle) (string, bool) {
	o, ok := w.objects.Get(obj)
	if !ok {
		return "", false
	}
	return o.Name, true
}

func (w *World) ObjectPID(obj vm.ObjectHandle) (int32, bool) {
	o, ok := w.objects.Get(obj)
	if !ok {
		return 0, false
	}
	return o.PID, true
}

func (w *World) CreateObject(pid, tile, elevation int32) (vm.ObjectHandle, error) {
	obj, err := w.Spawn(pid, tile, elevation)
	if err != nil {
		return vm.NullObject, err
	}
	return obj.Handle, nil
}

func (w *World) DestroyObject(obj vm.ObjectHandle) error {
	if !w.objects.Delete(obj) {
		return fmt.Errorf("no object %d", obj)
	}
	if obj == w.dude {
		w.dude = vm.NullObject
	}
	w.log.Debug("object destroyed", "obj", obj)
	return nil
}

// IsCritter reports whether obj is a critter.
func (w *World) IsCritter(obj vm.ObjectHandle) bool {
	o, ok := w.objects.Get(obj)
	return ok && o.Critter
}

var _ vm.World = (*World)(nil)
